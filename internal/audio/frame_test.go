package audio

import "testing"

func TestFormatBlockMath(t *testing.T) {
	mono := Format{SampleRate: 16000, Channels: 1}
	if got := mono.BytesPerBlock(1600); got != 3200 {
		t.Fatalf("mono 1600-frame block = %d bytes, want 3200", got)
	}
	stereo := Format{SampleRate: 24000, Channels: 2}
	if got := stereo.BytesPerBlock(2400); got != 9600 {
		t.Fatalf("stereo 2400-frame block = %d bytes, want 9600", got)
	}
}

func TestFrameFromInt16RoundTrip(t *testing.T) {
	f := frameFromInt16([]int16{1, -2, 0x7fff})
	if f.Samples() != 3 {
		t.Fatalf("samples = %d, want 3", f.Samples())
	}
	want := Frame{0x01, 0x00, 0xfe, 0xff, 0xff, 0x7f}
	for i := range want {
		if f[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, f[i], want[i])
		}
	}
}
