package audio

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPlayback(t *testing.T, queueCap int) (*Playback, *FrameQueue) {
	t.Helper()
	q := NewFrameQueue(queueCap)
	p, err := NewPlayback(PlaybackConfig{
		Format:      Format{SampleRate: 24000, Channels: 1},
		BlockSize:   2400,
		PullTimeout: 5 * time.Millisecond,
		PushTimeout: 5 * time.Millisecond,
	}, q, newLogger())
	if err != nil {
		t.Fatalf("new playback: %v", err)
	}
	return p, q
}

// sineish fills a frame with a non-zero sample pattern.
func toneFrame(samples int) Frame {
	f := make(Frame, samples*SampleWidth)
	for i := 0; i < samples; i++ {
		f[2*i] = 0x34
		f[2*i+1] = 0x12
	}
	return f
}

func allZero(out []int16) bool {
	for _, s := range out {
		if s != 0 {
			return false
		}
	}
	return true
}

func TestCallbackAlwaysFillsExactly(t *testing.T) {
	p, q := testPlayback(t, 8)

	// Queue holds one and a half blocks worth of audio.
	q.TryPush(toneFrame(2400))
	q.TryPush(toneFrame(1200))

	out := make([]int16, 2400)
	p.onBlock(out)
	if allZero(out) {
		t.Fatal("first block should carry queued audio")
	}

	// Second invocation: 1200 samples buffered, rest padded with silence.
	for i := range out {
		out[i] = -1
	}
	p.onBlock(out)
	if out[0] == -1 || out[2399] == -1 {
		t.Fatal("callback must overwrite the full output block")
	}
	if allZero(out[:1200]) {
		t.Fatal("expected buffered audio at block front")
	}
	if !allZero(out[1200:]) {
		t.Fatal("expected silence padding after underrun")
	}

	// Fully starved: entire block is silence, playback continues.
	p.onBlock(out)
	if !allZero(out) {
		t.Fatal("expected pure silence when starved")
	}
	if _, padded := p.Stats(); padded == 0 {
		t.Fatal("expected padding to be counted")
	}
}

func TestTwoFramesThenEndOfStream(t *testing.T) {
	p, q := testPlayback(t, 8)
	q.TryPush(toneFrame(2400))
	q.TryPush(toneFrame(2400))
	p.SignalEnd()

	out := make([]int16, 2400)
	nonSilent := 0
	for block := 0; block < 4; block++ {
		p.onBlock(out)
		for _, s := range out {
			if s != 0 {
				nonSilent++
			}
		}
	}
	if nonSilent != 4800 {
		t.Fatalf("expected exactly 4800 non-silent samples, got %d", nonSilent)
	}
	select {
	case <-p.Drained():
	default:
		t.Fatal("expected drained signal after end-of-stream and empty buffer")
	}
}

func TestPlayReturnsOnFiniteSequence(t *testing.T) {
	p, q := testPlayback(t, 8)

	frames := make(chan Frame, 2)
	frames <- toneFrame(2400)
	frames <- toneFrame(2400)
	close(frames)

	// Drive the callback like the hardware would.
	stop := make(chan struct{})
	go func() {
		out := make([]int16, 2400)
		for {
			select {
			case <-stop:
				return
			default:
				p.onBlock(out)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	done := make(chan error, 1)
	go func() { done <- p.Play(context.Background(), frames) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("play returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("play did not return after source exhaustion")
	}
	if q.Len() != 0 {
		t.Fatalf("expected drained queue, got %d frames", q.Len())
	}
}

func TestStopUnblocksPlay(t *testing.T) {
	p, _ := testPlayback(t, 1)

	// Source never closes and nothing consumes the queue.
	frames := make(chan Frame)
	done := make(chan error, 1)
	go func() { done <- p.Play(context.Background(), frames) }()

	time.Sleep(20 * time.Millisecond)
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("play returned error after stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("play did not return after stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p, _ := testPlayback(t, 1)
	done := make(chan error, 2)
	go func() { done <- p.Stop() }()
	go func() { done <- p.Stop() }()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("stop: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("concurrent stop deadlocked")
		}
	}
}

func TestCaptureCallbackDropsWhenQueueFull(t *testing.T) {
	q := NewFrameQueue(2)
	c, err := NewCapture(CaptureConfig{
		Format:    Format{SampleRate: 16000, Channels: 1},
		BlockSize: 1600,
	}, q, newLogger())
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}

	block := make([]int16, 1600)
	for i := 0; i < 5; i++ {
		c.onBlock(block)
	}
	captured, dropped := c.Stats()
	if captured != 2 || dropped != 3 {
		t.Fatalf("expected 2 captured / 3 dropped, got %d / %d", captured, dropped)
	}
	if q.Len() != 2 {
		t.Fatalf("queue should hold 2 frames, got %d", q.Len())
	}
}

func TestInvalidConfigurationRejectedBeforeHardware(t *testing.T) {
	q := NewFrameQueue(1)
	if _, err := NewCapture(CaptureConfig{Format: Format{SampleRate: 0, Channels: 1}, BlockSize: 1600}, q, newLogger()); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := NewPlayback(PlaybackConfig{Format: Format{SampleRate: 24000, Channels: 0}, BlockSize: 2400}, q, newLogger()); err == nil {
		t.Fatal("expected error for zero channels")
	}
}
