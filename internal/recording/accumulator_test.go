package recording

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/transrouter/transrouter/internal/audio"
)

func TestFiveSecondsOfCaptureBlocks(t *testing.T) {
	// 100 ms blocks at 16 kHz for 5 seconds.
	acc := NewAccumulator(audio.Format{SampleRate: 16000, Channels: 1})
	block := make(audio.Frame, 1600*audio.SampleWidth)
	for i := 0; i < 50; i++ {
		acc.Append(block)
	}
	if acc.Samples() != 80000 {
		t.Fatalf("expected 80000 samples, got %d", acc.Samples())
	}

	dir := t.TempDir()
	path, err := acc.Flush(dir, "recording")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "recording_") {
		t.Fatalf("unexpected file name: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if dec.SampleRate != 16000 {
		t.Fatalf("expected sample rate 16000 in header, got %d", dec.SampleRate)
	}
	if len(buf.Data) != 80000 {
		t.Fatalf("expected 80000 samples in file, got %d", len(buf.Data))
	}
}

func TestEmptyAccumulatorWritesNoFile(t *testing.T) {
	acc := NewAccumulator(audio.Format{SampleRate: 16000, Channels: 1})
	dir := t.TempDir()
	path, err := acc.Flush(dir, "recording")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if path != "" {
		t.Fatalf("expected no file for empty accumulator, got %s", path)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
}

func TestFlushIsOneShot(t *testing.T) {
	acc := NewAccumulator(audio.Format{SampleRate: 16000, Channels: 1})
	acc.Append(make(audio.Frame, 2*audio.SampleWidth))
	if _, err := acc.Flush(t.TempDir(), "r"); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if _, err := acc.Flush(t.TempDir(), "r"); err == nil {
		t.Fatal("second flush should fail")
	}
}
