package recording

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/transrouter/transrouter/internal/audio"
)

// Accumulator collects every captured frame of one session. It is appended to
// from the single frame-routing goroutine only and read exactly once, when the
// session flushes it to disk, so it carries no lock.
type Accumulator struct {
	format  audio.Format
	frames  []audio.Frame
	samples int
	flushed bool
}

// NewAccumulator creates an accumulator for frames of the given format.
func NewAccumulator(format audio.Format) *Accumulator {
	return &Accumulator{format: format}
}

// Append records one captured frame.
func (a *Accumulator) Append(f audio.Frame) {
	a.frames = append(a.frames, f)
	a.samples += f.Samples()
}

// Samples returns the total sample count collected so far.
func (a *Accumulator) Samples() int {
	return a.samples
}

// Empty reports whether nothing was collected.
func (a *Accumulator) Empty() bool {
	return a.samples == 0
}

// Flush writes the collected audio as one contiguous PCM buffer to a WAV file
// named <label>_<timestamp>.wav under dir, creating dir if needed, and returns
// the file path. An empty accumulator writes nothing and returns "". Flush is
// a one-shot operation.
func (a *Accumulator) Flush(dir, label string) (string, error) {
	if a.flushed {
		return "", fmt.Errorf("recording already flushed")
	}
	a.flushed = true

	if a.Empty() {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.wav", label, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create recording file: %w", err)
	}
	defer file.Close()

	if err := writeWAV(file, a.frames, a.samples, a.format); err != nil {
		return "", err
	}
	return path, nil
}

func writeWAV(file *os.File, frames []audio.Frame, total int, format audio.Format) error {
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:   make([]int, 0, total),
	}
	for _, f := range frames {
		for i := 0; i+1 < len(f); i += 2 {
			buf.Data = append(buf.Data, int(int16(binary.LittleEndian.Uint16(f[i:]))))
		}
	}

	enc := wav.NewEncoder(file, format.SampleRate, 16, format.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
