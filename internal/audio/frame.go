package audio

import "fmt"

// SampleWidth is the byte width of one sample. The whole pipeline runs on
// 16-bit signed little-endian PCM.
const SampleWidth = 2

// Frame is a chunk of raw PCM bytes passed between pipeline stages. Frames are
// treated as immutable once created: producers hand off ownership and never
// touch the backing slice again.
type Frame []byte

// Samples returns the number of samples in the frame across all channels.
func (f Frame) Samples() int {
	return len(f) / SampleWidth
}

// Format describes the PCM layout of a stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerBlock returns the byte size of a block of the given frame count.
func (fo Format) BytesPerBlock(frames int) int {
	return frames * fo.Channels * SampleWidth
}

// Validate rejects formats before any hardware resource is acquired.
func (fo Format) Validate() error {
	if fo.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", fo.SampleRate)
	}
	if fo.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", fo.Channels)
	}
	return nil
}

// frameFromInt16 copies an int16 hardware block into a little-endian Frame.
func frameFromInt16(block []int16) Frame {
	f := make(Frame, len(block)*SampleWidth)
	for i, s := range block {
		f[2*i] = byte(s)
		f[2*i+1] = byte(s >> 8)
	}
	return f
}
