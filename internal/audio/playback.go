package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DefaultPullTimeout bounds how long the playback callback may wait on the
// frame queue. It must stay well under one hardware period.
const DefaultPullTimeout = 20 * time.Millisecond

// PlaybackConfig configures one hardware output stream.
type PlaybackConfig struct {
	Device      string // empty = system default
	Format      Format
	BlockSize   int           // frames requested per hardware period
	PullTimeout time.Duration // callback-side queue wait, zero = DefaultPullTimeout
	PushTimeout time.Duration // async-side enqueue wait per attempt
}

func (c PlaybackConfig) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("playback: block size must be positive, got %d", c.BlockSize)
	}
	return nil
}

// Playback drives a hardware output stream. Each period the callback must
// supply exactly the requested sample count: it tops its private buffer up
// from the input queue with a short bounded wait, pads underruns with silence,
// and signals drained once end-of-stream has been raised and everything
// buffered has sounded out.
type Playback struct {
	cfg PlaybackConfig
	in  *FrameQueue
	log *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool

	// buf is the playback accumulator. It is touched only from the hardware
	// callback and never shared with the asynchronous domain.
	buf []byte

	eos         atomic.Bool
	drained     chan struct{}
	drainedOnce sync.Once
	quit        chan struct{}
	quitOnce    sync.Once

	blocksPlayed atomic.Uint64
	padded       atomic.Uint64
}

// NewPlayback validates cfg and prepares a playback engine pulling from in.
// The queue is owned by the caller.
func NewPlayback(cfg PlaybackConfig, in *FrameQueue, log *slog.Logger) (*Playback, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 100 * time.Millisecond
	}
	return &Playback{
		cfg:     cfg,
		in:      in,
		log:     log,
		drained: make(chan struct{}),
		quit:    make(chan struct{}),
	}, nil
}

// Start opens and starts the output stream. Invalid device or sample rate
// fails fast with *DeviceError.
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("playback already running")
	}

	dev, err := resolveOutput(p.cfg.Device)
	if err != nil {
		return err
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = p.cfg.Format.Channels
	params.SampleRate = float64(p.cfg.Format.SampleRate)
	params.FramesPerBuffer = p.cfg.BlockSize

	stream, err := portaudio.OpenStream(params, p.onBlock)
	if err != nil {
		return &DeviceError{Op: "open output", Device: dev.Name, Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &DeviceError{Op: "start output", Device: dev.Name, Err: err}
	}

	p.stream = stream
	p.running = true
	p.log.Info("playback started",
		slog.String("device", dev.Name),
		slog.Int("sample_rate", p.cfg.Format.SampleRate),
		slog.Int("block_size", p.cfg.BlockSize),
		slog.Int("block_bytes", p.cfg.Format.BytesPerBlock(p.cfg.BlockSize)))
	return nil
}

// onBlock runs on the PortAudio real-time thread. It always fills out
// completely, padding with silence when data runs short. Once playback is
// genuinely finished it signals drained and keeps emitting silence until the
// asynchronous side tears the stream down.
func (p *Playback) onBlock(out []int16) {
	need := len(out) * SampleWidth

	for len(p.buf) < need {
		f, err := p.in.Pop(p.cfg.PullTimeout)
		if err != nil {
			closed := errors.Is(err, ErrQueueClosed)
			if (p.eos.Load() || closed) && len(p.buf) == 0 {
				p.signalDrained()
			} else {
				p.padded.Add(1)
			}
			// Pad the shortfall so output length stays exact.
			p.buf = append(p.buf, make([]byte, need-len(p.buf))...)
			break
		}
		p.buf = append(p.buf, f...)
	}

	for i := 0; i < len(out); i++ {
		out[i] = int16(p.buf[2*i]) | int16(p.buf[2*i+1])<<8
	}
	p.buf = p.buf[:copy(p.buf, p.buf[need:])]
	p.blocksPlayed.Add(1)
}

func (p *Playback) signalDrained() {
	p.drainedOnce.Do(func() { close(p.drained) })
}

// SignalEnd raises the end-of-stream flag: once the queue and buffer empty,
// the callback reports drained instead of padding forever.
func (p *Playback) SignalEnd() {
	p.eos.Store(true)
}

// Drained is closed once end-of-stream was raised and all buffered audio has
// been emitted.
func (p *Playback) Drained() <-chan struct{} {
	return p.drained
}

// Play consumes frames, pushing each into the playback queue as it becomes
// available, raises end-of-stream once the source is exhausted, and returns
// only after the queue and buffer have fully drained. A nil return means the
// audio has finished sounding out or playback was stopped.
func (p *Playback) Play(ctx context.Context, frames <-chan Frame) error {
feed:
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				break feed
			}
			if err := p.enqueue(ctx, f); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return nil
		}
	}

	p.SignalEnd()
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return nil
	}
}

// enqueue pushes one frame, retrying bounded-timeout pushes until it lands or
// playback goes away.
func (p *Playback) enqueue(ctx context.Context, f Frame) error {
	for {
		err := p.in.Push(f, p.cfg.PushTimeout)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrQueueClosed):
			return nil
		case errors.Is(err, ErrQueueFull):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.quit:
				return nil
			default:
			}
		default:
			return err
		}
	}
}

// Stop raises end-of-stream, abandons any remaining drain and releases the
// hardware stream. Idempotent and safe before, during or after Play.
func (p *Playback) Stop() error {
	p.eos.Store(true)
	p.quitOnce.Do(func() { close(p.quit) })
	p.signalDrained()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false

	var err error
	if stopErr := p.stream.Stop(); stopErr != nil {
		err = &DeviceError{Op: "stop output", Device: p.cfg.Device, Err: stopErr}
	}
	if closeErr := p.stream.Close(); closeErr != nil && err == nil {
		err = &DeviceError{Op: "close output", Device: p.cfg.Device, Err: closeErr}
	}
	p.stream = nil

	p.log.Info("playback stopped",
		slog.Uint64("blocks_played", p.blocksPlayed.Load()),
		slog.Uint64("underruns_padded", p.padded.Load()))
	return err
}

// Stats reports emitted block and silence-padding counts.
func (p *Playback) Stats() (blocksPlayed, padded uint64) {
	return p.blocksPlayed.Load(), p.padded.Load()
}
