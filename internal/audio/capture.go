package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// CaptureConfig configures one hardware input stream.
type CaptureConfig struct {
	Device    string // empty = system default
	Format    Format
	BlockSize int // frames delivered per hardware period
}

// Validate rejects bad parameters before any hardware resource is acquired.
func (c CaptureConfig) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("capture: block size must be positive, got %d", c.BlockSize)
	}
	return nil
}

// Capture drives a hardware input stream. Each hardware period the callback is
// handed one fixed-size block of samples, converts it to a Frame and hands it
// off to the output queue without ever blocking: if the consumer cannot keep
// up the frame is dropped, because a stalled capture callback causes audible
// glitches or device resets.
type Capture struct {
	cfg CaptureConfig
	out *FrameQueue
	log *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool

	captured atomic.Uint64
	dropped  atomic.Uint64
}

// NewCapture validates cfg and prepares a capture engine pushing into out.
// The queue is owned by the caller; Stop closes it so consumers terminate.
func NewCapture(cfg CaptureConfig, out *FrameQueue, log *slog.Logger) (*Capture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Capture{cfg: cfg, out: out, log: log}, nil
}

// Start opens and starts the input stream. Device or stream-open failures are
// fatal and surface as *DeviceError.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("capture already running")
	}

	dev, err := resolveInput(c.cfg.Device)
	if err != nil {
		return err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = c.cfg.Format.Channels
	params.SampleRate = float64(c.cfg.Format.SampleRate)
	params.FramesPerBuffer = c.cfg.BlockSize

	stream, err := portaudio.OpenStream(params, c.onBlock)
	if err != nil {
		return &DeviceError{Op: "open input", Device: dev.Name, Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &DeviceError{Op: "start input", Device: dev.Name, Err: err}
	}

	c.stream = stream
	c.running = true
	c.log.Info("capture started",
		slog.String("device", dev.Name),
		slog.Int("sample_rate", c.cfg.Format.SampleRate),
		slog.Int("block_size", c.cfg.BlockSize),
		slog.Int("block_bytes", c.cfg.Format.BytesPerBlock(c.cfg.BlockSize)))
	return nil
}

// onBlock runs on the PortAudio real-time thread. It must return within one
// period and therefore never blocks on the queue.
func (c *Capture) onBlock(in []int16) {
	if c.out.TryPush(frameFromInt16(in)) {
		c.captured.Add(1)
	} else {
		c.dropped.Add(1)
	}
}

// Stop closes the stream and the output queue. Idempotent; the frame producer
// side terminates once the queue reports closed and empty.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	var err error
	if stopErr := c.stream.Stop(); stopErr != nil {
		err = &DeviceError{Op: "stop input", Device: c.cfg.Device, Err: stopErr}
	}
	if closeErr := c.stream.Close(); closeErr != nil && err == nil {
		err = &DeviceError{Op: "close input", Device: c.cfg.Device, Err: closeErr}
	}
	c.stream = nil
	c.out.Close()

	captured, dropped := c.captured.Load(), c.dropped.Load()
	c.log.Info("capture stopped",
		slog.Uint64("frames_captured", captured),
		slog.Uint64("frames_dropped", dropped))
	return err
}

// Stats reports how many frames were handed off and how many were dropped
// because the queue was full.
func (c *Capture) Stats() (captured, dropped uint64) {
	return c.captured.Load(), c.dropped.Load()
}
