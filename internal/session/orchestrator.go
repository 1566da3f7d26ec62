// Package session owns the lifecycle of one translation session: it wires the
// capture engine to the translation link, the link's reply stream to the
// playback engine, and every captured frame to the recording accumulator,
// with coordinated startup and a single idempotent teardown path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/transrouter/transrouter/internal/audio"
	"github.com/transrouter/transrouter/internal/link"
	"github.com/transrouter/transrouter/internal/recording"
	"github.com/transrouter/transrouter/internal/telemetry"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CaptureEngine is the capture side of the pipeline. Start failures are fatal
// to the session; Stop must be idempotent.
type CaptureEngine interface {
	Start() error
	Stop() error
}

// PlaybackEngine is the playback side. SignalEnd raises end-of-stream and
// Drained closes once everything buffered has sounded out.
type PlaybackEngine interface {
	Start() error
	SignalEnd()
	Drained() <-chan struct{}
	Stop() error
}

// Observer is notified of session milestones. Implementations must not block
// for long; they run on the orchestrator's routing goroutines.
type Observer interface {
	SessionStarted(ctx context.Context, sessionID string)
	TurnCompleted(ctx context.Context, sessionID string, turn int, text string)
	SessionStopped(ctx context.Context, sessionID string, recordingPath string, cause error)
}

// Config tunes the orchestrator. Zero values get sensible defaults.
type Config struct {
	PopTimeout  time.Duration // capture-queue wait per attempt
	SendTimeout time.Duration // per-frame link send budget
	PushTimeout time.Duration // playback-queue wait per attempt
	DrainWait   time.Duration // graceful playback drain bound at shutdown

	// MaxLinkFailures bounds consecutive link failures (send errors, or
	// session restarts) before the session goes down hard.
	MaxLinkFailures int

	RecordingEnabled bool
	RecordingDir     string
	RecordingLabel   string
}

func (c *Config) applyDefaults() {
	if c.PopTimeout <= 0 {
		c.PopTimeout = 100 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 100 * time.Millisecond
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 100 * time.Millisecond
	}
	if c.DrainWait <= 0 {
		c.DrainWait = 3 * time.Second
	}
	if c.MaxLinkFailures <= 0 {
		c.MaxLinkFailures = 3
	}
}

// Deps are the collaborators one orchestrator instance drives. The frame
// queues are owned by the orchestrator's caller-free contract: engines only
// hold producer/consumer roles on them.
type Deps struct {
	Capture       CaptureEngine
	Playback      PlaybackEngine
	CaptureQueue  *audio.FrameQueue
	PlaybackQueue *audio.FrameQueue
	Provider      link.Provider
	InputFormat   audio.Format
	Observers     []Observer
	Metrics       *telemetry.Pipeline
	Logger        *slog.Logger
}

// Orchestrator runs one session from Starting through Stopped. Instances are
// single-use: a new session needs a new orchestrator.
type Orchestrator struct {
	id  string
	cfg Config

	capture   CaptureEngine
	playback  PlaybackEngine
	captureQ  *audio.FrameQueue
	playbackQ *audio.FrameQueue
	provider  link.Provider
	acc       *recording.Accumulator
	observers []Observer
	metrics   *telemetry.Pipeline
	log       *slog.Logger

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	sessMu sync.Mutex
	sess   link.Session
}

// New creates an orchestrator in Idle state.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	id := uuid.NewString()
	return &Orchestrator{
		id:        id,
		cfg:       cfg,
		done:      make(chan struct{}),
		capture:   deps.Capture,
		playback:  deps.Playback,
		captureQ:  deps.CaptureQueue,
		playbackQ: deps.PlaybackQueue,
		provider:  deps.Provider,
		acc:       recording.NewAccumulator(deps.InputFormat),
		observers: deps.Observers,
		metrics:   deps.Metrics,
		log:       deps.Logger.With(slog.String("session_id", id)),
	}
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.id }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Done closes once the session reached Stopped. Only meaningful after Run
// was called.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run drives the session until Stop, context cancellation or a fatal error.
// It returns the error that brought the session down, nil for a clean stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("session %s: already started", o.id)
	}
	stopCh := o.stopChan()
	defer close(o.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	fatal := make(chan error, 4)

	if err := o.capture.Start(); err != nil {
		return o.shutdown(err, &wg)
	}
	if o.stopRequested(ctx) {
		return o.shutdown(nil, &wg)
	}
	if err := o.playback.Start(); err != nil {
		return o.shutdown(err, &wg)
	}

	sess, err := o.connect(ctx)
	if err != nil {
		return o.shutdown(err, &wg)
	}
	o.setSession(sess)

	o.state.Store(int32(StateRunning))
	o.log.Info("session running")
	for _, obs := range o.observers {
		obs.SessionStarted(ctx, o.id)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		o.captureLoop(ctx, fatal)
	}()
	go func() {
		defer wg.Done()
		o.linkLoop(ctx, fatal)
	}()

	var cause error
	select {
	case <-ctx.Done():
	case <-stopCh:
	case cause = <-fatal:
	}
	return o.shutdown(cause, &wg)
}

// Stop requests teardown. Idempotent, safe to call concurrently, safe before
// Starting completes; it takes effect within one queue-timeout interval.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopChan()) })
}

func (o *Orchestrator) stopChan() chan struct{} {
	o.sessMu.Lock()
	defer o.sessMu.Unlock()
	if o.stopCh == nil {
		o.stopCh = make(chan struct{})
	}
	return o.stopCh
}

func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	select {
	case <-o.stopChan():
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// connect establishes the link session, retrying transient failures up to the
// configured budget.
func (o *Orchestrator) connect(ctx context.Context) (link.Session, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxLinkFailures; attempt++ {
		if o.stopRequested(ctx) {
			return nil, lastErr
		}
		sess, err := o.provider.Connect(ctx)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		o.log.Warn("link connect failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
		select {
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		case <-o.stopChan():
			return nil, lastErr
		case <-ctx.Done():
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("link connect: giving up after %d attempts: %w",
		o.cfg.MaxLinkFailures+1, lastErr)
}

func (o *Orchestrator) setSession(s link.Session) {
	o.sessMu.Lock()
	o.sess = s
	o.sessMu.Unlock()
}

func (o *Orchestrator) session() link.Session {
	o.sessMu.Lock()
	defer o.sessMu.Unlock()
	return o.sess
}

// captureLoop is the single frame-routing path: every captured frame is
// appended to the recording accumulator and forwarded to the link. It owns
// the accumulator, so no lock guards it.
func (o *Orchestrator) captureLoop(ctx context.Context, fatal chan<- error) {
	failures := 0
	for {
		f, err := o.captureQ.Pop(o.cfg.PopTimeout)
		if err != nil {
			if errors.Is(err, audio.ErrQueueClosed) {
				return
			}
			if o.stopRequested(ctx) {
				return
			}
			continue // empty, keep polling
		}

		if o.cfg.RecordingEnabled {
			o.acc.Append(f)
		}

		// Hold the frame across a link restart rather than dropping it.
		sess := o.session()
		for sess == nil {
			if o.stopRequested(ctx) {
				return
			}
			time.Sleep(5 * time.Millisecond)
			sess = o.session()
		}
		sendCtx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
		err = sess.SendFrame(sendCtx, f)
		cancel()
		if err != nil {
			failures++
			o.metrics.SendFailed(ctx)
			o.log.Warn("link send failed",
				slog.Int("consecutive", failures),
				slog.String("error", err.Error()))
			if failures >= o.cfg.MaxLinkFailures {
				select {
				case fatal <- fmt.Errorf("link send: %d consecutive failures: %w", failures, err):
				default:
				}
				return
			}
			continue
		}
		failures = 0
		o.metrics.FrameRouted(ctx)
	}
}

// linkLoop consumes the link's receive stream, forwarding reply audio to the
// playback queue and handling turn boundaries. On transport failure it
// restarts the link session a bounded number of times before escalating.
func (o *Orchestrator) linkLoop(ctx context.Context, fatal chan<- error) {
	restarts := 0
	turn := 0
	var turnText strings.Builder

	for {
		sess := o.session()
		if sess == nil {
			return
		}

		open := true
		for open {
			select {
			case ev, ok := <-sess.Events():
				if !ok {
					open = false
					break
				}
				switch ev.Kind {
				case link.EventAudio:
					restarts = 0
					if !o.enqueuePlayback(ctx, audio.Frame(ev.PCM)) {
						return
					}
				case link.EventText:
					turnText.WriteString(ev.Text)
				case link.EventTurnComplete:
					// Barge-in: unplayed frames of the finished turn are stale
					// once the next one begins. Discard them so playback
					// catches up to the live state.
					dropped := o.playbackQ.Drain()
					o.metrics.FramesDropped(ctx, dropped)
					o.metrics.TurnCompleted(ctx)
					turn++
					text := turnText.String()
					turnText.Reset()
					o.log.Info("turn complete",
						slog.Int("turn", turn),
						slog.Int("frames_discarded", dropped),
						slog.String("text", text))
					for _, obs := range o.observers {
						obs.TurnCompleted(ctx, o.id, turn, text)
					}
				}
			case <-o.stopChan():
				return
			case <-ctx.Done():
				return
			}
		}

		if o.stopRequested(ctx) {
			return
		}

		err := sess.Err()
		restarts++
		if restarts > o.cfg.MaxLinkFailures {
			if err == nil {
				err = fmt.Errorf("link session closed")
			}
			select {
			case fatal <- fmt.Errorf("link receive: giving up after %d restarts: %w", restarts-1, err):
			default:
			}
			return
		}
		if err != nil {
			o.log.Warn("link session failed, restarting",
				slog.Int("restart", restarts),
				slog.String("error", err.Error()))
		} else {
			o.log.Warn("link session ended, restarting", slog.Int("restart", restarts))
		}

		o.setSession(nil)
		newSess, cerr := o.provider.Connect(ctx)
		for cerr != nil {
			restarts++
			if restarts > o.cfg.MaxLinkFailures {
				select {
				case fatal <- fmt.Errorf("link reconnect: giving up after %d attempts: %w", restarts-1, cerr):
				default:
				}
				return
			}
			o.log.Warn("link restart failed",
				slog.Int("restart", restarts),
				slog.String("error", cerr.Error()))
			select {
			case <-time.After(time.Duration(restarts) * 100 * time.Millisecond):
			case <-o.stopChan():
				return
			case <-ctx.Done():
				return
			}
			newSess, cerr = o.provider.Connect(ctx)
		}
		if o.stopRequested(ctx) {
			_ = newSess.Close()
			return
		}
		o.metrics.LinkRestarted(ctx)
		o.setSession(newSess)
	}
}

// enqueuePlayback pushes one reply frame with bounded waits, retrying until
// it lands or the session goes away. Returns false when routing should stop.
func (o *Orchestrator) enqueuePlayback(ctx context.Context, f audio.Frame) bool {
	for {
		err := o.playbackQ.Push(f, o.cfg.PushTimeout)
		switch {
		case err == nil:
			return true
		case errors.Is(err, audio.ErrQueueClosed):
			return false
		case errors.Is(err, audio.ErrQueueFull):
			if o.stopRequested(ctx) {
				return false
			}
		default:
			return false
		}
	}
}

// shutdown is the single teardown path: it runs exactly once, from Run, and
// releases every acquired resource in dependency order regardless of which
// component failed first.
func (o *Orchestrator) shutdown(cause error, wg *sync.WaitGroup) error {
	o.state.Store(int32(StateStopping))
	o.Stop() // ensure the stop signal is raised for all loops
	if cause != nil {
		o.log.Error("session stopping on error", slog.String("error", cause.Error()))
	} else {
		o.log.Info("session stopping")
	}

	// Capture first: closing its queue terminates the frame-routing loop.
	if err := o.capture.Stop(); err != nil {
		o.log.Warn("capture stop", slog.String("error", err.Error()))
	}
	o.captureQ.Close()

	if sess := o.session(); sess != nil {
		_ = sess.Close()
	}
	wg.Wait()

	// The accumulator is safe to read now that the routing loop has exited.
	var recPath string
	if o.cfg.RecordingEnabled && !o.acc.Empty() {
		path, err := o.acc.Flush(o.cfg.RecordingDir, o.cfg.RecordingLabel)
		if err != nil {
			o.log.Error("recording flush failed", slog.String("error", err.Error()))
		} else {
			recPath = path
			o.log.Info("recording saved", slog.String("path", path))
		}
	}

	// Let already-received audio finish sounding out, bounded.
	o.playback.SignalEnd()
	select {
	case <-o.playback.Drained():
	case <-time.After(o.cfg.DrainWait):
	}
	if err := o.playback.Stop(); err != nil {
		o.log.Warn("playback stop", slog.String("error", err.Error()))
	}
	o.playbackQ.Close()

	// The run context may already be cancelled here; sinks still need to
	// record the stop.
	notifyCtx, cancelNotify := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelNotify()
	for _, obs := range o.observers {
		obs.SessionStopped(notifyCtx, o.id, recPath, cause)
	}

	o.state.Store(int32(StateStopped))
	o.log.Info("session stopped")
	return cause
}
