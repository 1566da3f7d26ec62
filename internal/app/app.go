// Package app assembles the translation pipeline from configuration: audio
// engines, frame queues, the Gemini link, optional bus and history sinks,
// and the session orchestrator that drives them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/transrouter/transrouter/internal/audio"
	"github.com/transrouter/transrouter/internal/bus"
	"github.com/transrouter/transrouter/internal/config"
	"github.com/transrouter/transrouter/internal/history"
	"github.com/transrouter/transrouter/internal/link/gemini"
	"github.com/transrouter/transrouter/internal/session"
	"github.com/transrouter/transrouter/internal/telemetry"
)

// App holds everything one transrouter process owns.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	orch          *session.Orchestrator
	historyStore  *history.Store
	shutdownTelem func(context.Context) error
	audioUp       bool

	// mu guards busClient, which the readiness endpoint reads concurrently.
	mu        sync.Mutex
	busClient *bus.Client
}

func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run builds the pipeline and drives one session until ctx is cancelled or a
// fatal error occurs. Cleanup happens here in all cases.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	shutdownTelemetry, err := telemetry.Setup(a.cfg, a.logger, a.Healthy)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	a.shutdownTelem = shutdownTelemetry

	metrics, err := telemetry.NewPipeline()
	if err != nil {
		return fmt.Errorf("setup pipeline metrics: %w", err)
	}

	if err := audio.Init(); err != nil {
		return fmt.Errorf("init audio subsystem: %w", err)
	}
	a.audioUp = true

	var observers []session.Observer
	if a.cfg.Bus.Enabled {
		client, err := bus.Connect(ctx, a.cfg.Bus, a.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		a.mu.Lock()
		a.busClient = client
		a.mu.Unlock()
		observers = append(observers, bus.NewPublisher(client, a.logger))
	}
	if a.cfg.History.Enabled {
		store, err := history.Open(ctx, a.cfg.History, a.logger)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		a.historyStore = store
		observers = append(observers, history.NewRecorder(store, a.logger))
	}

	inputFormat := audio.Format{
		SampleRate: a.cfg.Audio.InputSampleRate,
		Channels:   a.cfg.Audio.Channels,
	}
	outputFormat := audio.Format{
		SampleRate: a.cfg.Audio.OutputSampleRate,
		Channels:   a.cfg.Audio.Channels,
	}

	captureQ := audio.NewFrameQueue(a.cfg.Audio.CaptureQueue)
	playbackQ := audio.NewFrameQueue(a.cfg.Audio.PlaybackQueue)

	capture, err := audio.NewCapture(audio.CaptureConfig{
		Device:    a.cfg.Audio.InputDevice,
		Format:    inputFormat,
		BlockSize: a.cfg.Audio.CaptureBlockSize,
	}, captureQ, a.logger)
	if err != nil {
		return fmt.Errorf("configure capture: %w", err)
	}

	playback, err := audio.NewPlayback(audio.PlaybackConfig{
		Device:    a.cfg.Audio.OutputDevice,
		Format:    outputFormat,
		BlockSize: a.cfg.Audio.PlaybackBlockSize,
	}, playbackQ, a.logger)
	if err != nil {
		return fmt.Errorf("configure playback: %w", err)
	}

	provider, err := gemini.New(gemini.Config{
		APIKey:          a.cfg.Link.APIKey,
		Model:           a.cfg.Link.Model,
		BaseURL:         a.cfg.Link.BaseURL,
		Instructions:    a.cfg.Link.Instructions,
		InputSampleRate: a.cfg.Audio.InputSampleRate,
	})
	if err != nil {
		return fmt.Errorf("configure link: %w", err)
	}

	a.orch = session.New(session.Config{
		SendTimeout:      time.Duration(a.cfg.Link.SendTimeoutMS) * time.Millisecond,
		MaxLinkFailures:  a.cfg.Link.MaxRestarts,
		RecordingEnabled: a.cfg.Recording.Enabled,
		RecordingDir:     a.cfg.Recording.Dir,
		RecordingLabel:   a.cfg.Recording.Label,
	}, session.Deps{
		Capture:       capture,
		Playback:      playback,
		CaptureQueue:  captureQ,
		PlaybackQueue: playbackQ,
		Provider:      provider,
		InputFormat:   inputFormat,
		Observers:     observers,
		Metrics:       metrics,
		Logger:        a.logger,
	})

	a.logger.Info("pipeline assembled",
		slog.String("session_id", a.orch.ID()),
		slog.Int("input_rate", inputFormat.SampleRate),
		slog.Int("output_rate", outputFormat.SampleRate))

	return a.orch.Run(ctx)
}

// Healthy reports whether the enabled external dependencies are reachable.
// It backs the /readyz endpoint on the telemetry server.
func (a *App) Healthy() bool {
	a.mu.Lock()
	client := a.busClient
	a.mu.Unlock()
	if a.cfg.Bus.Enabled && !client.Healthy() {
		return false
	}
	return true
}

func (a *App) cleanup() {
	a.mu.Lock()
	busClient := a.busClient
	a.busClient = nil
	a.mu.Unlock()
	busClient.Close()
	if a.historyStore != nil {
		if err := a.historyStore.Close(); err != nil {
			a.logger.Warn("close history store", slog.String("error", err.Error()))
		}
	}
	if a.audioUp {
		if err := audio.Terminate(); err != nil {
			a.logger.Warn("terminate audio subsystem", slog.String("error", err.Error()))
		}
	}
	if a.shutdownTelem != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTelem(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}
}
