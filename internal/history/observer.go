package history

import (
	"context"
	"log/slog"
)

// Recorder mirrors session milestones into the store. Write failures are
// logged and swallowed so a slow or broken disk never stalls the pipeline.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

func (r *Recorder) SessionStarted(ctx context.Context, sessionID string) {
	if err := r.store.BeginSession(ctx, sessionID); err != nil {
		r.log.Warn("record session start", slog.String("error", err.Error()))
	}
}

func (r *Recorder) TurnCompleted(ctx context.Context, sessionID string, turn int, text string) {
	if err := r.store.AppendTurn(ctx, sessionID, turn, text); err != nil {
		r.log.Warn("record turn", slog.String("error", err.Error()))
	}
}

func (r *Recorder) SessionStopped(ctx context.Context, sessionID string, recordingPath string, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	if err := r.store.EndSession(ctx, sessionID, recordingPath, errText); err != nil {
		r.log.Warn("record session stop", slog.String("error", err.Error()))
	}
}
