package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/transrouter/transrouter/internal/protocol"
)

// Publisher mirrors session milestones onto the bus. Publish failures are
// logged and swallowed; the bus is an observer of the pipeline, never a
// dependency of it.
type Publisher struct {
	client *Client
	log    *slog.Logger
}

func NewPublisher(client *Client, log *slog.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

func (p *Publisher) SessionStarted(_ context.Context, sessionID string) {
	p.publish(protocol.SubjectSessionStarted, protocol.SessionEvent{
		SessionID: sessionID,
		State:     "started",
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) TurnCompleted(_ context.Context, sessionID string, turn int, text string) {
	p.publish(protocol.SubjectTurn, protocol.TranslationTurn{
		SessionID: sessionID,
		Turn:      turn,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) SessionStopped(_ context.Context, sessionID string, recordingPath string, cause error) {
	ev := protocol.SessionEvent{
		SessionID:     sessionID,
		State:         "stopped",
		Timestamp:     time.Now().UTC(),
		RecordingPath: recordingPath,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	p.publish(protocol.SubjectSessionStopped, ev)
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("marshal bus event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.log.Warn("publish bus event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
