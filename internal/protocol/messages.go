// Package protocol defines the bus message types and subjects transrouter
// publishes so other services can follow live translation sessions.
package protocol

import "time"

// SessionEvent announces a session lifecycle change.
type SessionEvent struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"` // "started" or "stopped"
	Timestamp     time.Time `json:"timestamp"`
	RecordingPath string    `json:"recording_path,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// TranslationTurn carries the translated text of one completed model turn.
type TranslationTurn struct {
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSessionStarted = "translate.session.started"
	SubjectSessionStopped = "translate.session.stopped"
	SubjectTurn           = "translate.turn"
)
