// Package link defines the streaming contract with the remote translation
// service: frames of microphone audio go out, synthesized reply audio and
// translated text fragments come back, punctuated by turn-complete markers.
package link

import (
	"context"
	"fmt"
)

// EventKind discriminates what a session event carries.
type EventKind int

const (
	// EventAudio carries a chunk of synthesized reply PCM. Chunks may arrive
	// in bursts at irregular intervals and be of arbitrary length.
	EventAudio EventKind = iota

	// EventText carries a fragment of the translated text for the current turn.
	EventText

	// EventTurnComplete marks the boundary of one complete reply unit.
	EventTurnComplete
)

// Event is one item of a session's receive stream.
type Event struct {
	Kind EventKind
	PCM  []byte
	Text string
}

// Session is a live bidirectional translation session. SendFrame and Events
// may be used concurrently. The events channel is closed when the session
// terminates; Err then reports why, nil meaning a clean close.
type Session interface {
	SendFrame(ctx context.Context, pcm []byte) error
	Events() <-chan Event
	Err() error
	Close() error
}

// Provider establishes translation sessions.
type Provider interface {
	Connect(ctx context.Context) (Session, error)
}

// Error is a transient transport failure on the link. The orchestrator retries
// session establishment a bounded number of times before escalating.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("link: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
