package link

import (
	"context"
	"sync"
)

// MockProvider hands out scripted sessions for orchestrator tests.
type MockProvider struct {
	mu       sync.Mutex
	sessions []*MockSession
	connects int
	// ConnectErr, when set, fails the next Connect.
	ConnectErr error
}

// NewMockProvider returns a provider producing fresh MockSessions.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Connect(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.ConnectErr = nil
		return nil, err
	}
	s := &MockSession{events: make(chan Event, 64)}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Connects reports how many times Connect was called.
func (p *MockProvider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// Last returns the most recently created session, or nil.
func (p *MockProvider) Last() *MockSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// MockSession records sent frames and lets tests script the receive stream.
type MockSession struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	err     error
	closed  bool
	events  chan Event
}

func (s *MockSession) SendFrame(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *MockSession) Events() <-chan Event { return s.events }

func (s *MockSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Emit scripts one event into the receive stream.
func (s *MockSession) Emit(ev Event) {
	s.events <- ev
}

// Fail terminates the session with err, as a transport failure would.
func (s *MockSession) Fail(err error) {
	s.mu.Lock()
	s.err = err
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !closed {
		close(s.events)
	}
}

// SetSendErr makes subsequent SendFrame calls fail with err.
func (s *MockSession) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Sent returns all frames sent so far.
func (s *MockSession) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Closed reports whether Close or Fail ended the session.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
