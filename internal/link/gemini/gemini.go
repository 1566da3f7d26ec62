// Package gemini implements the translation link against Google's Gemini Live
// API (BidiGenerateContent over WebSocket). Microphone PCM goes out as
// base64-encoded media chunks; synthesized reply audio, translated text
// fragments and turn-complete markers come back as server content messages.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/transrouter/transrouter/internal/link"
)

var _ link.Provider = (*Provider)(nil)
var _ link.Session = (*session)(nil)

const (
	// DefaultModel is the live model used when none is configured.
	DefaultModel = "gemini-2.0-flash-exp"

	// DefaultInstructions mirror the interpreter prompt the service expects.
	DefaultInstructions = "As a professional interpreter, translate the audio input to English, providing only the translation with no additional text."

	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// Config configures the Gemini Live provider.
type Config struct {
	APIKey          string
	Model           string // empty = DefaultModel
	BaseURL         string // overridable for tests
	Instructions    string // empty = DefaultInstructions
	InputSampleRate int    // sample rate of outgoing PCM
}

// Provider implements link.Provider for Gemini Live.
type Provider struct {
	cfg Config
}

// New creates a Gemini Live provider. The API key must be non-empty.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}
	return &Provider{cfg: cfg}, nil
}

// Connect dials the live endpoint and performs the setup exchange. The
// returned session accepts audio immediately afterwards.
func (p *Provider) Connect(ctx context.Context) (link.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent?key=%s",
		p.cfg.BaseURL, p.cfg.APIKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, &link.Error{Op: "dial", Err: err}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:     conn,
		mimeType: fmt.Sprintf("audio/pcm;rate=%d", p.cfg.InputSampleRate),
		events:   make(chan link.Event, 64),
		ctx:      sessCtx,
		cancel:   cancel,
	}

	if err := s.sendSetup(p.cfg.Model, p.cfg.Instructions); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, &link.Error{Op: "setup", Err: err}
	}

	go s.receiveLoop()
	go s.keepaliveLoop()

	return s, nil
}

// ── Protocol messages ─────────────────────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *apiError        `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ── session ───────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	mimeType string
	events   chan link.Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *session) sendSetup(model, instructions string) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model:            fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
			SystemInstruction: &systemInstruction{
				Parts: []part{{Text: instructions}},
			},
		},
	}
	return s.writeJSON(s.ctx, msg)
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads server messages and forwards them as events. It owns the
// events channel and closes it on exit.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return // session closed locally
			}
			s.setErr(&link.Error{Op: "receive", Err: err})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}
		if msg.Error != nil {
			s.setErr(&link.Error{Op: "receive", Err: fmt.Errorf("%s (code %d)", msg.Error.Message, msg.Error.Code)})
			return
		}
		if msg.ServerContent != nil {
			if !s.emitContent(msg.ServerContent) {
				return
			}
		}
	}
}

// emitContent forwards one server content message. Returns false if the
// session context ended mid-emit.
func (s *session) emitContent(sc *serverContent) bool {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				if !s.emit(link.Event{Kind: link.EventAudio, PCM: pcm}) {
					return false
				}
			}
			if p.Text != "" {
				if !s.emit(link.Event{Kind: link.EventText, Text: p.Text}) {
					return false
				}
			}
		}
	}
	if sc.TurnComplete {
		return s.emit(link.Event{Kind: link.EventTurnComplete})
	}
	return true
}

func (s *session) emit(ev link.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// SendFrame delivers one chunk of microphone PCM to the model.
func (s *session) SendFrame(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &link.Error{Op: "send", Err: fmt.Errorf("session closed")}
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: s.mimeType, Data: base64.StdEncoding.EncodeToString(pcm)},
			},
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return &link.Error{Op: "send", Err: err}
	}
	return nil
}

// Events returns the receive stream. Closed when the session ends.
func (s *session) Events() <-chan link.Event { return s.events }

// Err reports why the session terminated, nil for a clean local close.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
