package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/transrouter/transrouter/internal/link"
)

func startServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func TestConnectSendsSetup(t *testing.T) {
	setupCh := make(chan setupMessage, 1)
	url := startServer(t, func(conn *websocket.Conn) {
		var msg setupMessage
		readJSON(t, conn, &msg)
		setupCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p, err := New(Config{APIKey: "key", Model: "custom-model", BaseURL: url})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sess, err := p.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-setupCh:
		if msg.Setup.Model != "models/custom-model" {
			t.Fatalf("unexpected model: %s", msg.Setup.Model)
		}
		if msg.Setup.SystemInstruction == nil || msg.Setup.SystemInstruction.Parts[0].Text != DefaultInstructions {
			t.Fatal("expected default interpreter instructions in setup")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received setup")
	}
}

func TestReceiveLoopSurfacesEvents(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	url := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)

		writeJSON(t, conn, serverMessage{ServerContent: &serverContent{
			ModelTurn: &modelTurn{Parts: []part{
				{InlineData: &inlineData{MIMEType: "audio/pcm", Data: base64.StdEncoding.EncodeToString(pcm)}},
				{Text: "hello"},
			}},
		}})
		writeJSON(t, conn, serverMessage{ServerContent: &serverContent{TurnComplete: true}})
		<-conn.CloseRead(context.Background()).Done()
	})

	p, err := New(Config{APIKey: "key", BaseURL: url})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sess, err := p.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	want := []link.EventKind{link.EventAudio, link.EventText, link.EventTurnComplete}
	for i, kind := range want {
		select {
		case ev := <-sess.Events():
			if ev.Kind != kind {
				t.Fatalf("event %d: expected kind %v, got %v", i, kind, ev.Kind)
			}
			if kind == link.EventAudio && string(ev.PCM) != string(pcm) {
				t.Fatalf("unexpected pcm payload: %v", ev.PCM)
			}
			if kind == link.EventText && ev.Text != "hello" {
				t.Fatalf("unexpected text: %q", ev.Text)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSendFrameEncodesChunk(t *testing.T) {
	inputCh := make(chan realtimeInputMessage, 1)
	url := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		var msg realtimeInputMessage
		readJSON(t, conn, &msg)
		inputCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p, err := New(Config{APIKey: "key", BaseURL: url, InputSampleRate: 16000})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sess, err := p.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	pcm := []byte{9, 8, 7}
	if err := sess.SendFrame(context.Background(), pcm); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	select {
	case msg := <-inputCh:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("expected 1 media chunk, got %d", len(chunks))
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("unexpected mime type: %s", chunks[0].MIMEType)
		}
		decoded, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil || string(decoded) != string(pcm) {
			t.Fatalf("chunk does not round-trip: %v %v", decoded, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received audio chunk")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	url := startServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	p, err := New(Config{APIKey: "key", BaseURL: url})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sess, err := p.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sess.SendFrame(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected send to fail after close")
	}
}
