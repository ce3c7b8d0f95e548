package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/propfolio/researchd/pkg/models"
)

type recordingHandler struct {
	mu         sync.Mutex
	inputs     []string
	interrupts int
	inputErr   error
}

func (h *recordingHandler) HandleUserInput(_ context.Context, _, instruction string, _ []models.Attachment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inputErr != nil {
		return h.inputErr
	}
	h.inputs = append(h.inputs, instruction)
	return nil
}

func (h *recordingHandler) HandleInterrupt(context.Context, string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interrupts++
	return nil
}

func startWSServer(t *testing.T, hub *Hub, handler Handler) *websocket.Conn {
	t.Helper()
	server := NewServer(hub, handler, Config{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
	}, nil)
	upgrader := websocket.Upgrader{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server.Serve(r.Context(), conn, "s1")
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeDeliversEvents(t *testing.T) {
	hub := NewHub(8, nil)
	conn := startWSServer(t, hub, &recordingHandler{})

	// Wait for the subscription before publishing.
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.subs["s1"]) == 1
	})

	hub.Publish("s1", Event{Type: EventCompleted, Title: "Research summary"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventCompleted || ev.Title != "Research summary" || ev.SessionID != "s1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestServeRoutesInboundFrames(t *testing.T) {
	hub := NewHub(8, nil)
	handler := &recordingHandler{}
	conn := startWSServer(t, hub, handler)

	frames := []string{
		`{"type": "user_input", "instruction": "dig deeper"}`,
		`{"type": "interrupt"}`,
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.inputs) == 1 && handler.interrupts == 1
	})
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.inputs[0] != "dig deeper" {
		t.Errorf("instruction = %q", handler.inputs[0])
	}
}

func TestServeReportsHandlerFailureOnStream(t *testing.T) {
	hub := NewHub(8, nil)
	handler := &recordingHandler{inputErr: errors.New("session is gone")}
	conn := startWSServer(t, hub, handler)

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "user_input", "instruction": "x"}`))
	if err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventError || ev.Kind != "frame_rejected" {
		t.Errorf("event = %+v", ev)
	}
}

func TestServeSurvivesMalformedFrame(t *testing.T) {
	hub := NewHub(8, nil)
	handler := &recordingHandler{}
	conn := startWSServer(t, hub, handler)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "interrupt"}`)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.interrupts == 1
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
