package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/propfolio/researchd/internal/auth"
	"github.com/propfolio/researchd/internal/channel"
	"github.com/propfolio/researchd/internal/config"
	"github.com/propfolio/researchd/internal/sessions"
	"github.com/propfolio/researchd/pkg/models"
)

type fakeStarter struct {
	mu         sync.Mutex
	ensures    []string
	interrupts []string
}

func (f *fakeStarter) EnsureLoop(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures = append(f.ensures, sessionID)
	return nil
}

func (f *fakeStarter) Interrupt(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts = append(f.interrupts, sessionID)
}

func (f *fakeStarter) ensured() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ensures...)
}

type gatewayEnv struct {
	server  *Server
	store   *sessions.Store
	hub     *channel.Hub
	starter *fakeStarter
	ts      *httptest.Server
}

func newGatewayEnv(t *testing.T, jwt *auth.JWTService) *gatewayEnv {
	t.Helper()
	store := sessions.New(nil, nil, nil)
	t.Cleanup(store.Close)
	hub := channel.NewHub(16, nil)
	starter := &fakeStarter{}

	defaults := models.SessionConfig{
		TimeLimit:             30 * time.Minute,
		MaxConversationLength: 40,
		PreserveExchanges:     6,
	}
	intake := NewIntake(store, starter, hub, nil, defaults, nil)
	ws := channel.NewServer(hub, intake, channel.Config{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
	}, nil)

	server := NewServer(config.ServerConfig{}, store, intake, ws, jwt, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &gatewayEnv{server: server, store: store, hub: hub, starter: starter, ts: ts}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func seedSession(t *testing.T, store *sessions.Store, id string, status models.SessionStatus) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Create(&models.Session{
		ID:           id,
		OwnerID:      "u1",
		Status:       status,
		ResearchGoal: "original goal",
		Config:       models.SessionConfig{TimeLimit: 30 * time.Minute},
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCreateResearch(t *testing.T) {
	env := newGatewayEnv(t, nil)

	resp := postJSON(t, env.ts.URL+"/research", map[string]any{
		"instruction": "value 12 Elm St",
		"user_id":     "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.SessionID == "" {
		t.Fatal("no session id")
	}

	got, err := env.store.Snapshot(body.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusPending || got.OwnerID != "u1" {
		t.Errorf("session = %+v", got)
	}
	if len(got.History) != 1 || !strings.Contains(got.History[0].Message, "<MAIN_TASK>\nvalue 12 Elm St\n</MAIN_TASK>") {
		t.Errorf("initial entry = %+v", got.History)
	}
	if ensured := env.starter.ensured(); len(ensured) != 1 || ensured[0] != body.SessionID {
		t.Errorf("ensured = %v", ensured)
	}
}

func TestCreateResearchRejectsBadBodies(t *testing.T) {
	env := newGatewayEnv(t, nil)

	resp, err := http.Post(env.ts.URL+"/research", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}

	resp = postJSON(t, env.ts.URL+"/research", map[string]any{"instruction": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty instruction status = %d", resp.StatusCode)
	}
}

func TestSessionMessageNotFound(t *testing.T) {
	env := newGatewayEnv(t, nil)
	resp := postJSON(t, env.ts.URL+"/session/nope/message", map[string]any{
		"role": "user", "content": "hello",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSessionMessageReactivatesTerminalSession(t *testing.T) {
	env := newGatewayEnv(t, nil)
	seedSession(t, env.store, "s1", models.StatusCompleted)

	resp := postJSON(t, env.ts.URL+"/session/s1/message", map[string]any{
		"role": "user", "content": "dig into permit history",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	got, err := env.store.Snapshot("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.ResearchGoal != "<MAIN_TASK>\ndig into permit history\n</MAIN_TASK>" {
		t.Errorf("research goal = %q", got.ResearchGoal)
	}
	if len(got.History) != 1 || got.History[0].Sender != models.SenderUser {
		t.Errorf("history = %+v", got.History)
	}
	if ensured := env.starter.ensured(); len(ensured) != 1 {
		t.Errorf("ensured = %v", ensured)
	}
}

func TestWSAuth(t *testing.T) {
	jwt := auth.NewJWTService("test-secret", time.Hour)
	env := newGatewayEnv(t, jwt)
	seedSession(t, env.store, "s1", models.StatusRunning)

	// No token.
	resp, err := http.Get(env.ts.URL + "/session/s1/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d", resp.StatusCode)
	}

	// Valid token, missing session.
	token, err := jwt.Generate(auth.Identity{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.Get(env.ts.URL + "/session/nope/ws?token=" + token)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session status = %d", resp.StatusCode)
	}
}

func TestWSRoutesInboundUserInput(t *testing.T) {
	env := newGatewayEnv(t, nil)
	seedSession(t, env.store, "s1", models.StatusAwaitingInput)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/session/s1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	frame := `{"type": "user_input", "instruction": "continue with zoning records"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, snapErr := env.store.Snapshot("s1")
		if snapErr == nil && len(got.History) == 1 && got.Status == models.StatusPending {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("inbound frame not applied")
}

func TestHealthz(t *testing.T) {
	env := newGatewayEnv(t, nil)
	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newGatewayEnv(t, nil)
	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestInterruptFrameReachesSupervisor(t *testing.T) {
	env := newGatewayEnv(t, nil)
	seedSession(t, env.store, "s1", models.StatusRunning)

	intake := env.server.intake
	if err := intake.HandleInterrupt(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	env.starter.mu.Lock()
	defer env.starter.mu.Unlock()
	if len(env.starter.interrupts) != 1 || env.starter.interrupts[0] != "s1" {
		t.Errorf("interrupts = %v", env.starter.interrupts)
	}
}
