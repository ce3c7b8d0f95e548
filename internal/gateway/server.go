// Package gateway exposes the runtime's HTTP surface: session creation and
// messaging over REST, the per-session websocket stream, metrics, and
// health. Handlers translate terminal conditions into status codes; all
// session semantics live behind the intake.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/propfolio/researchd/internal/auth"
	"github.com/propfolio/researchd/internal/channel"
	"github.com/propfolio/researchd/internal/config"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/sessions"
	"github.com/propfolio/researchd/pkg/models"
)

// Server is the HTTP gateway.
type Server struct {
	cfg    config.ServerConfig
	store  *sessions.Store
	intake *Intake
	ws     *channel.Server
	jwt    *auth.JWTService
	logger *observability.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the gateway. jwt may be nil, which disables bearer auth.
func NewServer(cfg config.ServerConfig, store *sessions.Store, intake *Intake, ws *channel.Server, jwt *auth.JWTService, logger *observability.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		intake: intake,
		ws:     ws,
		jwt:    jwt,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /research", s.handleCreateResearch)
	mux.HandleFunc("POST /session/{id}/message", s.handleSessionMessage)
	mux.HandleFunc("GET /session/{id}/ws", s.handleSessionWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error(ctx, "http server error", "error", err)
			}
		}
	}()
	if s.logger != nil {
		s.logger.Info(ctx, "gateway listening", "addr", listener.Addr().String())
	}
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains connections gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

type createResearchRequest struct {
	Instruction string              `json:"instruction"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	UserID      string              `json:"user_id,omitempty"`
	OrgID       string              `json:"org_id,omitempty"`
}

func (s *Server) handleCreateResearch(w http.ResponseWriter, r *http.Request) {
	var req createResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		writeError(w, http.StatusBadRequest, "instruction is required")
		return
	}

	identity, ok := s.identify(w, r, req.UserID, req.OrgID)
	if !ok {
		return
	}

	sessionID, err := s.intake.CreateSession(r.Context(), identity, req.Instruction, req.Attachments)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(r.Context(), "session create failed", "error", err)
		}
		writeError(w, http.StatusInternalServerError, "session create failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

type sessionMessageRequest struct {
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req sessionMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.intake.HandleUserInput(r.Context(), sessionID, req.Content, req.Attachments); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if s.logger != nil {
			s.logger.Error(r.Context(), "message append failed", "session_id", sessionID, "error", err)
		}
		writeError(w, http.StatusInternalServerError, "message append failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, ok := s.identify(w, r, "", ""); !ok {
		return
	}
	if _, err := s.store.Snapshot(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.ws.Serve(r.Context(), conn, sessionID)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identify resolves the caller. With auth enabled a valid bearer token is
// required; otherwise the optional fallback user id is used. A false return
// means the response has been written.
func (s *Server) identify(w http.ResponseWriter, r *http.Request, fallbackUser, fallbackOrg string) (auth.Identity, bool) {
	if s.jwt == nil {
		if fallbackUser == "" {
			fallbackUser = "anonymous"
		}
		return auth.Identity{UserID: fallbackUser, OrgID: fallbackOrg}, true
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return auth.Identity{}, false
	}
	identity, err := s.jwt.Validate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid bearer token")
		return auth.Identity{}, false
	}
	return identity, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	// Browsers cannot set headers on websocket upgrades.
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
