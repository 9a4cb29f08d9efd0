// Package server exposes the HTTP surface of the voice agent: the session
// REST API, WebRTC signaling, the WebSocket audio endpoint, health probes,
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hieuclc/ai-voice-agent/internal/health"
	"github.com/hieuclc/ai-voice-agent/internal/observe"
	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/audio/webrtc"
	"github.com/hieuclc/ai-voice-agent/pkg/audio/wsconn"
	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

// ErrSessionActive is the sentinel SessionStarter implementations return
// when the session ID is already bound to a live connection. It maps to
// 409 Conflict.
var ErrSessionActive = errors.New("server: session already active")

// SessionStarter runs a pipeline for one connection. StartSession blocks
// until the connection ends and owns closing conn on every path.
type SessionStarter interface {
	StartSession(ctx context.Context, sessionID string, conn audio.Conn) error
}

// Config wires the server's dependencies.
type Config struct {
	Store    store.Store
	Sessions SessionStarter

	// Gateway handles WebRTC signaling. Nil disables /api/offer.
	Gateway *webrtc.Gateway

	// Format is the PCM format negotiated with clients.
	Format audio.Format

	// AllowedOrigins for CORS and WebSocket origin checks. Empty allows
	// same-origin only.
	AllowedOrigins []string

	Health *health.Handler
	Logger *slog.Logger
}

// Server is the HTTP API. Construct with New, expose via Handler.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if cfg.Gateway != nil {
		mux.HandleFunc("POST /api/offer", s.handleOffer)
		mux.HandleFunc("PATCH /api/offer", s.handleICE)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}

	s.handler = observe.Middleware(observe.DefaultMetrics())(s.cors(mux))
	return s
}

// Handler returns the fully wrapped route tree.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.cfg.Store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if summaries == nil {
		summaries = []store.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := store.Session{ID: uuid.NewString()}
	if err := s.cfg.Store.Save(r.Context(), session); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.cfg.Store.Load(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket upgrades the connection and blocks for the lifetime of
// the session. Binary messages are raw PCM frames in both directions.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	conn := wsconn.New(r.Context(), ws, s.cfg.Format)
	err = s.cfg.Sessions.StartSession(r.Context(), sessionID, conn)
	switch {
	case err == nil:
		ws.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, ErrSessionActive):
		ws.Close(websocket.StatusPolicyViolation, "session already active")
	default:
		s.logger.Warn("session ended with error", "session_id", sessionID, "error", err)
		ws.Close(websocket.StatusInternalError, "")
	}
}

// offerRequest is the signaling payload for POST /api/offer.
type offerRequest struct {
	SDP       string `json:"sdp"`
	SessionID string `json:"session_id,omitempty"`
}

// offerResponse carries the answer back to the browser.
type offerResponse struct {
	PeerID    string `json:"peer_id"`
	SessionID string `json:"session_id"`
	SDP       string `json:"sdp"`
}

// handleOffer answers a WebRTC offer and starts a supervised session on the
// resulting peer connection.
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SDP == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("server: sdp is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	peerID, answer, peer, err := s.cfg.Gateway.CreatePeer(r.Context(), req.SDP)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// The peer outlives this request; the session manager supervises it.
	go func() {
		if err := s.cfg.Sessions.StartSession(context.Background(), req.SessionID, peer); err != nil {
			s.logger.Warn("webrtc session ended with error",
				"session_id", req.SessionID, "peer_id", peerID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, offerResponse{
		PeerID:    peerID,
		SessionID: req.SessionID,
		SDP:       answer,
	})
}

// iceRequest carries trickle ICE candidates for PATCH /api/offer.
type iceRequest struct {
	PeerID    string `json:"peer_id"`
	Candidate string `json:"candidate"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	var req iceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.cfg.Gateway.AddICECandidate(req.PeerID, req.Candidate)
	if errors.Is(err, webrtc.ErrPeerNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cors allows the configured browser origins on the API routes.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
