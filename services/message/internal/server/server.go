package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"securechat/internal/util"
	"securechat/pkg/domain"
	"securechat/pkg/live"
	"securechat/services/message/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App         *app.App
	PushTimeout time.Duration
}

// Server exposes the message store over HTTP and WebSocket.
type Server struct {
	app         *app.App
	pushTimeout time.Duration
	mux         *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:         cfg.App,
		pushTimeout: cfg.PushTimeout,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithHTTPStack("message", s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/messages/send", s.handleSend)
	s.mux.HandleFunc("/messages/history/", s.handleHistory)
	s.mux.HandleFunc("/messages/conversations/", s.handleConversations)
	s.mux.HandleFunc("/ws/", s.handleLive)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"live":   s.app.Registry().Len(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"live":   s.app.Registry().Len(),
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.Send(r.Context(), req.Sender, req.Receiver, req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Status: "ok", Message: msg})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/messages/history/", 2)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /messages/history/{userA}/{userB}")
		return
	}
	msgs, err := s.app.History(r.Context(), parts[0], parts[1])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/messages/conversations/", 1)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /messages/conversations/{user}")
		return
	}
	items, err := s.app.Conversations(r.Context(), parts[0])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	parts, ok := pathParams(r.URL.Path, "/ws/", 1)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /ws/{identity}")
		return
	}
	identity := parts[0]
	ctx := r.Context()
	websocket.Server{Handler: func(ws *websocket.Conn) {
		_ = s.app.ServeLive(ctx, identity, live.NewWSConn(ws, s.pushTimeout))
	}}.ServeHTTP(w, r)
}

type sendRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

type sendResponse struct {
	Status  string         `json:"status"`
	Message domain.Message `json:"message"`
}

// pathParams splits the path after prefix into exactly n non-empty segments.
func pathParams(path, prefix string, n int) ([]string, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != n {
		return nil, false
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, false
		}
	}
	return parts, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrSenderRequired),
		errors.Is(err, app.ErrReceiverRequired),
		errors.Is(err, app.ErrIdentityRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrStoreUnavailable):
		util.LoggerFromContext(r.Context()).Error("message store call failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, app.ErrStoreUnavailable.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("unexpected error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
