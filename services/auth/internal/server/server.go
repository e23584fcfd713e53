package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"securechat/internal/util"
	"securechat/pkg/auth"
	"securechat/services/auth/internal/app"
	"securechat/services/auth/internal/security"
	"securechat/services/auth/internal/userclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Alerter        *security.AuditAlerter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the credential service.
type Server struct {
	app            *app.App
	alerter        *security.AuditAlerter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		alerter:        cfg.Alerter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithHTTPStack("auth", s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/new", s.handleNew)
	s.mux.HandleFunc("/edit", s.handleEdit)
	s.mux.HandleFunc("/delete", s.handleDelete)
	s.mux.HandleFunc("/login", s.handleLogin)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req userclient.NewUser
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.app.Register(r.Context(), req)
	if err != nil {
		s.audit(r, "auth.register", "fail", "username", req.Username, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "username", profile.Username)
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.EditRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.app.Edit(r.Context(), req)
	if err != nil {
		s.audit(r, "auth.edit", "fail", "username", req.Username, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.edit", "success", "username", profile.Username)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "user": profile})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req usernameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Delete(r.Context(), req.Username); err != nil {
		s.audit(r, "auth.delete", "fail", "username", req.Username, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.delete", "success", "username", req.Username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "user deleted"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "username", req.Username, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "username", session.User.Username)
	writeJSON(w, http.StatusOK, session)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

// audit logs a security event and feeds failures to the alerter.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter unavailable", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
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
	var apiErr *userclient.APIError
	switch {
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrUsernameRequired),
		errors.Is(err, app.ErrNothingToUpdate),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		writeError(w, apiErr.Status, apiErr.Message)
	default:
		util.LoggerFromContext(r.Context()).Error("identity store call failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "user service unavailable")
	}
}
