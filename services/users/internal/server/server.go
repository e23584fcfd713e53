package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"securechat/internal/util"
	"securechat/pkg/auth"
	"securechat/services/users/internal/app"
)

// InternalTokenHeader carries the shared secret of trusted callers.
const InternalTokenHeader = "X-Internal-Token"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	InternalToken string
}

// Server exposes the identity store to other services.
type Server struct {
	app           *app.App
	internalToken string
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		internalToken: cfg.InternalToken,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithHTTPStack("users", s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/users/create", s.internalOnly(s.handleCreate))
	s.mux.Handle("/users/validate", s.internalOnly(s.handleValidate))
	s.mux.Handle("/users/", s.internalOnly(s.handleUser))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) internalOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(InternalTokenHeader)
		if s.internalToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.internalToken)) != 1 {
			util.LoggerFromContext(r.Context()).Warn("security_event",
				"event", "users.internal_token", "outcome", "fail", "path", r.URL.Path, "ip", util.ClientIP(r, nil))
			writeError(w, http.StatusUnauthorized, "invalid internal token")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.NewUser
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.app.CreateUser(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("user created", "username", profile.Username)
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	creds, err := s.app.Validate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	username := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users/"), "/")
	if username == "" || strings.Contains(username, "/") {
		writeError(w, http.StatusNotFound, "expected /users/{username}")
		return
	}
	switch r.Method {
	case http.MethodGet:
		profile, err := s.app.GetProfile(r.Context(), username)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPut:
		var req app.Update
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.UpdateUser(r.Context(), username, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodDelete:
		if err := s.app.DeleteUser(r.Context(), username); err != nil {
			writeAppError(w, r, err)
			return
		}
		util.LoggerFromContext(r.Context()).Info("user deleted", "username", username)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type validateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
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
	case errors.Is(err, app.ErrUsernameRequired),
		errors.Is(err, app.ErrInvalidUsername),
		errors.Is(err, app.ErrEmailRequired),
		errors.Is(err, app.ErrInvalidEmail),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUsernameTaken), errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("user store call failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
