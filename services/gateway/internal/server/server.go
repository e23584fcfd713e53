package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/net/websocket"

	"securechat/internal/ratelimit"
	"securechat/internal/usertoken"
	"securechat/internal/util"
	"securechat/pkg/domain"
	"securechat/pkg/live"
	"securechat/services/gateway/internal/authclient"
	"securechat/services/gateway/internal/messageclient"
	"securechat/services/gateway/internal/relay"
	"securechat/services/gateway/internal/userclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth     *authclient.Client
	Users    *userclient.Client
	Messages *messageclient.Client
	Relay    *relay.Relay
	// TokenVerifier enables bearer token checks. Nil leaves routes open.
	TokenVerifier              *usertoken.Verifier
	Redis                      *redis.Client
	TrustedProxies             *util.TrustedProxies
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	SendRateLimitPerMinute     int
	PushTimeout                time.Duration
}

// Server exposes the client-facing chat API.
type Server struct {
	auth            *authclient.Client
	users           *userclient.Client
	messages        *messageclient.Client
	relay           *relay.Relay
	tokenVerifier   *usertoken.Verifier
	trustedProxies  *util.TrustedProxies
	pushTimeout     time.Duration
	mux             *http.ServeMux
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	sendLimiter     *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Relay == nil {
		return nil, errors.New("gateway: relay is required")
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	sendLimit := cfg.SendRateLimitPerMinute
	if sendLimit <= 0 {
		sendLimit = 120
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "securechat:gateway:ratelimit:" + name
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	sendLimiter, err := newLimiter("send", sendLimit)
	if err != nil {
		return nil, err
	}
	pushTimeout := cfg.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = 5 * time.Second
	}
	s := &Server{
		auth:            cfg.Auth,
		users:           cfg.Users,
		messages:        cfg.Messages,
		relay:           cfg.Relay,
		tokenVerifier:   cfg.TokenVerifier,
		trustedProxies:  cfg.TrustedProxies,
		pushTimeout:     pushTimeout,
		mux:             http.NewServeMux(),
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
		sendLimiter:     sendLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithHTTPStack("gateway", s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// accounts
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/user/", s.handleUser)

	// messages
	s.mux.HandleFunc("/conversations/", s.handleConversations)
	s.mux.HandleFunc("/history/", s.handleHistory)
	s.mux.HandleFunc("/send", s.handleSend)
	s.mux.HandleFunc("/ws/", s.handleRelay)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"activeBridges": s.relay.Active(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, r.URL.Path+"|"+s.clientIP(r), "too many registration attempts", false) {
		s.audit(r, "gateway.register", "rate_limited")
		return
	}
	var req authclient.Registration
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "gateway.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.auth.Register(r.Context(), req, s.clientIP(r))
	if err != nil {
		s.audit(r, "gateway.register", "fail", "username", req.Username, "reason", err.Error())
		writeUpstreamError(w, r, err, "auth service unavailable")
		return
	}
	s.audit(r, "gateway.register", "success", "username", profile.Username)
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, r.URL.Path+"|"+s.clientIP(r), "too many login attempts", false) {
		s.audit(r, "gateway.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "gateway.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.auth.Login(r.Context(), req.Username, req.Password, s.clientIP(r))
	if err != nil {
		s.audit(r, "gateway.login", "fail", "username", req.Username, "reason", err.Error())
		writeUpstreamError(w, r, err, "auth service unavailable")
		return
	}
	s.audit(r, "gateway.login", "success", "username", session.User.Username)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/user/", 1)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /user/{username}")
		return
	}
	if _, ok := s.authorize(w, r, false); !ok {
		return
	}
	profile, err := s.users.GetProfile(r.Context(), parts[0])
	if err != nil {
		writeUpstreamError(w, r, err, "user service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/conversations/", 1)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /conversations/{user}")
		return
	}
	if !s.actingAs(w, r, false, parts[0]) {
		return
	}
	items, err := s.messages.Conversations(r.Context(), parts[0])
	if err != nil {
		writeUpstreamError(w, r, err, "message service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/history/", 2)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /history/{userA}/{userB}")
		return
	}
	if !s.actingAs(w, r, false, parts[0], parts[1]) {
		return
	}
	items, err := s.messages.History(r.Context(), parts[0], parts[1])
	if err != nil {
		writeUpstreamError(w, r, err, "message service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, items)
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
	sender := strings.TrimSpace(req.Sender)
	if !s.actingAs(w, r, false, sender) {
		return
	}
	if !s.allowRate(w, r, s.sendLimiter, "send|"+sender+"|"+s.clientIP(r), "too many messages", true) {
		s.audit(r, "gateway.send", "rate_limited", "sender", sender)
		return
	}
	msg, err := s.messages.Send(r.Context(), req.Sender, req.Receiver, req.Content)
	if err != nil {
		writeUpstreamError(w, r, err, "message service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Status: "ok", Message: msg})
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	parts, ok := pathParams(r.URL.Path, "/ws/", 1)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /ws/{identity}")
		return
	}
	identity := parts[0]
	if !s.actingAs(w, r, true, identity) {
		return
	}
	ctx := r.Context()
	websocket.Server{Handler: func(ws *websocket.Conn) {
		s.serveBridge(ctx, identity, live.NewWSConn(ws, s.pushTimeout))
	}}.ServeHTTP(w, r)
}

func (s *Server) serveBridge(ctx context.Context, identity string, client live.Conn) {
	err := s.relay.Serve(ctx, identity, client)
	switch {
	case err == nil, errors.Is(err, relay.ErrClientClosed), errors.Is(err, context.Canceled):
	case errors.Is(err, relay.ErrAttemptsExhausted):
		util.LoggerFromContext(ctx).Error("relay gave up on message service", "identity", identity, "err", err)
	default:
		util.LoggerFromContext(ctx).Warn("relay ended", "identity", identity, "err", err)
	}
}

// authorize verifies the bearer token when a verifier is configured and
// returns its subject. The /ws route may carry the token as a query
// parameter since browsers cannot set headers on WebSocket upgrades.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, allowQuery bool) (string, bool) {
	if s.tokenVerifier == nil {
		return "", true
	}
	token, ok := usertoken.BearerToken(r)
	if !ok && allowQuery {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
		ok = token != ""
	}
	if !ok {
		s.audit(r, "gateway.token.verify", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	subject, err := s.tokenVerifier.VerifySubject(token)
	if err != nil {
		s.audit(r, "gateway.token.verify", "fail", "reason", "invalid_signature_or_claims")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return subject, true
}

// actingAs authorizes the request for one of identities.
func (s *Server) actingAs(w http.ResponseWriter, r *http.Request, allowQuery bool, identities ...string) bool {
	if s.tokenVerifier == nil {
		return true
	}
	subject, ok := s.authorize(w, r, allowQuery)
	if !ok {
		return false
	}
	for _, id := range identities {
		if id == subject {
			s.audit(r, "gateway.authorize", "success", "username", subject)
			return true
		}
	}
	s.audit(r, "gateway.authorize", "fail", "username", subject, "reason", "identity_mismatch")
	writeError(w, http.StatusForbidden, "forbidden")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate answers 429 when key is over its quota. With failOpen a
// limiter that cannot reach Redis lets the request through; register and
// login stay closed.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key, msg string, failOpen bool) bool {
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	if decision.Err != nil {
		util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "path", r.URL.Path, "fail_open", failOpen, "err", decision.Err)
		if failOpen {
			return true
		}
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
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

// writeUpstreamError relays a peer service's status, or 502 when the peer
// could not be reached.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error, unavailable string) {
	var (
		authErr *authclient.APIError
		userErr *userclient.APIError
		msgErr  *messageclient.APIError
	)
	switch {
	case errors.As(err, &authErr):
		writeError(w, authErr.Status, authErr.Message)
	case errors.As(err, &userErr):
		writeError(w, userErr.Status, userErr.Message)
	case errors.As(err, &msgErr):
		writeError(w, msgErr.Status, msgErr.Message)
	default:
		util.LoggerFromContext(r.Context()).Warn("upstream call failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, unavailable)
	}
}
