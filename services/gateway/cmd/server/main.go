package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"securechat/internal/usertoken"
	"securechat/internal/util"
	"securechat/services/gateway/internal/authclient"
	"securechat/services/gateway/internal/config"
	"securechat/services/gateway/internal/messageclient"
	"securechat/services/gateway/internal/relay"
	"securechat/services/gateway/internal/server"
	"securechat/services/gateway/internal/userclient"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel, "gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryInterval, _ := config.ParseDuration("retryInterval", cfg.RetryInterval, relay.DefaultRetryInterval)
	pushTimeout, _ := config.ParseDuration("pushTimeout", cfg.PushTimeout, 5*time.Second)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy list", "err", err)
	}

	var verifier *usertoken.Verifier
	if cfg.JWTSecret != "" {
		leeway, _ := config.ParseJWTLeeway(cfg.JWTLeeway)
		verifier, err = usertoken.NewVerifier(usertoken.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Leeway: leeway})
		if err != nil {
			util.Fatal("failed to init token verifier", "err", err)
		}
		slog.Info("bearer token enforcement enabled")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	dialer, err := relay.NewWebSocketDialer(cfg.MessageServiceURL, pushTimeout)
	if err != nil {
		util.Fatal("invalid message service url", "err", err)
	}
	bridges, err := relay.New(relay.Config{
		Dialer: dialer,
		Retry: relay.RetryPolicy{
			Interval:    retryInterval,
			Jitter:      cfg.RetryJitter,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
	})
	if err != nil {
		util.Fatal("failed to init relay", "err", err)
	}

	httpServer, err := server.New(server.Config{
		Auth:                       authclient.NewClient(cfg.AuthServiceURL),
		Users:                      userclient.NewClient(cfg.UserServiceURL, cfg.InternalToken),
		Messages:                   messageclient.NewClient(cfg.MessageServiceURL),
		Relay:                      bridges,
		TokenVerifier:              verifier,
		Redis:                      redisClient,
		TrustedProxies:             trusted,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		SendRateLimitPerMinute:     cfg.SendRateLimitPerMinute,
		PushTimeout:                pushTimeout,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		// Hijacked relay connections end when ctx is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway listening", "addr", addr, "message_service", cfg.MessageServiceURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("server error", "err", err)
	}
}
