package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"securechat/internal/usertoken"
	"securechat/internal/util"
	"securechat/services/auth/internal/app"
	"securechat/services/auth/internal/config"
	"securechat/services/auth/internal/security"
	"securechat/services/auth/internal/server"
	"securechat/services/auth/internal/userclient"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel, "auth")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenTTL, _ := config.ParseTokenTTL(cfg.TokenTTL)
	issuer, err := usertoken.NewIssuer(usertoken.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: tokenTTL})
	if err != nil {
		util.Fatal("failed to init token issuer", "err", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy list", "err", err)
	}

	var alerter *security.AuditAlerter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		alerter, err = security.NewAuditAlerter(client, "")
		if err != nil {
			util.Fatal("failed to init alerter", "err", err)
		}
	} else {
		slog.Warn("redisAddr not set; failed-login alerting disabled")
	}

	appCore, err := app.New(app.Config{
		Users:  userclient.NewClient(cfg.UserServiceURL, cfg.InternalToken),
		Tokens: issuer,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	httpServer := server.New(server.Config{App: appCore, Alerter: alerter, TrustedProxies: trusted})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("auth server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("server error", "err", err)
	}
}
