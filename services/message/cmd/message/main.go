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

	"securechat/internal/util"
	"securechat/pkg/live"
	"securechat/pkg/store"
	"securechat/services/message/internal/app"
	"securechat/services/message/internal/config"
	"securechat/services/message/internal/fanout"
	"securechat/services/message/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel, "message")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pushTimeout, err := config.ParsePushTimeout(cfg.PushTimeout)
	if err != nil {
		util.Fatal("invalid push timeout", "err", err)
	}
	messages, err := openStore(cfg)
	if err != nil {
		util.Fatal("failed to open message store", "driver", cfg.StoreDriver, "err", err)
	}
	defer messages.Close()

	registry := live.NewRegistry()
	var notifier app.Notifier
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		redisNotifier := fanout.NewRedisNotifier(client, registry, cfg.DeliveryChannel)
		if err := redisNotifier.Start(ctx); err != nil {
			util.Fatal("failed to subscribe to delivery fanout", "err", err)
		}
		notifier = redisNotifier
		slog.Info("delivery fanout enabled", "redis", cfg.RedisAddr)
	}

	appCore, err := app.New(app.Config{Store: messages, Registry: registry, Notifier: notifier})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	httpServer := server.New(server.Config{App: appCore, PushTimeout: pushTimeout})

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

	slog.Info("message server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("server error", "err", err)
	}
}

type messageStore interface {
	store.MessageStore
	Close() error
}

func openStore(cfg config.FileConfig) (messageStore, error) {
	if cfg.StoreDriver == config.DriverBolt {
		s, err := store.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}
