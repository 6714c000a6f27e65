package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/httpapi"
	"callbridge/internal/metrics"
	"callbridge/internal/relay"
	"callbridge/internal/store"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	tokens, err := telephony.NewStreamTokens(cfg.Stream.TokenSecret, cfg.Stream.TokenTTL)
	if err != nil {
		log.Error("stream token init failed", "err", err)
		os.Exit(1)
	}

	callStore := store.New(db)
	eventRelay := relay.New(callStore, relay.RedisPublisher{RDB: rdb}, log)
	registry := calls.NewRegistry()
	met := metrics.New(prometheus.DefaultRegisterer)

	h := httpapi.Handlers{
		Cfg:      cfg,
		Store:    callStore,
		Relay:    eventRelay,
		Recorder: eventRelay,
		Registry: registry,
		Dialer:   telephony.NewDialer(cfg.Twilio),
		Tokens:   tokens,
		RDB:      rdb,
		Metrics:  met,
		Log:      log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No blanket read/write timeouts: the media-stream websocket on
		// /stream stays open for the life of a call.
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "pipeline_mode", cfg.Pipeline.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_calls", registry.Len())

	// Stop live conversations first so their final status and transcripts
	// land before the process exits.
	registry.StopAll("shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	eventRelay.Flush()
}
