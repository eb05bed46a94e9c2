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

	"github.com/jesus-bazan-entel/ApoloBilling/internal/audit"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/auth"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/calls"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/config"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/esl"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/gateway"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/httpapi"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/rating"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/reporting"
	"github.com/jesus-bazan-entel/ApoloBilling/pkg/logger"
	"github.com/jesus-bazan-entel/ApoloBilling/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
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

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
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

	// Core services.
	var publisher *gateway.Client
	if cfg.Collaborator.BaseURL != "" {
		publisher = gateway.NewClient(cfg.Collaborator.BaseURL, cfg.Collaborator.Timeout, log)
	}

	store := ledger.NewPostgresStore(db)
	var cdrPub ledger.CDRPublisher
	if publisher != nil {
		cdrPub = publisher
	}
	ledgerSvc := ledger.NewService(store, cdrPub, log)

	rater := rating.NewService(rating.NewPostgresRepo(db))
	limiter := calls.NewRedisLimiter(rdb, cfg.Billing.ReservationTTL)

	var callPub calls.ActiveCallPublisher
	if publisher != nil {
		callPub = publisher
	}
	tracker := calls.NewTracker(calls.TrackerConfig{
		ReservationTTL:       cfg.Billing.ReservationTTL,
		DefaultMaxConcurrent: cfg.Billing.DefaultMaxConcurrent,
	}, rater, ledgerSvc, callPub, limiter, log)

	dispatcher := calls.NewDispatcher(tracker, log)
	dispatcher.Start(rootCtx, 4)
	defer dispatcher.Close()

	// Event-socket session to the switch; reconnects with bounded backoff.
	eslClient := esl.NewClient(esl.ClientConfig{
		Addr:             cfg.ESLAddr(),
		Password:         cfg.ESL.Password,
		DialTimeout:      cfg.ESL.DialTimeout,
		HandshakeTimeout: cfg.ESL.HandshakeTimeout,
		IdleTimeout:      cfg.ESL.IdleTimeout,
		BackoffMin:       cfg.ESL.BackoffMin,
		BackoffMax:       cfg.ESL.BackoffMax,
		MaxAuthFailures:  cfg.ESL.MaxAuthFailures,
	}, dispatcher, log)

	go func() {
		if err := eslClient.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event socket terminated", "err", err)
			stop()
		}
	}()

	// Release stale holds left behind by missed hangups.
	sweeper := ledger.NewSweeper(ledgerSvc, cfg.Billing.SweepInterval, log)
	go sweeper.Run(rootCtx)

	auditSvc := audit.NewService(audit.NewMemoryRepo())
	reportingSvc := reporting.NewService(store)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:        authManager,
		Ledger:      ledgerSvc,
		Tracker:     tracker,
		Reporting:   reportingSvc,
		Audit:       auditSvc,
		AdminSecret: cfg.Auth.AdminSecret,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), db, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_calls", tracker.Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
