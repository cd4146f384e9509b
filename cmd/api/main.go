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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/auth"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/calls"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/config"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/crm"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/gateway"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/numbers"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/permission"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/pricing"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/provider"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/tasks"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/webhook"
	"github.com/sagar-j-gurav/whatsapp-calling/pkg/logger"
	"github.com/sagar-j-gurav/whatsapp-calling/pkg/utils"
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

	if cfg.App.Env == "production" {
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

	// Repositories
	sessionStore := calls.NewStore(db)
	permissionStore := permission.NewStore(db)
	numberStore := numbers.NewStore(db)
	leadStore := crm.NewPostgresLeads(db)

	// External clients
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.Janus.HTTPURL,
		APISecret:    cfg.Janus.APISecret,
		RecordCalls:  cfg.Recording.Enabled,
		RecordingDir: cfg.Recording.Dir,
	}, log)
	providerClient := provider.NewClient(provider.Config{BaseURL: cfg.WhatsApp.APIBaseURL})

	// Services
	callService := calls.NewService(
		sessionStore,
		gatewayClient,
		providerClient,
		permissionStore,
		numberStore,
		leadStore,
		calls.NewRedisNotifier(rdb),
		pricing.NewCalculator(cfg.Billing.RatePerMinute),
		calls.Config{
			DefaultAccessToken: cfg.WhatsApp.DefaultAccessToken,
			RecordCalls:        cfg.Recording.Enabled,
			RecordingDir:       cfg.Recording.Dir,
		},
		log,
	)
	if cfg.App.MaxConcurrentCalls > 0 {
		callService.SetConcurrencyLimiter(calls.NewRedisLimiter(rdb, cfg.App.MaxConcurrentCalls))
	}

	permissionService := permission.NewService(
		permissionStore,
		providerClient,
		numberStore,
		cfg.WhatsApp.DefaultAccessToken,
		log,
	)

	sweeper := tasks.NewSweeper(permissionStore, sessionStore, gatewayClient, numberStore, tasks.Config{
		RecordingRetentionDays: cfg.Recording.RetentionDays,
	}, log)
	sweeper.Start()
	defer sweeper.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:      cfg,
		db:       db,
		authMW:   auth.RequireAccessToken(authManager),
		calls:    calls.Handler{Service: callService, Store: sessionStore},
		perms:    permission.Handler{Service: permissionService},
		webhooks: webhook.Handler{VerifyToken: cfg.WhatsApp.VerifyToken, Sink: callService},
	})

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
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
