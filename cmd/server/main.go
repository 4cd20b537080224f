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

	"voice-concierge/internal/archive"
	"voice-concierge/internal/auth"
	"voice-concierge/internal/bridge"
	"voice-concierge/internal/config"
	"voice-concierge/internal/engine"
	"voice-concierge/internal/gateway"
	"voice-concierge/internal/outcome"
	"voice-concierge/internal/ratelimit"
	"voice-concierge/internal/registry"
	"voice-concierge/internal/telephony"
	"voice-concierge/pkg/logger"
	"voice-concierge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local convenience; real deployments inject env directly.
	_ = godotenv.Load()

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

	authManager, err := auth.NewManager(cfg.Auth.APISecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	reg := registry.New(log)
	reg.StartSweeper(rootCtx, 10*time.Minute, cfg.Call.RecordTTL)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.Call.HourlyLimit, cfg.Call.DailyLimit, log)
		log.Info("call rate limiting enabled",
			"hourly", cfg.Call.HourlyLimit, "daily", cfg.Call.DailyLimit)
	}

	if cfg.ArchiveEnabled() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()

		arch, err := archive.NewPostgres(db, log)
		if err != nil {
			log.Error("archive init failed", "err", err)
			os.Exit(1)
		}
		if err := arch.EnsureSchema(rootCtx); err != nil {
			log.Error("archive schema failed", "err", err)
			os.Exit(1)
		}
		reg.SetTerminalHook(func(rec registry.CallRecord) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := arch.Archive(ctx, rec); err != nil {
				log.Error("call archive failed", "call_id", rec.CallID, "err", err)
			}
		})
		log.Info("call archive enabled")
	}

	analyzer := outcome.NewOpenAIAnalyzer(cfg.Engine.OpenAIAPIKey, cfg.Engine.AnalysisModel, log)
	extractor := outcome.NewExtractor(analyzer, log)

	dialer := engine.NewRealtimeDialer(
		cfg.Engine.OpenAIAPIKey, cfg.Engine.RealtimeModel,
		cfg.Engine.Voice, cfg.Engine.AudioFormat, log)

	streamHandler := bridge.NewHandler(dialer, reg, extractor, bridge.Config{
		HandshakeTimeout: cfg.Call.HandshakeTimeout,
		AudioFormat:      cfg.Engine.AudioFormat,
	})

	placer := telephony.NewTwilioPlacer(
		cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber, log)

	gw := gateway.New(reg, placer, limiter, gateway.Config{
		PollInterval:   cfg.Call.PollInterval,
		DefaultTimeout: cfg.Call.CompletionTimeout,
		TwiMLURL:       cfg.TwiMLURL,
		StatusCallbackURL: func(callID string) string {
			return cfg.StatusCallbackURL() + "?call_id=" + callID
		},
	}, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, reg, gw, streamHandler, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: media-stream sockets and await-result
		// polls legitimately hold connections open for minutes.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr, "env", cfg.App.Env)
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
}
