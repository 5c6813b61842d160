package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/ledger"
	"authgate.org/internal/notify"
	"authgate.org/internal/obs"
	"authgate.org/internal/rate"
	"authgate.org/internal/resilience"
	"authgate.org/internal/token"
	"authgate.org/internal/user"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}

	log := obs.NewLogger(cfg.LogLevel, "authgate", cfg.Env)
	slog.SetDefault(log)
	audit.SetLogger(log)

	obs.Init()
	obs.InitBuildInfo(version)

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Error("open db", slog.Any("error", err))
		os.Exit(1)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// A store that cannot be reached within the bounded startup sequence is
	// a fatal configuration problem, not something to retry forever.
	pgManager := resilience.New("postgres", resilience.DBPinger{DB: db}, log,
		resilience.WithAttempts(cfg.ConnectAttempts),
		resilience.WithBackoff(cfg.ConnectBackoff),
		resilience.WithProbeInterval(cfg.ProbeInterval),
		resilience.WithStateHook(obs.SetStoreUp),
	)
	redisManager := resilience.New("redis", resilience.RedisPinger{Client: rdb}, log,
		resilience.WithAttempts(cfg.ConnectAttempts),
		resilience.WithBackoff(cfg.ConnectBackoff),
		resilience.WithProbeInterval(cfg.ProbeInterval),
		resilience.WithStateHook(obs.SetStoreUp),
	)

	startCtx, cancelStart := context.WithCancel(context.Background())
	if err := pgManager.Start(startCtx); err != nil {
		log.Error("postgres unavailable", slog.Any("error", err))
		cancelStart()
		os.Exit(1)
	}
	if err := redisManager.Start(startCtx); err != nil {
		log.Error("redis unavailable", slog.Any("error", err))
		cancelStart()
		os.Exit(1)
	}
	defer cancelStart()

	issuer, err := newIssuer(cfg)
	if err != nil {
		log.Error("token issuer", slog.Any("error", err))
		os.Exit(1)
	}

	repo := user.NewPGRepository(db, pgManager)
	led := ledger.New(rdb, ledger.WithRunner(redisManager))

	var notifier notify.Sender
	if cfg.SMTPHost != "" {
		notifier = &notify.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		}
	} else {
		notifier = &notify.LogSender{Log: log}
	}

	svc := auth.NewService(repo, issuer, led,
		auth.WithNotifier(notifier),
		auth.WithMetrics(obs.AuthMetrics{}),
		auth.WithLogger(log),
	)

	api := httpapi.New(httpapi.Config{
		Auth:    svc,
		Log:     log,
		Version: version,
		Stores: []httpapi.StoreProbe{
			{Name: "postgres", Healthy: pgManager.Healthy},
			{Name: "redis", Healthy: redisManager.Healthy},
		},
		LoginLimiter:    rate.NewRedisLimiter(rdb, cfg.LoginLimit, cfg.RateWindow, "authgate:rl:login:"),
		RegisterLimiter: rate.NewRedisLimiter(rdb, cfg.RegisterLimit, cfg.RateWindow, "authgate:rl:register:"),
		ResetLimiter:    rate.NewRedisLimiter(rdb, cfg.ResetLimit, cfg.RateWindow, "authgate:rl:reset:"),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting authgate", slog.String("version", version), slog.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	pgManager.Stop()
	redisManager.Stop()
	_ = db.Close()
	_ = rdb.Close()
	log.Info("stopped")
}

func newIssuer(cfg *config.Config) (*token.Issuer, error) {
	return token.NewIssuer(cfg.TokenSecret,
		token.WithIssuerName(cfg.TokenIssuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
		token.WithResetTTL(cfg.ResetTTL),
	)
}
