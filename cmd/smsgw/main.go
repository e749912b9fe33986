package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jdc-telecom/smsgw/internal/api"
	"github.com/jdc-telecom/smsgw/internal/bulk"
	"github.com/jdc-telecom/smsgw/internal/cache"
	"github.com/jdc-telecom/smsgw/internal/client"
	"github.com/jdc-telecom/smsgw/internal/config"
	"github.com/jdc-telecom/smsgw/internal/pubsub"
	"github.com/jdc-telecom/smsgw/internal/repo"
	"github.com/jdc-telecom/smsgw/internal/scheduler"
	"github.com/jdc-telecom/smsgw/internal/service"
	"github.com/jdc-telecom/smsgw/internal/token"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(log)

	log.Info("smsgw starting",
		slog.String("addr", cfg.Server.Address),
		slog.String("provider", cfg.Provider.BaseURL),
		slog.String("sched_interval", cfg.Scheduler.Interval.String()),
		slog.Bool("redis", cfg.Redis.Enabled),
	)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Error("failed to ping postgres", slog.Any("err", err))
		os.Exit(1)
	}
	cancel()

	messages := repo.NewPostgresMessageRepo(db)
	smsClient := client.NewSMSClient(cfg.Provider.BaseURL)

	sender := service.NewSender(smsClient, cfg.Provider.ContentMax, log).WithHooks(
		messages.MarkSent,
		messages.MarkFailed,
	)

	registry := bulk.NewRegistry(cfg.Bulk.Retention, nil)
	bus := pubsub.New()
	engine := bulk.NewEngine(registry, smsClient, bus, log)

	var tokens api.TokenService = disabledTokens{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		tokens = token.New(cache.NewRedisTokenStore(rdb, cfg.Redis.TokenTTL), smsClient, log)
	}

	sched, err := scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) {
		due, err := messages.ClaimDue(ctx, time.Now().UTC(), cfg.Scheduler.BatchSize)
		if err != nil {
			log.Error("failed to claim due messages", slog.Any("err", err))
		} else if len(due) > 0 {
			sent, failed := sender.ProcessDue(ctx, due)
			log.Info("scheduled batch processed", slog.Int("sent", sent), slog.Int("failed", failed))
		}
		engine.Sweep()
	})
	if err != nil {
		log.Error("failed to create scheduler", slog.Any("err", err))
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	handler := api.NewHandler(api.HandlerConfig{
		Engine:       engine,
		Bus:          bus,
		Scheduler:    sched,
		Repo:         messages,
		Tokens:       tokens,
		Sender:       smsClient,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.Bulk.RatePerSec), cfg.Bulk.RatePerSec),
		DefaultDelay: cfg.Bulk.DefaultDelay,
		Log:          log,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", slog.Any("err", err))
	}
}

// disabledTokens stands in when Redis is not configured.
type disabledTokens struct{}

func (disabledTokens) Send(context.Context, string) error {
	return errors.New("token service disabled: REDIS_ADDR not configured")
}

func (disabledTokens) Verify(context.Context, string, string) (bool, error) {
	return false, errors.New("token service disabled: REDIS_ADDR not configured")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so the SSE endpoint keeps working behind the
// middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
