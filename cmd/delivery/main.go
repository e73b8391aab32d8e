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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/chat-delivery/internal/api"
	"github.com/LeventeLantos/chat-delivery/internal/cache"
	"github.com/LeventeLantos/chat-delivery/internal/client"
	"github.com/LeventeLantos/chat-delivery/internal/config"
	"github.com/LeventeLantos/chat-delivery/internal/database"
	"github.com/LeventeLantos/chat-delivery/internal/logger"
	"github.com/LeventeLantos/chat-delivery/internal/media"
	"github.com/LeventeLantos/chat-delivery/internal/repo"
	"github.com/LeventeLantos/chat-delivery/internal/scheduler"
	"github.com/LeventeLantos/chat-delivery/internal/service"
	"github.com/LeventeLantos/chat-delivery/internal/session"
	"github.com/LeventeLantos/chat-delivery/internal/transport/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("chat-delivery stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	messages := repo.NewPostgresMessageRepo(pool)
	sessions := repo.NewPostgresSessionRepo(pool)

	dedup, closeCache, err := newDedupCache(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeCache()

	events := service.NewSlogSink(log)

	sender := service.NewSender(messages, events, service.SenderConfig{
		MaxAttempts:    cfg.Send.MaxAttempts,
		BaseBackoff:    cfg.Send.BaseBackoff,
		MaxBackoff:     cfg.Send.MaxBackoff,
		SyncMultiplier: cfg.Send.SyncMultiplier,
		AttemptTimeout: cfg.Send.AttemptTimeout,
		CountryCode:    cfg.Send.CountryCode,
		AddressSuffix:  cfg.Send.AddressSuffix,
	}).WithCache(dedup)

	decider := client.NewDecisionClient(cfg.Decision.URL, cfg.Decision.Token, cfg.Decision.Timeout)
	dispatcher := service.NewDispatcher(decider, sender, events, cfg.Decision.Timeout)

	materializer := media.NewHTTPMaterializer(cfg.Media.UploadURL, cfg.Media.Token, cfg.Media.Timeout)
	processor := service.NewProcessor(messages, materializer, dispatcher, events, service.ProcessorConfig{
		CountryCode:  cfg.Send.CountryCode,
		MediaTimeout: cfg.Media.Timeout,
	}).WithCache(dedup)

	dialer := &ws.Dialer{
		URL:              cfg.Transport.URL,
		Token:            cfg.Transport.Token,
		HandshakeTimeout: 10 * time.Second,
		Logger:           log,
	}
	supervisor := session.NewSupervisor(session.NewRegistry(), sessions, messages, processor, dialFunc(dialer), log).
		WithCountryCode(cfg.Send.CountryCode)

	reconnect, err := scheduler.New(cfg.Reconnect.Interval, supervisor.Reconcile,
		scheduler.WithName("reconnect"),
		scheduler.WithLogger(log),
	)
	if err != nil {
		return err
	}

	handler := api.NewHandler(reconnect, supervisor, supervisor.Registry(), messages, sender, log)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(log)(api.Router(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("chat-delivery starting",
		"addr", cfg.Server.Address,
		"reconnect_interval", cfg.Reconnect.Interval.String(),
		"max_attempts", cfg.Send.MaxAttempts,
		"redis", cfg.Redis.Enabled,
		"media_upload", cfg.Media.UploadURL != "",
	)

	resumed, err := supervisor.Resume(ctx)
	if err != nil {
		log.Warn("session resume failed", "error", err)
	} else {
		log.Info("sessions resumed", "count", resumed)
	}
	reconnect.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		reconnect.Stop()
		err := srv.Shutdown(shutdownCtx)
		supervisor.Shutdown(shutdownCtx)
		dispatcher.Wait()
		return err
	})

	return g.Wait()
}

// dialFunc adapts the websocket dialer to the supervisor's connection type.
func dialFunc(d *ws.Dialer) session.DialFunc {
	return func(ctx context.Context, sessionID string) (session.Conn, error) {
		conn, err := d.Dial(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func newDedupCache(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (cache.DedupCache, func(), error) {
	if !cfg.Enabled {
		log.Info("redis not configured, dedup cache disabled")
		return cache.NoopCache{}, func() {}, nil
	}

	rdb, err := database.NewRedis(ctx, database.RedisOptions{
		Address:  cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisCache(rdb, cfg.TTL), func() { _ = rdb.Close() }, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start).String(),
			)
		})
	}
}
