package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"

	"github.com/quorumdao/gatehouse/adapters/events"
	"github.com/quorumdao/gatehouse/adapters/store"
	"github.com/quorumdao/gatehouse/adapters/tokenizer"
	"github.com/quorumdao/gatehouse/config"
	"github.com/quorumdao/gatehouse/service"
	transport "github.com/quorumdao/gatehouse/transport/http"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting gatehouse", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// Postgres: credentials and profiles.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	pg, err := store.NewPostgresStore(dbCtx, cfg.DB.DatabaseURL)
	dbCancel()
	if err != nil {
		log.Error("postgres connect failed", "err", err)
		os.Exit(1)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(rootCtx); err != nil {
		log.Error("schema setup failed", "err", err)
		os.Exit(1)
	}

	// Redis: consumed-nonce tracking and the event stream.
	redisOpts, err := redis.ParseURL(cfg.Redis.RedisURL)
	if err != nil {
		log.Error("invalid redis url", "err", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(rootCtx).Err(); err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		log.Error("event publisher setup failed", "err", err)
		os.Exit(1)
	}

	authService := service.NewAuthService(
		service.Config{
			Domain:     cfg.Auth.Domain,
			ChainID:    cfg.Auth.ChainID,
			SessionTTL: cfg.Auth.SessionTTL,
			NonceTTL:   cfg.Auth.NonceTTL,
		},
		tokenizer.NewJWTTokenizer([]byte(cfg.Auth.SigningSecret)),
		pg,
		pg,
		store.NewRedisNonceStore(redisClient),
		events.NewWatermillPublisher(publisher),
		log,
	)

	sweeper := service.NewSweeper(pg, cfg.Sweep.Interval, log)
	go sweeper.Run(rootCtx)

	router := transport.SetupRouter(authService)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			log.Error("http serve failed", "err", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "err", err)
	}

	log.Info("gatehouse stopped")
}

// setupLogger configures slog per environment.
func setupLogger(env string) *slog.Logger {
	switch env {
	case "prod":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case "dev":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
