// Command album-proxy serves the album export API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/album-export/internal/config"
	"github.com/Sternrassler/album-export/internal/server"
	"github.com/Sternrassler/album-export/pkg/logging"
	"github.com/Sternrassler/album-export/pkg/ratelimit"
	"github.com/Sternrassler/album-export/pkg/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log)
	logger := logging.NewLogger("album-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	store, ready, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	limiter := ratelimit.NewLimiter(store, cfg.Policies(), logging.NewLogger("ratelimit"))
	defer func() {
		if err := limiter.Destroy(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release rate limit store")
		}
	}()

	upstreamClient, err := upstream.New(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}

	srv := server.New(server.Options{
		Upstream:       upstreamClient,
		Limiter:        limiter,
		Pagination:     cfg.Pagination,
		AllowedOrigins: cfg.AllowedOrigins,
		Ready:          ready,
		Logger:         logging.NewLogger("http"),
	})

	logger.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Int("info_limit", cfg.InfoLimit.Limit).
		Int("download_limit", cfg.DownloadLimit.Limit).
		Dur("window", cfg.InfoLimit.Window).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Configuration loaded")

	return srv.ListenAndServe(ctx, ":"+cfg.Port, cfg.ShutdownTimeout)
}

// newStore picks the Redis store when REDIS_URL is set and the in-memory
// store otherwise. The readiness check pings Redis and is nil for the
// in-memory store; closeFn releases the Redis connection.
func newStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store ratelimit.Store, ready func(context.Context) error, closeFn func(), err error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, nil, err
	}
	if opts == nil {
		logger.Info().Dur("sweep_interval", cfg.SweepInterval).Msg("Using in-memory rate limit store")
		return ratelimit.NewMemoryStore(cfg.SweepInterval), nil, func() {}, nil
	}

	redisClient := redis.NewClient(opts)
	redisStore := ratelimit.NewRedisStore(redisClient)
	if err := redisStore.Ping(ctx); err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("Using Redis rate limit store")
	return redisStore, redisStore.Ping, func() { _ = redisClient.Close() }, nil
}
