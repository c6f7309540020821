// Package server exposes the album export HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/album-export/pkg/metrics"
	"github.com/Sternrassler/album-export/pkg/pagination"
	"github.com/Sternrassler/album-export/pkg/ratelimit"
	"github.com/Sternrassler/album-export/pkg/upstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Upstream is the subset of *upstream.Client the handlers use.
type Upstream interface {
	FetchPage(ctx context.Context, albumID, token, lastRank string) (*upstream.PostPage, error)
	FetchAlbumInfo(ctx context.Context, albumID, token string) (*upstream.AlbumInfo, error)
}

// Options configures a Server.
type Options struct {
	Upstream       Upstream
	Limiter        *ratelimit.Limiter
	Pagination     pagination.Config
	AllowedOrigins []string

	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	Logger zerolog.Logger
}

// Server serves the API.
type Server struct {
	opts    Options
	logger  zerolog.Logger
	handler http.Handler
	now     func() time.Time
}

// New builds the server and its routes.
func New(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/download", s.handleDownload)

	s.handler = chain(mux,
		hlog.NewHandler(opts.Logger),
		requestID,
		accessLog(),
		recoverer,
		securityHeaders,
		cors(opts.AllowedOrigins),
	)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting album export server")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
