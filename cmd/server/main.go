// Package main runs the chat service as a local HTTP server. Initialisation
// starts in the background so /health answers immediately.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aviov/largo-chat/engine/boot"
	"github.com/aviov/largo-chat/engine/router"
	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/metrics"
	"github.com/aviov/largo-chat/pkg/mid"
	"github.com/aviov/largo-chat/pkg/resilience"
)

// maxBodyBytes bounds request bodies; hex audio doubles the clip size.
const maxBodyBytes = 32 << 20

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger(true)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration problems, using defaults", "err", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	m := metrics.NewService(reg)
	initializer := boot.New(cfg, boot.Factories{}, m, logger)
	defer func() {
		if err := initializer.Close(); err != nil {
			logger.Warn("closing clients", "err", err)
		}
	}()
	rt := router.New(initializer, cfg, m, logger)

	ln, err := listen(ctx, cfg.Port, cfg.PortAttempts, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      newHandler(cfg, rt, reg, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("background initialization panicked", "panic", p)
			}
		}()
		logger.Info("initializing clients in background")
		initializer.Ensure(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// listen binds the first free port in [port, port+attempts).
func listen(ctx context.Context, port, attempts int, logger *slog.Logger) (net.Listener, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lc net.ListenConfig
	for i := 0; i < attempts; i++ {
		ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port+i))
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen on %d: %w", port+i, err)
		}
		logger.Warn("port in use, trying next", "port", port+i)
	}
	return nil, fmt.Errorf("no free port in %d-%d", port, port+attempts-1)
}

func newHandler(cfg config.Config, rt *router.Router, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		mid.OTel(cfg.ServiceName),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.ConcurrencyLimit(cfg.MaxConcurrent),
		mid.RateLimit(resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateLimitRPS, Burst: cfg.MaxConcurrent})),
	)

	r.Get(router.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		rt.Health().Send(w)
	})
	r.Method(http.MethodGet, "/metrics", reg.Handler())
	r.Post("/*", handleEvent(rt, logger))

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":"Not found"}`))
}

// handleEvent forwards a POST body to the router as an invocation event.
func handleEvent(rt *router.Router, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			logger.Warn("reading request body", "err", err)
			router.Response{StatusCode: http.StatusBadRequest, Body: `{"error":"Invalid request"}`}.Send(w)
			return
		}
		rt.Handle(r.Context(), router.Event{
			Path:       r.URL.Path,
			HTTPMethod: http.MethodPost,
			Body:       string(body),
		}).Send(w)
	}
}
