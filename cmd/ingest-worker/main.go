// Command ingest-worker consumes ingest requests from NATS and runs them
// through the same pipeline as the HTTP endpoint, reporting each outcome on
// <subject>.done or <subject>.dlq.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aviov/largo-chat/engine/boot"
	"github.com/aviov/largo-chat/engine/ingest"
	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/metrics"
)

func main() {
	var (
		metricsAddr = flag.String("metrics", ":9091", "address serving /metrics; empty disables")
		attempts    = flag.Int("attempts", ingest.DefaultRetry.MaxAttempts, "ingest attempts per request")
	)
	flag.Parse()

	cfg := config.Load()
	logger := cfg.NewLogger(true)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration problems, using defaults", "err", err)
	}

	if err := run(cfg, *metricsAddr, *attempts, logger); err != nil {
		logger.Error("ingest worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, metricsAddr string, attempts int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NATSURL == "" {
		return errors.New("NATS_URL is not set")
	}

	reg := metrics.New()
	m := metrics.NewService(reg)
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	initializer := boot.New(cfg, boot.Factories{}, m, logger)
	defer initializer.Close()
	clients, readiness := initializer.Ensure(ctx)
	svc, err := newService(cfg, clients, m, logger)
	if err != nil {
		return fmt.Errorf("ingest pipeline unavailable (initialized=%v): %w", readiness.Initialized, err)
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ServiceName+"-ingest-worker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	retry := ingest.DefaultRetry
	retry.MaxAttempts = attempts
	consumer := ingest.NewConsumer(svc, nc, cfg.IngestSubject, retry, logger)
	if _, err := consumer.Start(nc); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.IngestSubject, err)
	}
	logger.Info("ingest worker running",
		"subject", cfg.IngestSubject,
		"done", consumer.DoneSubject(),
		"dlq", consumer.DLQSubject(),
		"embedding_type", string(clients.EmbeddingKind))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// newService builds the pipeline, failing when a required client is missing.
func newService(cfg config.Config, c boot.Clients, m *metrics.Service, logger *slog.Logger) (*ingest.Service, error) {
	var missing []error
	if c.Objects == nil {
		missing = append(missing, errors.New("object store"))
	}
	if c.Embedder == nil {
		missing = append(missing, errors.New("embedder"))
	}
	if c.Store == nil {
		missing = append(missing, errors.New("vector store"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("missing clients: %w", err)
	}
	return ingest.NewService(ingest.Deps{
		Fetcher:  c.Objects,
		Embedder: c.Embedder,
		Store:    c.Store,
		Splitter: ingest.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Metrics:  m,
		Logger:   logger,
	}), nil
}
