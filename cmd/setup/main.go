// Command setup creates the document collection and its index, or with
// -check only verifies that the vector store is reachable and reports on
// the collection.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/aviov/largo-chat/engine/semantic"
	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/fn"
)

const (
	checkAttempts = 3
	checkDelay    = 5 * time.Second
)

func main() {
	check := flag.Bool("check", false, "only test connectivity and report on the collection")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Load()
	logger := cfg.NewLogger(false)
	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration problems, using defaults", "err", err)
	}

	var err error
	if *check {
		err = runCheck(ctx, cfg, fn.FixedRetry(checkAttempts, checkDelay), os.Stdout, logger)
	} else {
		err = runSetup(ctx, cfg, os.Stdout, logger)
	}
	if err != nil {
		logger.Error("setup failed", "err", err)
		os.Exit(1)
	}
}

func runCheck(ctx context.Context, cfg config.Config, retry fn.RetryOpts, out io.Writer, logger *slog.Logger) error {
	info, err := semantic.Inspect(ctx, cfg, retry, logger)
	if err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}
	fmt.Fprintln(out, describe(info, cfg.VectorDim))
	return nil
}

func runSetup(ctx context.Context, cfg config.Config, out io.Writer, logger *slog.Logger) error {
	store, err := semantic.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Fprintf(out, "collection %q ready on %s (dim %d)\n", cfg.Collection, backend(cfg), store.Dimension())
	if store.Dimension() != cfg.VectorDim {
		fmt.Fprintf(out, "warning: VECTOR_DIM is %d but the existing collection has %d\n", cfg.VectorDim, store.Dimension())
	}
	return nil
}

func describe(info semantic.CollectionInfo, want int) string {
	if !info.Exists {
		return fmt.Sprintf("%s reachable; collection %q does not exist (run setup without -check to create it)", info.Backend, info.Collection)
	}
	s := fmt.Sprintf("%s reachable; collection %q exists (dim %d)", info.Backend, info.Collection, info.Dimension)
	if info.Dimension != want {
		s += fmt.Sprintf("; VECTOR_DIM is %d", want)
	}
	if info.Schema != "" {
		s += "; incompatible: " + info.Schema
	}
	return s
}

func backend(cfg config.Config) string {
	if cfg.VectorBackend == config.BackendQdrant {
		return "qdrant " + cfg.QdrantURL
	}
	return "milvus " + cfg.MilvusAddr()
}
