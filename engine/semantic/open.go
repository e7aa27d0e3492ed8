package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/fn"
)

// Open bootstraps the backend selected by cfg.VectorBackend with the
// configured retry bound and fixed delay.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := DefaultOptions(cfg.Collection, cfg.VectorDim)
	retry := fn.FixedRetry(cfg.BootstrapAttempts, cfg.BootstrapDelay)

	switch cfg.VectorBackend {
	case config.BackendQdrant:
		return bootstrapQdrant(ctx, cfg.QdrantURL, opts, retry, log)
	case config.BackendMilvus, "":
		dial := DialMilvus(cfg.MilvusAddr(), cfg.MilvusUser, cfg.MilvusPassword)
		log.Info("connecting to milvus", "addr", cfg.MilvusAddr(), "collection", opts.Collection)
		m, err := BootstrapMilvus(ctx, dial, opts, retry, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("semantic: unknown backend %q", cfg.VectorBackend)
	}
}

func bootstrapQdrant(ctx context.Context, addr string, opts Options, retry fn.RetryOpts, log *slog.Logger) (Store, error) {
	attempts := retry.MaxAttempts
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("qdrant bootstrap failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "wait", wait, "err", err)
	}
	return fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[Store] {
		q, err := DialQdrant(addr, opts)
		if err != nil {
			return fn.Err[Store](err)
		}
		created, err := q.Ensure(ctx)
		if err != nil {
			q.Close()
			return fn.Err[Store](err)
		}
		log.Info("qdrant collection ready", "collection", opts.Collection, "dim", q.Dimension(), "created", created)
		return fn.Ok[Store](q)
	}).Unwrap()
}
