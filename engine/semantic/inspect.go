package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/fn"
)

// CollectionInfo describes the configured collection as found on the server.
type CollectionInfo struct {
	Backend    string
	Collection string
	Exists     bool
	// Dimension is zero when the collection does not exist.
	Dimension int
	// Schema is set when an existing collection cannot hold the rows the
	// store writes.
	Schema string
}

// InspectMilvus reports on name without creating or loading anything.
func InspectMilvus(ctx context.Context, c MilvusClient, name string) (CollectionInfo, error) {
	info := CollectionInfo{Backend: config.BackendMilvus, Collection: name}
	exists, err := c.HasCollection(ctx, name)
	if err != nil {
		return info, fmt.Errorf("semantic: has collection %s: %w", name, err)
	}
	if !exists {
		return info, nil
	}
	coll, err := c.DescribeCollection(ctx, name)
	if err != nil {
		return info, fmt.Errorf("semantic: describe %s: %w", name, err)
	}
	dim, err := schemaDim(coll.Schema)
	if err != nil {
		return info, fmt.Errorf("semantic: describe %s: %w", name, err)
	}
	info.Exists, info.Dimension = true, dim
	if err := checkSchema(coll.Schema); err != nil {
		info.Schema = err.Error()
	}
	return info, nil
}

// Inspect connects to the configured backend with retry and reports on the
// collection. It is read-only.
func Inspect(ctx context.Context, cfg config.Config, retry fn.RetryOpts, log *slog.Logger) (CollectionInfo, error) {
	if log == nil {
		log = slog.Default()
	}
	attempts := retry.MaxAttempts
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("vector store check failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "wait", wait, "err", err)
	}

	switch cfg.VectorBackend {
	case config.BackendQdrant:
		return fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[CollectionInfo] {
			q, err := DialQdrant(cfg.QdrantURL, DefaultOptions(cfg.Collection, cfg.VectorDim))
			if err != nil {
				return fn.Err[CollectionInfo](err)
			}
			defer q.Close()
			size, exists, err := q.lookup(ctx)
			return fn.FromPair(CollectionInfo{
				Backend:    config.BackendQdrant,
				Collection: cfg.Collection,
				Exists:     exists,
				Dimension:  size,
			}, err)
		}).Unwrap()
	case config.BackendMilvus, "":
		return inspectMilvus(ctx, DialMilvus(cfg.MilvusAddr(), cfg.MilvusUser, cfg.MilvusPassword), cfg.Collection, retry)
	default:
		return CollectionInfo{}, fmt.Errorf("semantic: unknown backend %q", cfg.VectorBackend)
	}
}

func inspectMilvus(ctx context.Context, dial MilvusDialer, name string, retry fn.RetryOpts) (CollectionInfo, error) {
	return fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[CollectionInfo] {
		c, err := dial(ctx)
		if err != nil {
			return fn.Err[CollectionInfo](err)
		}
		defer c.Close()
		return fn.FromPair(InspectMilvus(ctx, c, name))
	}).Unwrap()
}
