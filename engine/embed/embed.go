// Package embed turns text into fixed-length vectors. Several providers are
// tried in preference order and the first that loads and produces vectors
// of the collection's dimension is used.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aviov/largo-chat/engine/domain"
)

// Embedder produces embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Candidate is a provider that may or may not be usable in this process.
type Candidate struct {
	Kind domain.EmbeddingKind
	Load func(ctx context.Context) (Embedder, error)
}

// Selection is the chosen provider. Embedder is nil when Kind is EmbeddingNone.
type Selection struct {
	Embedder Embedder
	Kind     domain.EmbeddingKind
}

const probeText = "dimension probe"

// Select loads candidates in order and returns the first whose probe
// embedding has length dim. Failures and panics are logged and the next
// candidate is tried; when none qualifies the selection is empty.
func Select(ctx context.Context, dim int, log *slog.Logger, candidates ...Candidate) Selection {
	if log == nil {
		log = slog.Default()
	}
	for _, c := range candidates {
		e, err := probe(ctx, c, dim)
		if err != nil {
			log.Warn("embedding provider unavailable", "component", "embedder", "kind", string(c.Kind), "err", err)
			continue
		}
		log.Info("embedding provider ready", "component", "embedder", "kind", string(c.Kind), "dim", dim)
		return Selection{Embedder: e, Kind: c.Kind}
	}
	log.Warn("no embedding provider available", "component", "embedder")
	return Selection{Kind: domain.EmbeddingNone}
}

func probe(ctx context.Context, c Candidate, dim int) (e Embedder, err error) {
	defer func() {
		if p := recover(); p != nil {
			e, err = nil, fmt.Errorf("embed: %s: panic: %v", c.Kind, p)
		}
	}()
	if c.Load == nil {
		return nil, fmt.Errorf("embed: %s: not configured", c.Kind)
	}
	e, err = c.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("embed: %s: load: %w", c.Kind, err)
	}
	vec, err := e.Embed(ctx, probeText)
	if err != nil {
		return nil, fmt.Errorf("embed: %s: probe: %w", c.Kind, err)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("embed: %s: %w: produces %d, collection needs %d", c.Kind, domain.ErrDimensionMismatch, len(vec), dim)
	}
	return e, nil
}
