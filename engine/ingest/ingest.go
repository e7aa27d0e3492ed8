// Package ingest turns a stored PDF into searchable chunks: fetch, extract,
// split, embed in one batch, insert in one batch. Any failing stage stops
// the run; nothing is inserted unless every chunk was embedded.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aviov/largo-chat/engine/domain"
	"github.com/aviov/largo-chat/engine/embed"
	"github.com/aviov/largo-chat/engine/semantic"
	"github.com/aviov/largo-chat/pkg/fn"
	"github.com/aviov/largo-chat/pkg/metrics"
)

// Fetcher reads a whole object by key.
type Fetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Fetcher  Fetcher
	Embedder embed.Embedder
	Store    semantic.Store
	Splitter Splitter
	// Extract defaults to ExtractPDF.
	Extract func([]byte) (string, error)
	Metrics *metrics.Service
	Logger  *slog.Logger
}

// Result summarises a successful run.
type Result struct {
	Key    string `json:"key"`
	Chunks int    `json:"chunks"`
}

type document struct {
	key  string
	data []byte
}

type extracted struct {
	key  string
	text string
}

type chunked struct {
	key    string
	chunks []domain.Chunk
}

type embedded struct {
	chunked
	vectors [][]float32
}

// NewValidate rejects unusable object keys.
func NewValidate() fn.Stage[string, string] {
	return fn.LiftStage(func(_ context.Context, key string) (string, error) {
		return key, domain.ValidateObjectKey(key)
	})
}

// NewFetch reads the object bytes.
func NewFetch(f Fetcher) fn.Stage[string, document] {
	return fn.LiftStage(func(ctx context.Context, key string) (document, error) {
		data, err := f.Get(ctx, key)
		if err != nil {
			return document{}, fmt.Errorf("ingest: fetch: %w", err)
		}
		return document{key: key, data: data}, nil
	})
}

// NewExtract pulls the text out of the document.
func NewExtract(extract func([]byte) (string, error)) fn.Stage[document, extracted] {
	return fn.LiftStage(func(_ context.Context, doc document) (extracted, error) {
		text, err := extract(doc.data)
		if err != nil {
			return extracted{}, err
		}
		return extracted{key: doc.key, text: text}, nil
	})
}

// NewSplit chunks the text.
func NewSplit(s Splitter) fn.Stage[extracted, chunked] {
	return fn.LiftStage(func(_ context.Context, doc extracted) (chunked, error) {
		chunks, err := s.Split(doc.key, doc.text)
		if err != nil {
			return chunked{}, err
		}
		return chunked{key: doc.key, chunks: chunks}, nil
	})
}

// NewEmbed embeds every chunk in one batch call.
func NewEmbed(e embed.Embedder) fn.Stage[chunked, embedded] {
	return fn.LiftStage(func(ctx context.Context, doc chunked) (embedded, error) {
		texts := make([]string, len(doc.chunks))
		for i, c := range doc.chunks {
			texts[i] = c.Text
		}
		vecs, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return embedded{}, fmt.Errorf("ingest: embed: %w", err)
		}
		if len(vecs) != len(texts) {
			return embedded{}, fmt.Errorf("ingest: embed: got %d vectors for %d chunks", len(vecs), len(texts))
		}
		return embedded{chunked: doc, vectors: vecs}, nil
	})
}

// NewStore inserts all rows in one batch.
func NewStore(s semantic.Store) fn.Stage[embedded, Result] {
	return fn.LiftStage(func(ctx context.Context, doc embedded) (Result, error) {
		rows := make([]semantic.Row, len(doc.chunks))
		for i, c := range doc.chunks {
			rows[i] = semantic.Row{Chunk: c, Embedding: doc.vectors[i]}
		}
		if err := s.Insert(ctx, rows); err != nil {
			return Result{}, fmt.Errorf("ingest: store: %w", err)
		}
		return Result{Key: doc.key, Chunks: len(rows)}, nil
	})
}

// NewPipeline wires Validate → Fetch → Extract → Split → Embed → Store,
// each stage in its own span.
func NewPipeline(deps Deps) fn.Stage[string, Result] {
	extract := deps.Extract
	if extract == nil {
		extract = ExtractPDF
	}
	fetched := fn.Then(
		fn.TracedStage("ingest.validate", NewValidate()),
		fn.TracedStage("ingest.fetch", NewFetch(deps.Fetcher)),
	)
	text := fn.Then(fetched, fn.TracedStage("ingest.extract", NewExtract(extract)))
	chunks := fn.Then(text, fn.TracedStage("ingest.split", NewSplit(deps.Splitter)))
	vectors := fn.Then(chunks, fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder)))
	return fn.Then(vectors, fn.TracedStage("ingest.store", NewStore(deps.Store)))
}

// Service runs the pipeline with logging and metrics.
type Service struct {
	pipeline fn.Stage[string, Result]
	metrics  *metrics.Service
	log      *slog.Logger
}

// NewService builds the pipeline from deps.
func NewService(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{pipeline: NewPipeline(deps), metrics: deps.Metrics, log: log.With("component", "ingest")}
}

// Ingest processes the object at key.
func (s *Service) Ingest(ctx context.Context, key string) (Result, error) {
	start := time.Now()
	res, err := s.pipeline(ctx, key).Unwrap()
	if s.metrics != nil {
		s.metrics.ObservePipeline("ingest", start)
	}
	if err != nil {
		s.log.Error("ingest failed", "key", key, "err", err, "duration", time.Since(start))
		return Result{}, err
	}
	if s.metrics != nil {
		s.metrics.ChunksIngested(res.Chunks)
	}
	s.log.Info("ingest done", "key", key, "chunks", res.Chunks, "duration", time.Since(start))
	return res, nil
}
