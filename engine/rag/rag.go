// Package rag answers a question from stored document chunks: embed the
// question, fetch the nearest chunks, and ask the language model to answer
// from that context only.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aviov/largo-chat/engine/domain"
	"github.com/aviov/largo-chat/engine/embed"
	"github.com/aviov/largo-chat/engine/llm"
	"github.com/aviov/largo-chat/engine/semantic"
	"github.com/aviov/largo-chat/pkg/fn"
	"github.com/aviov/largo-chat/pkg/metrics"
)

// Options configures retrieval.
type Options struct {
	TopK          int
	SearchTimeout time.Duration
}

// DefaultOptions returns five neighbours and a five second search budget.
func DefaultOptions() Options {
	return Options{TopK: 5, SearchTimeout: 5 * time.Second}
}

// Answer is the model's reply with the chunks it was given.
type Answer struct {
	Text    string         `json:"text"`
	Sources []domain.Match `json:"-"`
}

// Deps are the clients a query needs. Embedder and Store may be nil when
// initialisation did not produce them; Query then fails with
// domain.ErrUnavailable.
type Deps struct {
	Embedder embed.Embedder
	Store    semantic.Store
	LLM      llm.Generator
	Metrics  *metrics.Service
	Logger   *slog.Logger
}

// Service runs queries.
type Service struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates a Service.
func New(deps Deps, opts Options) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	return &Service{deps: deps, opts: opts, log: log.With("component", "rag")}
}

// Ready reports whether retrieval can run.
func (s *Service) Ready() bool {
	return s.deps.Embedder != nil && s.deps.Store != nil
}

type retrieval struct {
	question string
	vector   []float32
	matches  []domain.Match
}

// BuildPrompt concatenates the chunk texts, without separators, into the
// fixed answer template.
func BuildPrompt(question string, matches []domain.Match) string {
	var ctxText strings.Builder
	for _, m := range matches {
		ctxText.WriteString(m.Text)
	}
	return fmt.Sprintf("Based only on this context:\n%s\nGenerate a 50-word pitch if asked to present capabilities, else answer: %s",
		ctxText.String(), question)
}

func (s *Service) embedStage() fn.Stage[string, retrieval] {
	return fn.LiftStage(func(ctx context.Context, q string) (retrieval, error) {
		vec, err := s.deps.Embedder.Embed(ctx, q)
		if err != nil {
			return retrieval{}, fmt.Errorf("rag: embed query: %w", err)
		}
		return retrieval{question: q, vector: vec}, nil
	})
}

func (s *Service) searchStage() fn.Stage[retrieval, retrieval] {
	return fn.LiftStage(func(ctx context.Context, r retrieval) (retrieval, error) {
		if s.opts.SearchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
			defer cancel()
		}
		matches, err := s.deps.Store.Search(ctx, r.vector, s.opts.TopK)
		if err != nil {
			return retrieval{}, fmt.Errorf("rag: search: %w", err)
		}
		r.matches = matches
		return r, nil
	})
}

func (s *Service) generateStage() fn.Stage[retrieval, *Answer] {
	return fn.LiftStage(func(ctx context.Context, r retrieval) (*Answer, error) {
		text, err := s.deps.LLM.Generate(ctx, BuildPrompt(r.question, r.matches))
		if err != nil {
			return nil, fmt.Errorf("rag: %w", err)
		}
		return &Answer{Text: text, Sources: r.matches}, nil
	})
}

// Query answers question from the stored chunks.
func (s *Service) Query(ctx context.Context, question string) (*Answer, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("rag: %w: vector search", domain.ErrUnavailable)
	}
	if s.deps.LLM == nil {
		return nil, fmt.Errorf("rag: %w: language model", domain.ErrUnavailable)
	}
	if err := domain.ValidateQuery(question); err != nil {
		return nil, err
	}

	start := time.Now()
	s.log.Info("rag query start", "question_len", len(question))

	pipeline := fn.Then(
		fn.Then(
			fn.TracedStage("rag.embed", s.embedStage()),
			fn.TracedStage("rag.search", s.searchStage()),
		),
		fn.TracedStage("rag.generate", s.generateStage()),
	)
	ans, err := pipeline(ctx, question).Unwrap()
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObservePipeline("query", start)
	}
	if err != nil {
		s.log.Error("rag query failed", "err", err, "duration", time.Since(start))
		return nil, err
	}
	s.log.Info("rag query done", "sources", len(ans.Sources), "duration", time.Since(start))
	return ans, nil
}
