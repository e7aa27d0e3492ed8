// Package boot builds the process-wide client set. Each client is
// constructed independently; a failure or panic leaves that client nil, is
// recorded in the readiness record, and never stops the rest of the sequence.
package boot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aviov/largo-chat/engine/domain"
	"github.com/aviov/largo-chat/engine/embed"
	"github.com/aviov/largo-chat/engine/ingest"
	"github.com/aviov/largo-chat/engine/llm"
	"github.com/aviov/largo-chat/engine/semantic"
	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/metrics"
)

// Component names used in the readiness record and the health body.
const (
	ComponentObjects    = "object_store"
	ComponentLLM        = "openai"
	ComponentSTT        = "speech_to_text"
	ComponentTTS        = "google_tts"
	ComponentStore      = "vector_store"
	ComponentEmbeddings = "embeddings"
)

// Transcriber turns hex-encoded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioHex string) (string, bool)
}

// Synthesizer turns text into hex-encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, bool)
	Close() error
}

// Clients is an immutable snapshot of the constructed clients. Any field
// may be nil.
type Clients struct {
	Objects       ingest.Fetcher
	LLM           llm.Generator
	STT           Transcriber
	TTS           Synthesizer
	Store         semantic.Store
	Embedder      embed.Embedder
	EmbeddingKind domain.EmbeddingKind
}

// ComponentStatus is one entry of the readiness record.
type ComponentStatus struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Readiness lists which subsystems came up.
type Readiness struct {
	Initialized   bool                       `json:"initialized"`
	Components    map[string]ComponentStatus `json:"components"`
	EmbeddingType domain.EmbeddingKind       `json:"embedding_type"`
	CollectionDim int                        `json:"collection_dim"`
}

// Ready reports whether the named component is up.
func (r Readiness) Ready(name string) bool {
	return r.Components[name].Ready
}

type state struct {
	clients   Clients
	readiness Readiness
}

// Initializer runs the construction sequence at most once at a time and
// publishes the result for lock-free reads.
type Initializer struct {
	cfg       config.Config
	factories Factories
	metrics   *metrics.Service
	log       *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[state]
	// retired holds clients of runs that did not complete. Earlier callers
	// may still hold them, so they are closed only by Close.
	retired []Clients
}

// New creates an Initializer. Nothing is constructed until Ensure.
func New(cfg config.Config, f Factories, m *metrics.Service, log *slog.Logger) *Initializer {
	if log == nil {
		log = slog.Default()
	}
	in := &Initializer{cfg: cfg, factories: f, metrics: m, log: log.With("component", "boot")}
	in.current.Store(&state{readiness: Readiness{
		Components:    map[string]ComponentStatus{},
		EmbeddingType: domain.EmbeddingNone,
		CollectionDim: cfg.VectorDim,
	}})
	return in
}

// Snapshot returns the current clients and readiness without blocking.
func (in *Initializer) Snapshot() (Clients, Readiness) {
	s := in.current.Load()
	return s.clients, s.readiness
}

// Initialized reports whether the sequence has completed.
func (in *Initializer) Initialized() bool {
	return in.current.Load().readiness.Initialized
}

// Ensure runs the sequence if it has not completed yet. Concurrent callers
// wait for the run in progress and share its result.
func (in *Initializer) Ensure(ctx context.Context) (Clients, Readiness) {
	if s := in.current.Load(); s.readiness.Initialized {
		return s.clients, s.readiness
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if s := in.current.Load(); s.readiness.Initialized {
		return s.clients, s.readiness
	}

	prev := in.current.Load()
	s := in.run(ctx)
	in.current.Store(s)
	if prev.clients.Store != nil || prev.clients.TTS != nil {
		in.retired = append(in.retired, prev.clients)
	}
	return s.clients, s.readiness
}

func (in *Initializer) run(ctx context.Context) *state {
	start := time.Now()
	f := in.factories.withDefaults()
	cfg := in.cfg
	log := in.log

	var c Clients
	r := Readiness{
		Components:    map[string]ComponentStatus{},
		EmbeddingType: domain.EmbeddingNone,
		CollectionDim: cfg.VectorDim,
	}
	record := func(name string, err error) {
		st := ComponentStatus{Ready: err == nil}
		if err != nil {
			st.Error = err.Error()
			log.Warn("component unavailable", "name", name, "err", err)
		} else {
			log.Info("component ready", "name", name)
		}
		r.Components[name] = st
		if in.metrics != nil {
			in.metrics.Component(name, err == nil)
		}
	}

	aws, err := safely(ComponentObjects, func() (AWS, error) {
		return f.AWS(ctx, cfg, config.Credentials{}, log)
	})
	if err != nil {
		record(ComponentObjects, err)
	} else {
		c.Objects = aws.Objects
		record(ComponentObjects, nil)
	}

	creds, err := safely("credentials", func() (config.Credentials, error) {
		return config.ResolveCredentials(ctx, cfg, aws.Secrets)
	})
	if err != nil {
		log.Warn("credential resolution incomplete", "err", err)
	}
	if creds.GoogleJSON != nil {
		if err := config.WriteCredentialsFile(cfg.GoogleCredentialsPath, creds.GoogleJSON); err != nil {
			log.Warn("google credentials not written", "err", err)
		} else {
			creds.GoogleFile = cfg.GoogleCredentialsPath
		}
	}

	// The language model goes first; the API embedder depends on it.
	if c.LLM, err = safely(ComponentLLM, func() (llm.Generator, error) {
		return f.LLM(ctx, cfg, creds, log)
	}); err != nil {
		c.LLM = nil
	}
	record(ComponentLLM, err)

	if c.STT, err = safely(ComponentSTT, func() (Transcriber, error) {
		return f.STT(ctx, cfg, creds, log)
	}); err != nil {
		c.STT = nil
	}
	record(ComponentSTT, err)

	if c.TTS, err = safely(ComponentTTS, func() (Synthesizer, error) {
		return f.TTS(ctx, cfg, creds, log)
	}); err != nil {
		c.TTS = nil
	}
	record(ComponentTTS, err)

	if c.Store, err = safely(ComponentStore, func() (semantic.Store, error) {
		return f.Store(ctx, cfg, creds, log)
	}); err != nil {
		c.Store = nil
	} else {
		r.CollectionDim = c.Store.Dimension()
	}
	record(ComponentStore, err)

	sel, err := safely(ComponentEmbeddings, func() (embed.Selection, error) {
		cands := f.Embedders(cfg, creds, r.CollectionDim, c.LLM != nil)
		return embed.Select(ctx, r.CollectionDim, log, cands...), nil
	})
	if err == nil && sel.Embedder == nil {
		err = errors.New("no embedding provider available")
	}
	if err != nil {
		sel = embed.Selection{Kind: domain.EmbeddingNone}
	}
	c.Embedder, c.EmbeddingKind = sel.Embedder, sel.Kind
	r.EmbeddingType = sel.Kind
	record(ComponentEmbeddings, err)

	// A cancelled run is retried by the next caller.
	r.Initialized = ctx.Err() == nil
	log.Info("initialization finished",
		"initialized", r.Initialized,
		"embedding_type", string(r.EmbeddingType),
		"collection_dim", r.CollectionDim,
		"duration", time.Since(start))
	return &state{clients: c, readiness: r}
}

// Close releases the clients that hold connections, including those of
// runs that did not complete.
func (in *Initializer) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	errs := []error{closeClients(in.current.Load().clients)}
	for _, c := range in.retired {
		errs = append(errs, closeClients(c))
	}
	in.retired = nil
	return errors.Join(errs...)
}

func closeClients(c Clients) error {
	var errs []error
	if c.Store != nil {
		_, err := safely(ComponentStore, func() (struct{}, error) { return struct{}{}, c.Store.Close() })
		errs = append(errs, err)
	}
	if c.TTS != nil {
		_, err := safely(ComponentTTS, func() (struct{}, error) { return struct{}{}, c.TTS.Close() })
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// safely runs step and reports a panic as an error.
func safely[T any](name string, step func() (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero T
			v, err = zero, fmt.Errorf("boot: %s: panic: %v", name, p)
		}
	}()
	return step()
}
