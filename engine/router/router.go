// Package router maps invocation events to the ingest, transcribe, query
// and health operations and shapes their responses.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aviov/largo-chat/engine/boot"
	"github.com/aviov/largo-chat/engine/ingest"
	"github.com/aviov/largo-chat/engine/rag"
	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/metrics"
)

// Initializer is the part of boot.Initializer the router uses.
type Initializer interface {
	Ensure(ctx context.Context) (boot.Clients, boot.Readiness)
	Snapshot() (boot.Clients, boot.Readiness)
}

// Router dispatches events against the current client set.
type Router struct {
	init     Initializer
	cfg      config.Config
	splitter ingest.Splitter
	metrics  *metrics.Service
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Router.
func New(in Initializer, cfg config.Config, m *metrics.Service, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		init:     in,
		cfg:      cfg,
		splitter: ingest.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		metrics:  m,
		log:      log.With("component", "router"),
		now:      time.Now,
	}
}

// Handle initialises the client set if needed and serves ev. It never
// panics: a panic while dispatching becomes a 500 with a generic body.
func (rt *Router) Handle(ctx context.Context, ev Event) (resp Response) {
	route := "invalid"
	defer func() {
		if p := recover(); p != nil {
			rt.log.Error("panic handling request", "panic", p, "path", ev.Path)
			resp = errorResponse(http.StatusInternalServerError, MsgInternal)
		}
		if rt.metrics != nil {
			rt.metrics.Request(route, resp.StatusCode)
		}
	}()

	clients, readiness := rt.init.Ensure(ctx)

	req, err := Decode(ev)
	if err != nil {
		rt.log.Warn("invalid request", "path", ev.Path, "err", err)
		return errorResponse(http.StatusBadRequest, MsgInvalidRequest)
	}
	route = req.route()

	switch r := req.(type) {
	case HealthRequest:
		return rt.health(readiness)
	case IngestRequest:
		return rt.ingest(ctx, clients, r)
	case TranscribeRequest:
		return rt.transcribe(ctx, clients, r)
	case QueryRequest:
		return rt.query(ctx, clients, r)
	}
	return errorResponse(http.StatusBadRequest, MsgInvalidRequest)
}

// Health answers from the current snapshot without initialising.
func (rt *Router) Health() Response {
	_, readiness := rt.init.Snapshot()
	if rt.metrics != nil {
		rt.metrics.Request("health", http.StatusOK)
	}
	return rt.health(readiness)
}

// HealthBody is the health check document.
type HealthBody struct {
	Service       string            `json:"service"`
	Status        string            `json:"status"`
	Timestamp     float64           `json:"timestamp"`
	Initialized   bool              `json:"initialized"`
	Components    map[string]any    `json:"components"`
	CollectionDim int               `json:"collection_dim"`
	Errors        map[string]string `json:"errors,omitempty"`
	Version       string            `json:"version"`
}

func (rt *Router) health(r boot.Readiness) Response {
	components := map[string]any{}
	for _, name := range []string{boot.ComponentStore, boot.ComponentLLM, boot.ComponentSTT, boot.ComponentTTS, boot.ComponentObjects, boot.ComponentEmbeddings} {
		components[name] = r.Ready(name)
	}
	components["embedding_type"] = string(r.EmbeddingType)

	var errs map[string]string
	for name, st := range r.Components {
		if st.Error == "" {
			continue
		}
		if errs == nil {
			errs = map[string]string{}
		}
		errs[name] = st.Error
	}

	now := rt.now()
	return jsonResponse(http.StatusOK, HealthBody{
		Service:       rt.cfg.ServiceName,
		Status:        "healthy",
		Timestamp:     float64(now.UnixNano()) / float64(time.Second),
		Initialized:   r.Initialized,
		Components:    components,
		CollectionDim: r.CollectionDim,
		Errors:        errs,
		Version:       rt.cfg.ServiceVersion,
	})
}

func (rt *Router) ingest(ctx context.Context, c boot.Clients, r IngestRequest) Response {
	if c.Objects == nil || c.Embedder == nil || c.Store == nil {
		rt.log.Error("ingest unavailable", "key", r.Key,
			"objects", c.Objects != nil, "embedder", c.Embedder != nil, "store", c.Store != nil)
		return errorResponse(http.StatusInternalServerError, MsgIngestFailed)
	}
	svc := ingest.NewService(ingest.Deps{
		Fetcher:  c.Objects,
		Embedder: c.Embedder,
		Store:    c.Store,
		Splitter: rt.splitter,
		Metrics:  rt.metrics,
		Logger:   rt.log,
	})
	if _, err := svc.Ingest(ctx, r.Key); err != nil {
		return errorResponse(http.StatusInternalServerError, MsgIngestFailed)
	}
	return jsonResponse(http.StatusOK, messageBody{Message: MsgContentProcessed})
}

func (rt *Router) transcribe(ctx context.Context, c boot.Clients, r TranscribeRequest) Response {
	if c.STT == nil {
		rt.log.Error("speech-to-text unavailable")
		return errorResponse(http.StatusInternalServerError, MsgSTTFailed)
	}
	text, ok := c.STT.Transcribe(ctx, r.Audio)
	if !ok || text == "" {
		return errorResponse(http.StatusInternalServerError, MsgSTTFailed)
	}
	return jsonResponse(http.StatusOK, textBody{Text: text})
}

func (rt *Router) query(ctx context.Context, c boot.Clients, r QueryRequest) Response {
	svc := rag.New(rag.Deps{
		Embedder: c.Embedder,
		Store:    c.Store,
		LLM:      c.LLM,
		Metrics:  rt.metrics,
		Logger:   rt.log,
	}, rag.Options{TopK: rt.cfg.TopK, SearchTimeout: rag.DefaultOptions().SearchTimeout})
	if !svc.Ready() {
		return jsonResponse(http.StatusServiceUnavailable, errorBody{Error: MsgNotInitialized, Details: MsgSearchDetails})
	}

	ans, err := svc.Query(ctx, r.Query)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, queryErrorPrefix+err.Error())
	}

	if !r.ToSpeech {
		return jsonResponse(http.StatusOK, textBody{Text: ans.Text})
	}
	if c.TTS != nil {
		if audio, ok := c.TTS.Synthesize(ctx, ans.Text); ok {
			return jsonResponse(http.StatusOK, textBody{Text: ans.Text, Audio: audio})
		}
	} else {
		rt.log.Warn("text-to-speech unavailable")
	}
	return jsonResponse(http.StatusOK, textBody{Text: ans.Text, Error: MsgTTSFailed})
}
