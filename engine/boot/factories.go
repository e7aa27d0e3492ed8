package boot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/aviov/largo-chat/engine/domain"
	"github.com/aviov/largo-chat/engine/embed"
	"github.com/aviov/largo-chat/engine/ingest"
	"github.com/aviov/largo-chat/engine/llm"
	"github.com/aviov/largo-chat/engine/semantic"
	"github.com/aviov/largo-chat/engine/speech"
	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/objstore"
	"github.com/aviov/largo-chat/pkg/ollama"
	"github.com/aviov/largo-chat/pkg/resilience"
)

// ErrNoAPIKey means no OpenAI key was resolved.
var ErrNoAPIKey = errors.New("boot: no OpenAI API key")

// Factory constructs one client.
type Factory[T any] func(ctx context.Context, cfg config.Config, creds config.Credentials, log *slog.Logger) (T, error)

// AWS holds the clients built from the shared AWS configuration.
type AWS struct {
	Secrets config.SecretFetcher
	Objects ingest.Fetcher
}

// Factories are the constructors used by the sequence. Nil fields take
// the production constructor.
type Factories struct {
	AWS   Factory[AWS]
	LLM   Factory[llm.Generator]
	STT   Factory[Transcriber]
	TTS   Factory[Synthesizer]
	Store Factory[semantic.Store]
	// Embedders lists the embedding candidates in preference order for a
	// collection of dimension dim.
	Embedders func(cfg config.Config, creds config.Credentials, dim int, llmReady bool) []embed.Candidate
}

func (f Factories) withDefaults() Factories {
	if f.AWS == nil {
		f.AWS = NewAWS
	}
	if f.LLM == nil {
		f.LLM = NewLLM
	}
	if f.STT == nil {
		f.STT = NewSTT
	}
	if f.TTS == nil {
		f.TTS = NewTTS
	}
	if f.Store == nil {
		f.Store = NewStore
	}
	if f.Embedders == nil {
		f.Embedders = EmbeddingCandidates
	}
	return f
}

// NewAWS loads S3 and Secrets Manager clients.
func NewAWS(ctx context.Context, cfg config.Config, _ config.Credentials, _ *slog.Logger) (AWS, error) {
	c, err := objstore.LoadClients(ctx, cfg.AWSRegion)
	if err != nil {
		return AWS{}, err
	}
	return AWS{Secrets: c.Secrets, Objects: objstore.NewBucket(c.S3, cfg.BucketName)}, nil
}

// NewLLM builds the chat model client behind a circuit breaker.
func NewLLM(_ context.Context, cfg config.Config, creds config.Credentials, _ *slog.Logger) (llm.Generator, error) {
	c, err := llm.NewOpenAI(creds.OpenAIKey, cfg.ChatModel, cfg.MaxTokens, resilience.NewBreaker(resilience.DefaultBreakerOpts))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewSTT builds the Whisper transcriber.
func NewSTT(_ context.Context, cfg config.Config, creds config.Credentials, log *slog.Logger) (Transcriber, error) {
	if creds.OpenAIKey == "" {
		return nil, ErrNoAPIKey
	}
	return speech.NewTranscriber(openai.NewClient(creds.OpenAIKey), cfg.STTLanguage, cfg.AudioScratchDir, log), nil
}

// NewTTS builds the Google synthesizer. Without a credentials file the
// client falls back to application default credentials.
func NewTTS(ctx context.Context, cfg config.Config, creds config.Credentials, log *slog.Logger) (Synthesizer, error) {
	if creds.GoogleFile == "" {
		log.Warn("no google credentials file, trying application default credentials")
	}
	s, err := speech.NewSynthesizer(ctx, creds.GoogleFile, cfg.TTSLanguage, cfg.TTSVoice, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewStore bootstraps the configured vector store.
func NewStore(ctx context.Context, cfg config.Config, _ config.Credentials, log *slog.Logger) (semantic.Store, error) {
	return semantic.Open(ctx, cfg, log)
}

// EmbeddingCandidates returns the local bge-m3 model, then a local Ollama
// server, then the OpenAI API when the language model came up. Candidates
// that are not configured are left out.
func EmbeddingCandidates(cfg config.Config, creds config.Credentials, dim int, llmReady bool) []embed.Candidate {
	var out []embed.Candidate
	if cfg.BGEOnnxPath != "" {
		paths := embed.BGEPaths{
			Onnx:      cfg.BGEOnnxPath,
			Tokenizer: cfg.BGETokenizerPath,
			Runtime:   cfg.BGERuntimePath,
			Memory:    cfg.BGEMemoryPath,
		}
		out = append(out, embed.Candidate{Kind: domain.EmbeddingLocalBGE, Load: func(context.Context) (embed.Embedder, error) {
			return embed.NewBGE(paths)
		}})
	}
	if cfg.OllamaURL != "" {
		out = append(out, embed.Candidate{Kind: domain.EmbeddingOllama, Load: func(context.Context) (embed.Embedder, error) {
			return ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel), nil
		}})
	}
	if llmReady && creds.OpenAIKey != "" {
		out = append(out, embed.Candidate{Kind: domain.EmbeddingOpenAI, Load: func(context.Context) (embed.Embedder, error) {
			return embed.NewOpenAI(openai.NewClient(creds.OpenAIKey), cfg.EmbedModel, dim), nil
		}})
	}
	return out
}
