package embed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	bge_m3 "github.com/Dsouza10082/go-bge-m3-embed"
)

// BGEPaths locate the bge-m3 ONNX model and its runtime.
type BGEPaths struct {
	Onnx      string
	Tokenizer string
	Runtime   string
	Memory    string
}

// BGE embeds in-process with the bge-m3 ONNX model (1024 dimensions).
type BGE struct {
	mu    sync.Mutex
	model *bge_m3.GolangBGE3M3Embedder
}

// NewBGE configures the model. The ONNX session is created lazily by the
// library on first use, so callers should probe before relying on it.
func NewBGE(p BGEPaths) (*BGE, error) {
	if p.Onnx == "" || p.Tokenizer == "" {
		return nil, errors.New("embed: bge-m3: model paths not set")
	}
	for _, path := range []string{p.Onnx, p.Tokenizer} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("embed: bge-m3: %w", err)
		}
	}

	m := bge_m3.NewGolangBGE3M3Embedder().
		SetMemoryPath(p.Memory).
		SetTokPath(p.Tokenizer).
		SetOnnxPath(p.Onnx).
		SetRuntimePath(p.Runtime)
	m.EmbeddingModel.SetOnnxModelPath(p.Onnx)
	return &BGE{model: m}, nil
}

// Embed runs the model on text. The ONNX session is not shared across
// goroutines.
func (b *BGE) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	vec, err := b.model.Embed(text)
	if err != nil {
		return nil, fmt.Errorf("embed: bge-m3: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts one at a time.
func (b *BGE) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := b.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed: bge-m3: batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
