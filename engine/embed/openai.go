package embed

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// embeddingsAPI is the part of *openai.Client used here.
type embeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAI embeds through the hosted embeddings endpoint.
type OpenAI struct {
	client embeddingsAPI
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAI requests dim-length vectors from model. dim <= 0 leaves the
// model's native size.
func NewOpenAI(client *openai.Client, model string, dim int) *OpenAI {
	return &OpenAI{client: client, model: openai.EmbeddingModel(model), dim: dim}
}

// Embed returns the embedding of text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{Input: texts, Model: o.model}
	if o.dim > 0 {
		req.Dimensions = o.dim
	}
	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embed: openai: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: openai: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embed: openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
