// Package domain defines the document and retrieval types shared by the
// engine packages, the sentinel errors callers match on, and the input
// checks applied at the request boundary.
package domain

// Chunk is one segment of an ingested document.
type Chunk struct {
	Text string
	// Index is the chunk's position within its document, starting at 0.
	Index int
	// Source is the object key the document was read from.
	Source string
}

// Match is a chunk returned by similarity search. Lower Distance is closer.
type Match struct {
	Text     string
	Distance float32
}

// EmbeddingKind names the embedder tier in use.
type EmbeddingKind string

const (
	EmbeddingLocalBGE EmbeddingKind = "bge-m3 (local)"
	EmbeddingOllama   EmbeddingKind = "ollama (local)"
	EmbeddingOpenAI   EmbeddingKind = "openai (fallback)"
	EmbeddingNone     EmbeddingKind = "none"
)
