// Package semantic stores document chunks with their embeddings and
// answers nearest-neighbour queries. Milvus is the primary backend; Qdrant
// is an alternative behind the same Store interface.
package semantic

import (
	"context"
	"errors"
	"fmt"

	"github.com/aviov/largo-chat/engine/domain"
)

// Collection schema field names.
const (
	FieldID         = "id"
	FieldEmbedding  = "embeddings"
	FieldText       = "text"
	FieldDocKey     = "doc_key"
	FieldChunkIndex = "chunk_index"
)

const (
	maxTextLength   = 65535
	maxDocKeyLength = 1024
)

// ErrSchemaMismatch means an existing collection lacks a field the store
// writes, or declares it with an incompatible type or length.
var ErrSchemaMismatch = errors.New("collection schema mismatch")

// Row is a chunk paired with its embedding, ready for insertion.
type Row struct {
	Chunk     domain.Chunk
	Embedding []float32
}

// Store is a collection of document chunks searchable by embedding.
type Store interface {
	// Insert writes all rows in one batch.
	Insert(ctx context.Context, rows []Row) error
	// Search returns up to topK chunks closest to vec by Euclidean distance.
	Search(ctx context.Context, vec []float32, topK int) ([]domain.Match, error)
	// Dimension is the collection's vector length.
	Dimension() int
	Close() error
}

// Options describe the collection a store is bound to.
type Options struct {
	Collection  string
	Dimension   int
	Description string
	// HNSW graph parameters.
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultOptions returns the schema used for document chunks.
func DefaultOptions(collection string, dim int) Options {
	return Options{
		Collection:     collection,
		Dimension:      dim,
		Description:    "Chatbot documents",
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
	}
}

// checkRows rejects a batch if any embedding has the wrong length, so a bad
// batch inserts nothing.
func checkRows(rows []Row, dim int) error {
	for i, r := range rows {
		if len(r.Embedding) != dim {
			return fmt.Errorf("semantic: row %d: %w: got %d, collection has %d",
				i, domain.ErrDimensionMismatch, len(r.Embedding), dim)
		}
	}
	return nil
}

func checkQuery(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("semantic: query: %w: got %d, collection has %d", domain.ErrDimensionMismatch, len(vec), dim)
	}
	return nil
}
