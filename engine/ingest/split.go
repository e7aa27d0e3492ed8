package ingest

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/aviov/largo-chat/engine/domain"
)

// Splitter cuts text into overlapping chunks.
type Splitter struct {
	rc textsplitter.RecursiveCharacter
}

// NewSplitter returns a recursive character splitter with the given chunk
// size and overlap, both in characters.
func NewSplitter(size, overlap int) Splitter {
	return Splitter{rc: textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)}
}

// Split returns the chunks of text sourced from key, indexed from 0.
func (s Splitter) Split(key, text string) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ingest: split: %w", domain.ErrEmptyDocument)
	}
	parts, err := s.rc.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("ingest: split: %w", err)
	}
	chunks := make([]domain.Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{Text: p, Index: len(chunks), Source: key})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingest: split: %w", domain.ErrEmptyDocument)
	}
	return chunks, nil
}
