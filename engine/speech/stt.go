// Package speech adapts the transcription and synthesis providers. Both
// adapters log failures and report them as an absent result.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/aviov/largo-chat/engine/domain"
)

// transcriptionAPI is the part of *openai.Client used here.
type transcriptionAPI interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber turns audio into text with Whisper.
type Transcriber struct {
	client   transcriptionAPI
	language string
	dir      string
	log      *slog.Logger
}

// NewTranscriber transcribes in language, staging audio files under dir.
func NewTranscriber(client *openai.Client, language, dir string, log *slog.Logger) *Transcriber {
	return newTranscriber(client, language, dir, log)
}

func newTranscriber(client transcriptionAPI, language, dir string, log *slog.Logger) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &Transcriber{client: client, language: language, dir: dir, log: log.With("component", "speech_to_text")}
}

// Transcribe decodes hex audio and returns its transcript. ok is false on
// any failure.
func (t *Transcriber) Transcribe(ctx context.Context, audioHex string) (text string, ok bool) {
	text, err := t.transcribe(ctx, audioHex)
	if err != nil {
		t.log.Error("speech-to-text failed", "err", err)
		return "", false
	}
	return text, true
}

func (t *Transcriber) transcribe(ctx context.Context, audioHex string) (string, error) {
	audio, err := domain.DecodeAudio(audioHex)
	if err != nil {
		return "", err
	}

	// The provider infers the format from the file extension.
	ext := mimetype.Detect(audio).Extension()
	if ext == "" {
		ext = ".wav"
	}
	path := filepath.Join(t.dir, "audio-"+uuid.NewString()+ext)
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return "", fmt.Errorf("speech: stage audio: %w", err)
	}
	defer os.Remove(path)

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	if resp.Text == "" {
		return "", fmt.Errorf("speech: transcribe: empty transcript")
	}
	return resp.Text, nil
}
