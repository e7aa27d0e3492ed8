package speech

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// synthesisAPI is the part of *texttospeech.Client used here.
type synthesisAPI interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
}

// Synthesizer renders text as MP3 audio with a fixed voice.
type Synthesizer struct {
	client   synthesisAPI
	closer   func() error
	language string
	voice    string
	log      *slog.Logger
}

// NewSynthesizer connects to the Google text-to-speech API. An empty
// credsFile uses application default credentials.
func NewSynthesizer(ctx context.Context, credsFile, language, voice string, log *slog.Logger) (*Synthesizer, error) {
	var opts []option.ClientOption
	if credsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credsFile))
	}
	c, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech: text-to-speech client: %w", err)
	}
	s := newSynthesizer(c, language, voice, log)
	s.closer = c.Close
	return s, nil
}

func newSynthesizer(client synthesisAPI, language, voice string, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{client: client, language: language, voice: voice, log: log.With("component", "text_to_speech")}
}

// Synthesize returns hex-encoded MP3 audio for text. ok is false on any failure.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (audioHex string, ok bool) {
	audio, err := s.synthesize(ctx, text)
	if err != nil {
		s.log.Error("text-to-speech failed", "err", err)
		return "", false
	}
	return hex.EncodeToString(audio), true
}

func (s *Synthesizer) synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("speech: synthesize: empty text")
	}
	resp, err := s.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: s.language,
			Name:         s.voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, errors.New("speech: synthesize: empty audio")
	}
	return resp.GetAudioContent(), nil
}

// Close releases the client connection.
func (s *Synthesizer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
