package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aviov/largo-chat/engine/domain"
)

// HealthPath answers GET with the readiness record.
const HealthPath = "/health"

// Event is an inbound invocation: the API Gateway proxy shape reduced to
// what the router reads.
type Event struct {
	Path       string `json:"path"`
	HTTPMethod string `json:"httpMethod"`
	Body       string `json:"body"`
}

// Request is one of IngestRequest, TranscribeRequest, QueryRequest or
// HealthRequest.
type Request interface {
	route() string
}

// IngestRequest asks for an object to be ingested.
type IngestRequest struct {
	Key string
}

// TranscribeRequest carries hex-encoded audio.
type TranscribeRequest struct {
	Audio string
}

// QueryRequest asks a question, optionally with a spoken answer.
type QueryRequest struct {
	Query    string
	ToSpeech bool
}

// HealthRequest asks for the readiness record.
type HealthRequest struct{}

func (IngestRequest) route() string     { return "ingest" }
func (TranscribeRequest) route() string { return "transcribe" }
func (QueryRequest) route() string      { return "query" }
func (HealthRequest) route() string     { return "health" }

// Decode turns an event into a typed request. Body keys are checked in the
// order s3_upload, audio, query; the first present key wins. Malformed
// JSON, an unrecognised body, or a recognised key holding a value of the
// wrong type yields domain.ErrInvalidRequest.
func Decode(ev Event) (Request, error) {
	if ev.Path == HealthPath && strings.EqualFold(ev.HTTPMethod, http.MethodGet) {
		return HealthRequest{}, nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(ev.Body), &body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", domain.ErrInvalidRequest, err)
	}

	if raw, ok := body["s3_upload"]; ok {
		key, err := decodeString("s3_upload", raw)
		if err != nil {
			return nil, err
		}
		return IngestRequest{Key: key}, nil
	}
	if raw, ok := body["audio"]; ok {
		audio, err := decodeString("audio", raw)
		if err != nil {
			return nil, err
		}
		return TranscribeRequest{Audio: audio}, nil
	}
	if raw, ok := body["query"]; ok {
		q, err := decodeString("query", raw)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateQuery(q); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
		}
		req := QueryRequest{Query: q}
		if raw, ok := body["to_speech"]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, &req.ToSpeech); err != nil {
				return nil, domain.NewValidationError("to_speech", string(raw), domain.ErrInvalidRequest)
			}
		}
		return req, nil
	}
	return nil, domain.ErrInvalidRequest
}

func decodeString(field string, raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) {
		return "", domain.NewValidationError(field, "null", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", domain.NewValidationError(field, string(raw), domain.ErrInvalidRequest)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
