package router

import (
	"encoding/json"
	"net/http"
)

// Fixed response messages.
const (
	MsgContentProcessed = "Content processed"
	MsgIngestFailed     = "Failed to process content"
	MsgSTTFailed        = "Speech-to-text failed"
	MsgTTSFailed        = "Text-to-speech failed"
	MsgNotInitialized   = "Service not fully initialized"
	MsgSearchDetails    = "Vector search capabilities unavailable"
	MsgInvalidRequest   = "Invalid request"
	MsgInternal         = "Internal error"
	queryErrorPrefix    = "Query processing error: "
)

// Response is a status code with a JSON body.
type Response struct {
	StatusCode int
	Body       string
}

type messageBody struct {
	Message string `json:"message"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type textBody struct {
	Text  string `json:"text"`
	Audio string `json:"audio,omitempty"`
	Error string `json:"error,omitempty"`
}

func jsonResponse(status int, v any) Response {
	b, err := json.Marshal(v)
	if err != nil {
		return Response{StatusCode: http.StatusInternalServerError, Body: `{"error":"Internal error"}`}
	}
	return Response{StatusCode: status, Body: string(b)}
}

func errorResponse(status int, msg string) Response {
	return jsonResponse(status, errorBody{Error: msg})
}

// Send writes r to an HTTP response.
func (r Response) Send(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write([]byte(r.Body))
}
