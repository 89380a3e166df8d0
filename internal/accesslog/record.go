// Package accesslog persists one record per logged request event.
//
// DESIGN: Request handlers never write to storage. They enqueue small
// self-contained items; the single AccessLogWorker drains the queue, folds
// stream chunks back into complete responses, and is the only writer to the
// store. A slow or failing store therefore never stalls a proxied call.
package accesslog

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Directions of a Record.
const (
	DirectionRequest  = "request"
	DirectionResponse = "response"
	DirectionError    = "error"
)

// Record is one persisted access log row. Rows are append-only and never
// updated after insert.
type Record struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
	Direction string    `json:"direction"`

	StatusCode int `json:"status_code"`

	// Content is the extracted human-readable text: last user message for
	// requests, assistant text for responses.
	Content      string `json:"content"`
	FunctionCall string `json:"function_call,omitempty"`
	ToolCalls    string `json:"tool_calls,omitempty"`

	// RawBody and RawHeaders keep the full payloads for audit. Sensitive
	// request headers are masked before they get here.
	RawBody    string `json:"raw_body"`
	RawHeaders string `json:"raw_headers"`

	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`

	// RequestTime is the client-observed duration in seconds;
	// RequestTimeUpstream covers only the upstream call.
	RequestTime         float64 `json:"request_time"`
	RequestTimeUpstream float64 `json:"request_time_upstream"`

	// Extra is a JSON object for adapter-specific fields outside the fixed
	// schema.
	Extra string `json:"extra,omitempty"`
}

// sensitiveHeaders are masked on the request side before storage.
var sensitiveHeaders = []string{"authorization", "x-api-key", "api-key"}

// MaskHeaders returns a copy of header with credential values reduced to a
// short prefix and suffix. Values too short to mask safely are replaced
// entirely.
func MaskHeaders(header http.Header) http.Header {
	masked := header.Clone()
	for _, name := range sensitiveHeaders {
		values := masked.Values(name)
		for i, v := range values {
			values[i] = maskValue(v)
		}
	}
	return masked
}

func maskValue(v string) string {
	if len(v) <= 16 {
		return "*****"
	}
	return v[:12] + "*****" + v[len(v)-2:]
}

// HeadersJSON serializes headers as a flat JSON object, joining repeated
// values with ", ".
func HeadersJSON(header http.Header) string {
	if header == nil {
		return ""
	}
	flat := make(map[string]string, len(header))
	for name, values := range header {
		flat[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return ""
	}
	return string(data)
}
