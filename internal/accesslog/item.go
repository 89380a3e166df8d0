package accesslog

import (
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aiproxyhq/aiproxy/internal/queue"
)

// Item kind tags. They double as the envelope type tags on serializing
// queue backends.
const (
	KindRequest     = "request"
	KindResponse    = "response"
	KindStreamChunk = "stream_chunk"
	KindError       = "error"
	KindShutdown    = "shutdown"
)

// ItemBase carries the fields every item shares. Items are self-contained:
// the worker never needs the originating session, so they survive a trip
// through a cross-process queue.
type ItemBase struct {
	// ItemID is a ULID: monotonic per producer, so per-request ordering
	// survives serializing backends.
	ItemID    string    `json:"item_id"`
	RequestID string    `json:"request_id"`
	Service   string    `json:"service"`
	CreatedAt time.Time `json:"created_at"`
}

func newItemBase(requestID, service string) ItemBase {
	return ItemBase{
		ItemID:    ulid.Make().String(),
		RequestID: requestID,
		Service:   service,
		CreatedAt: time.Now().UTC(),
	}
}

// RequestItem records an inbound request.
type RequestItem struct {
	ItemBase
	Model  string      `json:"model"`
	Stream bool        `json:"stream"`
	Body   string      `json:"body"`
	Header http.Header `json:"header"`

	// Raw marks a passthrough request: the body is logged but not
	// content-parsed, and Model holds the resource path.
	Raw bool `json:"raw,omitempty"`
}

// Kind returns the item type tag.
func (i *RequestItem) Kind() string { return KindRequest }

// NewRequestItem creates a request item with masked headers.
func NewRequestItem(requestID, service, model string, stream bool, body []byte, header http.Header) *RequestItem {
	return &RequestItem{
		ItemBase: newItemBase(requestID, service),
		Model:    model,
		Stream:   stream,
		Body:     string(body),
		Header:   MaskHeaders(header),
	}
}

// ResponseItem records a terminal buffered response.
type ResponseItem struct {
	ItemBase
	Model      string      `json:"model"`
	StatusCode int         `json:"status_code"`
	Body       string      `json:"body"`
	Header     http.Header `json:"header"`

	// Durations in seconds: client-observed and upstream-only.
	Duration         float64 `json:"duration"`
	DurationUpstream float64 `json:"duration_upstream"`

	Raw bool `json:"raw,omitempty"`
}

// Kind returns the item type tag.
func (i *ResponseItem) Kind() string { return KindResponse }

// NewResponseItem creates a response item.
func NewResponseItem(requestID, service, model string, statusCode int, body []byte, header http.Header, duration, durationUpstream float64) *ResponseItem {
	return &ResponseItem{
		ItemBase:         newItemBase(requestID, service),
		Model:            model,
		StatusCode:       statusCode,
		Body:             string(body),
		Header:           header.Clone(),
		Duration:         duration,
		DurationUpstream: durationUpstream,
	}
}

// StreamChunkItem carries either one stream chunk payload (non-terminal) or
// the stream-end marker with aggregate metadata (terminal). The terminal
// item for providers that enqueue a single item per stream carries the full
// raw stream text in Content.
type StreamChunkItem struct {
	ItemBase
	Content  string `json:"content"`
	Terminal bool   `json:"terminal"`

	// Terminal-only metadata.
	Model            string      `json:"model,omitempty"`
	RequestBody      string      `json:"request_body,omitempty"`
	Header           http.Header `json:"header,omitempty"`
	StatusCode       int         `json:"status_code,omitempty"`
	Duration         float64     `json:"duration,omitempty"`
	DurationUpstream float64     `json:"duration_upstream,omitempty"`
}

// Kind returns the item type tag.
func (i *StreamChunkItem) Kind() string { return KindStreamChunk }

// NewStreamChunkItem creates a non-terminal chunk item.
func NewStreamChunkItem(requestID, service, content string) *StreamChunkItem {
	return &StreamChunkItem{
		ItemBase: newItemBase(requestID, service),
		Content:  content,
	}
}

// NewTerminalStreamChunkItem creates the terminal item closing a stream.
func NewTerminalStreamChunkItem(requestID, service, model, content string, requestBody []byte, header http.Header, statusCode int, duration, durationUpstream float64) *StreamChunkItem {
	return &StreamChunkItem{
		ItemBase:         newItemBase(requestID, service),
		Content:          content,
		Terminal:         true,
		Model:            model,
		RequestBody:      string(requestBody),
		Header:           header.Clone(),
		StatusCode:       statusCode,
		Duration:         duration,
		DurationUpstream: durationUpstream,
	}
}

// ErrorItem records a failed request.
type ErrorItem struct {
	ItemBase
	Message    string      `json:"message"`
	ErrorType  string      `json:"error_type"`
	StatusCode int         `json:"status_code"`
	Body       string      `json:"body,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Duration   float64     `json:"duration"`
}

// Kind returns the item type tag.
func (i *ErrorItem) Kind() string { return KindError }

// NewErrorItem creates an error item.
func NewErrorItem(requestID, service, errorType, message string, statusCode int, body []byte, header http.Header, duration float64) *ErrorItem {
	return &ErrorItem{
		ItemBase:   newItemBase(requestID, service),
		Message:    message,
		ErrorType:  errorType,
		StatusCode: statusCode,
		Body:       string(body),
		Header:     header.Clone(),
		Duration:   duration,
	}
}

// ShutdownItem tells the worker to stop after the current drain.
type ShutdownItem struct {
	ItemBase
}

// Kind returns the item type tag.
func (i *ShutdownItem) Kind() string { return KindShutdown }

// NewShutdownItem creates a shutdown marker.
func NewShutdownItem() *ShutdownItem {
	return &ShutdownItem{ItemBase: newItemBase("", "")}
}

// RegisterItems registers every item kind with a queue codec so serializing
// backends can round-trip them.
func RegisterItems(codec *queue.Codec) {
	codec.Register(KindRequest, queue.JSONDecoder[RequestItem]())
	codec.Register(KindResponse, queue.JSONDecoder[ResponseItem]())
	codec.Register(KindStreamChunk, queue.JSONDecoder[StreamChunkItem]())
	codec.Register(KindError, queue.JSONDecoder[ErrorItem]())
	codec.Register(KindShutdown, queue.JSONDecoder[ShutdownItem]())
}
