// Package adapters provides provider-specific request handling.
//
// DESIGN: The proxy fronts multiple LLM providers (OpenAI, Azure OpenAI,
// Anthropic, Gemini, Bedrock). Each has a different URL scheme, credential
// mechanism, response shape and stream framing. Adapters abstract those
// differences behind one interface so the pipeline and the access log worker
// never branch on provider.
//
// FLOW:
//  1. Gateway resolves the adapter from the registry by service name
//  2. Pipeline calls ParseRequest to learn stream mode and model
//  3. Pipeline calls ChatRequest to build the signed upstream request
//  4. Worker calls RequestFields / ResponseFields / StreamFields to turn
//     bodies and chunk sequences into loggable fields
//
// Field extraction is best-effort: a body the adapter cannot parse yields
// zero-valued fields, never an error on the serving path. StreamFields is
// pure (no I/O beyond the tokenizer's embedded tables).
//
// To add a new provider: implement Adapter and register it in the Registry.
package adapters

import (
	"context"
	"net/http"
)

// RequestTraits is what the pipeline learns from inbound request inspection.
type RequestTraits struct {
	// Stream reports whether the client asked for a chunked event-stream
	// response (body flag for OpenAI/Anthropic, URL shape for Gemini and
	// Bedrock).
	Stream bool

	// Model is the upstream model identifier, from the body or the URL.
	Model string

	// ResourcePath is the provider-side path the chat call targets. Only
	// adapters that route on the inbound URL (Gemini, Bedrock) set it.
	ResourcePath string
}

// ChatFields are the loggable fields extracted from a request body, a
// buffered response body, or a reassembled chunk sequence.
type ChatFields struct {
	// Content is the human-readable text: the last user message on the
	// request side, the assistant text on the response side.
	Content string

	// FunctionCall and ToolCalls hold serialized structured-call payloads.
	// Empty string means absent.
	FunctionCall string
	ToolCalls    string

	Model            string
	PromptTokens     int
	CompletionTokens int

	// IsError marks a stream that terminated with a provider error marker
	// (e.g. Bedrock's x-amzn-errortype) so the record lands as an error.
	IsError bool
}

// Adapter defines the unified interface for provider-specific handling.
// Adapters are stateless after construction and safe for concurrent use.
type Adapter interface {
	// Name returns the service identifier used in routes and log records
	// (e.g. "openai", "bedrock").
	Name() string

	// ChatResourcePath returns the local path suffix of the chat endpoint,
	// mounted under /{name}.
	ChatResourcePath() string

	// ChatPath reports whether a service-relative path targets the chat
	// endpoint. URL-routed providers (Gemini, Bedrock) match patterns here;
	// everything else compares against ChatResourcePath.
	ChatPath(path string) bool

	// ParseRequest inspects the inbound body and URL for stream mode and
	// model. It fails only when the body is required and unparseable.
	ParseRequest(body []byte, requestURL string) (RequestTraits, error)

	// ChatRequest builds the upstream chat call with credentials injected.
	// The passed header has already been scrubbed of hop-by-hop fields.
	ChatRequest(ctx context.Context, traits RequestTraits, body []byte, header http.Header) (*http.Request, error)

	// SupportsPassthrough reports whether non-chat resources can be proxied.
	SupportsPassthrough() bool

	// PassthroughRequest builds an upstream call for an arbitrary resource
	// path, with the same credential injection as ChatRequest.
	PassthroughRequest(ctx context.Context, method, resourcePath string, body []byte, header http.Header) (*http.Request, error)

	// RequestFields extracts loggable fields from a request body.
	RequestFields(body []byte, traits RequestTraits) ChatFields

	// ResponseFields extracts loggable fields from a buffered response.
	ResponseFields(body []byte, header http.Header) ChatFields

	// StreamFields folds an ordered chunk sequence into final fields: text
	// concatenation, tool/function-call accumulation and token accounting.
	// Native usage is preferred; the local tokenizer is the fallback.
	StreamFields(chunks []string, requestBody []byte, header http.Header, traits RequestTraits) (ChatFields, error)

	// PerChunkItems reports whether the pipeline should emit one queue item
	// per decoded stream chunk instead of a single terminal item carrying
	// the whole raw stream.
	PerChunkItems() bool

	// DecodeStreamChunk splits one transport frame into logical chunk
	// payloads. Only meaningful when PerChunkItems is true.
	DecodeStreamChunk(frame []byte) []string

	// SynthesizeResponse builds a provider-shaped buffered response body
	// carrying text, used when a request filter short-circuits upstream.
	SynthesizeResponse(text string) []byte

	// SynthesizeChunks builds the stream-mode equivalent as wire-ready
	// frames in the provider's own framing (SSE events, JSON array parts).
	// A nil result means the provider cannot fake a stream and the
	// short-circuit is answered with a 400.
	SynthesizeChunks(text string) [][]byte
}

// BaseAdapter provides the common defaults shared by all adapters.
type BaseAdapter struct {
	name             string
	chatResourcePath string
}

// Name returns the service identifier.
func (a *BaseAdapter) Name() string {
	return a.name
}

// ChatResourcePath returns the chat endpoint path suffix.
func (a *BaseAdapter) ChatResourcePath() string {
	return a.chatResourcePath
}

// ChatPath matches the fixed chat resource path.
func (a *BaseAdapter) ChatPath(path string) bool {
	return path == a.chatResourcePath
}

// SupportsPassthrough defaults to true.
func (a *BaseAdapter) SupportsPassthrough() bool {
	return true
}

// PerChunkItems defaults to false: one terminal item per stream.
func (a *BaseAdapter) PerChunkItems() bool {
	return false
}

// DecodeStreamChunk defaults to no decoding.
func (a *BaseAdapter) DecodeStreamChunk([]byte) []string {
	return nil
}
