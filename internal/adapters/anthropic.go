package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

const defaultAnthropicBase = "https://api.anthropic.com"

// AnthropicAdapter handles the Anthropic Messages API. Streams are SSE with
// named events: message_start, content_block_start, content_block_delta,
// message_delta, message_stop. Tool calls arrive as a tool_use block start
// followed by input_json_delta fragments, the same start/continue shape as
// OpenAI tool-call deltas.
type AnthropicAdapter struct {
	BaseAdapter
	apiKey  string
	apiBase string
}

var _ Adapter = (*AnthropicAdapter)(nil)

// NewAnthropicAdapter creates an Anthropic adapter.
func NewAnthropicAdapter(apiKey, apiBase string) *AnthropicAdapter {
	if apiBase == "" {
		apiBase = defaultAnthropicBase
	}
	return &AnthropicAdapter{
		BaseAdapter: BaseAdapter{
			name:             "anthropic",
			chatResourcePath: "/v1/messages",
		},
		apiKey:  apiKey,
		apiBase: apiBase,
	}
}

// ParseRequest reads the stream flag and model from the request body.
func (a *AnthropicAdapter) ParseRequest(body []byte, _ string) (RequestTraits, error) {
	if !gjson.ValidBytes(body) {
		return RequestTraits{}, fmt.Errorf("request body is not valid JSON")
	}
	return RequestTraits{
		Stream: gjson.GetBytes(body, "stream").Bool(),
		Model:  gjson.GetBytes(body, "model").String(),
	}, nil
}

// ChatRequest builds the upstream call with x-api-key authentication.
func (a *AnthropicAdapter) ChatRequest(ctx context.Context, _ RequestTraits, body []byte, header http.Header) (*http.Request, error) {
	return a.upstreamRequest(ctx, http.MethodPost, a.apiBase+a.chatResourcePath, body, header)
}

// PassthroughRequest builds an upstream call for any other resource.
func (a *AnthropicAdapter) PassthroughRequest(ctx context.Context, method, resourcePath string, body []byte, header http.Header) (*http.Request, error) {
	return a.upstreamRequest(ctx, method, a.apiBase+resourcePath, body, header)
}

func (a *AnthropicAdapter) upstreamRequest(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("anthropic-version") == "" {
		req.Header.Set("anthropic-version", "2023-06-01")
	}
	return req, nil
}

// RequestFields extracts the last user message and model for the request log.
func (a *AnthropicAdapter) RequestFields(body []byte, traits RequestTraits) ChatFields {
	messages := gjson.GetBytes(body, "messages").Array()
	content := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Get("role").String() == "user" {
			content = textFromContent(messages[i].Get("content"))
			break
		}
	}
	model := traits.Model
	if model == "" {
		model = gjson.GetBytes(body, "model").String()
	}
	return ChatFields{Content: content, Model: model}
}

// ResponseFields extracts loggable fields from a buffered message response.
func (a *AnthropicAdapter) ResponseFields(body []byte, _ http.Header) ChatFields {
	fields := ChatFields{
		Model:            gjson.GetBytes(body, "model").String(),
		PromptTokens:     int(gjson.GetBytes(body, "usage.input_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usage.output_tokens").Int()),
	}

	var toolCalls []toolCall
	for _, block := range gjson.GetBytes(body, "content").Array() {
		switch block.Get("type").String() {
		case "text":
			fields.Content += block.Get("text").String()
		case "tool_use":
			toolCalls = append(toolCalls, toolCall{
				Type: "function",
				Function: functionCall{
					Name:      block.Get("name").String(),
					Arguments: block.Get("input").Raw,
				},
			})
		}
	}
	if len(toolCalls) > 0 {
		fields.ToolCalls = marshalJSON(toolCalls)
	}
	return fields
}

// StreamFields folds a message event stream into final fields. A
// content_block_start of type tool_use opens a new tool call; each
// input_json_delta appends its partial JSON to the most recent one.
func (a *AnthropicAdapter) StreamFields(chunks []string, requestBody []byte, _ http.Header, _ RequestTraits) (ChatFields, error) {
	var (
		text      string
		toolCalls []toolCall
		fields    ChatFields
	)

	forEachEvent(chunks, func(_, data string) bool {
		event := gjson.Parse(data)

		switch event.Get("type").String() {
		case "message_start":
			fields.Model = event.Get("message.model").String()
			fields.PromptTokens = int(event.Get("message.usage.input_tokens").Int())

		case "content_block_start":
			block := event.Get("content_block")
			if block.Get("type").String() == "tool_use" {
				toolCalls = append(toolCalls, toolCall{
					Type:     "function",
					Function: functionCall{Name: block.Get("name").String()},
				})
			}

		case "content_block_delta":
			delta := event.Get("delta")
			switch delta.Get("type").String() {
			case "text_delta":
				text += delta.Get("text").String()
			case "input_json_delta":
				if len(toolCalls) > 0 {
					toolCalls[len(toolCalls)-1].Function.Arguments += delta.Get("partial_json").String()
				}
			}

		case "message_delta":
			if n := event.Get("usage.output_tokens"); n.Exists() {
				fields.CompletionTokens = int(n.Int())
			}
		}
		return true
	})

	fields.Content = text
	if len(toolCalls) > 0 {
		fields.ToolCalls = marshalJSON(toolCalls)
	}
	if err := fallbackTokens(&fields, requestBody); err != nil {
		return fields, err
	}
	return fields, nil
}

// SynthesizeResponse builds a message-shaped body carrying text.
func (a *AnthropicAdapter) SynthesizeResponse(text string) []byte {
	return []byte(marshalJSON(map[string]any{
		"id":    "-",
		"type":  "message",
		"role":  "assistant",
		"model": "request_filter",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"usage":       map[string]int{"input_tokens": 0, "output_tokens": 0},
	}))
}

// SynthesizeChunks builds a minimal SSE-framed message event stream carrying
// text.
func (a *AnthropicAdapter) SynthesizeChunks(text string) [][]byte {
	frame := func(event string, body map[string]any) []byte {
		return []byte("event: " + event + "\ndata: " + marshalJSON(body) + "\n\n")
	}
	return [][]byte{
		frame("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": "-", "type": "message", "role": "assistant",
				"model": "request_filter", "content": []any{},
				"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		}),
		frame("content_block_start", map[string]any{
			"type": "content_block_start", "index": 0,
			"content_block": map[string]any{"type": "text", "text": ""},
		}),
		frame("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}),
		frame("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}),
		frame("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn"},
			"usage": map[string]int{"output_tokens": 0},
		}),
		frame("message_stop", map[string]any{"type": "message_stop"}),
	}
}
