package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIAdapter handles the OpenAI chat completion API. Streamed responses
// are SSE data events carrying chat.completion.chunk objects, terminated by
// a [DONE] sentinel.
type OpenAIAdapter struct {
	BaseAdapter
	apiKey  string
	apiBase string
}

var _ Adapter = (*OpenAIAdapter)(nil)

// NewOpenAIAdapter creates an OpenAI adapter. apiBase defaults to the public
// endpoint when empty.
func NewOpenAIAdapter(apiKey, apiBase string) *OpenAIAdapter {
	if apiBase == "" {
		apiBase = defaultOpenAIBase
	}
	return &OpenAIAdapter{
		BaseAdapter: BaseAdapter{
			name:             "openai",
			chatResourcePath: "/chat/completions",
		},
		apiKey:  apiKey,
		apiBase: apiBase,
	}
}

// ParseRequest reads the stream flag and model from the request body.
func (a *OpenAIAdapter) ParseRequest(body []byte, _ string) (RequestTraits, error) {
	if !gjson.ValidBytes(body) {
		return RequestTraits{}, fmt.Errorf("request body is not valid JSON")
	}
	return RequestTraits{
		Stream: gjson.GetBytes(body, "stream").Bool(),
		Model:  gjson.GetBytes(body, "model").String(),
	}, nil
}

// ChatRequest builds the upstream call with bearer authentication.
func (a *OpenAIAdapter) ChatRequest(ctx context.Context, _ RequestTraits, body []byte, header http.Header) (*http.Request, error) {
	return a.upstreamRequest(ctx, http.MethodPost, a.apiBase+a.chatResourcePath, body, header)
}

// PassthroughRequest builds an upstream call for any other resource.
func (a *OpenAIAdapter) PassthroughRequest(ctx context.Context, method, resourcePath string, body []byte, header http.Header) (*http.Request, error) {
	return a.upstreamRequest(ctx, method, a.apiBase+resourcePath, body, header)
}

func (a *OpenAIAdapter) upstreamRequest(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// RequestFields extracts the last user message and model for the request log.
func (a *OpenAIAdapter) RequestFields(body []byte, traits RequestTraits) ChatFields {
	messages := gjson.GetBytes(body, "messages").Array()
	content := ""
	if len(messages) > 0 {
		content = textFromContent(messages[len(messages)-1].Get("content"))
	}
	model := traits.Model
	if model == "" {
		model = gjson.GetBytes(body, "model").String()
	}
	return ChatFields{Content: content, Model: model}
}

// ResponseFields extracts loggable fields from a buffered chat completion.
func (a *OpenAIAdapter) ResponseFields(body []byte, _ http.Header) ChatFields {
	message := gjson.GetBytes(body, "choices.0.message")
	fields := ChatFields{
		Content:          message.Get("content").String(),
		Model:            gjson.GetBytes(body, "model").String(),
		PromptTokens:     int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
	}
	if fc := message.Get("function_call"); fc.Exists() {
		fields.FunctionCall = fc.Raw
	}
	if tc := message.Get("tool_calls"); tc.Exists() {
		fields.ToolCalls = tc.Raw
	}
	return fields
}

// StreamFields folds a chat completion chunk stream into final fields.
//
// A delta that carries a tool-call name starts a new entry; a delta with only
// an arguments fragment extends the most recent entry, which is why chunk
// order must be preserved exactly as received. Chunks with an empty choices
// list (the first Azure delta, usage-only chunks) contribute nothing.
func (a *OpenAIAdapter) StreamFields(chunks []string, requestBody []byte, _ http.Header, _ RequestTraits) (ChatFields, error) {
	var (
		text      string
		fnCall    *functionCall
		toolCalls []toolCall
		fields    ChatFields
	)

	forEachEvent(chunks, func(_, data string) bool {
		if data == "[DONE]" {
			return false
		}
		chunk := gjson.Parse(data)

		if fields.Model == "" {
			fields.Model = chunk.Get("model").String()
		}
		if usage := chunk.Get("usage"); usage.IsObject() {
			fields.PromptTokens = int(usage.Get("prompt_tokens").Int())
			fields.CompletionTokens = int(usage.Get("completion_tokens").Int())
		}

		choices := chunk.Get("choices").Array()
		if len(choices) == 0 {
			return true
		}
		delta := choices[0].Get("delta")

		switch {
		case delta.Get("tool_calls").Exists():
			fn := delta.Get("tool_calls.0.function")
			if name := fn.Get("name").String(); name != "" {
				toolCalls = append(toolCalls, toolCall{
					Type:     "function",
					Function: functionCall{Name: name},
				})
			} else if args := fn.Get("arguments").String(); args != "" && len(toolCalls) > 0 {
				toolCalls[len(toolCalls)-1].Function.Arguments += args
			}

		case delta.Get("function_call").Exists():
			fc := delta.Get("function_call")
			if name := fc.Get("name").String(); name != "" {
				fnCall = &functionCall{Name: name}
			} else if args := fc.Get("arguments").String(); args != "" && fnCall != nil {
				fnCall.Arguments += args
			}

		default:
			text += delta.Get("content").String()
		}
		return true
	})

	fields.Content = text
	if len(toolCalls) > 0 {
		fields.ToolCalls = marshalJSON(toolCalls)
	}
	if fnCall != nil {
		fields.FunctionCall = marshalJSON(fnCall)
	}
	if err := fallbackTokens(&fields, requestBody); err != nil {
		return fields, err
	}
	return fields, nil
}

// SynthesizeResponse builds a chat completion body carrying text.
func (a *OpenAIAdapter) SynthesizeResponse(text string) []byte {
	return []byte(marshalJSON(map[string]any{
		"id":      "-",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "request_filter",
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": text,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 0},
	}))
}

// SynthesizeChunks builds a minimal SSE-framed two-chunk stream carrying text.
func (a *OpenAIAdapter) SynthesizeChunks(text string) [][]byte {
	chunk := func(delta map[string]any, finish any) []byte {
		data := marshalJSON(map[string]any{
			"id":      "-",
			"object":  "chat.completion.chunk",
			"created": 0,
			"model":   "request_filter",
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		})
		return []byte("data: " + data + "\n\n")
	}
	return [][]byte{
		chunk(map[string]any{"role": "assistant", "content": ""}, nil),
		chunk(map[string]any{"content": text}, "stop"),
		[]byte("data: [DONE]\n\n"),
	}
}

// AzureOpenAIAdapter is the Azure OpenAI Service variant: the endpoint is
// derived from resource name, deployment and API version, and the credential
// travels in an api-key header instead of a bearer token.
type AzureOpenAIAdapter struct {
	OpenAIAdapter
	url string
}

var _ Adapter = (*AzureOpenAIAdapter)(nil)

// NewAzureOpenAIAdapter creates the Azure variant.
func NewAzureOpenAIAdapter(apiKey, resourceName, deploymentID, apiVersion string) *AzureOpenAIAdapter {
	a := &AzureOpenAIAdapter{
		OpenAIAdapter: *NewOpenAIAdapter(apiKey, ""),
		url: fmt.Sprintf(
			"https://%s.openai.azure.com/openai/deployments/%s/chat/completions?api-version=%s",
			resourceName, deploymentID, apiVersion,
		),
	}
	a.name = "azure"
	return a
}

// ChatRequest targets the deployment-specific Azure endpoint.
func (a *AzureOpenAIAdapter) ChatRequest(ctx context.Context, _ RequestTraits, body []byte, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("api-key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// SupportsPassthrough is false: Azure routes are deployment-scoped, there is
// no generic resource namespace to forward to.
func (a *AzureOpenAIAdapter) SupportsPassthrough() bool {
	return false
}

// PassthroughRequest is unsupported on Azure.
func (a *AzureOpenAIAdapter) PassthroughRequest(context.Context, string, string, []byte, http.Header) (*http.Request, error) {
	return nil, fmt.Errorf("azure adapter does not support passthrough")
}
