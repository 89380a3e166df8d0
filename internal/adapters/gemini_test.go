package adapters

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestGemini_ChatPath(t *testing.T) {
	adapter := NewGeminiAdapter("key", "")

	assert.True(t, adapter.ChatPath("/v1beta/models/gemini-pro:generateContent"))
	assert.True(t, adapter.ChatPath("/v1beta/models/gemini-pro:streamGenerateContent"))
	assert.False(t, adapter.ChatPath("/v1beta/models"))
}

func TestGemini_ParseRequest(t *testing.T) {
	adapter := NewGeminiAdapter("key", "")

	traits, err := adapter.ParseRequest([]byte(`{}`), "/gemini/v1beta/models/gemini-pro:streamGenerateContent")
	require.NoError(t, err)
	assert.True(t, traits.Stream)
	assert.Equal(t, "gemini-pro", traits.Model)

	traits, err = adapter.ParseRequest([]byte(`{}`), "/gemini/v1beta/models/gemini-pro:generateContent")
	require.NoError(t, err)
	assert.False(t, traits.Stream)

	_, err = adapter.ParseRequest([]byte(`{}`), "/gemini/v1beta/tunedModels")
	assert.Error(t, err)
}

func TestGemini_ChatRequest_KeyInQuery(t *testing.T) {
	adapter := NewGeminiAdapter("secret", "https://example.com")

	req, err := adapter.ChatRequest(context.Background(),
		RequestTraits{Stream: true, Model: "gemini-pro"}, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v1beta/models/gemini-pro:streamGenerateContent?key=secret", req.URL.String())
}

func TestGemini_PassthroughRequest_AppendsKey(t *testing.T) {
	adapter := NewGeminiAdapter("secret", "https://example.com")

	req, err := adapter.PassthroughRequest(context.Background(), http.MethodGet, "/v1beta/models", nil, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v1beta/models?key=secret", req.URL.String())

	req, err = adapter.PassthroughRequest(context.Background(), http.MethodGet, "/v1beta/models?pageSize=5", nil, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v1beta/models?pageSize=5&key=secret", req.URL.String())
}

func TestGemini_RequestFields(t *testing.T) {
	adapter := NewGeminiAdapter("key", "")

	body := []byte(`{"contents":[
		{"role":"user","parts":[{"text":"first"}]},
		{"role":"user","parts":[{"text":"write a story"}]}
	]}`)
	fields := adapter.RequestFields(body, RequestTraits{Model: "gemini-pro"})
	assert.Equal(t, "write a story", fields.Content)
	assert.Equal(t, "gemini-pro", fields.Model)
}

func TestGemini_ResponseFields(t *testing.T) {
	adapter := NewGeminiAdapter("key", "")

	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"Once upon a time"}],"role":"model"},
		"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":5}}`)
	fields := adapter.ResponseFields(body, nil)
	assert.Equal(t, "Once upon a time", fields.Content)
	assert.Equal(t, 8, fields.PromptTokens)
	assert.Equal(t, 5, fields.CompletionTokens)
}

func TestGemini_StreamFields_JSONArrayReassembly(t *testing.T) {
	adapter := NewGeminiAdapter("key", "")

	// The streamed body is one JSON array; chunk boundaries are arbitrary.
	chunks := []string{
		`[{"candidates":[{"content":{"parts":[{"text":"Once"}],"role":"model"}}]},`,
		`{"candidates":[{"content":{"parts":[{"text":" upon a time"}],"role":"model"}}],`,
		`"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":4}}]`,
	}

	fields, err := adapter.StreamFields(chunks, nil, nil, RequestTraits{Stream: true, Model: "gemini-pro"})
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time", fields.Content)
	assert.Equal(t, "gemini-pro", fields.Model)
	assert.Equal(t, 8, fields.PromptTokens)
	assert.Equal(t, 4, fields.CompletionTokens)
}

func TestGemini_StreamFields_FunctionCalls(t *testing.T) {
	adapter := NewGeminiAdapter("key", "")

	chunks := []string{
		`[{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"location":"Tokyo"}}}],"role":"model"}}],` +
			`"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}]`,
	}

	fields, err := adapter.StreamFields(chunks, nil, nil, RequestTraits{Stream: true})
	require.NoError(t, err)

	calls := gjson.Parse(fields.FunctionCall).Array()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Get("name").String())
}

func TestGemini_SynthesizeResponse(t *testing.T) {
	adapter := NewGeminiAdapter("key", "")

	body := adapter.SynthesizeResponse("blocked")
	assert.Equal(t, "blocked", gjson.GetBytes(body, "candidates.0.content.parts.0.text").String())
	assert.Equal(t, "STOP", gjson.GetBytes(body, "candidates.0.finishReason").String())
}
