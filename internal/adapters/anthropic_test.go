package adapters

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestAnthropic_ChatRequest_InjectsCredentials(t *testing.T) {
	adapter := NewAnthropicAdapter("sk-ant", "https://example.com")

	req, err := adapter.ChatRequest(context.Background(), RequestTraits{}, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v1/messages", req.URL.String())
	assert.Equal(t, "sk-ant", req.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
}

func TestAnthropic_ChatRequest_KeepsClientVersion(t *testing.T) {
	adapter := NewAnthropicAdapter("sk-ant", "")

	header := http.Header{}
	header.Set("anthropic-version", "2024-01-01")
	req, err := adapter.ChatRequest(context.Background(), RequestTraits{}, []byte(`{}`), header)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", req.Header.Get("anthropic-version"))
}

func TestAnthropic_RequestFields_LastUserMessage(t *testing.T) {
	adapter := NewAnthropicAdapter("sk-ant", "")

	body := []byte(`{"model":"claude-2","messages":[
		{"role":"user","content":"first"},
		{"role":"assistant","content":"reply"},
		{"role":"user","content":"second"}
	]}`)
	fields := adapter.RequestFields(body, RequestTraits{Model: "claude-2"})
	assert.Equal(t, "second", fields.Content)
	assert.Equal(t, "claude-2", fields.Model)
}

func TestAnthropic_ResponseFields(t *testing.T) {
	adapter := NewAnthropicAdapter("sk-ant", "")

	body := []byte(`{"model":"claude-3-sonnet","content":[
		{"type":"text","text":"Sure, "},
		{"type":"text","text":"here you go."},
		{"type":"tool_use","id":"t1","name":"get_weather","input":{"location":"Tokyo"}}
	],"usage":{"input_tokens":40,"output_tokens":12}}`)

	fields := adapter.ResponseFields(body, nil)
	assert.Equal(t, "Sure, here you go.", fields.Content)
	assert.Equal(t, "claude-3-sonnet", fields.Model)
	assert.Equal(t, 40, fields.PromptTokens)
	assert.Equal(t, 12, fields.CompletionTokens)

	calls := gjson.Parse(fields.ToolCalls).Array()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Get("function.name").String())
}

func anthropicStream(events ...[2]string) string {
	stream := ""
	for _, ev := range events {
		stream += "event: " + ev[0] + "\ndata: " + ev[1] + "\n\n"
	}
	return stream
}

func TestAnthropic_StreamFields_TextReassembly(t *testing.T) {
	adapter := NewAnthropicAdapter("sk-ant", "")

	stream := anthropicStream(
		[2]string{"message_start", `{"type":"message_start","message":{"model":"claude-2","usage":{"input_tokens":25}}}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`},
		[2]string{"message_stop", `{"type":"message_stop"}`},
	)

	fields, err := adapter.StreamFields([]string{stream}, nil, nil, RequestTraits{Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", fields.Content)
	assert.Equal(t, "claude-2", fields.Model)
	assert.Equal(t, 25, fields.PromptTokens)
	assert.Equal(t, 7, fields.CompletionTokens)
}

func TestAnthropic_StreamFields_ToolUseAccumulation(t *testing.T) {
	adapter := NewAnthropicAdapter("sk-ant", "")

	stream := anthropicStream(
		[2]string{"message_start", `{"type":"message_start","message":{"model":"claude-3","usage":{"input_tokens":10}}}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"get_weather"}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"loc"}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"ation\":\"Tokyo\"}"}}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":15}}`},
	)

	fields, err := adapter.StreamFields([]string{stream}, nil, nil, RequestTraits{Stream: true})
	require.NoError(t, err)

	calls := gjson.Parse(fields.ToolCalls).Array()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Get("function.name").String())
	assert.Equal(t, `{"location":"Tokyo"}`, calls[0].Get("function.arguments").String())
}

func TestAnthropic_SynthesizeChunks_RoundTrip(t *testing.T) {
	requireTokenizer(t)
	adapter := NewAnthropicAdapter("sk-ant", "")

	stream := ""
	for _, chunk := range adapter.SynthesizeChunks("blocked") {
		stream += string(chunk)
	}

	fields, err := adapter.StreamFields([]string{stream}, []byte(`{}`), nil, RequestTraits{Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "blocked", fields.Content)
	assert.Equal(t, "request_filter", fields.Model)
}
