package adapters

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBedrock_ChatPath(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	assert.True(t, adapter.ChatPath("/model/anthropic.claude-v2/invoke"))
	assert.True(t, adapter.ChatPath("/model/anthropic.claude-v2/invoke-with-response-stream"))
	assert.False(t, adapter.ChatPath("/model"))
	assert.False(t, adapter.SupportsPassthrough())
}

func TestBedrock_ParseRequest(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	traits, err := adapter.ParseRequest([]byte(`{}`), "/bedrock/model/anthropic.claude-v2/invoke")
	require.NoError(t, err)
	assert.False(t, traits.Stream)
	assert.Equal(t, "anthropic.claude-v2", traits.Model)
	assert.Equal(t, "/model/anthropic.claude-v2/invoke", traits.ResourcePath)

	traits, err = adapter.ParseRequest([]byte(`{}`), "/bedrock/model/anthropic.claude-v2/invoke-with-response-stream")
	require.NoError(t, err)
	assert.True(t, traits.Stream)
	assert.Equal(t, "/model/anthropic.claude-v2/invoke-with-response-stream", traits.ResourcePath)
}

func TestBedrock_RequestFields_PromptFormat(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	body := []byte(`{"prompt":"\n\nHuman: first turn\n\nAssistant: sure\n\nHuman: what about Tokyo?\n\nAssistant:","max_tokens_to_sample":300}`)
	fields := adapter.RequestFields(body, RequestTraits{Model: "anthropic.claude-v2"})
	assert.Equal(t, "what about Tokyo?", fields.Content)
	assert.Equal(t, "anthropic.claude-v2", fields.Model)
}

func TestBedrock_ResponseFields_TokensFromHeaders(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	header := http.Header{}
	header.Set("X-Amzn-Bedrock-Input-Token-Count", "42")
	header.Set("X-Amzn-Bedrock-Output-Token-Count", "17")

	fields := adapter.ResponseFields([]byte(`{"completion":" It is sunny.","stop_reason":"stop_sequence"}`), header)
	assert.Equal(t, " It is sunny.", fields.Content)
	assert.Equal(t, 42, fields.PromptTokens)
	assert.Equal(t, 17, fields.CompletionTokens)
}

func bedrockFrame(payloads ...string) []byte {
	frame := []byte{}
	for _, p := range payloads {
		b64 := base64.StdEncoding.EncodeToString([]byte(p))
		frame = append(frame, []byte(`event{"bytes":"`+b64+`","p":"pad"}`)...)
	}
	return frame
}

func TestBedrock_DecodeStreamChunk(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	frame := bedrockFrame(`{"completion":" Hello"}`, `{"completion":" world"}`)
	payloads := adapter.DecodeStreamChunk(frame)
	require.Len(t, payloads, 2)
	assert.Equal(t, `{"completion":" Hello"}`, payloads[0])
	assert.Equal(t, `{"completion":" world"}`, payloads[1])

	assert.True(t, adapter.PerChunkItems())
	assert.Empty(t, adapter.DecodeStreamChunk([]byte("garbage")))
}

func TestBedrock_StreamFields_InvocationMetrics(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	chunks := []string{
		`{"completion":" It is"}`,
		`{"completion":" sunny."}`,
		`{"completion":"","stop_reason":"stop_sequence","amazon-bedrock-invocationMetrics":{"inputTokenCount":33,"outputTokenCount":9}}`,
	}

	fields, err := adapter.StreamFields(chunks, nil, http.Header{}, RequestTraits{Stream: true, Model: "anthropic.claude-v2"})
	require.NoError(t, err)
	assert.Equal(t, " It is sunny.", fields.Content)
	assert.Equal(t, 33, fields.PromptTokens)
	assert.Equal(t, 9, fields.CompletionTokens)
	assert.False(t, fields.IsError)
}

func TestBedrock_StreamFields_HeaderFallbackAndError(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	header := http.Header{}
	header.Set("X-Amzn-Bedrock-Input-Token-Count", "5")
	header.Set("X-Amzn-Bedrock-Output-Token-Count", "2")
	header.Set("X-Amzn-Errortype", "ThrottlingException:http://internal")

	fields, err := adapter.StreamFields([]string{`{"completion":"partial"}`}, nil, header, RequestTraits{Stream: true})
	require.NoError(t, err)
	assert.Equal(t, 5, fields.PromptTokens)
	assert.Equal(t, 2, fields.CompletionTokens)
	assert.True(t, fields.IsError)
}

func TestBedrock_SynthesizeResponse(t *testing.T) {
	adapter := NewBedrockAdapter(NewBedrockSigner("us-east-1", "AKID", "secret"))

	assert.JSONEq(t, `{"completion":"blocked"}`, string(adapter.SynthesizeResponse("blocked")))
	assert.Nil(t, adapter.SynthesizeChunks("blocked"))
}
