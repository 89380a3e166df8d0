package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// bedrockModelPattern pulls the model ID out of an invoke URL.
var bedrockModelPattern = regexp.MustCompile(`/model/(.+?)/invoke`)

// bedrockEventPattern finds the JSON envelopes inside an eventstream frame.
// Each envelope carries a base64 payload with the actual completion chunk.
var bedrockEventPattern = regexp.MustCompile(`event\{.*?\}`)

// BedrockAdapter handles AWS Bedrock Runtime invocations (Claude text
// completion models). Requests are SigV4-signed; streamed responses arrive
// as eventstream frames whose decoded payloads the pipeline enqueues one by
// one, so the worker's chunk buffer does the reassembly.
type BedrockAdapter struct {
	BaseAdapter
	signer *BedrockSigner
}

var _ Adapter = (*BedrockAdapter)(nil)

// NewBedrockAdapter creates a Bedrock adapter around a signer.
func NewBedrockAdapter(signer *BedrockSigner) *BedrockAdapter {
	return &BedrockAdapter{
		BaseAdapter: BaseAdapter{
			name:             "bedrock",
			chatResourcePath: "/model",
		},
		signer: signer,
	}
}

// ChatPath matches /model/{model}/invoke and /invoke-with-response-stream.
func (a *BedrockAdapter) ChatPath(path string) bool {
	return bedrockModelPattern.MatchString(path)
}

// ParseRequest reads model and stream mode from the invoke URL.
func (a *BedrockAdapter) ParseRequest(body []byte, requestURL string) (RequestTraits, error) {
	if !gjson.ValidBytes(body) {
		return RequestTraits{}, fmt.Errorf("request body is not valid JSON")
	}
	m := bedrockModelPattern.FindStringSubmatch(requestURL)
	if m == nil {
		return RequestTraits{}, fmt.Errorf("no model in request URL %q", requestURL)
	}
	stream := strings.Contains(requestURL, "/invoke-with-response-stream")
	traits := RequestTraits{
		Stream: stream,
		Model:  m[1],
	}
	traits.ResourcePath = "/model/" + traits.Model + "/invoke"
	if stream {
		traits.ResourcePath += "-with-response-stream"
	}
	return traits, nil
}

// ChatRequest builds the signed runtime invocation. Client headers are not
// forwarded: the signature covers exactly the headers Bedrock expects.
func (a *BedrockAdapter) ChatRequest(ctx context.Context, traits RequestTraits, body []byte, _ http.Header) (*http.Request, error) {
	url := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com%s", a.signer.Region(), traits.ResourcePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Amzn-Bedrock-Accept", "application/json")

	if err := a.signer.SignRequest(ctx, req, body); err != nil {
		return nil, err
	}
	return req, nil
}

// SupportsPassthrough is false: only invoke endpoints are proxied.
func (a *BedrockAdapter) SupportsPassthrough() bool {
	return false
}

// PassthroughRequest is unsupported on Bedrock.
func (a *BedrockAdapter) PassthroughRequest(context.Context, string, string, []byte, http.Header) (*http.Request, error) {
	return nil, fmt.Errorf("bedrock adapter does not support passthrough")
}

// RequestFields extracts the last human turn of a Claude prompt.
func (a *BedrockAdapter) RequestFields(body []byte, traits RequestTraits) ChatFields {
	content := ""
	if prompt := gjson.GetBytes(body, "prompt"); prompt.Exists() {
		turns := strings.Split(prompt.String(), "Human:")
		content = strings.TrimSpace(strings.SplitN(turns[len(turns)-1], "Assistant:", 2)[0])
	} else if messages := gjson.GetBytes(body, "messages").Array(); len(messages) > 0 {
		content = textFromContent(messages[len(messages)-1].Get("content"))
	}
	return ChatFields{Content: content, Model: traits.Model}
}

// ResponseFields extracts the completion; token counts come from the
// x-amzn-bedrock-* response headers.
func (a *BedrockAdapter) ResponseFields(body []byte, header http.Header) ChatFields {
	return ChatFields{
		Content:          gjson.GetBytes(body, "completion").String(),
		PromptTokens:     headerInt(header, "x-amzn-bedrock-input-token-count"),
		CompletionTokens: headerInt(header, "x-amzn-bedrock-output-token-count"),
	}
}

// PerChunkItems is true: the pipeline enqueues each decoded eventstream
// payload as its own item.
func (a *BedrockAdapter) PerChunkItems() bool {
	return true
}

// DecodeStreamChunk extracts the completion payloads from one eventstream
// frame. Undecodable envelopes are skipped.
func (a *BedrockAdapter) DecodeStreamChunk(frame []byte) []string {
	var payloads []string
	for _, envelope := range bedrockEventPattern.FindAll(frame, -1) {
		b64 := gjson.GetBytes(envelope[len("event"):], "bytes").String()
		if b64 == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			continue
		}
		payloads = append(payloads, string(decoded))
	}
	return payloads
}

// StreamFields folds the buffered per-chunk payloads into final fields.
// Token counts come from the invocation metrics on the last chunk, falling
// back to the response headers; an x-amzn-errortype header marks the whole
// stream as an error.
func (a *BedrockAdapter) StreamFields(chunks []string, _ []byte, header http.Header, traits RequestTraits) (ChatFields, error) {
	fields := ChatFields{Model: traits.Model}

	for _, chunk := range chunks {
		fields.Content += gjson.Get(chunk, "completion").String()
	}

	if len(chunks) > 0 {
		metrics := gjson.Get(chunks[len(chunks)-1], "amazon-bedrock-invocationMetrics")
		if metrics.Exists() {
			fields.PromptTokens = int(metrics.Get("inputTokenCount").Int())
			fields.CompletionTokens = int(metrics.Get("outputTokenCount").Int())
		} else {
			fields.PromptTokens = headerInt(header, "x-amzn-bedrock-input-token-count")
			fields.CompletionTokens = headerInt(header, "x-amzn-bedrock-output-token-count")
		}
	}

	if header.Get("x-amzn-errortype") != "" {
		fields.IsError = true
	}
	return fields, nil
}

// SynthesizeResponse builds a completion-shaped body carrying text.
func (a *BedrockAdapter) SynthesizeResponse(text string) []byte {
	return []byte(marshalJSON(map[string]string{"completion": text}))
}

// SynthesizeChunks is nil: the eventstream framing cannot be faked, so a
// stream-mode short-circuit is answered with a 400 instead.
func (a *BedrockAdapter) SynthesizeChunks(string) [][]byte {
	return nil
}

func headerInt(header http.Header, key string) int {
	n := 0
	_, _ = fmt.Sscanf(header.Get(key), "%d", &n)
	return n
}
