package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aiproxyhq/aiproxy/internal/tokenizer"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com"

// geminiModelPattern pulls the model name out of a generateContent URL.
var geminiModelPattern = regexp.MustCompile(`models/(.*?):`)

var geminiSafetyRatings = []map[string]string{
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "probability": "NEGLIGIBLE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "probability": "NEGLIGIBLE"},
	{"category": "HARM_CATEGORY_HARASSMENT", "probability": "NEGLIGIBLE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "probability": "NEGLIGIBLE"},
}

// GeminiAdapter handles the Google AI Studio Gemini API. Model and stream
// mode travel in the URL (`models/{model}:generateContent` vs
// `:streamGenerateContent`); the streamed response is one JSON array
// delivered incrementally, not SSE.
type GeminiAdapter struct {
	BaseAdapter
	apiKey  string
	apiBase string
}

var _ Adapter = (*GeminiAdapter)(nil)

// NewGeminiAdapter creates a Gemini adapter.
func NewGeminiAdapter(apiKey, apiBase string) *GeminiAdapter {
	if apiBase == "" {
		apiBase = defaultGeminiBase
	}
	return &GeminiAdapter{
		BaseAdapter: BaseAdapter{
			name:             "gemini",
			chatResourcePath: "/v1beta/models",
		},
		apiKey:  apiKey,
		apiBase: apiBase,
	}
}

// ChatPath matches generateContent and streamGenerateContent URLs.
func (a *GeminiAdapter) ChatPath(path string) bool {
	return strings.Contains(path, ":generateContent") || strings.Contains(path, ":streamGenerateContent")
}

// ParseRequest reads stream mode and model from the request URL.
func (a *GeminiAdapter) ParseRequest(body []byte, requestURL string) (RequestTraits, error) {
	if !gjson.ValidBytes(body) {
		return RequestTraits{}, fmt.Errorf("request body is not valid JSON")
	}
	m := geminiModelPattern.FindStringSubmatch(requestURL)
	if m == nil {
		return RequestTraits{}, fmt.Errorf("no model in request URL %q", requestURL)
	}
	return RequestTraits{
		Stream: strings.Contains(requestURL, ":streamGenerateContent"),
		Model:  m[1],
	}, nil
}

// ChatRequest targets the model- and mode-specific endpoint with the API key
// in the query string.
func (a *GeminiAdapter) ChatRequest(ctx context.Context, traits RequestTraits, body []byte, header http.Header) (*http.Request, error) {
	method := "generateContent"
	if traits.Stream {
		method = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", a.apiBase, traits.Model, method, a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// PassthroughRequest forwards any other resource with the API key appended.
func (a *GeminiAdapter) PassthroughRequest(ctx context.Context, method, resourcePath string, body []byte, header http.Header) (*http.Request, error) {
	sep := "?"
	if strings.Contains(resourcePath, "?") {
		sep = "&"
	}
	url := a.apiBase + resourcePath + sep + "key=" + a.apiKey

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header = header.Clone()
	return req, nil
}

// RequestFields extracts the last content part's text for the request log.
func (a *GeminiAdapter) RequestFields(body []byte, traits RequestTraits) ChatFields {
	contents := gjson.GetBytes(body, "contents").Array()
	content := ""
	if len(contents) > 0 {
		content = contents[len(contents)-1].Get("parts.0.text").String()
	}
	return ChatFields{Content: content, Model: traits.Model}
}

// ResponseFields extracts loggable fields from a buffered response.
func (a *GeminiAdapter) ResponseFields(body []byte, _ http.Header) ChatFields {
	fields := ChatFields{
		PromptTokens:     int(gjson.GetBytes(body, "usageMetadata.promptTokenCount").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usageMetadata.candidatesTokenCount").Int()),
	}
	for _, part := range gjson.GetBytes(body, "candidates.0.content.parts").Array() {
		if t := part.Get("text"); t.Exists() {
			fields.Content = t.String()
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			fields.ToolCalls = fc.Raw
		}
	}
	return fields
}

// StreamFields folds the streamed JSON array of chunks into final fields.
// Function calls are collected as a list; native usage metadata wins over
// the local tokenizer when present.
func (a *GeminiAdapter) StreamFields(chunks []string, requestBody []byte, _ http.Header, traits RequestTraits) (ChatFields, error) {
	raw := strings.Join(chunks, "")
	fields := ChatFields{Model: traits.Model}

	var functionCalls []string
	for _, chunk := range gjson.Parse(raw).Array() {
		for _, cand := range chunk.Get("candidates").Array() {
			for _, part := range cand.Get("content.parts").Array() {
				if t := part.Get("text"); t.Exists() {
					fields.Content += t.String()
				}
				if fc := part.Get("functionCall"); fc.Exists() {
					functionCalls = append(functionCalls, fc.Raw)
				}
			}
		}
		if usage := chunk.Get("usageMetadata"); usage.Exists() {
			fields.PromptTokens = int(usage.Get("promptTokenCount").Int())
			fields.CompletionTokens = int(usage.Get("candidatesTokenCount").Int())
		}
	}
	if len(functionCalls) > 0 {
		fields.FunctionCall = "[" + strings.Join(functionCalls, ",") + "]"
	}

	if fields.PromptTokens == 0 {
		prompt := 0
		for _, content := range gjson.GetBytes(requestBody, "contents").Array() {
			for _, part := range content.Get("parts").Array() {
				n, err := tokenizer.CountText(part.Get("text").String())
				if err != nil {
					return fields, err
				}
				prompt += n
			}
		}
		fields.PromptTokens = prompt
	}
	if fields.CompletionTokens == 0 {
		completion := fields.Content
		if fields.FunctionCall != "" {
			completion = fields.FunctionCall
		}
		n, err := tokenizer.CountText(completion)
		if err != nil {
			return fields, err
		}
		fields.CompletionTokens = n
	}
	return fields, nil
}

// SynthesizeResponse builds a generateContent-shaped body carrying text.
func (a *GeminiAdapter) SynthesizeResponse(text string) []byte {
	return []byte(marshalJSON(map[string]any{
		"candidates": []map[string]any{{
			"content":       map[string]any{"parts": []map[string]string{{"text": text}}, "role": "model"},
			"finishReason":  "STOP",
			"index":         0,
			"safetyRatings": geminiSafetyRatings,
		}},
		"promptFeedback": map[string]any{"safetyRatings": geminiSafetyRatings},
	}))
}

// SynthesizeChunks builds a synthetic stream. Gemini streams a JSON array,
// so the single frame is the whole array.
func (a *GeminiAdapter) SynthesizeChunks(text string) [][]byte {
	chunk := marshalJSON(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]string{{"text": text}}, "role": "model"},
			"finishReason": "STOP",
			"index":        0,
		}},
	})
	return [][]byte{[]byte("[" + chunk + "]")}
}
