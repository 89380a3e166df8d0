package adapters

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/aiproxyhq/aiproxy/internal/tokenizer"
)

// functionCall is the accumulator for legacy single-function calls.
type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// toolCall is one entry of the reassembled tool_calls list.
type toolCall struct {
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

// textFromContent extracts plain text from a message content value that is
// either a string or a list of typed parts (multimodal shape). For a part
// list without any text part, the serialized list is returned so the log
// still captures something.
func textFromContent(content gjson.Result) string {
	if !content.Exists() {
		return ""
	}
	if content.IsArray() {
		for _, part := range content.Array() {
			if part.Get("type").String() == "text" {
				return part.Get("text").String()
			}
		}
		return content.Raw
	}
	return content.String()
}

// marshalJSON serializes v, returning "" on failure. Loggable-field
// serialization is best-effort.
func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// fallbackTokens fills in token counts computed locally when the provider
// did not report usage. Completion tokens are counted over whichever of
// tool_calls, function_call, text is non-empty, in that priority order.
func fallbackTokens(fields *ChatFields, requestBody []byte) error {
	if fields.PromptTokens == 0 {
		n, err := tokenizer.CountChatRequest(requestBody)
		if err != nil {
			return err
		}
		fields.PromptTokens = n
	}
	if fields.CompletionTokens == 0 {
		completion := fields.Content
		if fields.ToolCalls != "" {
			completion = fields.ToolCalls
		} else if fields.FunctionCall != "" {
			completion = fields.FunctionCall
		}
		n, err := tokenizer.CountText(completion)
		if err != nil {
			return err
		}
		fields.CompletionTokens = n
	}
	return nil
}
