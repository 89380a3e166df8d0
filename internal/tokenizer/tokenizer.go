// Package tokenizer estimates token counts for chat completion traffic.
//
// DESIGN: Providers that stream rarely include usage in the payload, so the
// access log worker falls back to counting tokens locally. The cl100k_base
// encoding is used for every service; for non-OpenAI models the result is an
// estimate, which is acceptable for accounting purposes.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"
)

const (
	tokensPerMessage = 3
	tokensPerName    = 1
	// Every reply is primed with <|start|>assistant<|message|>.
	tokensPerReply = 3
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func getEncoding() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
		if encodingErr != nil {
			encodingErr = fmt.Errorf("failed to load cl100k_base encoding: %w", encodingErr)
		}
	})
	return encoding, encodingErr
}

// CountText returns the number of tokens in a plain string.
func CountText(text string) (int, error) {
	enc, err := getEncoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountChatRequest estimates prompt tokens for a chat completion request body.
// The per-message and per-name overheads follow the accounting OpenAI
// documents for gpt-3.5/gpt-4 style models.
func CountChatRequest(requestBody []byte) (int, error) {
	if _, err := getEncoding(); err != nil {
		return 0, err
	}

	count := 0

	messages := gjson.GetBytes(requestBody, "messages")
	for _, message := range messages.Array() {
		count += tokensPerMessage
		var rangeErr error
		message.ForEach(func(key, value gjson.Result) bool {
			if value.IsArray() {
				// Multimodal content parts; only text parts are counted.
				for _, part := range value.Array() {
					if part.Get("type").String() == "text" {
						n, err := CountText(part.Get("text").String())
						if err != nil {
							rangeErr = err
							return false
						}
						count += n
					}
				}
			} else {
				n, err := CountText(value.String())
				if err != nil {
					rangeErr = err
					return false
				}
				count += n
			}
			if key.String() == "name" {
				count += tokensPerName
			}
			return true
		})
		if rangeErr != nil {
			return 0, rangeErr
		}
	}

	// Function and tool definitions are counted over their JSON serialization.
	for _, field := range []string{"functions", "tools"} {
		for _, def := range gjson.GetBytes(requestBody, field).Array() {
			n, err := CountText(def.Raw)
			if err != nil {
				return 0, err
			}
			count += n
		}
	}

	if fc := gjson.GetBytes(requestBody, "function_call"); fc.Exists() {
		raw := fc.Raw
		if fc.Type == gjson.String {
			raw = fc.String()
		}
		n, err := CountText(raw)
		if err != nil {
			return 0, err
		}
		count += n
	}

	if tc := gjson.GetBytes(requestBody, "tool_choice"); tc.Exists() {
		n, err := CountText(tc.Raw)
		if err != nil {
			return 0, err
		}
		count += n
	}

	return count + tokensPerReply, nil
}
