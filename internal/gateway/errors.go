package gateway

import (
	"encoding/json"
	"net/http"
)

// Error types surfaced to clients. Every error exit also enqueues exactly
// one ErrorItem carrying the same type.
const (
	errTypeRequestFilter  = "request_filter_error"
	errTypeResponseFilter = "response_filter_error"
	errTypeProxy          = "proxy_error"
	errTypeUpstream       = "upstream_error"
)

// errorBody builds the documented error response shape.
func errorBody(errorType, message string) []byte {
	body, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType,
			"param":   nil,
			"code":    nil,
		},
	})
	if err != nil {
		return []byte(`{"error":{"message":"internal error","type":"proxy_error"}}`)
	}
	return body
}

// writeJSONError writes an error body with the given status.
func writeJSONError(w http.ResponseWriter, errorType, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(errorBody(errorType, message))
}
