// Package filters provides ordered, pluggable request/response interceptors.
//
// DESIGN: Filters run strictly in registration order. A request filter can
// rewrite the body, short-circuit the upstream call by returning a complete
// assistant reply, or reject the request with a status code. Response filters
// can replace a buffered response body; the first replacement wins. Response
// filters never touch in-flight streams.
package filters

import (
	"fmt"
	"net/http"
)

// Rejection aborts a request with a client-facing status code and message.
// Filters return it (wrapped or not) to signal bad input.
type Rejection struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected with status %d: %s", r.StatusCode, r.Message)
}

// Reject creates a Rejection. A status outside 4xx is coerced to 400 so a
// filter bug cannot turn a client error into something else.
func Reject(statusCode int, message string) *Rejection {
	if statusCode < 400 || statusCode > 499 {
		statusCode = http.StatusBadRequest
	}
	return &Rejection{StatusCode: statusCode, Message: message}
}

// RequestFilter inspects an inbound chat request before it goes upstream.
type RequestFilter interface {
	// FilterRequest returns (newBody, completion, err). A nil newBody keeps
	// the body unchanged. A non-empty completion is treated as a complete
	// assistant reply and short-circuits the upstream call. A *Rejection
	// error aborts with that status; any other error is a proxy fault.
	FilterRequest(requestID string, body []byte, header http.Header) (newBody []byte, completion string, err error)
}

// ResponseFilter inspects a buffered upstream response before it is returned.
type ResponseFilter interface {
	// FilterResponse returns a replacement body or nil to leave the
	// response unchanged.
	FilterResponse(requestID string, body []byte) (newBody []byte, err error)
}

// Chain holds the registered filters in order.
type Chain struct {
	requestFilters  []RequestFilter
	responseFilters []ResponseFilter
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddRequestFilter appends a request filter.
func (c *Chain) AddRequestFilter(f RequestFilter) {
	c.requestFilters = append(c.requestFilters, f)
}

// AddResponseFilter appends a response filter.
func (c *Chain) AddResponseFilter(f ResponseFilter) {
	c.responseFilters = append(c.responseFilters, f)
}

// FilterRequest runs the request filters in order. The first filter that
// returns a completion stops the chain; body rewrites accumulate across
// filters until then.
func (c *Chain) FilterRequest(requestID string, body []byte, header http.Header) ([]byte, string, error) {
	for _, f := range c.requestFilters {
		newBody, completion, err := f.FilterRequest(requestID, body, header)
		if err != nil {
			return body, "", err
		}
		if newBody != nil {
			body = newBody
		}
		if completion != "" {
			return body, completion, nil
		}
	}
	return body, "", nil
}

// FilterResponse runs the response filters in order; the first replacement
// wins and the remaining filters are skipped. The second return reports
// whether the body was replaced.
func (c *Chain) FilterResponse(requestID string, body []byte) ([]byte, bool, error) {
	for _, f := range c.responseFilters {
		newBody, err := f.FilterResponse(requestID, body)
		if err != nil {
			return body, false, err
		}
		if newBody != nil {
			return newBody, true, nil
		}
	}
	return body, false, nil
}
