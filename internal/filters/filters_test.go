package filters

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type requestFilterFunc func(requestID string, body []byte, header http.Header) ([]byte, string, error)

func (f requestFilterFunc) FilterRequest(requestID string, body []byte, header http.Header) ([]byte, string, error) {
	return f(requestID, body, header)
}

type responseFilterFunc func(requestID string, body []byte) ([]byte, error)

func (f responseFilterFunc) FilterResponse(requestID string, body []byte) ([]byte, error) {
	return f(requestID, body)
}

func TestReject_CoercesStatus(t *testing.T) {
	assert.Equal(t, 422, Reject(422, "bad").StatusCode)
	assert.Equal(t, http.StatusBadRequest, Reject(200, "bad").StatusCode)
	assert.Equal(t, http.StatusBadRequest, Reject(500, "bad").StatusCode)
}

func TestChain_RewritesAccumulate(t *testing.T) {
	chain := NewChain()
	chain.AddRequestFilter(requestFilterFunc(func(_ string, body []byte, _ http.Header) ([]byte, string, error) {
		return append(body, 'a'), "", nil
	}))
	chain.AddRequestFilter(requestFilterFunc(func(_ string, body []byte, _ http.Header) ([]byte, string, error) {
		return append(body, 'b'), "", nil
	}))

	body, completion, err := chain.FilterRequest("req-1", []byte("x"), http.Header{})
	require.NoError(t, err)
	assert.Empty(t, completion)
	assert.Equal(t, "xab", string(body))
}

func TestChain_CompletionShortCircuits(t *testing.T) {
	chain := NewChain()
	called := false
	chain.AddRequestFilter(requestFilterFunc(func(_ string, _ []byte, _ http.Header) ([]byte, string, error) {
		return nil, "canned reply", nil
	}))
	chain.AddRequestFilter(requestFilterFunc(func(_ string, body []byte, _ http.Header) ([]byte, string, error) {
		called = true
		return body, "", nil
	}))

	_, completion, err := chain.FilterRequest("req-1", []byte("{}"), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "canned reply", completion)
	assert.False(t, called, "filters after a completion must not run")
}

func TestChain_RejectionStopsChain(t *testing.T) {
	chain := NewChain()
	chain.AddRequestFilter(requestFilterFunc(func(_ string, _ []byte, _ http.Header) ([]byte, string, error) {
		return nil, "", Reject(422, "no prompts about cats")
	}))

	_, _, err := chain.FilterRequest("req-1", []byte("{}"), http.Header{})
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 422, rej.StatusCode)
	assert.Equal(t, "no prompts about cats", rej.Message)
}

func TestChain_WrappedRejectionUnwraps(t *testing.T) {
	chain := NewChain()
	chain.AddRequestFilter(requestFilterFunc(func(_ string, _ []byte, _ http.Header) ([]byte, string, error) {
		return nil, "", fmt.Errorf("policy check: %w", Reject(403, "denied"))
	}))

	_, _, err := chain.FilterRequest("req-1", []byte("{}"), http.Header{})
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 403, rej.StatusCode)
}

func TestChain_FilterResponse_FirstReplacementWins(t *testing.T) {
	chain := NewChain()
	chain.AddResponseFilter(responseFilterFunc(func(_ string, _ []byte) ([]byte, error) {
		return nil, nil
	}))
	chain.AddResponseFilter(responseFilterFunc(func(_ string, _ []byte) ([]byte, error) {
		return []byte("replaced"), nil
	}))
	skipped := false
	chain.AddResponseFilter(responseFilterFunc(func(_ string, body []byte) ([]byte, error) {
		skipped = true
		return body, nil
	}))

	body, replaced, err := chain.FilterResponse("req-1", []byte("original"))
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "replaced", string(body))
	assert.False(t, skipped)
}

func TestChain_FilterResponse_NoReplacement(t *testing.T) {
	chain := NewChain()
	chain.AddResponseFilter(responseFilterFunc(func(_ string, _ []byte) ([]byte, error) {
		return nil, nil
	}))

	body, replaced, err := chain.FilterResponse("req-1", []byte("original"))
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, "original", string(body))
}
