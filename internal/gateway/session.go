package gateway

import (
	"net/http"
	"time"

	"github.com/aiproxyhq/aiproxy/internal/adapters"
)

// Session is the per-request state, created at arrival and discarded once
// the response is sent and its log items are enqueued. It is owned by the
// handling goroutine for its whole lifetime: single writer, no locks.
type Session struct {
	RequestID string
	Service   string

	RequestBody   []byte
	RequestHeader http.Header
	RequestURL    string
	Traits        adapters.RequestTraits

	ResponseHeader http.Header
	StatusCode     int

	StartTime         time.Time
	StartTimeUpstream time.Time

	// Extra holds adapter-specific transient state.
	Extra map[string]string
}

func newSession(r *http.Request, requestID, service string, body []byte) *Session {
	now := time.Now()
	return &Session{
		RequestID:         requestID,
		Service:           service,
		RequestBody:       body,
		RequestHeader:     r.Header.Clone(),
		RequestURL:        r.URL.String(),
		StartTime:         now,
		StartTimeUpstream: now,
		Extra:             make(map[string]string),
	}
}

// MarkUpstreamStart stamps the moment the upstream call begins.
func (s *Session) MarkUpstreamStart() {
	s.StartTimeUpstream = time.Now()
}

// Duration is the client-observed elapsed time in seconds.
func (s *Session) Duration() float64 {
	return time.Since(s.StartTime).Seconds()
}

// DurationUpstream is the elapsed time of the upstream call in seconds.
func (s *Session) DurationUpstream() float64 {
	return s.DurationUpstreamElapsed().Seconds()
}

// DurationUpstreamElapsed is the upstream elapsed time as a time.Duration.
func (s *Session) DurationUpstreamElapsed() time.Duration {
	return time.Since(s.StartTimeUpstream)
}
