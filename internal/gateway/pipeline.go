// Request pipeline: chat proxying and raw passthrough.
//
// FLOW (chat):
//  1. Parse traits (stream mode, model) from the inbound request
//  2. Enqueue the request log item
//  3. Run request filters: rewrite, short-circuit, or reject
//  4. Forward upstream with credentials injected by the adapter
//  5. Buffered: run response filters, relay, enqueue the response item
//     Streaming: relay chunks as they arrive, enqueue the terminal item
//
// Every path out of the pipeline enqueues exactly one terminal log item
// (response, terminal stream chunk, or error) for the request ID.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aiproxyhq/aiproxy/internal/accesslog"
	"github.com/aiproxyhq/aiproxy/internal/adapters"
	"github.com/aiproxyhq/aiproxy/internal/filters"
	"github.com/aiproxyhq/aiproxy/internal/monitoring"
)

// Hop-by-hop and recomputed headers stripped before forwarding upstream.
var scrubbedRequestHeaders = []string{"Host", "Content-Length", "Accept-Encoding", "Connection"}

// Headers stripped from upstream responses: stale or invalidated by the
// proxy re-serializing the body.
var scrubbedResponseHeaders = []string{"Date", "Content-Length", "Content-Encoding", "Cache-Control"}

// serviceHandler dispatches a service-relative path to the chat pipeline or
// the raw passthrough.
func (g *Gateway) serviceHandler(adapter adapters.Adapter) http.Handler {
	prefix := "/" + adapter.Name()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, prefix)
		switch {
		case r.Method == http.MethodPost && adapter.ChatPath(path):
			g.handleChat(w, r, adapter)
		case adapter.SupportsPassthrough():
			g.handlePassthrough(w, r, adapter, path)
		default:
			writeJSONError(w, errTypeProxy, "resource not available through this proxy", http.StatusNotFound)
		}
	})
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request, adapter adapters.Adapter) {
	requestID := monitoring.RequestIDFromContext(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s := newSession(r, requestID, adapter.Name(), nil)
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, "failed to read request body")
		return
	}
	s := newSession(r, requestID, adapter.Name(), body)

	traits, err := adapter.ParseRequest(body, r.URL.String())
	if err != nil {
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("invalid request: %v", err))
		return
	}
	s.Traits = traits

	g.enqueue(r.Context(), accesslog.NewRequestItem(requestID, s.Service, traits.Model, traits.Stream, body, s.RequestHeader))

	filteredBody, completion, err := g.chain.FilterRequest(requestID, body, s.RequestHeader)
	if err != nil {
		var rej *filters.Rejection
		if errors.As(err, &rej) {
			g.failChat(w, s, errTypeRequestFilter, rej.StatusCode, rej.Message)
		} else {
			g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("request filter failed: %v", err))
		}
		return
	}
	s.RequestBody = filteredBody

	if completion != "" {
		g.respondFiltered(w, s, adapter, completion)
		return
	}

	scrubHeader(s.RequestHeader, scrubbedRequestHeaders)

	ctx := r.Context()
	if !traits.Stream {
		// Streams get no overall deadline: long generations are legitimate.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Upstream.Timeout)
		defer cancel()
	}

	upReq, err := adapter.ChatRequest(ctx, traits, s.RequestBody, s.RequestHeader)
	if err != nil {
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("failed to build upstream request: %v", err))
		return
	}

	g.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID: requestID,
		Service:   s.Service,
		TargetURL: upReq.URL.String(),
		Method:    upReq.Method,
		BodySize:  len(s.RequestBody),
		Stream:    traits.Stream,
	})

	s.MarkUpstreamStart()
	resp, err := g.client.Do(upReq)
	if err != nil {
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("upstream request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	s.StatusCode = resp.StatusCode
	s.ResponseHeader = scrubbedClone(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.relayUpstreamError(w, s, resp)
		return
	}

	if traits.Stream {
		g.streamResponse(w, s, adapter, resp)
	} else {
		g.bufferedResponse(w, s, adapter, resp)
	}
}

// failChat answers an error to the client and enqueues the matching terminal
// error item.
func (g *Gateway) failChat(w http.ResponseWriter, s *Session, errorType string, status int, message string) {
	g.enqueue(context.Background(), accesslog.NewErrorItem(s.RequestID, s.Service, errorType, message, status, nil, s.ResponseHeader, s.Duration()))
	writeJSONError(w, errorType, message, status)
	g.metrics.RecordRequest(s.Service, errorType)
}

// respondFiltered answers a request-filter short-circuit with a synthesized
// provider-shaped response. Upstream is never called.
func (g *Gateway) respondFiltered(w http.ResponseWriter, s *Session, adapter adapters.Adapter, completion string) {
	respBody := adapter.SynthesizeResponse(completion)

	if s.Traits.Stream {
		chunks := adapter.SynthesizeChunks(completion)
		if chunks == nil {
			// The provider's stream framing cannot be faked; the completion
			// comes back as a plain JSON error-shaped reply instead.
			g.enqueue(context.Background(), accesslog.NewResponseItem(s.RequestID, s.Service, "request_filter", http.StatusBadRequest, respBody, nil, s.Duration(), 0))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, `{"message":%q}`, completion)
			g.metrics.RecordRequest(s.Service, "filtered")
			return
		}

		g.enqueue(context.Background(), accesslog.NewResponseItem(s.RequestID, s.Service, "request_filter", http.StatusOK, respBody, nil, s.Duration(), 0))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = w.Write(chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
		g.metrics.RecordRequest(s.Service, "filtered")
		return
	}

	g.enqueue(context.Background(), accesslog.NewResponseItem(s.RequestID, s.Service, "request_filter", http.StatusOK, respBody, nil, s.Duration(), 0))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
	g.metrics.RecordRequest(s.Service, "filtered")
}

// relayUpstreamError passes a non-2xx upstream response through verbatim and
// records it as an error.
func (g *Gateway) relayUpstreamError(w http.ResponseWriter, s *Session, resp *http.Response) {
	g.metrics.RecordUpstreamLatency(s.Service, s.DurationUpstreamElapsed())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn().Err(err).Str("request_id", s.RequestID).Msg("failed to read upstream error body")
	}

	g.enqueue(context.Background(), accesslog.NewErrorItem(
		s.RequestID, s.Service, errTypeUpstream,
		fmt.Sprintf("upstream returned status %d", resp.StatusCode),
		resp.StatusCode, respBody, s.ResponseHeader, s.Duration(),
	))

	copyHeader(w.Header(), s.ResponseHeader)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
	g.metrics.RecordRequest(s.Service, errTypeUpstream)
}

// bufferedResponse reads the whole upstream body, runs response filters and
// relays the (possibly replaced) body to the client.
func (g *Gateway) bufferedResponse(w http.ResponseWriter, s *Session, adapter adapters.Adapter, resp *http.Response) {
	respBody, err := io.ReadAll(resp.Body)
	g.metrics.RecordUpstreamLatency(s.Service, s.DurationUpstreamElapsed())
	if err != nil {
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("failed to read upstream response: %v", err))
		return
	}

	finalBody, replaced, err := g.chain.FilterResponse(s.RequestID, respBody)
	if err != nil {
		var rej *filters.Rejection
		if errors.As(err, &rej) {
			g.failChat(w, s, errTypeResponseFilter, rej.StatusCode, rej.Message)
		} else {
			g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("response filter failed: %v", err))
		}
		return
	}
	if !replaced {
		finalBody = respBody
	}

	copyHeader(w.Header(), s.ResponseHeader)
	w.WriteHeader(s.StatusCode)
	_, _ = w.Write(finalBody)

	g.enqueue(context.Background(), accesslog.NewResponseItem(
		s.RequestID, s.Service, s.Traits.Model, s.StatusCode,
		finalBody, s.ResponseHeader, s.Duration(), s.DurationUpstream(),
	))
	g.metrics.RecordRequest(s.Service, "ok")
}

// streamResponse relays an event stream to the client as chunks arrive,
// accumulating the raw stream (or emitting per-chunk items for adapters that
// request it). The terminal item is enqueued from a defer so a client
// disconnect or upstream read error still closes the stream in the log.
func (g *Gateway) streamResponse(w http.ResponseWriter, s *Session, adapter adapters.Adapter, resp *http.Response) {
	copyHeader(w.Header(), s.ResponseHeader)
	w.WriteHeader(s.StatusCode)
	flusher, _ := w.(http.Flusher)

	perChunk := adapter.PerChunkItems()
	var raw strings.Builder

	defer func() {
		g.metrics.RecordUpstreamLatency(s.Service, s.DurationUpstreamElapsed())
		content := ""
		if !perChunk {
			content = raw.String()
		}
		g.enqueue(context.Background(), accesslog.NewTerminalStreamChunkItem(
			s.RequestID, s.Service, s.Traits.Model, content,
			s.RequestBody, s.ResponseHeader, s.StatusCode,
			s.Duration(), s.DurationUpstream(),
		))
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			frame := buf[:n]
			if perChunk {
				for _, payload := range adapter.DecodeStreamChunk(frame) {
					g.enqueue(context.Background(), accesslog.NewStreamChunkItem(s.RequestID, s.Service, payload))
				}
			} else {
				raw.Write(frame)
			}
			if _, werr := w.Write(frame); werr != nil {
				log.Debug().Err(werr).Str("request_id", s.RequestID).Msg("client disconnected mid-stream")
				g.metrics.RecordRequest(s.Service, "client_disconnect")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			g.metrics.RecordStreamChunk()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("request_id", s.RequestID).Msg("upstream stream read failed")
			g.metrics.RecordRequest(s.Service, "stream_error")
			return
		}
	}
	g.metrics.RecordRequest(s.Service, "ok")
}

// handlePassthrough forwards a non-chat resource verbatim with credential
// injection. Bodies are logged raw, never content-parsed.
func (g *Gateway) handlePassthrough(w http.ResponseWriter, r *http.Request, adapter adapters.Adapter, path string) {
	requestID := monitoring.RequestIDFromContext(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s := newSession(r, requestID, adapter.Name(), nil)
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, "failed to read request body")
		return
	}
	s := newSession(r, requestID, adapter.Name(), body)

	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	item := accesslog.NewRequestItem(requestID, s.Service, path, false, body, s.RequestHeader)
	item.Raw = true
	g.enqueue(r.Context(), item)

	scrubHeader(s.RequestHeader, scrubbedRequestHeaders)

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Upstream.Timeout)
	defer cancel()

	upReq, err := adapter.PassthroughRequest(ctx, r.Method, path, body, s.RequestHeader)
	if err != nil {
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("failed to build upstream request: %v", err))
		return
	}

	g.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID: requestID,
		Service:   s.Service,
		TargetURL: upReq.URL.String(),
		Method:    upReq.Method,
		BodySize:  len(body),
	})

	s.MarkUpstreamStart()
	resp, err := g.client.Do(upReq)
	if err != nil {
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("upstream request failed: %v", err))
		return
	}
	defer resp.Body.Close()
	g.metrics.RecordUpstreamLatency(s.Service, s.DurationUpstreamElapsed())

	s.StatusCode = resp.StatusCode
	s.ResponseHeader = scrubbedClone(resp.Header)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.failChat(w, s, errTypeProxy, http.StatusBadGateway, fmt.Sprintf("failed to read upstream response: %v", err))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.enqueue(context.Background(), accesslog.NewErrorItem(
			s.RequestID, s.Service, errTypeUpstream,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode),
			resp.StatusCode, respBody, s.ResponseHeader, s.Duration(),
		))
		copyHeader(w.Header(), s.ResponseHeader)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)
		g.metrics.RecordRequest(s.Service, errTypeUpstream)
		return
	}

	copyHeader(w.Header(), s.ResponseHeader)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	respItem := accesslog.NewResponseItem(
		s.RequestID, s.Service, path, resp.StatusCode,
		respBody, s.ResponseHeader, s.Duration(), s.DurationUpstream(),
	)
	respItem.Raw = true
	g.enqueue(context.Background(), respItem)
	g.metrics.RecordRequest(s.Service, "ok")
}

func scrubHeader(h http.Header, keys []string) {
	for _, k := range keys {
		h.Del(k)
	}
}

func scrubbedClone(h http.Header) http.Header {
	c := h.Clone()
	scrubHeader(c, scrubbedResponseHeaders)
	return c
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
