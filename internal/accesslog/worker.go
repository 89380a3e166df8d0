package accesslog

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aiproxyhq/aiproxy/internal/adapters"
	"github.com/aiproxyhq/aiproxy/internal/monitoring"
	"github.com/aiproxyhq/aiproxy/internal/queue"
)

const drainBatchSize = 256

// WorkerConfig tunes the drain loop.
type WorkerConfig struct {
	// PollInterval paces the drain loop.
	PollInterval time.Duration
	// ChunkTTL evicts stream chunk buffers whose terminal item never
	// arrived (client disconnect, upstream hang).
	ChunkTTL time.Duration
}

// chunkBuffer accumulates non-terminal stream chunks for one request until
// its terminal item arrives.
type chunkBuffer struct {
	service  string
	chunks   []string
	lastSeen time.Time
}

// TailEvent is the summary broadcast to live tail subscribers per written
// record.
type TailEvent struct {
	RequestID  string `json:"request_id"`
	Direction  string `json:"direction"`
	Service    string `json:"service"`
	Model      string `json:"model"`
	StatusCode int    `json:"status_code"`
	Content    string `json:"content"`
}

// Worker is the single consumer of the log queue and the only writer to the
// store. The chunk buffer map is owned exclusively by the worker goroutine;
// no locking is needed anywhere in this file.
type Worker struct {
	queue    queue.Channel
	storage  Storage
	registry *adapters.Registry
	metrics  *monitoring.Metrics
	tail     *monitoring.Tail

	pollInterval time.Duration
	chunkTTL     time.Duration

	buffers   map[string]*chunkBuffer
	lastSweep time.Time
	done      chan struct{}
}

// NewWorker creates a worker. tail may be nil.
func NewWorker(q queue.Channel, storage Storage, registry *adapters.Registry, metrics *monitoring.Metrics, tail *monitoring.Tail, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ChunkTTL <= 0 {
		cfg.ChunkTTL = 10 * time.Minute
	}
	return &Worker{
		queue:        q,
		storage:      storage,
		registry:     registry,
		metrics:      metrics,
		tail:         tail,
		pollInterval: cfg.PollInterval,
		chunkTTL:     cfg.ChunkTTL,
		buffers:      make(map[string]*chunkBuffer),
		lastSweep:    time.Now(),
		done:         make(chan struct{}),
	}
}

// Run drains the queue until a ShutdownItem arrives or the context ends.
// A final drain on shutdown flushes items enqueued just before stop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	log.Info().Dur("poll_interval", w.pollInterval).Msg("access log worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain(context.Background())
			log.Info().Msg("access log worker stopped by context")
			return
		case <-ticker.C:
			if stopped := w.drain(ctx); stopped {
				log.Info().Msg("access log worker stopped by shutdown item")
				return
			}
			w.sweep()
		}
	}
}

// Done is closed when the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// drain processes every currently available item. The storage session is
// acquired lazily: a batch of pure non-terminal chunks opens no connection.
// Returns true when a ShutdownItem was seen; the rest of the batch is still
// processed first.
func (w *Worker) drain(ctx context.Context) bool {
	items, err := w.queue.Get(ctx, drainBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to drain log queue")
		return false
	}
	if len(items) == 0 {
		return false
	}
	w.metrics.RecordDrain(len(items))

	var session StorageSession
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close storage session")
			}
		}
	}()

	stopped := false
	for _, item := range items {
		if _, ok := item.(*ShutdownItem); ok {
			stopped = true
			continue
		}

		record, service, ok := w.toRecord(item)
		if !ok {
			continue
		}
		if record == nil {
			// Non-terminal stream chunk, buffered only.
			continue
		}

		if session == nil {
			session, err = w.storage.OpenSession(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to open storage session")
				w.logItemFallback(item)
				w.metrics.RecordWriteFailure()
				session = nil
				continue
			}
		}

		if err := session.Write(ctx, record); err != nil {
			log.Error().Err(err).
				Str("request_id", record.RequestID).
				Str("direction", record.Direction).
				Msg("failed to write access log record")
			w.logItemFallback(item)
			w.metrics.RecordWriteFailure()
			continue
		}

		w.metrics.RecordWrite(record.Direction)
		if w.tail != nil {
			w.tail.Broadcast(TailEvent{
				RequestID:  record.RequestID,
				Direction:  record.Direction,
				Service:    service,
				Model:      record.Model,
				StatusCode: record.StatusCode,
				Content:    record.Content,
			})
		}
	}
	return stopped
}

// toRecord converts one item. The third return is false when conversion
// failed (already logged); a nil record with ok=true means nothing to write.
func (w *Worker) toRecord(item queue.Item) (*Record, string, bool) {
	switch it := item.(type) {
	case *RequestItem:
		return w.requestRecord(it), it.Service, true

	case *ResponseItem:
		return w.responseRecord(it), it.Service, true

	case *ErrorItem:
		return w.errorRecord(it), it.Service, true

	case *StreamChunkItem:
		if !it.Terminal {
			buf := w.buffers[it.RequestID]
			if buf == nil {
				buf = &chunkBuffer{service: it.Service}
				w.buffers[it.RequestID] = buf
			}
			buf.chunks = append(buf.chunks, it.Content)
			buf.lastSeen = time.Now()
			return nil, it.Service, true
		}
		record, err := w.streamRecord(it)
		if err != nil {
			log.Error().Err(err).
				Str("request_id", it.RequestID).
				Msg("failed to reassemble stream for access log")
			w.logItemFallback(item)
			w.metrics.RecordWriteFailure()
			return nil, it.Service, false
		}
		return record, it.Service, true

	default:
		log.Error().Str("kind", item.Kind()).Msg("unknown log item kind")
		return nil, "", false
	}
}

func (w *Worker) requestRecord(it *RequestItem) *Record {
	record := &Record{
		RequestID:  it.RequestID,
		CreatedAt:  it.CreatedAt,
		Direction:  DirectionRequest,
		RawBody:    it.Body,
		RawHeaders: HeadersJSON(it.Header),
		Model:      it.Model,
	}
	if adapter := w.registry.Get(it.Service); adapter != nil && !it.Raw {
		fields := adapter.RequestFields([]byte(it.Body), adapters.RequestTraits{Stream: it.Stream, Model: it.Model})
		record.Content = fields.Content
		if fields.Model != "" {
			record.Model = fields.Model
		}
	}
	return record
}

func (w *Worker) responseRecord(it *ResponseItem) *Record {
	record := &Record{
		RequestID:           it.RequestID,
		CreatedAt:           it.CreatedAt,
		Direction:           DirectionResponse,
		StatusCode:          it.StatusCode,
		RawBody:             it.Body,
		RawHeaders:          HeadersJSON(it.Header),
		Model:               it.Model,
		RequestTime:         it.Duration,
		RequestTimeUpstream: it.DurationUpstream,
	}
	if adapter := w.registry.Get(it.Service); adapter != nil && !it.Raw {
		fields := adapter.ResponseFields([]byte(it.Body), it.Header)
		record.Content = fields.Content
		record.FunctionCall = fields.FunctionCall
		record.ToolCalls = fields.ToolCalls
		record.PromptTokens = fields.PromptTokens
		record.CompletionTokens = fields.CompletionTokens
		if fields.Model != "" {
			record.Model = fields.Model
		}
	}
	return record
}

func (w *Worker) errorRecord(it *ErrorItem) *Record {
	return &Record{
		RequestID:   it.RequestID,
		CreatedAt:   it.CreatedAt,
		Direction:   DirectionError,
		StatusCode:  it.StatusCode,
		Content:     it.Message,
		RawBody:     it.Body,
		RawHeaders:  HeadersJSON(it.Header),
		RequestTime: it.Duration,
		Extra:       marshalExtra(map[string]string{"error_type": it.ErrorType}),
	}
}

// streamRecord reassembles a completed stream into one response record. The
// chunks are the buffered per-chunk payloads when the provider enqueued them
// individually, otherwise the terminal item's full raw text.
func (w *Worker) streamRecord(it *StreamChunkItem) (*Record, error) {
	var chunks []string
	if buf := w.buffers[it.RequestID]; buf != nil {
		chunks = buf.chunks
		delete(w.buffers, it.RequestID)
	}
	if len(chunks) == 0 && it.Content != "" {
		chunks = []string{it.Content}
	}

	record := &Record{
		RequestID:           it.RequestID,
		CreatedAt:           it.CreatedAt,
		Direction:           DirectionResponse,
		StatusCode:          it.StatusCode,
		RawHeaders:          HeadersJSON(it.Header),
		Model:               it.Model,
		RequestTime:         it.Duration,
		RequestTimeUpstream: it.DurationUpstream,
	}
	for _, chunk := range chunks {
		record.RawBody += chunk
	}

	adapter := w.registry.Get(it.Service)
	if adapter == nil {
		return record, nil
	}
	fields, err := adapter.StreamFields(chunks, []byte(it.RequestBody), headerOrEmpty(it.Header), adapters.RequestTraits{Stream: true, Model: it.Model})
	if err != nil {
		return nil, err
	}

	record.Content = fields.Content
	record.FunctionCall = fields.FunctionCall
	record.ToolCalls = fields.ToolCalls
	record.PromptTokens = fields.PromptTokens
	record.CompletionTokens = fields.CompletionTokens
	if fields.Model != "" {
		record.Model = fields.Model
	}
	if fields.IsError {
		record.Direction = DirectionError
	}
	return record, nil
}

// sweep evicts chunk buffers whose stream never terminated. It runs inline
// in the worker goroutine so the buffer map stays single-owner.
func (w *Worker) sweep() {
	if time.Since(w.lastSweep) < w.chunkTTL/2 {
		return
	}
	w.lastSweep = time.Now()

	for requestID, buf := range w.buffers {
		if time.Since(buf.lastSeen) < w.chunkTTL {
			continue
		}
		log.Warn().
			Str("request_id", requestID).
			Str("service", buf.service).
			Int("chunks", len(buf.chunks)).
			Msg("evicting abandoned stream chunk buffer")
		delete(w.buffers, requestID)
	}
}

// logItemFallback records the serialized item in the operational log so no
// information is silently dropped when storage fails.
func (w *Worker) logItemFallback(item queue.Item) {
	data, err := json.Marshal(item)
	if err != nil {
		log.Error().Str("kind", item.Kind()).Msg("failed to serialize log item for fallback")
		return
	}
	log.Error().
		Str("kind", item.Kind()).
		RawJSON("item", data).
		Msg("access log item not persisted")
}

func marshalExtra(extra map[string]string) string {
	data, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(data)
}

func headerOrEmpty(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h
}
