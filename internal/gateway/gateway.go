// Package gateway drives one proxied request end-to-end.
//
// DESIGN: The Gateway owns the HTTP server and the proxy pipeline. One
// goroutine per inbound request runs the whole pipeline: parse → log request
// → request filters → upstream call → stream or buffer back → log terminal
// item. Persistence is fully decoupled: every log event is enqueued on the
// log queue and the access log worker does the writing.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/aiproxyhq/aiproxy/internal/adapters"
	"github.com/aiproxyhq/aiproxy/internal/config"
	"github.com/aiproxyhq/aiproxy/internal/filters"
	"github.com/aiproxyhq/aiproxy/internal/monitoring"
	"github.com/aiproxyhq/aiproxy/internal/queue"
)

// Gateway is the HTTP front of the proxy.
type Gateway struct {
	cfg      *config.Config
	registry *adapters.Registry
	chain    *filters.Chain
	logQueue queue.Channel

	metrics       *monitoring.Metrics
	tail          *monitoring.Tail
	requestLogger *monitoring.RequestLogger

	client *http.Client
	server *http.Server
}

// New wires the gateway. tail may be nil.
func New(cfg *config.Config, registry *adapters.Registry, chain *filters.Chain, logQueue queue.Channel, metrics *monitoring.Metrics, tail *monitoring.Tail, logger *monitoring.Logger) *Gateway {
	g := &Gateway{
		cfg:           cfg,
		registry:      registry,
		chain:         chain,
		logQueue:      logQueue,
		metrics:       metrics,
		tail:          tail,
		requestLogger: monitoring.NewRequestLogger(logger),
		client: &http.Client{
			// The header timeout bounds the wait for the upstream to start
			// responding; stream bodies may then flow for much longer.
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.Upstream.Timeout,
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	if tail != nil {
		mux.HandleFunc("/tail", tail.Handler())
	}
	for _, name := range registry.Names() {
		mux.Handle("/"+name+"/", g.serviceHandler(registry.Get(name)))
	}

	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      g.panicRecovery(g.loggingMiddleware(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return g
}

// Start serves until Shutdown is called.
func (g *Gateway) Start() error {
	log.Info().
		Str("addr", g.server.Addr).
		Strs("services", g.registry.Names()).
		Msg("gateway listening")

	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

// enqueue puts a log item, never failing the request path.
func (g *Gateway) enqueue(ctx context.Context, item queue.Item) {
	if err := g.logQueue.Put(ctx, item); err != nil {
		log.Error().Err(err).Str("kind", item.Kind()).Msg("failed to enqueue log item")
	}
}
