// Package main is the entry point for the aiproxy server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/aiproxyhq/aiproxy/internal/accesslog"
	"github.com/aiproxyhq/aiproxy/internal/adapters"
	"github.com/aiproxyhq/aiproxy/internal/config"
	"github.com/aiproxyhq/aiproxy/internal/filters"
	"github.com/aiproxyhq/aiproxy/internal/gateway"
	"github.com/aiproxyhq/aiproxy/internal/monitoring"
	"github.com/aiproxyhq/aiproxy/internal/queue"
)

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "aiproxy", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override.
	_ = godotenv.Load()
}

func main() {
	loadEnvFiles()

	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	monitoring.Global(cfg.Logging)
	logger := monitoring.New(cfg.Logging)

	registry := adapters.NewRegistry()
	registerProviders(registry, cfg.Providers)
	if len(registry.Names()) == 0 {
		log.Warn().Msg("no providers configured, only /healthz and /metrics will respond")
	}

	logQueue, err := newLogQueue(cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create log queue")
	}

	storage, err := accesslog.NewSQLiteStorage(cfg.AccessLog.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open access log storage")
	}

	metrics := monitoring.NewMetrics()
	tail := monitoring.NewTail()
	chain := filters.NewChain()

	worker := accesslog.NewWorker(logQueue, storage, registry, metrics, tail, accesslog.WorkerConfig{
		PollInterval: cfg.Queue.PollInterval,
		ChunkTTL:     cfg.AccessLog.ChunkTTL,
	})
	workerCtx, workerCancel := context.WithCancel(context.Background())
	go worker.Run(workerCtx)

	pruner := accesslog.NewPruner(storage, cfg.AccessLog.RetentionDays, cfg.AccessLog.PruneSchedule)
	if err := pruner.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule access log pruning")
	}

	gw := gateway.New(cfg, registry, chain, logQueue, metrics, tail, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway error")
	}

	// Server stopped: flush the log queue before exiting so the last requests
	// still land in the store.
	if err := logQueue.Put(context.Background(), accesslog.NewShutdownItem()); err != nil {
		log.Error().Err(err).Msg("failed to enqueue shutdown item")
		workerCancel()
	}
	select {
	case <-worker.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("access log worker did not stop in time")
		workerCancel()
	}
	workerCancel()

	pruner.Stop()
	tail.Close()
	if err := logQueue.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close log queue")
	}
	if err := storage.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close access log storage")
	}

	log.Info().Msg("aiproxy stopped")
}

// loadConfig reads the config file, falling back to defaults when no path is
// given and no file exists at the default location.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, candidate := range []string{"configs/aiproxy.yaml", "aiproxy.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return config.Load(candidate)
		}
	}
	log.Info().Msg("no config file found, using defaults")
	return config.Default(), nil
}

// registerProviders registers an adapter for every provider with credentials.
func registerProviders(registry *adapters.Registry, providers config.ProvidersConfig) {
	if providers.OpenAI.APIKey != "" {
		registry.Register(adapters.NewOpenAIAdapter(providers.OpenAI.APIKey, providers.OpenAI.APIBase))
	}
	if providers.Azure.APIKey != "" {
		registry.Register(adapters.NewAzureOpenAIAdapter(
			providers.Azure.APIKey,
			providers.Azure.ResourceName,
			providers.Azure.DeploymentID,
			providers.Azure.APIVersion,
		))
	}
	if providers.Anthropic.APIKey != "" {
		registry.Register(adapters.NewAnthropicAdapter(providers.Anthropic.APIKey, providers.Anthropic.APIBase))
	}
	if providers.Gemini.APIKey != "" {
		registry.Register(adapters.NewGeminiAdapter(providers.Gemini.APIKey, providers.Gemini.APIBase))
	}
	if providers.Bedrock.Region != "" {
		signer := adapters.NewBedrockSigner(
			providers.Bedrock.Region,
			providers.Bedrock.AccessKeyID,
			providers.Bedrock.SecretAccessKey,
		)
		if signer.IsConfigured() {
			registry.Register(adapters.NewBedrockAdapter(signer))
		} else {
			log.Warn().Msg("bedrock region set but no credentials found, skipping")
		}
	}
	log.Info().Strs("services", registry.Names()).Msg("providers registered")
}

// newLogQueue creates the configured queue backend. The codec is only needed
// by serializing backends.
func newLogQueue(cfg config.QueueConfig) (queue.Channel, error) {
	switch cfg.Backend {
	case "nats":
		codec := queue.NewCodec()
		accesslog.RegisterItems(codec)
		return queue.NewNATS(queue.NATSConfig{
			URL:     cfg.NATS.URL,
			Stream:  cfg.NATS.Stream,
			Subject: cfg.NATS.Subject,
			Durable: cfg.NATS.Durable,
		}, codec)
	default:
		return queue.NewMemory(), nil
	}
}
