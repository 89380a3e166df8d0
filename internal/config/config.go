// Package config loads and validates the proxy configuration.
//
// DESIGN: Configuration comes from a single YAML file with ${VAR:-default}
// environment expansion, so credentials never have to live in the file itself.
// Missing optional sections fall back to defaults suitable for local use
// (in-memory queue, sqlite file next to the binary).
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aiproxyhq/aiproxy/internal/monitoring"
)

// Config is the root configuration for the proxy.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Upstream  UpstreamConfig          `yaml:"upstream"`
	Providers ProvidersConfig         `yaml:"providers"`
	AccessLog AccessLogConfig         `yaml:"accesslog"`
	Queue     QueueConfig             `yaml:"queue"`
	Logging   monitoring.LoggerConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig contains settings for calls to provider APIs.
type UpstreamConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ProvidersConfig holds per-provider credential material. A provider with an
// empty config is simply not registered.
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Azure     AzureConfig     `yaml:"azure"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
}

// OpenAIConfig configures the OpenAI chat completion upstream.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"` // default https://api.openai.com/v1
}

// AzureConfig configures the Azure OpenAI Service upstream.
type AzureConfig struct {
	APIKey       string `yaml:"api_key"`
	ResourceName string `yaml:"resource_name"`
	DeploymentID string `yaml:"deployment_id"`
	APIVersion   string `yaml:"api_version"`
}

// AnthropicConfig configures the Anthropic messages upstream.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"` // default https://api.anthropic.com
}

// GeminiConfig configures the Google AI Studio Gemini upstream.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"` // default https://generativelanguage.googleapis.com
}

// BedrockConfig configures the AWS Bedrock runtime upstream. Static keys are
// optional; the default AWS credential chain is used when they are empty.
type BedrockConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// AccessLogConfig contains access log storage settings.
type AccessLogConfig struct {
	Database      string        `yaml:"database"`       // sqlite DSN, default aiproxy.db
	RetentionDays int           `yaml:"retention_days"` // 0 disables pruning
	PruneSchedule string        `yaml:"prune_schedule"` // cron spec, default hourly
	ChunkTTL      time.Duration `yaml:"chunk_ttl"`      // eviction age for abandoned stream buffers
}

// QueueConfig selects the log queue backend.
type QueueConfig struct {
	Backend      string        `yaml:"backend"` // memory (default) or nats
	PollInterval time.Duration `yaml:"poll_interval"`
	NATS         NATSConfig    `yaml:"nats"`
}

// NATSConfig contains connection parameters for the NATS JetStream backend.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`
}

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default} references.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, applies defaults
// and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// providers configured. Used by tests and as a base for flag overrides.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// Streaming responses can be long-lived; the write timeout bounds a
		// single response write, not the whole stream.
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 60 * time.Second
	}
	if c.AccessLog.Database == "" {
		c.AccessLog.Database = "aiproxy.db"
	}
	if c.AccessLog.PruneSchedule == "" {
		c.AccessLog.PruneSchedule = "@hourly"
	}
	if c.AccessLog.ChunkTTL == 0 {
		c.AccessLog.ChunkTTL = 10 * time.Minute
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 500 * time.Millisecond
	}
	if c.Queue.NATS.Stream == "" {
		c.Queue.NATS.Stream = "AIPROXY_LOGS"
	}
	if c.Queue.NATS.Subject == "" {
		c.Queue.NATS.Subject = "aiproxy.accesslog"
	}
	if c.Queue.NATS.Durable == "" {
		c.Queue.NATS.Durable = "accesslog-worker"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Queue.Backend {
	case "memory":
	case "nats":
		if c.Queue.NATS.URL == "" {
			return fmt.Errorf("queue.nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("queue.backend must be 'memory' or 'nats', got %q", c.Queue.Backend)
	}
	if c.AccessLog.RetentionDays < 0 {
		return fmt.Errorf("accesslog.retention_days must not be negative")
	}
	azure := c.Providers.Azure
	if azure.APIKey != "" && (azure.ResourceName == "" || azure.DeploymentID == "" || azure.APIVersion == "") {
		return fmt.Errorf("providers.azure requires resource_name, deployment_id and api_version")
	}
	return nil
}
