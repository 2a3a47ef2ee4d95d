// Package config loads and validates the specfactory configuration.
//
// Configuration comes from an optional YAML file overridden by environment
// variables. Each section mirrors the package it configures; the daemon maps
// sections onto package configs at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for configuration failures.
var (
	// ErrInvalidConfig indicates a malformed or out-of-range option.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingCredentials indicates the model backend cannot be used.
	// Fatal at startup; no session processing begins.
	ErrMissingCredentials = errors.New("missing backend credentials")
)

// Backend identifiers accepted by the agents section.
const (
	backendAzure  = "azure"
	backendOpenAI = "openai"
)

// Config holds the complete specfactory configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Agents    AgentsConfig    `koanf:"agents"`
	Session   SessionConfig   `koanf:"session"`
	Jobs      JobsConfig      `koanf:"jobs"`
	NATS      NATSConfig      `koanf:"nats"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	Embedder  EmbedderConfig  `koanf:"embedder"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	warnings []string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// AgentsConfig holds model backend configuration for the agent adapter.
//
// The flat environment names BACKEND, MODEL_DEPLOYMENT_NAME, MODEL_ID,
// API_KEY, ENDPOINT and API_VERSION alias into this section.
type AgentsConfig struct {
	// Backend selects azure or openai. Defaults to azure; an incomplete
	// azure section falls back to openai when an API key is present.
	Backend string `koanf:"backend"`

	// ModelDeploymentName is the Azure deployment to call.
	ModelDeploymentName string `koanf:"model_deployment_name"`

	// ModelID is the model for the openai backend.
	ModelID string `koanf:"model_id"`

	APIKey Secret `koanf:"api_key"`

	// Endpoint is the Azure resource endpoint, or an optional base URL
	// override for the openai backend.
	Endpoint string `koanf:"endpoint"`

	APIVersion string `koanf:"api_version"`

	Timeout           Duration `koanf:"timeout"`
	MaxRetries        int      `koanf:"max_retries"`
	BaseBackoff       Duration `koanf:"base_backoff"`
	RequestsPerMinute float64  `koanf:"requests_per_minute"`
	Burst             int      `koanf:"burst"`
	Temperature       float64  `koanf:"temperature"`
	MaxTokens         int      `koanf:"max_tokens"`

	// TemplateDir overrides the embedded prompt templates when set.
	TemplateDir string `koanf:"template_dir"`
}

// Model returns the model identifier for the selected backend: the Azure
// deployment name, or the openai model id.
func (a AgentsConfig) Model() string {
	if a.Backend == backendAzure {
		return a.ModelDeploymentName
	}
	return a.ModelID
}

// SessionConfig holds session manager configuration.
type SessionConfig struct {
	IdleTimeout  Duration `koanf:"idle_timeout"`
	ReapInterval Duration `koanf:"reap_interval"`
	MaxSessions  int      `koanf:"max_sessions"`
	HookTimeout  Duration `koanf:"hook_timeout"`
}

// JobsConfig holds the downstream job-launch client configuration.
// An empty URL disables launching.
type JobsConfig struct {
	URL             string   `koanf:"url"`
	OrganizationURL string   `koanf:"organization_url"`
	CodeAgent       string   `koanf:"code_agent"`
	Token           Secret   `koanf:"token"`
	Timeout         Duration `koanf:"timeout"`
}

// NATSConfig holds the session event publisher configuration.
// An empty URL disables publishing.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ArchiveConfig selects and configures the approved-artifact store.
type ArchiveConfig struct {
	// Backend is chromem (embedded, default) or qdrant.
	Backend string `koanf:"backend"`

	// Path is the chromem persistence directory.
	Path string `koanf:"path"`

	// Compress gzips chromem documents on disk.
	Compress bool `koanf:"compress"`

	// Collection names the archive collection for either backend.
	Collection string `koanf:"collection"`
}

// QdrantConfig holds connection settings for the qdrant archive backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	VectorSize uint64 `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbedderConfig holds the archive embedding model configuration.
// With an empty APIKey the agents key is reused.
type EmbedderConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// SecretsConfig holds message scrubber configuration. The scrubber is on
// unless disabled.
type SecretsConfig struct {
	Disabled        bool   `koanf:"disabled"`
	RedactionString string `koanf:"redaction_string"`
	AllowlistPath   string `koanf:"allowlist_path"`
}

// LoggingConfig holds logger construction options.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// OTEL duplicates log records into the OTLP pipeline.
	OTEL bool `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry exporter configuration.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	ServiceName    string   `koanf:"service_name"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Warnings returns non-fatal observations recorded while loading, such as
// the azure to openai backend fallback. The daemon logs them at startup.
func (c *Config) Warnings() []string {
	return c.warnings
}

// Validate checks the configuration for errors. Missing model credentials
// are fatal; everything else must be in range.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server http_port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: server shutdown_timeout must be positive", ErrInvalidConfig)
	}

	switch c.Agents.Backend {
	case backendAzure:
		var missing []string
		if !c.Agents.APIKey.IsSet() {
			missing = append(missing, "API_KEY")
		}
		if c.Agents.Endpoint == "" {
			missing = append(missing, "ENDPOINT")
		}
		if c.Agents.ModelDeploymentName == "" {
			missing = append(missing, "MODEL_DEPLOYMENT_NAME")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: azure backend requires %s", ErrMissingCredentials, strings.Join(missing, ", "))
		}
	case backendOpenAI:
		if !c.Agents.APIKey.IsSet() {
			return fmt.Errorf("%w: API_KEY is not set", ErrMissingCredentials)
		}
		if c.Agents.ModelID == "" {
			return fmt.Errorf("%w: agents model_id is empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: agents backend must be azure or openai, got %q", ErrInvalidConfig, c.Agents.Backend)
	}
	if c.Agents.Timeout.Duration() <= 0 {
		return fmt.Errorf("%w: agents timeout must be positive", ErrInvalidConfig)
	}
	if c.Agents.MaxRetries < 0 {
		return fmt.Errorf("%w: agents max_retries cannot be negative", ErrInvalidConfig)
	}
	if c.Agents.RequestsPerMinute < 0 {
		return fmt.Errorf("%w: agents requests_per_minute cannot be negative", ErrInvalidConfig)
	}

	if c.Session.IdleTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: session idle_timeout must be positive", ErrInvalidConfig)
	}
	if c.Session.ReapInterval.Duration() <= 0 {
		return fmt.Errorf("%w: session reap_interval must be positive", ErrInvalidConfig)
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("%w: session max_sessions cannot be negative", ErrInvalidConfig)
	}

	if c.Jobs.URL != "" && c.Jobs.Timeout.Duration() <= 0 {
		return fmt.Errorf("%w: jobs timeout must be positive", ErrInvalidConfig)
	}

	switch c.Archive.Backend {
	case "chromem":
		if c.Archive.Path == "" {
			return fmt.Errorf("%w: archive path is empty", ErrInvalidConfig)
		}
	case "qdrant":
		if c.Qdrant.Host == "" {
			return fmt.Errorf("%w: qdrant host is empty", ErrInvalidConfig)
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: qdrant port %d out of range", ErrInvalidConfig, c.Qdrant.Port)
		}
	default:
		return fmt.Errorf("%w: archive backend must be chromem or qdrant, got %q", ErrInvalidConfig, c.Archive.Backend)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging level must be debug, info, warn or error, got %q", ErrInvalidConfig, c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging format must be json or console, got %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("%w: telemetry endpoint required when enabled", ErrInvalidConfig)
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("%w: telemetry protocol must be grpc or http, got %q", ErrInvalidConfig, c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("%w: telemetry sample_rate must be between 0 and 1", ErrInvalidConfig)
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("%w: telemetry service_name is empty", ErrInvalidConfig)
		}
	}

	return nil
}
