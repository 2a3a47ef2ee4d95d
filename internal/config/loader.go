package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// envAliases maps flat environment names onto nested config keys. These are
// the variables a deployment sets without knowing the section layout.
var envAliases = map[string]string{
	"BACKEND":               "agents.backend",
	"MODEL_DEPLOYMENT_NAME": "agents.model_deployment_name",
	"MODEL_ID":              "agents.model_id",
	"API_KEY":               "agents.api_key",
	"ENDPOINT":              "agents.endpoint",
	"API_VERSION":           "agents.api_version",
	"SESSION_IDLE_TIMEOUT":  "session.idle_timeout",
}

// Load loads configuration from the default file path, honoring the
// SPECFACTORY_CONFIG override.
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv("SPECFACTORY_CONFIG"))
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, NATS_URL, API_KEY, ...)
//  2. YAML config file (~/.config/specfactory/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path is used.
//
// # Security Considerations
//
// The configuration file must have 0600 or 0400 permissions; world- or
// group-readable files are rejected because the file may carry credentials.
// Only files under ~/.config/specfactory/ or /etc/specfactory/ can be
// loaded, and files over 1MB are rejected.
//
// # Environment Variable Mapping
//
// Environment variables are uppercased with an underscore between the
// section and the field name:
//
//	SERVER_HTTP_PORT     -> server.http_port
//	SESSION_IDLE_TIMEOUT -> session.idle_timeout
//	ARCHIVE_BACKEND      -> archive.backend
//
// The flat names BACKEND, MODEL_DEPLOYMENT_NAME, MODEL_ID, API_KEY,
// ENDPOINT and API_VERSION alias into the agents section.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "specfactory", "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// TOCTOU race between stat and read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.resolveBackend()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransform maps an environment variable name onto a config key.
// Aliased flat names resolve first; everything else splits on the first
// underscore into section.field_name:
//
//	SERVER_HTTP_PORT -> server.http_port
//	NATS_URL         -> nats.url
//	QDRANT_HOST      -> qdrant.host
func envTransform(s string) string {
	if key, ok := envAliases[s]; ok {
		return key
	}

	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates the specfactory config directory if it doesn't
// exist. Called during startup so new users have the directory ready. The
// directory is created with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "specfactory")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks that path is in an allowed directory.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link cannot escape the allowed directories.
	// If evaluation fails the path may simply not exist yet.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "specfactory"),
		"/etc/specfactory",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			allowed = true
			break
		}
	}

	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/specfactory/ or /etc/specfactory/")
	}

	return nil
}

// validateConfigFileProperties checks file permissions and size. Takes
// FileInfo from an already-opened descriptor to avoid a TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// The file may carry credentials; require 0600 or 0400.
	// Skip on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// resolveBackend applies the azure to openai fallback: when the azure
// backend is selected but its credentials are incomplete and an API key is
// present, the openai backend is used instead and a warning is recorded.
// Without an API key validation fails as usual.
func (c *Config) resolveBackend() {
	if c.Agents.Backend != backendAzure {
		return
	}

	var missing []string
	if c.Agents.Endpoint == "" {
		missing = append(missing, "ENDPOINT")
	}
	if c.Agents.ModelDeploymentName == "" {
		missing = append(missing, "MODEL_DEPLOYMENT_NAME")
	}
	if len(missing) == 0 || !c.Agents.APIKey.IsSet() {
		return
	}

	c.Agents.Backend = backendOpenAI
	c.warnings = append(c.warnings,
		fmt.Sprintf("azure credentials incomplete (missing %s); falling back to the openai backend",
			strings.Join(missing, ", ")))
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Agents.Backend == "" {
		cfg.Agents.Backend = backendAzure
	}
	if cfg.Agents.ModelID == "" {
		cfg.Agents.ModelID = "gpt-4"
	}
	if cfg.Agents.APIVersion == "" {
		cfg.Agents.APIVersion = "2024-02-01"
	}
	if cfg.Agents.Timeout == 0 {
		cfg.Agents.Timeout = Duration(60 * time.Second)
	}
	if cfg.Agents.MaxRetries == 0 {
		cfg.Agents.MaxRetries = 3
	}
	if cfg.Agents.BaseBackoff == 0 {
		cfg.Agents.BaseBackoff = Duration(time.Second)
	}
	if cfg.Agents.RequestsPerMinute == 0 {
		cfg.Agents.RequestsPerMinute = 50
	}
	if cfg.Agents.Burst == 0 {
		cfg.Agents.Burst = 5
	}
	if cfg.Agents.Temperature == 0 {
		cfg.Agents.Temperature = 0.3
	}

	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = Duration(30 * time.Minute)
	}
	if cfg.Session.ReapInterval == 0 {
		cfg.Session.ReapInterval = Duration(time.Minute)
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 1000
	}
	if cfg.Session.HookTimeout == 0 {
		cfg.Session.HookTimeout = Duration(time.Minute)
	}

	if cfg.Jobs.CodeAgent == "" {
		cfg.Jobs.CodeAgent = "claude-code"
	}
	if cfg.Jobs.Timeout == 0 {
		cfg.Jobs.Timeout = Duration(2 * time.Minute)
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "sessions"
	}

	// Archive defaults (chromem is the default: embedded, no external deps)
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = "chromem"
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = "~/.config/specfactory/archive"
	}
	if cfg.Archive.Collection == "" {
		cfg.Archive.Collection = "approved_artifacts"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 1536 // text-embedding-3-small dimensions
	}

	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "text-embedding-3-small"
	}

	if cfg.Secrets.RedactionString == "" {
		cfg.Secrets.RedactionString = "[REDACTED]"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "specfactory"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}
