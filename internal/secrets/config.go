package secrets

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool `koanf:"enabled"`

	// RedactionString is the replacement for detected secrets (default: "[REDACTED]")
	RedactionString string `koanf:"redaction_string"`

	// AllowlistPath points at an optional TOML allowlist file whose patterns
	// are excluded from detection. A missing file is ignored.
	AllowlistPath string `koanf:"allowlist_path"`
}

// DefaultConfig returns a configuration with scrubbing enabled and the
// standard redaction marker.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
	}
}
