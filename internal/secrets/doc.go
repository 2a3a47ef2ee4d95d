// Package secrets detects and redacts credentials in user-supplied text.
//
// Every inbound session message passes through the scrubber before it reaches
// the message log or a model backend, so pasted API keys and tokens never land
// in stored transcripts, published events, or agent prompts. Detection uses
// the Gitleaks ruleset; a TOML allowlist can exclude known-safe patterns.
package secrets
