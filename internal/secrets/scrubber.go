package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/rodcar/agentic-software-factory/internal/session"
)

// Scrubber detects and redacts secrets in user-supplied text.
type Scrubber interface {
	// Redact scans text and returns the scrubbed text plus findings.
	Redact(text string) (*Result, error)

	// Scrub redacts text and reports the finding count. Detection errors
	// pass the text through unchanged.
	Scrub(text string) (redacted string, findings int)

	// IsEnabled returns whether scrubbing is active.
	IsEnabled() bool
}

// scrubber runs the Gitleaks ruleset over each piece of text. A fresh
// detector per call keeps concurrent session turns isolated.
type scrubber struct {
	cfg       *Config
	allowlist *Allowlist
}

// match is one raw detector hit with position information.
type match struct {
	ruleID      string
	description string
	line        int
	startCol    int
	endCol      int
	secret      string
}

// New creates a Scrubber. If cfg is nil, DefaultConfig() is used. The
// configured allowlist file is loaded once at construction.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}
	if cfg.RedactionString == "" {
		cfg.RedactionString = "[REDACTED]"
	}

	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load allowlist: %w", err)
	}

	// Fail fast so a broken ruleset surfaces at startup, not on the first
	// message.
	if _, err := detect.NewDetectorDefaultConfig(); err != nil {
		return nil, fmt.Errorf("failed to build secret detector: %w", err)
	}

	return &scrubber{
		cfg:       cfg,
		allowlist: allowlist,
	}, nil
}

// MustNew creates a Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Redact scans text with the Gitleaks default ruleset minus allowlisted
// patterns.
func (s *scrubber) Redact(text string) (*Result, error) {
	start := time.Now()
	result := &Result{
		Scrubbed: text,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	if text == "" {
		result.Duration = time.Since(start)
		return result, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build secret detector: %w", err)
	}
	applyAllowlist(&detector.Config, s.allowlist)

	raw := detector.DetectString(text)
	matches := make([]match, 0, len(raw))
	for _, f := range raw {
		matches = append(matches, match{
			ruleID:      f.RuleID,
			description: f.Description,
			line:        f.StartLine,
			startCol:    f.StartColumn,
			endCol:      f.EndColumn,
			secret:      f.Secret,
		})
	}

	for _, m := range matches {
		result.Findings = append(result.Findings, Finding{
			RuleID:      m.ruleID,
			Description: m.description,
			Line:        m.line,
			Preview:     preview(m.secret, 4),
		})
		result.ByRule[m.ruleID]++
	}

	if len(matches) > 0 {
		result.Scrubbed = redactMatches(text, matches, s.cfg.RedactionString)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Scrub redacts text and reports the finding count.
func (s *scrubber) Scrub(text string) (string, int) {
	result, err := s.Redact(text)
	if err != nil {
		return text, 0
	}
	return result.Scrubbed, len(result.Findings)
}

// IsEnabled returns whether scrubbing is active.
func (s *scrubber) IsEnabled() bool {
	return s.cfg.Enabled
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if allowlist == nil || len(allowlist.Regexes) == 0 {
		return
	}

	global := &gitleaksConfig.Allowlist{
		Description: "specfactory allowlist",
	}
	for _, pattern := range allowlist.Regexes {
		// Patterns are pre-validated in LoadAllowlist.
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}

// preview returns at most the first n characters of a matched secret.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// redactMatches replaces matched secrets with the redaction string, working
// backwards through the text so earlier positions stay valid.
func redactMatches(text string, matches []match, replacement string) string {
	sorted := make([]match, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].line != sorted[j].line {
			return sorted[i].line > sorted[j].line
		}
		return sorted[i].startCol > sorted[j].startCol
	})

	lines := strings.Split(text, "\n")
	for _, m := range sorted {
		if m.line < 1 || m.line > len(lines) {
			continue
		}
		line := lines[m.line-1]
		if m.startCol < 0 || m.endCol > len(line) || m.startCol > m.endCol {
			continue
		}
		lines[m.line-1] = line[:m.startCol] + replacement + line[m.endCol:]
	}
	return strings.Join(lines, "\n")
}

// NoopScrubber passes text through unchanged (disabled mode).
type NoopScrubber struct{}

// Redact returns the text unchanged.
func (n *NoopScrubber) Redact(text string) (*Result, error) {
	return &Result{
		Scrubbed: text,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}, nil
}

// Scrub returns the text unchanged.
func (n *NoopScrubber) Scrub(text string) (string, int) {
	return text, 0
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}

// Compile-time checks that both implementations satisfy the local interface
// and the session hook.
var (
	_ Scrubber         = (*scrubber)(nil)
	_ Scrubber         = (*NoopScrubber)(nil)
	_ session.Scrubber = (*scrubber)(nil)
	_ session.Scrubber = (*NoopScrubber)(nil)
)
