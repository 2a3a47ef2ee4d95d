package secrets

import "time"

// Result contains the outcome of one scrub pass over a piece of text.
type Result struct {
	// Scrubbed is the text with detected secrets replaced
	Scrubbed string `json:"scrubbed"`

	// Findings lists what was detected, without the secret values
	Findings []Finding `json:"findings,omitempty"`

	// ByRule maps rule IDs to match counts
	ByRule map[string]int `json:"by_rule,omitempty"`

	// Duration is how long the pass took
	Duration time.Duration `json:"duration"`
}

// Finding describes a detected secret. The matched value is never stored;
// Preview keeps only the first few characters for audit purposes.
type Finding struct {
	// RuleID identifies which detection rule matched
	RuleID string `json:"rule_id"`

	// Description explains what was found
	Description string `json:"description"`

	// Line is the 1-indexed line number in the original text
	Line int `json:"line,omitempty"`

	// Preview holds at most the first four characters of the match
	Preview string `json:"preview,omitempty"`
}

// HasFindings returns true if any secrets were detected.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the unique rule IDs that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	return ids
}

// Summary returns a brief description of the pass for log lines.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	return "secrets redacted"
}
