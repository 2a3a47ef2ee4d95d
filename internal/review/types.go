package review

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rodcar/agentic-software-factory/internal/document"
)

// Feedback is the reviewer's critique of the current artifact versions.
// It is conversation content, not a document version.
type Feedback struct {
	// Text is the overall assessment.
	Text string `json:"text"`

	// Suggestions are actionable improvements, most important first.
	Suggestions []string `json:"suggestions,omitempty"`

	// Reviewed lists the exact versions the reviewer evaluated.
	Reviewed []document.Ref `json:"reviewed"`

	// CreatedAt is when the review completed.
	CreatedAt time.Time `json:"created_at"`
}

// Render formats the feedback for display in the conversation.
func (f *Feedback) Render() string {
	var b strings.Builder
	b.WriteString(f.Text)
	for i, s := range f.Suggestions {
		if i == 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, s))
	}
	return b.String()
}

// reviewerOutput is the JSON contract the reviewer agent is prompted for.
type reviewerOutput struct {
	ReviewFeedback string   `json:"review_feedback"`
	Suggestions    []string `json:"actionable_suggestions"`
}

// parseFeedback decodes the reviewer's response. Responses that are not
// valid JSON are kept verbatim as the assessment text.
func parseFeedback(raw string, maxSuggestions int) *Feedback {
	cleaned := stripCodeFence(raw)

	var out reviewerOutput
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil || out.ReviewFeedback == "" {
		return &Feedback{Text: strings.TrimSpace(raw)}
	}

	suggestions := make([]string, 0, len(out.Suggestions))
	for _, s := range out.Suggestions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		suggestions = append(suggestions, s)
	}
	if maxSuggestions > 0 && len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	return &Feedback{
		Text:        strings.TrimSpace(out.ReviewFeedback),
		Suggestions: suggestions,
	}
}

// stripCodeFence removes a surrounding markdown code fence, if present.
// Models frequently wrap JSON output in one despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	parts := strings.SplitN(s, "\n", 2)
	if len(parts) < 2 {
		return s
	}
	body := parts[1]
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
