package intent

import (
	"strings"

	"github.com/rodcar/agentic-software-factory/internal/document"
)

// Approval tokens. Single words match as whole tokens, multi-word entries
// as adjacent token sequences.
var approveTokens = []string{
	"approve", "approved", "accept", "accepted",
	"yes", "ok", "okay", "lgtm", "looks good",
}

// Revision keywords that veto an approval reading.
var approveBlockers = []string{"but", "except", "change"}

// Imperative verbs that express revision intent without naming a target.
var revisionVerbs = []string{
	"update", "change", "revise", "add", "remove", "fix", "improve", "make",
}

// Document target keywords.
var specTargets = []string{
	"spec", "specification", "functional spec", "functional specification",
}

var planTargets = []string{
	"test plan", "tests", "test cases", "testplan",
}

// Courtesy/greeting tokens; a message made only of these is not an idea.
var smallTalkTokens = map[string]bool{
	"hi": true, "hello": true, "hey": true, "howdy": true, "greetings": true,
	"thanks": true, "thank": true, "you": true, "please": true,
	"good": true, "morning": true, "afternoon": true, "evening": true,
	"help": true, "what": true, "can": true, "do": true,
}

// Classifier maps a user message plus session state to an Action.
// It holds no state; the same input always yields the same classification.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify applies the keyword rules in order: approval, explicit target,
// untargeted revision verb, new idea.
func (c *Classifier) Classify(in Input) Classification {
	if !in.AwaitingFeedback {
		return Classification{Action: ActionNewIdea}
	}

	tokens := normalize(in.Text)
	if len(tokens) == 0 {
		return Classification{Action: ActionNewIdea}
	}

	hasRevisionVerb := containsAnyToken(tokens, revisionVerbs)
	specHit := containsAnyPhrase(tokens, specTargets)
	planHit := containsAnyPhrase(tokens, planTargets)

	if containsAnyPhrase(tokens, approveTokens) &&
		!containsAnyToken(tokens, approveBlockers) &&
		!hasRevisionVerb && !specHit && !planHit {
		return Classification{Action: ActionApprove}
	}

	// Exactly one named target is an unambiguous revision request.
	if specHit != planHit {
		target := document.KindFunctionalSpec
		if planHit {
			target = document.KindTestPlan
		}
		return Classification{Action: ActionRevise, Target: target}
	}

	// Both targets named, or a bare revision verb: default to the most
	// recently touched document and flag the guess.
	if (specHit && planHit) || hasRevisionVerb {
		target := in.LastTouched
		if !target.Valid() {
			target = document.KindFunctionalSpec
		}
		return Classification{Action: ActionRevise, Target: target, Ambiguous: true}
	}

	return Classification{Action: ActionNewIdea}
}

// LooksLikeIdea reports whether a message carries enough substance to seed
// a drafting pass. Pure courtesy messages ("hi", "thanks", "help") do not.
func LooksLikeIdea(text string) bool {
	tokens := normalize(text)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !smallTalkTokens[tok] {
			return true
		}
	}
	return false
}

// normalize lowercases, strips punctuation, and splits into tokens.
func normalize(text string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// containsAnyToken reports whether any candidate appears as a whole token.
func containsAnyToken(tokens []string, candidates []string) bool {
	for _, c := range candidates {
		for _, tok := range tokens {
			if tok == c {
				return true
			}
		}
	}
	return false
}

// containsAnyPhrase reports whether any candidate appears as an adjacent
// token sequence. Single-word candidates degrade to a token match.
func containsAnyPhrase(tokens []string, candidates []string) bool {
	for _, c := range candidates {
		if matchPhrase(tokens, strings.Fields(c)) {
			return true
		}
	}
	return false
}

func matchPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(tokens) < len(phrase) {
		return false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, p := range phrase {
			if tokens[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
