package intent

import (
	"github.com/rodcar/agentic-software-factory/internal/document"
)

// Action is the classified meaning of a user message.
type Action string

const (
	// ActionApprove accepts both artifacts and terminates the cycle.
	ActionApprove Action = "approve"
	// ActionRevise requests a new version of one document.
	ActionRevise Action = "revise"
	// ActionNewIdea starts a fresh drafting pass.
	ActionNewIdea Action = "new_idea"
)

// Input carries the message and the session state the rules depend on.
type Input struct {
	// Text is the raw user message.
	Text string

	// AwaitingFeedback is true when the session is waiting on the user;
	// in any other phase the message is draft material (ActionNewIdea).
	AwaitingFeedback bool

	// LastTouched is the document most recently produced or reviewed,
	// used as the conservative default revision target.
	LastTouched document.Kind
}

// Classification is the classifier verdict.
type Classification struct {
	// Action is the classified action.
	Action Action

	// Target is the document to revise; set only for ActionRevise.
	Target document.Kind

	// Ambiguous is true when the conservative default was applied and the
	// choice should be surfaced to the user for confirmation.
	Ambiguous bool
}
