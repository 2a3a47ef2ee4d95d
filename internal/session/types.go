package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rodcar/agentic-software-factory/internal/document"
)

// Phase is a session's position in the orchestration loop.
type Phase string

const (
	// PhaseIdle is the initial phase, before any idea arrived.
	PhaseIdle Phase = "idle"
	// PhaseDraftingSpec is active while the drafter produces a spec.
	PhaseDraftingSpec Phase = "drafting_spec"
	// PhaseDraftingTestPlan is active while the test planner works.
	PhaseDraftingTestPlan Phase = "drafting_test_plan"
	// PhaseReviewing is active while the reviewer critiques.
	PhaseReviewing Phase = "reviewing"
	// PhaseAwaitingFeedback waits for the user's verdict.
	PhaseAwaitingFeedback Phase = "awaiting_feedback"
	// PhaseRevising is active while a targeted agent reworks a document.
	PhaseRevising Phase = "revising"
	// PhaseApproved is terminal for the current drafting cycle.
	PhaseApproved Phase = "approved"
)

// Terminal reports whether the phase ends the drafting cycle.
func (p Phase) Terminal() bool { return p == PhaseApproved }

// Author identifies who wrote a conversation message.
type Author string

const (
	AuthorUser        Author = "user"
	AuthorDrafter     Author = "drafter"
	AuthorTestPlanner Author = "test_planner"
	AuthorReviewer    Author = "reviewer"
	AuthorSystem      Author = "system"
)

// Message is one entry in a session's conversation log.
type Message struct {
	ID     string `json:"id"`
	Author Author `json:"author"`
	Text   string `json:"text"`

	// Reviewed is set on reviewer messages: the exact document versions
	// the feedback evaluated.
	Reviewed []document.Ref `json:"reviewed,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TurnResult is the outcome of processing one user message.
type TurnResult struct {
	SessionID string    `json:"session_id"`
	Phase     Phase     `json:"phase"`
	Replies   []Message `json:"replies"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID           string        `json:"id"`
	Phase        Phase         `json:"phase"`
	Idea         string        `json:"idea,omitempty"`
	LastTouched  document.Kind `json:"last_touched,omitempty"`
	Messages     []Message     `json:"messages"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// Approval describes a session that reached the terminal phase.
type Approval struct {
	SessionID  string           `json:"session_id"`
	Idea       string           `json:"idea"`
	Spec       document.Version `json:"functional_spec"`
	TestPlan   document.Version `json:"test_plan"`
	ApprovedAt time.Time        `json:"approved_at"`
}

// ApprovalHook receives terminal approvals. Hooks run on a background
// goroutine after the approval turn returns; failures are logged and
// never affect session state.
type ApprovalHook interface {
	SessionApproved(ctx context.Context, approval Approval) error
}

// EventSink receives session lifecycle events. Implementations must be
// cheap and non-blocking; publish errors stay inside the sink.
type EventSink interface {
	SessionEvent(ctx context.Context, sessionID, event string, payload any)
}

// Lifecycle event names passed to the EventSink.
const (
	EventCreated         = "created"
	EventVersionAppended = "version_appended"
	EventReviewCompleted = "review_completed"
	EventApproved        = "approved"
	EventClosed          = "closed"
)

// Scrubber redacts secrets from inbound user text before it reaches the
// message log or a model backend.
type Scrubber interface {
	Scrub(text string) (redacted string, findings int)
}

// session is the per-conversation state. turnMu serializes turns; mu
// guards the fields so snapshots can observe a turn in progress.
type session struct {
	id string

	turnMu sync.Mutex

	mu           sync.RWMutex
	phase        Phase
	idea         string
	lastTouched  document.Kind
	messages     []Message
	createdAt    time.Time
	lastActivity time.Time
	closed       bool
}

func newSession(id string) *session {
	now := time.Now()
	return &session{
		id:           id,
		phase:        PhaseIdle,
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *session) currentPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince(cutoff time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity.Before(cutoff)
}

func (s *session) setIdea(idea string) {
	s.mu.Lock()
	s.idea = idea
	s.mu.Unlock()
}

func (s *session) currentIdea() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idea
}

func (s *session) setLastTouched(kind document.Kind) {
	s.mu.Lock()
	s.lastTouched = kind
	s.mu.Unlock()
}

func (s *session) currentLastTouched() document.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTouched
}

// append records a message and returns it.
func (s *session) append(author Author, text string, reviewed []document.Ref) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Author:    author,
		Text:      text,
		Reviewed:  reviewed,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	return msg
}

func (s *session) snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)

	return &Snapshot{
		ID:           s.id,
		Phase:        s.phase,
		Idea:         s.idea,
		LastTouched:  s.lastTouched,
		Messages:     msgs,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}
