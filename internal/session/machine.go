package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/agents"
	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/export"
	"github.com/rodcar/agentic-software-factory/internal/intent"
)

const (
	helpText = "Tell me about the software you want to build and I will draft a " +
		"functional specification and a test plan for it."

	agentUnavailableText = "The agent backend is unavailable right now. Nothing was " +
		"changed; please send your message again to retry."

	frozenText = "This session is approved and its artifacts are final. Describe a " +
		"new idea to start another drafting pass."
)

// processTurn runs one user message through the state machine. The
// caller holds the session's turn lock.
func (m *manager) processTurn(ctx context.Context, s *session, text string) (*TurnResult, error) {
	if m.scrubber != nil {
		redacted, findings := m.scrubber.Scrub(text)
		if findings > 0 {
			m.logger.Warn("redacted secrets from user message",
				zap.String("session_id", s.id),
				zap.Int("findings", findings),
			)
			text = redacted
		}
	}

	s.append(AuthorUser, text, nil)

	entry := s.currentPhase()

	var (
		replies []Message
		err     error
	)
	switch entry {
	case PhaseIdle:
		replies, err = m.handleIdle(ctx, s, text)
	case PhaseAwaitingFeedback:
		replies, err = m.handleFeedback(ctx, s, text)
	case PhaseApproved:
		replies, err = m.handleApproved(ctx, s, text)
	default:
		// Mid-cycle phases never rest between turns.
		err = fmt.Errorf("%w: message in phase %s", ErrInvalidTransition, entry)
	}

	if err != nil {
		if errors.Is(err, agents.ErrAgentUnavailable) {
			// The turn failed mid-cycle: restore the resting phase so the
			// user can retry the same turn.
			s.setPhase(entry)
			m.logger.Warn("turn failed, phase restored",
				zap.String("session_id", s.id),
				zap.String("phase", string(entry)),
				zap.Error(err),
			)
			msg := s.append(AuthorSystem, agentUnavailableText, nil)
			return &TurnResult{SessionID: s.id, Phase: entry, Replies: []Message{msg}}, nil
		}
		return nil, err
	}

	return &TurnResult{SessionID: s.id, Phase: s.currentPhase(), Replies: replies}, nil
}

func (m *manager) handleIdle(ctx context.Context, s *session, text string) ([]Message, error) {
	if !intent.LooksLikeIdea(text) {
		return []Message{s.append(AuthorSystem, helpText, nil)}, nil
	}

	s.setIdea(text)
	return m.draftCycle(ctx, s)
}

func (m *manager) handleFeedback(ctx context.Context, s *session, text string) ([]Message, error) {
	c := m.classifier.Classify(intent.Input{
		Text:             text,
		AwaitingFeedback: true,
		LastTouched:      s.currentLastTouched(),
	})

	switch c.Action {
	case intent.ActionApprove:
		return m.approve(ctx, s)
	case intent.ActionRevise:
		return m.revise(ctx, s, c, text)
	default:
		s.setIdea(text)
		return m.draftCycle(ctx, s)
	}
}

func (m *manager) handleApproved(ctx context.Context, s *session, text string) ([]Message, error) {
	c := m.classifier.Classify(intent.Input{
		Text:             text,
		AwaitingFeedback: true,
		LastTouched:      s.currentLastTouched(),
	})

	switch {
	case c.Action == intent.ActionApprove:
		// Approval is idempotent: confirm, change nothing.
		return []Message{s.append(AuthorSystem, "Already approved; the artifacts are final.", nil)}, nil
	case c.Action == intent.ActionNewIdea && intent.LooksLikeIdea(text):
		s.setIdea(text)
		return m.draftCycle(ctx, s)
	default:
		return []Message{s.append(AuthorSystem, frozenText, nil)}, nil
	}
}

// draftCycle drafts the spec, then the test plan, then reviews both.
// Each draft starts a new document generation; prior versions stay
// retrievable.
func (m *manager) draftCycle(ctx context.Context, s *session) ([]Message, error) {
	var replies []Message

	s.setPhase(PhaseDraftingSpec)
	specMsg, specVersion, err := m.produce(ctx, s, agents.RoleDrafter, agents.Context{
		Idea: s.currentIdea(),
	})
	if err != nil {
		return nil, err
	}
	replies = append(replies, specMsg)

	s.setPhase(PhaseDraftingTestPlan)
	planMsg, _, err := m.produce(ctx, s, agents.RoleTestPlanner, agents.Context{
		Idea:           s.currentIdea(),
		FunctionalSpec: specVersion.Content,
	})
	if err != nil {
		return nil, err
	}
	replies = append(replies, planMsg)

	reviewMsg, err := m.runReview(ctx, s)
	if err != nil {
		return nil, err
	}
	replies = append(replies, reviewMsg)

	return replies, nil
}

// produce invokes a writing role and appends its output as the next
// version of the document it owns.
func (m *manager) produce(ctx context.Context, s *session, role agents.Role, pc agents.Context) (Message, *document.Version, error) {
	kind, ok := role.Writes()
	if !ok {
		return Message{}, nil, fmt.Errorf("%w: role %s does not write documents", agents.ErrUnknownRole, role)
	}

	out, err := m.agents.Invoke(ctx, role, pc)
	if err != nil {
		return Message{}, nil, err
	}

	version, err := m.store.Append(ctx, s.id, kind, out, role.Author())
	if err != nil {
		return Message{}, nil, fmt.Errorf("failed to store %s: %w", kindLabel(kind), err)
	}
	s.setLastTouched(kind)
	m.emit(ctx, s.id, EventVersionAppended, document.Ref{Kind: kind, Version: version.ID})

	m.logger.Info("version appended",
		zap.String("session_id", s.id),
		zap.String("kind", string(kind)),
		zap.Int("version", version.ID),
		zap.String("author", string(role.Author())),
	)

	msg := s.append(authorForRole(role), renderVersion(version), nil)
	return msg, version, nil
}

// runReview critiques the current versions of both documents. The phase
// moves to AwaitingFeedback only after the trigger returns.
func (m *manager) runReview(ctx context.Context, s *session) (Message, error) {
	s.setPhase(PhaseReviewing)

	fb, err := m.reviewer.Review(ctx, s.id)
	if err != nil {
		return Message{}, err
	}

	msg := s.append(AuthorReviewer, fb.Render(), fb.Reviewed)
	m.emit(ctx, s.id, EventReviewCompleted, fb.Reviewed)
	s.setPhase(PhaseAwaitingFeedback)

	return msg, nil
}

func (m *manager) revise(ctx context.Context, s *session, c intent.Classification, text string) ([]Message, error) {
	prior, err := m.store.Current(ctx, s.id, c.Target)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			// Rejected without mutation: there is nothing to revise.
			msg := s.append(AuthorSystem,
				fmt.Sprintf("There is no %s to revise yet.", kindLabel(c.Target)), nil)
			return []Message{msg}, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", kindLabel(c.Target), err)
	}

	var replies []Message
	if c.Ambiguous {
		// Conservative default, surfaced so the user can redirect.
		msg := s.append(AuthorSystem, fmt.Sprintf(
			"Applying your feedback to the %s. Mention the %s explicitly if you meant that instead.",
			kindLabel(c.Target), kindLabel(otherKind(c.Target))), nil)
		replies = append(replies, msg)
	}

	role, err := agents.RoleFor(c.Target)
	if err != nil {
		return nil, err
	}

	pc := agents.Context{
		Idea:         s.currentIdea(),
		PriorVersion: prior.Content,
		Feedback:     text,
	}
	if c.Target == document.KindTestPlan {
		if spec, specErr := m.store.Current(ctx, s.id, document.KindFunctionalSpec); specErr == nil {
			pc.FunctionalSpec = spec.Content
		}
	}

	s.setPhase(PhaseRevising)
	out, err := m.agents.Invoke(ctx, role, pc)
	if err != nil {
		return nil, err
	}

	// A revision that reproduces the prior content verbatim appends no
	// version; the id stays unchanged.
	if strings.TrimSpace(out) == strings.TrimSpace(prior.Content) {
		s.setPhase(PhaseAwaitingFeedback)
		msg := s.append(AuthorSystem, fmt.Sprintf(
			"The revision produced no changes; the %s stays at version %d.",
			kindLabel(c.Target), prior.ID), nil)
		return append(replies, msg), nil
	}

	version, err := m.store.Append(ctx, s.id, c.Target, out, role.Author())
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", kindLabel(c.Target), err)
	}
	s.setLastTouched(c.Target)
	m.emit(ctx, s.id, EventVersionAppended, document.Ref{Kind: c.Target, Version: version.ID})

	m.logger.Info("version appended",
		zap.String("session_id", s.id),
		zap.String("kind", string(c.Target)),
		zap.Int("version", version.ID),
		zap.String("author", string(role.Author())),
	)

	replies = append(replies, s.append(authorForRole(role), renderVersion(version), nil))

	reviewMsg, err := m.runReview(ctx, s)
	if err != nil {
		return nil, err
	}
	return append(replies, reviewMsg), nil
}

func (m *manager) approve(ctx context.Context, s *session) ([]Message, error) {
	spec, err := m.store.Current(ctx, s.id, document.KindFunctionalSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to load functional spec: %w", err)
	}
	plan, err := m.store.Current(ctx, s.id, document.KindTestPlan)
	if err != nil {
		return nil, fmt.Errorf("failed to load test plan: %w", err)
	}

	s.setPhase(PhaseApproved)

	approval := Approval{
		SessionID:  s.id,
		Idea:       s.currentIdea(),
		Spec:       *spec,
		TestPlan:   *plan,
		ApprovedAt: time.Now(),
	}
	m.emit(ctx, s.id, EventApproved, map[string]int{
		"functional_spec_version": spec.ID,
		"test_plan_version":       plan.ID,
	})
	m.runHooks(approval)

	m.logger.Info("session approved",
		zap.String("session_id", s.id),
		zap.Int("functional_spec_version", spec.ID),
		zap.Int("test_plan_version", plan.ID),
	)

	msg := s.append(AuthorSystem, fmt.Sprintf(
		"Approved. Functional specification v%d and test plan v%d are final.",
		spec.ID, plan.ID), nil)
	return []Message{msg}, nil
}

func renderVersion(v *document.Version) string {
	return fmt.Sprintf("%s (v%d)\n\n%s",
		kindTitle(v.Kind), v.ID, export.RenderDocument(v.Kind, v.Content))
}

func kindTitle(k document.Kind) string {
	if k == document.KindTestPlan {
		return "Test plan"
	}
	return "Functional specification"
}

func kindLabel(k document.Kind) string {
	if k == document.KindTestPlan {
		return "test plan"
	}
	return "functional specification"
}

func otherKind(k document.Kind) document.Kind {
	if k == document.KindTestPlan {
		return document.KindFunctionalSpec
	}
	return document.KindTestPlan
}

func authorForRole(role agents.Role) Author {
	switch role {
	case agents.RoleDrafter:
		return AuthorDrafter
	case agents.RoleTestPlanner:
		return AuthorTestPlanner
	default:
		return AuthorReviewer
	}
}
