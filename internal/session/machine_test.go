package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcar/agentic-software-factory/internal/agents"
	"github.com/rodcar/agentic-software-factory/internal/document"
)

func authors(msgs []Message) []Author {
	out := make([]Author, len(msgs))
	for i, m := range msgs {
		out[i] = m.Author
	}
	return out
}

func TestTurn_IdeaDraftsBothDocumentsAndReviews(t *testing.T) {
	f := newFixture(t, nil, draftRespond("spec one", "plan one"))
	ctx := context.Background()

	res, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingFeedback, res.Phase)
	assert.Equal(t, []Author{AuthorDrafter, AuthorTestPlanner, AuthorReviewer}, authors(res.Replies))

	spec, err := f.store.Current(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Equal(t, 1, spec.ID)
	assert.Equal(t, "spec one", spec.Content)

	plan, err := f.store.Current(ctx, "s1", document.KindTestPlan)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.ID)
	assert.Equal(t, "plan one", plan.Content)

	reviewMsg := res.Replies[2]
	assert.ElementsMatch(t, []document.Ref{
		{Kind: document.KindFunctionalSpec, Version: 1},
		{Kind: document.KindTestPlan, Version: 1},
	}, reviewMsg.Reviewed)
	assert.Contains(t, reviewMsg.Text, "looks reasonable")

	assert.Equal(t, "Build a to-do list API", f.agent.contextFor(agents.RoleDrafter).Idea)
	assert.Equal(t, "spec one", f.agent.contextFor(agents.RoleTestPlanner).FunctionalSpec,
		"planner drafts against the just-written spec")
}

func TestTurn_SmallTalkGetsHelpAndStaysIdle(t *testing.T) {
	f := newFixture(t, nil, draftRespond("spec one", "plan one"))
	ctx := context.Background()

	res, err := f.manager.Message(ctx, "s1", "hello")
	require.NoError(t, err)

	assert.Equal(t, PhaseIdle, res.Phase)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, AuthorSystem, res.Replies[0].Author)

	_, err = f.store.Current(ctx, "s1", document.KindFunctionalSpec)
	assert.ErrorIs(t, err, document.ErrNotFound, "small talk must not draft anything")
}

func TestTurn_TargetedSpecRevision(t *testing.T) {
	respond := draftRespond("spec one", "plan one")
	f := newFixture(t, nil, func(role agents.Role, pc agents.Context) (string, error) {
		if role == agents.RoleDrafter && pc.PriorVersion != "" {
			return "spec two", nil
		}
		return respond(role, pc)
	})
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)

	res, err := f.manager.Message(ctx, "s1", "please add a rate-limit requirement to the spec")
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingFeedback, res.Phase)
	assert.Equal(t, []Author{AuthorDrafter, AuthorReviewer}, authors(res.Replies),
		"unambiguous target needs no clarification notice")

	spec, err := f.store.Current(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Equal(t, 2, spec.ID)
	assert.Equal(t, "spec two", spec.Content)

	plan, err := f.store.Current(ctx, "s1", document.KindTestPlan)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.ID, "test plan untouched by a spec revision")

	drafterCtx := f.agent.contextFor(agents.RoleDrafter)
	assert.Equal(t, "spec one", drafterCtx.PriorVersion)
	assert.Contains(t, drafterCtx.Feedback, "rate-limit")

	assert.ElementsMatch(t, []document.Ref{
		{Kind: document.KindFunctionalSpec, Version: 2},
		{Kind: document.KindTestPlan, Version: 1},
	}, res.Replies[1].Reviewed, "review covers the new spec and the existing plan")
}

func TestTurn_UntargetedRevisionDefaultsToLastTouched(t *testing.T) {
	respond := draftRespond("spec one", "plan one")
	f := newFixture(t, nil, func(role agents.Role, pc agents.Context) (string, error) {
		if role == agents.RoleTestPlanner && pc.PriorVersion != "" {
			return "plan two", nil
		}
		return respond(role, pc)
	})
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)

	// The test plan was produced last, so it is the conservative default.
	res, err := f.manager.Message(ctx, "s1", "make it better")
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingFeedback, res.Phase)
	require.GreaterOrEqual(t, len(res.Replies), 3)
	assert.Equal(t, AuthorSystem, res.Replies[0].Author, "ambiguous target is surfaced to the user")
	assert.Contains(t, res.Replies[0].Text, "test plan")

	plan, err := f.store.Current(ctx, "s1", document.KindTestPlan)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.ID)
	assert.Equal(t, "plan two", plan.Content)

	spec, err := f.store.Current(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Equal(t, 1, spec.ID, "spec untouched")
}

func TestTurn_ApproveIsTerminalAndIdempotent(t *testing.T) {
	f := newFixture(t, nil, draftRespond("spec one", "plan one"))
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)

	res, err := f.manager.Message(ctx, "s1", "approve")
	require.NoError(t, err)
	assert.Equal(t, PhaseApproved, res.Phase)

	history, err := f.store.History(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	specVersions := len(history)

	// Scenario: a second acceptance changes nothing.
	res, err = f.manager.Message(ctx, "s1", "accept")
	require.NoError(t, err)
	assert.Equal(t, PhaseApproved, res.Phase)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, AuthorSystem, res.Replies[0].Author)
	assert.Contains(t, res.Replies[0].Text, "Already approved")

	history, err = f.store.History(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Equal(t, specVersions, len(history), "repeated approval appends no version")

	require.Eventually(t, func() bool { return f.hook.count() == 1 },
		2*time.Second, 10*time.Millisecond, "exactly one approval hook run")

	approval := f.hook.last()
	assert.Equal(t, "s1", approval.SessionID)
	assert.Equal(t, "Build a to-do list API", approval.Idea)
	assert.Equal(t, 1, approval.Spec.ID)
	assert.Equal(t, 1, approval.TestPlan.ID)

	assert.Contains(t, f.sink.names(), EventApproved)
}

func TestTurn_RevisionAfterApprovalIsRejected(t *testing.T) {
	f := newFixture(t, nil, draftRespond("spec one", "plan one"))
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)
	_, err = f.manager.Message(ctx, "s1", "approve")
	require.NoError(t, err)

	res, err := f.manager.Message(ctx, "s1", "change the spec to use gRPC")
	require.NoError(t, err)

	assert.Equal(t, PhaseApproved, res.Phase)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, AuthorSystem, res.Replies[0].Author)

	spec, err := f.store.Current(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Equal(t, 1, spec.ID, "approved artifacts are frozen")
}

func TestTurn_NewIdeaAfterApprovalStartsNewGeneration(t *testing.T) {
	f := newFixture(t, nil, func(role agents.Role, pc agents.Context) (string, error) {
		switch role {
		case agents.RoleDrafter:
			return "spec for " + pc.Idea, nil
		case agents.RoleTestPlanner:
			return "plan for " + pc.Idea, nil
		default:
			return reviewerOK, nil
		}
	})
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)
	_, err = f.manager.Message(ctx, "s1", "approve")
	require.NoError(t, err)

	res, err := f.manager.Message(ctx, "s1", "Build an expense tracker")
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingFeedback, res.Phase)

	spec, err := f.store.Current(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Equal(t, 2, spec.ID, "new generation continues the version sequence")
	assert.Equal(t, "spec for Build an expense tracker", spec.Content)

	history, err := f.store.History(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "spec for Build a to-do list API", history[0].Content,
		"previous generation stays retrievable")
}

func TestTurn_NewIdeaWhileAwaitingFeedbackRedrafts(t *testing.T) {
	f := newFixture(t, nil, func(role agents.Role, pc agents.Context) (string, error) {
		switch role {
		case agents.RoleDrafter:
			return "spec for " + pc.Idea, nil
		case agents.RoleTestPlanner:
			return "plan for " + pc.Idea, nil
		default:
			return reviewerOK, nil
		}
	})
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)

	res, err := f.manager.Message(ctx, "s1", "Build a recipe sharing site")
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingFeedback, res.Phase)
	assert.Equal(t, []Author{AuthorDrafter, AuthorTestPlanner, AuthorReviewer}, authors(res.Replies))

	history, err := f.store.History(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Len(t, history, 2, "start over opens a new generation without discarding history")
}

func TestTurn_AgentUnavailableLeavesPhaseUnchanged(t *testing.T) {
	plannerDown := true
	f := newFixture(t, nil, func(role agents.Role, pc agents.Context) (string, error) {
		switch role {
		case agents.RoleDrafter:
			return "spec one", nil
		case agents.RoleTestPlanner:
			if plannerDown {
				return "", agents.ErrAgentUnavailable
			}
			return "plan one", nil
		default:
			return reviewerOK, nil
		}
	})
	ctx := context.Background()

	res, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err, "backend failure is a user-visible message, not a turn error")

	assert.Equal(t, PhaseIdle, res.Phase, "phase restored so the turn can be retried")
	require.Len(t, res.Replies, 1)
	assert.Equal(t, AuthorSystem, res.Replies[0].Author)
	assert.Contains(t, res.Replies[0].Text, "unavailable")

	// Retry the same turn once the backend recovers.
	plannerDown = false
	res, err = f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingFeedback, res.Phase)

	plan, err := f.store.Current(ctx, "s1", document.KindTestPlan)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.ID)
}

func TestTurn_VerbatimRevisionAppendsNoVersion(t *testing.T) {
	f := newFixture(t, nil, func(role agents.Role, pc agents.Context) (string, error) {
		switch role {
		case agents.RoleDrafter:
			if pc.PriorVersion != "" {
				return pc.PriorVersion, nil
			}
			return "spec one", nil
		case agents.RoleTestPlanner:
			return "plan one", nil
		default:
			return reviewerOK, nil
		}
	})
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)

	res, err := f.manager.Message(ctx, "s1", "update the spec wording")
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingFeedback, res.Phase)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, AuthorSystem, res.Replies[0].Author)
	assert.Contains(t, res.Replies[0].Text, "no changes")

	history, err := f.store.History(ctx, "s1", document.KindFunctionalSpec)
	require.NoError(t, err)
	assert.Len(t, history, 1, "verbatim reproduction keeps the version id unchanged")
}

func TestTurn_EventSequence(t *testing.T) {
	f := newFixture(t, nil, draftRespond("spec one", "plan one"))
	ctx := context.Background()

	_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
	require.NoError(t, err)
	_, err = f.manager.Message(ctx, "s1", "approve")
	require.NoError(t, err)

	names := f.sink.names()
	assert.Equal(t, []string{
		EventCreated,
		EventVersionAppended,
		EventVersionAppended,
		EventReviewCompleted,
		EventApproved,
	}, names)
}

func TestTurn_ClassificationIsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		f := newFixture(t, nil, draftRespond("spec one", "plan one"))
		ctx := context.Background()

		_, err := f.manager.Message(ctx, "s1", "Build a to-do list API")
		require.NoError(t, err)

		res, err := f.manager.Message(ctx, "s1", "approve")
		require.NoError(t, err)
		assert.Equal(t, PhaseApproved, res.Phase, "same text and phase must classify identically")
	}
}
