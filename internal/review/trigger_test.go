package review

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/agents"
	"github.com/rodcar/agentic-software-factory/internal/document"
)

// stubAdapter implements agents.Adapter for trigger tests.
type stubAdapter struct {
	mu       sync.Mutex
	lastRole agents.Role
	lastCtx  agents.Context
	response string
	err      error
}

func (s *stubAdapter) Invoke(ctx context.Context, role agents.Role, pc agents.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRole = role
	s.lastCtx = pc
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubAdapter) Close() error { return nil }

func newTestTrigger(t *testing.T, adapter *stubAdapter) (Trigger, document.Store) {
	t.Helper()

	store, err := document.NewStore(nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	trig, err := NewTrigger(nil, adapter, store, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = trig.Close() })

	return trig, store
}

func TestTrigger_Review_BothDocuments(t *testing.T) {
	adapter := &stubAdapter{
		response: `{"review_feedback": "solid overall", "actionable_suggestions": ["tighten scope", "add error cases"]}`,
	}
	trig, store := newTestTrigger(t, adapter)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", document.KindFunctionalSpec, "spec v1", document.AuthorDrafter)
	require.NoError(t, err)
	_, err = store.Append(ctx, "s1", document.KindFunctionalSpec, "spec v2", document.AuthorDrafter)
	require.NoError(t, err)
	_, err = store.Append(ctx, "s1", document.KindTestPlan, "plan v1", document.AuthorTestPlanner)
	require.NoError(t, err)

	fb, err := trig.Review(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, agents.RoleReviewer, adapter.lastRole)
	assert.Equal(t, "spec v2", adapter.lastCtx.FunctionalSpec, "reviewer sees the latest spec")
	assert.Equal(t, "plan v1", adapter.lastCtx.TestPlan)

	assert.Equal(t, "solid overall", fb.Text)
	assert.Equal(t, []string{"tighten scope", "add error cases"}, fb.Suggestions)
	assert.ElementsMatch(t, []document.Ref{
		{Kind: document.KindFunctionalSpec, Version: 2},
		{Kind: document.KindTestPlan, Version: 1},
	}, fb.Reviewed)
	assert.False(t, fb.CreatedAt.IsZero())
}

func TestTrigger_Review_SpecOnly(t *testing.T) {
	adapter := &stubAdapter{response: `{"review_feedback": "spec looks fine"}`}
	trig, store := newTestTrigger(t, adapter)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", document.KindFunctionalSpec, "spec v1", document.AuthorDrafter)
	require.NoError(t, err)

	fb, err := trig.Review(ctx, "s1")
	require.NoError(t, err)

	assert.Empty(t, adapter.lastCtx.TestPlan)
	assert.Equal(t, []document.Ref{{Kind: document.KindFunctionalSpec, Version: 1}}, fb.Reviewed)
}

func TestTrigger_Review_NothingToReview(t *testing.T) {
	trig, _ := newTestTrigger(t, &stubAdapter{response: "x"})

	_, err := trig.Review(context.Background(), "empty-session")
	assert.ErrorIs(t, err, ErrNothingToReview)
}

func TestTrigger_Review_AgentFailurePropagates(t *testing.T) {
	adapter := &stubAdapter{err: agents.ErrAgentUnavailable}
	trig, store := newTestTrigger(t, adapter)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", document.KindFunctionalSpec, "spec v1", document.AuthorDrafter)
	require.NoError(t, err)

	_, err = trig.Review(ctx, "s1")
	assert.ErrorIs(t, err, agents.ErrAgentUnavailable)
}

func TestTrigger_Review_NonJSONKeptVerbatim(t *testing.T) {
	adapter := &stubAdapter{response: "The spec is missing an auth section."}
	trig, store := newTestTrigger(t, adapter)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", document.KindFunctionalSpec, "spec v1", document.AuthorDrafter)
	require.NoError(t, err)

	fb, err := trig.Review(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "The spec is missing an auth section.", fb.Text)
	assert.Empty(t, fb.Suggestions)
}

func TestTrigger_Review_FencedJSONParsed(t *testing.T) {
	adapter := &stubAdapter{
		response: "```json\n{\"review_feedback\": \"ok\", \"actionable_suggestions\": [\"a\"]}\n```",
	}
	trig, store := newTestTrigger(t, adapter)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", document.KindFunctionalSpec, "spec v1", document.AuthorDrafter)
	require.NoError(t, err)

	fb, err := trig.Review(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ok", fb.Text)
	assert.Equal(t, []string{"a"}, fb.Suggestions)
}

func TestTrigger_Review_SuggestionsCapped(t *testing.T) {
	adapter := &stubAdapter{
		response: `{"review_feedback": "busy", "actionable_suggestions": ["1", "2", "3", "4", "5", "6", "7"]}`,
	}
	trig, store := newTestTrigger(t, adapter)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", document.KindFunctionalSpec, "spec v1", document.AuthorDrafter)
	require.NoError(t, err)

	fb, err := trig.Review(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, fb.Suggestions, 5, "suggestions capped at the configured maximum")
}

func TestTrigger_Closed(t *testing.T) {
	trig, _ := newTestTrigger(t, &stubAdapter{response: "x"})
	require.NoError(t, trig.Close())

	_, err := trig.Review(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, trig.Close(), "close should be idempotent")
}

func TestFeedback_Render(t *testing.T) {
	fb := &Feedback{
		Text:        "needs work",
		Suggestions: []string{"add auth", "cover timeouts"},
	}
	assert.Equal(t, "needs work\n\n1. add auth\n2. cover timeouts", fb.Render())

	bare := &Feedback{Text: "approved-quality"}
	assert.Equal(t, "approved-quality", bare.Render())
}
