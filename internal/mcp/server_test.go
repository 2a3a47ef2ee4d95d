package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/session"
)

// stubManager satisfies session.Manager with function hooks.
type stubManager struct {
	messageFn func(ctx context.Context, sessionID, text string) (*session.TurnResult, error)
	getFn     func(ctx context.Context, sessionID string) (*session.Snapshot, error)
}

func (m *stubManager) Message(ctx context.Context, sessionID, text string) (*session.TurnResult, error) {
	if m.messageFn != nil {
		return m.messageFn(ctx, sessionID, text)
	}
	return &session.TurnResult{SessionID: sessionID, Phase: session.PhaseAwaitingFeedback}, nil
}

func (m *stubManager) Get(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	if m.getFn != nil {
		return m.getFn(ctx, sessionID)
	}
	return nil, session.ErrSessionNotFound
}

func (m *stubManager) CloseSession(ctx context.Context, sessionID string) error { return nil }

func (m *stubManager) Close() error { return nil }

// stubStore satisfies document.Store with a function hook for Current.
type stubStore struct {
	currentFn func(ctx context.Context, sessionID string, kind document.Kind) (*document.Version, error)
}

func (s *stubStore) Append(ctx context.Context, sessionID string, kind document.Kind, content string, author document.Author) (*document.Version, error) {
	return nil, document.ErrClosed
}

func (s *stubStore) Current(ctx context.Context, sessionID string, kind document.Kind) (*document.Version, error) {
	if s.currentFn != nil {
		return s.currentFn(ctx, sessionID, kind)
	}
	return nil, document.ErrNotFound
}

func (s *stubStore) History(ctx context.Context, sessionID string, kind document.Kind) ([]document.Version, error) {
	return nil, nil
}

func (s *stubStore) Drop(ctx context.Context, sessionID string) error { return nil }

func (s *stubStore) Close() error { return nil }

func TestNewServer(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		cfg := &Config{
			Name:    "test-server",
			Version: "1.0.0",
			Logger:  zap.NewNop(),
		}

		server, err := NewServer(cfg, &stubManager{}, &stubStore{})
		require.NoError(t, err)
		require.NotNil(t, server)
		require.NotNil(t, server.mcp)
		require.NotNil(t, server.metrics)
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		server, err := NewServer(nil, &stubManager{}, &stubStore{})
		require.NoError(t, err)
		require.NotNil(t, server)
	})

	t.Run("missing manager", func(t *testing.T) {
		_, err := NewServer(DefaultConfig(), nil, &stubStore{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "session manager is required")
	})

	t.Run("missing store", func(t *testing.T) {
		_, err := NewServer(DefaultConfig(), &stubManager{}, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "document store is required")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	require.Equal(t, "specfactory", cfg.Name)
	require.Equal(t, "0.1.0", cfg.Version)
	require.NotNil(t, cfg.Logger)
}
