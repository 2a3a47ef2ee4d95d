package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/agents"
	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/intent"
	"github.com/rodcar/agentic-software-factory/internal/review"
)

const instrumentationName = "github.com/rodcar/agentic-software-factory/internal/session"

var (
	// ErrManagerClosed indicates the manager has shut down.
	ErrManagerClosed = errors.New("session manager is closed")

	// ErrSessionClosed indicates the session was closed or reaped.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionNotFound indicates no live session has the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions indicates the live session limit was reached.
	ErrTooManySessions = errors.New("session limit reached")

	// ErrEmptyMessage indicates a blank user message.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrInvalidTransition indicates a message arrived in a phase that
	// cannot accept one.
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Manager routes user messages to sessions and owns their lifecycle.
type Manager interface {
	// Message processes one user turn. An empty sessionID creates a new
	// session with a generated id; turns for the same session are
	// strictly sequential.
	Message(ctx context.Context, sessionID, text string) (*TurnResult, error)

	// Get returns a point-in-time snapshot of a live session.
	Get(ctx context.Context, sessionID string) (*Snapshot, error)

	// CloseSession closes one session and drops its documents. An
	// in-flight turn is not interrupted; no further turns are accepted.
	CloseSession(ctx context.Context, sessionID string) error

	// Close shuts down the manager, the reaper and any pending hooks.
	Close() error
}

// Config configures the session manager.
type Config struct {
	// IdleTimeout is how long a session may sit untouched before the
	// reaper closes it (default: 30m).
	IdleTimeout time.Duration

	// ReapInterval is how often the reaper scans (default: 1m).
	ReapInterval time.Duration

	// MaxSessions bounds live sessions; 0 means unlimited (default: 1000).
	MaxSessions int

	// HookTimeout bounds each approval hook run (default: 1m).
	HookTimeout time.Duration
}

// DefaultConfig returns the default session manager configuration.
func DefaultConfig() *Config {
	return &Config{
		IdleTimeout:  30 * time.Minute,
		ReapInterval: time.Minute,
		MaxSessions:  1000,
		HookTimeout:  time.Minute,
	}
}

// Options carries the manager's dependencies. Store, Agents and
// Reviewer are required; the rest default sensibly.
type Options struct {
	Config     *Config
	Store      document.Store
	Agents     agents.Adapter
	Reviewer   review.Trigger
	Classifier *intent.Classifier
	Scrubber   Scrubber
	Events     EventSink
	Hooks      []ApprovalHook
	Logger     *zap.Logger
}

type manager struct {
	cfg        *Config
	store      document.Store
	agents     agents.Adapter
	reviewer   review.Trigger
	classifier *intent.Classifier
	scrubber   Scrubber
	events     EventSink
	hooks      []ApprovalHook
	logger     *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	turnCounter    metric.Int64Counter
	turnDuration   metric.Float64Histogram
	activeSessions metric.Int64UpDownCounter

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a session manager and starts its idle reaper.
func NewManager(opts Options) (Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("document store is required")
	}
	if opts.Agents == nil {
		return nil, errors.New("agent adapter is required")
	}
	if opts.Reviewer == nil {
		return nil, errors.New("review trigger is required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = time.Minute
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = intent.NewClassifier()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &manager{
		cfg:        cfg,
		store:      opts.Store,
		agents:     opts.Agents,
		reviewer:   opts.Reviewer,
		classifier: classifier,
		scrubber:   opts.Scrubber,
		events:     opts.Events,
		hooks:      opts.Hooks,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		sessions:   make(map[string]*session),
		stop:       make(chan struct{}),
	}
	m.initMetrics()

	m.wg.Add(1)
	go m.reapLoop()

	return m, nil
}

func (m *manager) initMetrics() {
	var err error

	m.turnCounter, err = m.meter.Int64Counter(
		"specfactory.session.turns_total",
		metric.WithDescription("Total user turns processed"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		m.logger.Warn("failed to create turn counter", zap.Error(err))
	}

	m.turnDuration, err = m.meter.Float64Histogram(
		"specfactory.session.turn_duration_seconds",
		metric.WithDescription("Wall time per user turn"),
		metric.WithUnit("s"),
	)
	if err != nil {
		m.logger.Warn("failed to create turn duration histogram", zap.Error(err))
	}

	m.activeSessions, err = m.meter.Int64UpDownCounter(
		"specfactory.session.active",
		metric.WithDescription("Live sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active sessions counter", zap.Error(err))
	}
}

func (m *manager) Message(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	ctx, span := m.tracer.Start(ctx, "session.message")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	s, created, err := m.getOrCreate(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if created {
		m.emit(ctx, sessionID, EventCreated, nil)
	}

	s.touch()
	start := time.Now()
	result, err := m.processTurn(ctx, s, text)
	s.touch()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if m.turnCounter != nil {
		m.turnCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
	if m.turnDuration != nil {
		m.turnDuration.Record(ctx, time.Since(start).Seconds())
	}

	// A close or reap that raced this turn already dropped the session's
	// documents; drop again so the turn's appends do not linger.
	if s.isClosed() {
		if dropErr := m.store.Drop(ctx, sessionID); dropErr != nil {
			m.logger.Warn("failed to drop documents of closed session",
				zap.String("session_id", sessionID),
				zap.Error(dropErr),
			)
		}
	}

	return result, err
}

func (m *manager) getOrCreate(ctx context.Context, id string) (*session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrManagerClosed
	}
	if s, ok := m.sessions[id]; ok {
		return s, false, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, false, ErrTooManySessions
	}

	s := newSession(id)
	m.sessions[id] = s

	if m.activeSessions != nil {
		m.activeSessions.Add(ctx, 1)
	}
	m.logger.Info("session created", zap.String("session_id", id))

	return s, true, nil
}

func (m *manager) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	_, span := m.tracer.Start(ctx, "session.get")
	defer span.End()

	span.SetAttributes(attribute.String("session.id", sessionID))

	m.mu.RLock()
	closed := m.closed
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if closed {
		return nil, ErrManagerClosed
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

func (m *manager) CloseSession(ctx context.Context, sessionID string) error {
	ctx, span := m.tracer.Start(ctx, "session.close")
	defer span.End()

	span.SetAttributes(attribute.String("session.id", sessionID))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	s.markClosed()
	if m.activeSessions != nil {
		m.activeSessions.Add(ctx, -1)
	}
	if err := m.store.Drop(ctx, sessionID); err != nil {
		m.logger.Warn("failed to drop session documents",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	m.emit(ctx, sessionID, EventClosed, nil)
	m.logger.Info("session closed", zap.String("session_id", sessionID))

	return nil
}

func (m *manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var expired []*session
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.markClosed()
		if m.activeSessions != nil {
			m.activeSessions.Add(context.Background(), -1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.Drop(ctx, s.id); err != nil {
			m.logger.Warn("failed to drop reaped session documents",
				zap.String("session_id", s.id),
				zap.Error(err),
			)
		}
		m.emit(ctx, s.id, EventClosed, nil)
		cancel()

		m.logger.Info("session reaped",
			zap.String("session_id", s.id),
			zap.Duration("idle_timeout", m.cfg.IdleTimeout),
		)
	}
}

// emit forwards a lifecycle event to the sink, if one is configured.
func (m *manager) emit(ctx context.Context, sessionID, event string, payload any) {
	if m.events == nil {
		return
	}
	m.events.SessionEvent(ctx, sessionID, event, payload)
}

// runHooks fans an approval out to the hooks on a background goroutine.
func (m *manager) runHooks(approval Approval) {
	if len(m.hooks) == 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HookTimeout)
		defer cancel()

		for _, h := range m.hooks {
			if err := h.SessionApproved(ctx, approval); err != nil {
				m.logger.Warn("approval hook failed",
					zap.String("session_id", approval.SessionID),
					zap.Error(err),
				)
			}
		}
	}()
}

func (m *manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	close(m.stop)
	for _, s := range sessions {
		s.markClosed()
	}
	m.wg.Wait()

	m.logger.Info("session manager closed", zap.Int("sessions", len(sessions)))
	return nil
}
