package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/agents"
	"github.com/rodcar/agentic-software-factory/internal/document"
)

const instrumentationName = "github.com/rodcar/agentic-software-factory/internal/review"

var (
	// ErrNothingToReview indicates the session has no document versions yet.
	ErrNothingToReview = errors.New("no document versions to review")

	// ErrClosed indicates the trigger has been closed.
	ErrClosed = errors.New("review trigger is closed")
)

// Trigger runs the reviewer over a session's current artifacts.
type Trigger interface {
	// Review invokes the reviewer with the current version of every
	// document the session has and returns its feedback.
	Review(ctx context.Context, sessionID string) (*Feedback, error)

	// Close closes the trigger.
	Close() error
}

// Config configures the review trigger.
type Config struct {
	// MaxSuggestions caps actionable suggestions per review (default: 5).
	MaxSuggestions int
}

// DefaultConfig returns the default review trigger configuration.
func DefaultConfig() *Config {
	return &Config{MaxSuggestions: 5}
}

type trigger struct {
	cfg    *Config
	agents agents.Adapter
	store  document.Store
	logger *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	reviewCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewTrigger creates a review trigger.
func NewTrigger(cfg *Config, adapter agents.Adapter, store document.Store, logger *zap.Logger) (Trigger, error) {
	if adapter == nil {
		return nil, errors.New("agent adapter is required")
	}
	if store == nil {
		return nil, errors.New("document store is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &trigger{
		cfg:    cfg,
		agents: adapter,
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	t.initMetrics()

	return t, nil
}

func (t *trigger) initMetrics() {
	var err error

	t.reviewCounter, err = t.meter.Int64Counter(
		"specfactory.review.reviews_total",
		metric.WithDescription("Total reviewer invocations"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		t.logger.Warn("failed to create review counter", zap.Error(err))
	}
}

func (t *trigger) Review(ctx context.Context, sessionID string) (*Feedback, error) {
	ctx, span := t.tracer.Start(ctx, "review.trigger")
	defer span.End()

	span.SetAttributes(attribute.String("session.id", sessionID))

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrClosed
	}
	t.mu.RUnlock()

	var (
		pc       agents.Context
		reviewed []document.Ref
	)

	spec, err := t.currentVersion(ctx, sessionID, document.KindFunctionalSpec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if spec != nil {
		pc.FunctionalSpec = spec.Content
		reviewed = append(reviewed, document.Ref{Kind: spec.Kind, Version: spec.ID})
	}

	plan, err := t.currentVersion(ctx, sessionID, document.KindTestPlan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if plan != nil {
		pc.TestPlan = plan.Content
		reviewed = append(reviewed, document.Ref{Kind: plan.Kind, Version: plan.ID})
	}

	if len(reviewed) == 0 {
		return nil, ErrNothingToReview
	}

	raw, err := t.agents.Invoke(ctx, agents.RoleReviewer, pc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to invoke reviewer: %w", err)
	}

	fb := parseFeedback(raw, t.cfg.MaxSuggestions)
	fb.Reviewed = reviewed
	fb.CreatedAt = time.Now()

	if t.reviewCounter != nil {
		t.reviewCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("documents", len(reviewed)),
		))
	}

	t.logger.Info("review completed",
		zap.String("session_id", sessionID),
		zap.Int("documents", len(reviewed)),
		zap.Int("suggestions", len(fb.Suggestions)),
	)

	return fb, nil
}

// currentVersion returns the latest version of kind, or nil when the
// session has none.
func (t *trigger) currentVersion(ctx context.Context, sessionID string, kind document.Kind) (*document.Version, error) {
	v, err := t.store.Current(ctx, sessionID, kind)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", kind, err)
	}
	return v, nil
}

func (t *trigger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	t.logger.Debug("review trigger closed")
	return nil
}
