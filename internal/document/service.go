package document

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/rodcar/agentic-software-factory/internal/document"

var (
	// ErrNotFound indicates the document has no versions for the session.
	ErrNotFound = errors.New("document not found")

	// ErrUnknownKind indicates an unrecognized document kind.
	ErrUnknownKind = errors.New("unknown document kind")

	// ErrSpecRequired indicates a test plan write before any functional
	// spec version exists.
	ErrSpecRequired = errors.New("test plan requires a functional spec version")

	// ErrEmptyContent indicates an append with no content.
	ErrEmptyContent = errors.New("version content is empty")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("document store is closed")
)

// Store provides append-only version storage for session artifacts.
type Store interface {
	// Append atomically assigns the next version id for (sessionID, kind)
	// and appends the version. The first test plan version fails with
	// ErrSpecRequired until the functional spec has a version.
	Append(ctx context.Context, sessionID string, kind Kind, content string, author Author) (*Version, error)

	// Current returns the latest version, or ErrNotFound.
	Current(ctx context.Context, sessionID string, kind Kind) (*Version, error)

	// History returns all versions in append order. The returned slice is
	// a copy and safe to re-enumerate.
	History(ctx context.Context, sessionID string, kind Kind) ([]Version, error)

	// Drop removes all documents for a session.
	Drop(ctx context.Context, sessionID string) error

	// Close closes the store.
	Close() error
}

// Config configures the document store.
type Config struct {
	// MaxVersionsPerDocument bounds history growth (default: 100).
	MaxVersionsPerDocument int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		MaxVersionsPerDocument: 100,
	}
}

// store implements the Store interface in memory.
type store struct {
	config *Config
	logger *zap.Logger

	// Telemetry
	tracer        trace.Tracer
	meter         metric.Meter
	appendCounter metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string]map[Kind]*Document
	closed   bool
}

// NewStore creates a new in-memory document store.
func NewStore(cfg *Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &store{
		config:   cfg,
		logger:   logger,
		sessions: make(map[string]map[Kind]*Document),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *store) initMetrics() {
	var err error

	s.appendCounter, err = s.meter.Int64Counter(
		"specfactory.document.appends_total",
		metric.WithDescription("Total number of document versions appended"),
		metric.WithUnit("{version}"),
	)
	if err != nil {
		s.logger.Warn("failed to create append counter", zap.Error(err))
	}
}

// Append atomically assigns the next version id and appends the version.
func (s *store) Append(ctx context.Context, sessionID string, kind Kind, content string, author Author) (*Version, error) {
	ctx, span := s.tracer.Start(ctx, "document.append")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("kind", string(kind)),
		attribute.String("author", string(author)),
	)

	if !kind.Valid() {
		span.SetStatus(codes.Error, ErrUnknownKind.Error())
		return nil, ErrUnknownKind
	}
	if content == "" {
		return nil, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	docs, ok := s.sessions[sessionID]
	if !ok {
		docs = make(map[Kind]*Document)
		s.sessions[sessionID] = docs
	}

	// Test planning is logically dependent on the spec.
	if kind == KindTestPlan {
		spec := docs[KindFunctionalSpec]
		if spec == nil || len(spec.Versions) == 0 {
			span.SetStatus(codes.Error, ErrSpecRequired.Error())
			return nil, ErrSpecRequired
		}
	}

	doc, ok := docs[kind]
	if !ok {
		doc = &Document{Kind: kind}
		docs[kind] = doc
	}

	if max := s.config.MaxVersionsPerDocument; max > 0 && len(doc.Versions) >= max {
		return nil, errors.New("version limit reached for document")
	}

	v := Version{
		ID:        len(doc.Versions) + 1,
		Kind:      kind,
		Content:   content,
		Author:    author,
		CreatedAt: time.Now(),
	}
	doc.Versions = append(doc.Versions, v)

	if s.appendCounter != nil {
		s.appendCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(kind)),
			attribute.String("author", string(author)),
		))
	}

	s.logger.Info("appended document version",
		zap.String("session_id", sessionID),
		zap.String("kind", string(kind)),
		zap.Int("version", v.ID),
		zap.String("author", string(author)),
	)

	span.SetAttributes(attribute.Int("version", v.ID))
	return &v, nil
}

// Current returns the latest version for (sessionID, kind).
func (s *store) Current(ctx context.Context, sessionID string, kind Kind) (*Version, error) {
	_, span := s.tracer.Start(ctx, "document.current")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("kind", string(kind)),
	)

	if !kind.Valid() {
		return nil, ErrUnknownKind
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	doc := s.sessions[sessionID][kind]
	v := doc.Current()
	if v == nil {
		return nil, ErrNotFound
	}

	span.SetAttributes(attribute.Int("version", v.ID))
	return v, nil
}

// History returns a copy of all versions in append order.
func (s *store) History(ctx context.Context, sessionID string, kind Kind) ([]Version, error) {
	_, span := s.tracer.Start(ctx, "document.history")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("kind", string(kind)),
	)

	if !kind.Valid() {
		return nil, ErrUnknownKind
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	doc := s.sessions[sessionID][kind]
	if doc == nil {
		return []Version{}, nil
	}

	out := make([]Version, len(doc.Versions))
	copy(out, doc.Versions)

	span.SetAttributes(attribute.Int("version_count", len(out)))
	return out, nil
}

// Drop removes all documents for a session.
func (s *store) Drop(ctx context.Context, sessionID string) error {
	_, span := s.tracer.Start(ctx, "document.drop")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delete(s.sessions, sessionID)

	s.logger.Info("dropped session documents", zap.String("session_id", sessionID))
	return nil
}

// Close closes the store.
func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.sessions = nil
	return nil
}
