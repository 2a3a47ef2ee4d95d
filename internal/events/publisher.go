package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/rodcar/agentic-software-factory/internal/events"

// Config configures the event publisher.
type Config struct {
	// URL is the NATS server. Empty disables publishing.
	URL string

	// SubjectPrefix is the first subject token (default: "sessions").
	SubjectPrefix string
}

// DefaultConfig returns the default publisher configuration.
func DefaultConfig() *Config {
	return &Config{SubjectPrefix: "sessions"}
}

// Event is the wire envelope for one lifecycle event.
type Event struct {
	SessionID   string    `json:"session_id"`
	Event       string    `json:"event"`
	Payload     any       `json:"payload,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher implements session.EventSink over NATS.
type Publisher struct {
	cfg      *Config
	nc       *nats.Conn
	ownsConn bool
	logger   *zap.Logger

	meter            metric.Meter
	publishedCounter metric.Int64Counter
}

// Connect dials NATS and returns a publisher owning the connection.
// With an empty URL the publisher is a no-op.
func Connect(cfg *Config, logger *zap.Logger) (*Publisher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.URL == "" {
		return newPublisher(cfg, nil, false, logger), nil
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	return newPublisher(cfg, nc, true, logger), nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership
// of the connection.
func NewPublisher(cfg *Config, nc *nats.Conn, logger *zap.Logger) *Publisher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return newPublisher(cfg, nc, false, logger)
}

func newPublisher(cfg *Config, nc *nats.Conn, ownsConn bool, logger *zap.Logger) *Publisher {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "sessions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{
		cfg:      cfg,
		nc:       nc,
		ownsConn: ownsConn,
		logger:   logger,
		meter:    otel.Meter(instrumentationName),
	}
	p.initMetrics()

	return p
}

func (p *Publisher) initMetrics() {
	var err error

	p.publishedCounter, err = p.meter.Int64Counter(
		"specfactory.events.published_total",
		metric.WithDescription("Total session events published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		p.logger.Warn("failed to create published counter", zap.Error(err))
	}
}

// Enabled reports whether events actually leave the process.
func (p *Publisher) Enabled() bool { return p.nc != nil }

// SessionEvent publishes one lifecycle event. Failures are logged, not
// returned; the session must never stall on an event.
func (p *Publisher) SessionEvent(ctx context.Context, sessionID, event string, payload any) {
	if p.nc == nil {
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", p.cfg.SubjectPrefix, sanitizeToken(sessionID), event)

	data, err := json.Marshal(Event{
		SessionID:   sessionID,
		Event:       event,
		Payload:     payload,
		PublishedAt: time.Now(),
	})
	if err != nil {
		p.logger.Warn("failed to encode session event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish session event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}

	if p.publishedCounter != nil {
		p.publishedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", event),
		))
	}
}

// Close drains the connection when this publisher owns it.
func (p *Publisher) Close() error {
	if p.nc == nil || !p.ownsConn {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// sanitizeToken keeps a session id usable as one NATS subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
