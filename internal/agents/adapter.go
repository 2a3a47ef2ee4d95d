package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/rodcar/agentic-software-factory/internal/agents"

// Adapter invokes an agent role with structured context.
type Adapter interface {
	// Invoke renders the role's prompt over the context and calls the
	// backend. Stateless per call; retried with backoff; exhaustion
	// surfaces ErrAgentUnavailable.
	Invoke(ctx context.Context, role Role, pc Context) (string, error)

	// Close closes the adapter.
	Close() error
}

// adapter implements Adapter over a langchaingo model.
type adapter struct {
	config  *Config
	llm     llms.Model
	prompts *Library
	limiter *rate.Limiter
	logger  *zap.Logger

	// Telemetry
	tracer        trace.Tracer
	meter         metric.Meter
	invokeCounter metric.Int64Counter
	latencyHist   metric.Float64Histogram

	mu     sync.RWMutex
	closed bool
}

// NewAdapter creates an adapter with a client built from the configuration.
func NewAdapter(cfg *Config, logger *zap.Logger) (Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	llm, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}

	prompts, err := NewLibrary(cfg.TemplateDir, logger)
	if err != nil {
		return nil, err
	}

	return NewAdapterWithModel(cfg, llm, prompts, logger)
}

// NewAdapterWithModel creates an adapter around an existing model. Used by
// tests and by callers that construct the client themselves.
func NewAdapterWithModel(cfg *Config, model llms.Model, prompts *Library, logger *zap.Logger) (Adapter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if model == nil {
		return nil, errors.New("model is required")
	}
	if prompts == nil {
		var err error
		prompts, err = NewLibrary("", logger)
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultConfig().RequestsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultConfig().Burst
	}

	a := &adapter{
		config:  cfg,
		llm:     model,
		prompts: prompts,
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), burst),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}

	a.initMetrics()

	return a, nil
}

// NewModel builds the langchaingo client for the configured backend.
func NewModel(cfg *Config) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}

	switch cfg.Backend {
	case BackendAzure:
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithBaseURL(cfg.Endpoint),
			openai.WithAPIVersion(cfg.APIVersion),
		)
	case BackendOpenAI:
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	return llm, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (a *adapter) initMetrics() {
	var err error

	a.invokeCounter, err = a.meter.Int64Counter(
		"specfactory.agents.invocations_total",
		metric.WithDescription("Total number of agent invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		a.logger.Warn("failed to create invocation counter", zap.Error(err))
	}

	a.latencyHist, err = a.meter.Float64Histogram(
		"specfactory.agents.invoke_duration_seconds",
		metric.WithDescription("Agent invocation duration including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		a.logger.Warn("failed to create latency histogram", zap.Error(err))
	}
}

// Invoke renders the prompt and calls the backend with retries.
func (a *adapter) Invoke(ctx context.Context, role Role, pc Context) (string, error) {
	ctx, span := a.tracer.Start(ctx, "agents.invoke")
	defer span.End()

	span.SetAttributes(attribute.String("role", string(role)))

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return "", ErrClosed
	}
	a.mu.RUnlock()

	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	system, user, err := a.prompts.Render(role, pc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.config.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := a.generate(ctx, system, user)
		if err == nil {
			a.recordOutcome(ctx, role, "ok", time.Since(start))
			a.logger.Debug("agent invocation succeeded",
				zap.String("role", string(role)),
				zap.Int("attempt", attempt+1),
				zap.Duration("duration", time.Since(start)),
			)
			return text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			// Parent context gone; do not convert to AgentUnavailable.
			return "", ctx.Err()
		}

		a.logger.Warn("agent invocation attempt failed",
			zap.String("role", string(role)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	a.recordOutcome(ctx, role, "unavailable", time.Since(start))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())

	return "", fmt.Errorf("%w: %s failed after %d attempts: %v",
		ErrAgentUnavailable, role, a.config.MaxRetries+1, lastErr)
}

// generate performs one backend call bounded by the per-call timeout.
func (a *adapter) generate(ctx context.Context, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	opts := []llms.CallOption{llms.WithTemperature(a.config.Temperature)}
	if a.config.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(a.config.MaxTokens))
	}

	resp, err := a.llm.GenerateContent(callCtx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, opts...)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from backend")
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", errors.New("blank completion from backend")
	}
	return text, nil
}

// recordOutcome records invocation metrics.
func (a *adapter) recordOutcome(ctx context.Context, role Role, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("role", string(role)),
		attribute.String("outcome", outcome),
	)
	if a.invokeCounter != nil {
		a.invokeCounter.Add(ctx, 1, attrs)
	}
	if a.latencyHist != nil {
		a.latencyHist.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// Close closes the adapter and stops template watching.
func (a *adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.prompts.Stop()
	return nil
}
