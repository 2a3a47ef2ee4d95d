package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/export"
	"github.com/rodcar/agentic-software-factory/internal/session"
)

const instrumentationName = "github.com/rodcar/agentic-software-factory/internal/jobs"

// JobTypeImplementation asks the downstream service to implement the
// approved specification.
const JobTypeImplementation = "implementation"

// ErrLaunchFailed indicates the job service refused or failed the launch.
var ErrLaunchFailed = errors.New("job launch failed")

// Config configures the job-launch client.
type Config struct {
	// URL is the job service endpoint. Empty disables launching.
	URL string

	// OrganizationURL is forwarded so the job lands in the right org.
	OrganizationURL string

	// CodeAgent selects the coding agent the job runs (default: claude-code).
	CodeAgent string

	// Token authenticates against the job service.
	Token string `json:"-"`

	// Timeout bounds one launch call (default: 2m).
	Timeout time.Duration
}

// DefaultConfig returns the default job-launch configuration.
func DefaultConfig() *Config {
	return &Config{
		CodeAgent: "claude-code",
		Timeout:   2 * time.Minute,
	}
}

// Request is the launch payload.
type Request struct {
	OrganizationURL string `json:"organization_url,omitempty"`
	ProjectName     string `json:"project_name"`
	FunctionalSpec  string `json:"functional_spec"`
	TestPlan        string `json:"test_plan"`
	CodeAgent       string `json:"code_agent"`
	JobType         string `json:"job_type"`
}

// Client launches jobs over HTTP. It implements session.ApprovalHook.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	logger     *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	launchCounter metric.Int64Counter
}

// NewClient creates a job-launch client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.CodeAgent == "" {
		cfg.CodeAgent = "claude-code"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}
	c.initMetrics()

	return c, nil
}

func (c *Client) initMetrics() {
	var err error

	c.launchCounter, err = c.meter.Int64Counter(
		"specfactory.jobs.launches_total",
		metric.WithDescription("Total downstream job launches"),
		metric.WithUnit("{launch}"),
	)
	if err != nil {
		c.logger.Warn("failed to create launch counter", zap.Error(err))
	}
}

// Enabled reports whether a job service is configured.
func (c *Client) Enabled() bool { return c.cfg.URL != "" }

// Launch posts one job request.
func (c *Client) Launch(ctx context.Context, req Request) error {
	ctx, span := c.tracer.Start(ctx, "jobs.launch")
	defer span.End()

	span.SetAttributes(
		attribute.String("job.type", req.JobType),
		attribute.String("job.project", req.ProjectName),
	)

	if !c.Enabled() {
		return fmt.Errorf("%w: no job service configured", ErrLaunchFailed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode job request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build job request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordLaunch(ctx, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordLaunch(ctx, "rejected")
		err := fmt.Errorf("%w: job service returned %d", ErrLaunchFailed, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.recordLaunch(ctx, "ok")
	c.logger.Info("job launched",
		zap.String("project", req.ProjectName),
		zap.String("job_type", req.JobType),
		zap.String("code_agent", req.CodeAgent),
	)
	return nil
}

func (c *Client) recordLaunch(ctx context.Context, outcome string) {
	if c.launchCounter == nil {
		return
	}
	c.launchCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// SessionApproved launches an implementation job for the approved
// artifacts. No-op when no job service is configured.
func (c *Client) SessionApproved(ctx context.Context, approval session.Approval) error {
	if !c.Enabled() {
		return nil
	}

	name := export.ProjectName(approval.Spec.Content)
	if name == "" {
		name = summarize(approval.Idea)
	}

	return c.Launch(ctx, Request{
		OrganizationURL: c.cfg.OrganizationURL,
		ProjectName:     name,
		FunctionalSpec:  export.RenderDocument(document.KindFunctionalSpec, approval.Spec.Content),
		TestPlan:        export.RenderDocument(document.KindTestPlan, approval.TestPlan.Content),
		CodeAgent:       c.cfg.CodeAgent,
		JobType:         JobTypeImplementation,
	})
}

// summarize trims an idea down to a usable project name.
func summarize(idea string) string {
	idea = strings.TrimSpace(idea)
	if len(idea) <= 60 {
		return idea
	}
	cut := strings.LastIndex(idea[:60], " ")
	if cut <= 0 {
		cut = 60
	}
	return idea[:cut]
}
