package agents

import (
	"errors"
	"time"

	"github.com/rodcar/agentic-software-factory/internal/document"
)

var (
	// ErrAgentUnavailable indicates the backend could not be reached
	// within the retry budget. The turn may be retried by the user.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrUnknownRole indicates an unrecognized agent role.
	ErrUnknownRole = errors.New("unknown agent role")

	// ErrInvalidConfig indicates missing or inconsistent adapter configuration.
	ErrInvalidConfig = errors.New("invalid agent configuration")

	// ErrClosed indicates the adapter has been closed.
	ErrClosed = errors.New("agent adapter is closed")
)

// Role identifies one of the closed set of agent roles.
type Role string

const (
	// RoleDrafter authors functional spec versions.
	RoleDrafter Role = "drafter"
	// RoleTestPlanner authors test plan versions.
	RoleTestPlanner Role = "test_planner"
	// RoleReviewer critiques artifacts; it never authors versions.
	RoleReviewer Role = "reviewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleDrafter || r == RoleTestPlanner || r == RoleReviewer
}

// Writes returns the document kind the role is permitted to author.
// The reviewer writes nothing.
func (r Role) Writes() (document.Kind, bool) {
	switch r {
	case RoleDrafter:
		return document.KindFunctionalSpec, true
	case RoleTestPlanner:
		return document.KindTestPlan, true
	default:
		return "", false
	}
}

// Author returns the document author value for versions the role produces.
func (r Role) Author() document.Author {
	switch r {
	case RoleDrafter:
		return document.AuthorDrafter
	case RoleTestPlanner:
		return document.AuthorTestPlanner
	case RoleReviewer:
		return document.AuthorReviewer
	default:
		return document.AuthorUser
	}
}

// RoleFor returns the role that owns a document kind.
func RoleFor(kind document.Kind) (Role, error) {
	switch kind {
	case document.KindFunctionalSpec:
		return RoleDrafter, nil
	case document.KindTestPlan:
		return RoleTestPlanner, nil
	default:
		return "", document.ErrUnknownKind
	}
}

// Context is the structured input for one agent invocation. Fields are
// plain text; unused fields stay empty and the prompt templates skip them.
type Context struct {
	// Idea is the originating project idea.
	Idea string

	// FunctionalSpec is the current functional spec content, provided to
	// the test planner and reviewer.
	FunctionalSpec string

	// TestPlan is the current test plan content, provided to the reviewer.
	TestPlan string

	// PriorVersion is the content being revised.
	PriorVersion string

	// Feedback is the user's free-text revision request.
	Feedback string
}

// Backend selects the model provider.
type Backend string

const (
	// BackendAzure targets an Azure OpenAI deployment.
	BackendAzure Backend = "azure"
	// BackendOpenAI targets the OpenAI API or a compatible endpoint.
	BackendOpenAI Backend = "openai"
)

// Config configures the agent adapter.
type Config struct {
	// Backend selects azure or openai.
	Backend Backend

	// Model is the model id (openai) or deployment name (azure).
	Model string

	// APIKey authenticates against the backend.
	APIKey string `json:"-"`

	// Endpoint is the Azure resource endpoint, or an optional base URL
	// override for the openai backend.
	Endpoint string

	// APIVersion is the Azure API version.
	APIVersion string

	// Timeout bounds a single backend call.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseBackoff is the initial backoff, doubled per retry.
	BaseBackoff time.Duration

	// RequestsPerMinute caps outbound call rate across roles.
	RequestsPerMinute float64

	// Burst allows short bursts above the sustained rate.
	Burst int

	// Temperature is passed through to the model.
	Temperature float64

	// MaxTokens caps the completion length; 0 uses the provider default.
	MaxTokens int

	// TemplateDir optionally overrides the embedded prompt templates.
	TemplateDir string
}

// DefaultConfig returns sensible defaults for everything but credentials.
func DefaultConfig() *Config {
	return &Config{
		Backend:           BackendOpenAI,
		Model:             "gpt-4",
		APIVersion:        "2024-02-01",
		Timeout:           60 * time.Second,
		MaxRetries:        3,
		BaseBackoff:       time.Second,
		RequestsPerMinute: 50,
		Burst:             5,
		Temperature:       0.3,
	}
}

// Validate checks that the configuration can produce a working client.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAzure:
		if c.Endpoint == "" {
			return errors.New("azure backend requires an endpoint")
		}
	case BackendOpenAI:
	default:
		return errors.New("backend must be azure or openai")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.APIKey == "" {
		return errors.New("api key is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	return nil
}
