package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for archive operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyEntries indicates empty or nil entries.
	ErrEmptyEntries = errors.New("empty or nil entries")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrConnectionFailed indicates the Qdrant connection could not be made.
	ErrConnectionFailed = errors.New("failed to connect to qdrant")
)

// Entry is one approved artifact queued for archival.
type Entry struct {
	// ID is the storage identifier; derived from session/kind/version when
	// empty.
	ID string

	// SessionID is the conversation that produced the artifact.
	SessionID string

	// ProjectName is taken from the functional specification.
	ProjectName string

	// Kind is "functional_spec" or "test_plan".
	Kind string

	// Version is the approved version number.
	Version int

	// Content is the rendered artifact text.
	Content string

	// Idea is the idea the session started from.
	Idea string

	// ApprovedAt is when the session reached approval.
	ApprovedAt time.Time
}

// Hit is one similarity-search result.
type Hit struct {
	ID          string  `json:"id"`
	SessionID   string  `json:"session_id"`
	ProjectName string  `json:"project_name"`
	Kind        string  `json:"kind"`
	Version     int     `json:"version"`
	Content     string  `json:"content"`
	Score       float32 `json:"score"`
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store persists approved artifacts and serves similarity search over them.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant gRPC client
type Store interface {
	// Add stores entries and returns their ids.
	Add(ctx context.Context, entries []Entry) ([]string, error)

	// Search returns up to k entries similar to the query, best first.
	Search(ctx context.Context, query string, k int) ([]Hit, error)

	// Close releases backend resources.
	Close() error
}

// Config selects and configures the archive backend.
type Config struct {
	// Backend is "chromem" (embedded, default) or "qdrant".
	Backend string `koanf:"backend"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// New creates a Store for the configured backend.
func New(cfg Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "chromem":
		return NewChromemStore(cfg.Chromem, embedder, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported archive backend %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Backend)
	}
}
