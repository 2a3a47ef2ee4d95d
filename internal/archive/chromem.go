package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("specfactory.archive.chromem")

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/specfactory/archive"
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// Collection is the collection name. Default: "approved_artifacts".
	Collection string `koanf:"collection"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/specfactory/archive"
	}
	if c.Collection == "" {
		c.Collection = "approved_artifacts"
	}
}

// ChromemStore is the embedded Store backend. chromem-go persists gob files
// under the configured path, so approvals survive daemon restarts without an
// external database.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("archive store initialized",
		zap.String("backend", "chromem"),
		zap.String("path", path),
		zap.String("collection", config.Collection),
	)

	return store, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder to chromem's callback.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Add stores entries in the collection.
func (s *ChromemStore) Add(ctx context.Context, entries []Entry) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "archive.add")
	defer span.End()

	span.SetAttributes(
		attribute.Int("entry_count", len(entries)),
		attribute.String("collection", s.config.Collection),
	)

	if len(entries) == 0 {
		return nil, ErrEmptyEntries
	}

	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}

	ids := make([]string, len(entries))
	texts := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		if ids[i] == "" {
			ids[i] = fmt.Sprintf("%s_%s_v%d", e.SessionID, e.Kind, e.Version)
		}
		texts[i] = e.Content
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		docs[i] = chromem.Document{
			ID:        ids[i],
			Content:   e.Content,
			Metadata:  chromemMetadata(e),
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1 since embeddings are precomputed.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	span.SetAttributes(attribute.Int("entries_added", len(ids)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("archived entries",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(entries)),
	)

	return ids, nil
}

// Search performs similarity search over archived entries.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "archive.search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		// Nothing archived yet.
		return []Hit{}, nil
	}

	// chromem requires nResults <= doc count.
	count := collection.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = chromemHit(r)
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")

	return hits, nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	s.logger.Info("archive store closed", zap.String("backend", "chromem"))
	return nil
}

// chromemMetadata flattens an entry into chromem's string metadata.
func chromemMetadata(e Entry) map[string]string {
	return map[string]string{
		"session_id":   e.SessionID,
		"project_name": e.ProjectName,
		"kind":         e.Kind,
		"version":      strconv.Itoa(e.Version),
		"idea":         e.Idea,
		"approved_at":  e.ApprovedAt.Format(time.RFC3339),
	}
}

// chromemHit converts a chromem result back to a Hit.
func chromemHit(r chromem.Result) Hit {
	version, _ := strconv.Atoi(r.Metadata["version"])
	return Hit{
		ID:          r.ID,
		SessionID:   r.Metadata["session_id"],
		ProjectName: r.Metadata["project_name"],
		Kind:        r.Metadata["kind"],
		Version:     version,
		Content:     r.Content,
		Score:       r.Similarity,
	}
}

var _ Store = (*ChromemStore)(nil)
