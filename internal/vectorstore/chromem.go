package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("tradebank.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the evidence collection name.
	Collection string

	// VectorSize is the expected embedding dimension. Must match the
	// embedder's output dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/tradebank/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "trade_evidence"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, persistence to gob files.
// Exact cosine search is fine at evidence-base scale (thousands of closed
// trades).
//
// Range filters are applied post-query because chromem's where-filter only
// supports equality; the equality part of the filter (symbol, strategy) is
// pushed down.
type ChromemIndex struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger

	// locks serializes per-document metadata updates.
	locks sync.Map // map[string]*sync.Mutex
}

// NewChromemIndex creates a ChromemIndex with the given configuration.
func NewChromemIndex(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	idx := &ChromemIndex{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chromem index initialized",
		zap.String("path", expandedPath),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
	)

	return idx, nil
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

// embeddingFunc adapts the Embedder to chromem's query embedding hook.
func (s *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemIndex) collection() (*chromem.Collection, error) {
	c, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}
	return c, nil
}

// lockFor returns the per-document mutex, creating it on first use.
func (s *ChromemIndex) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Upsert stores documents keyed by their IDs.
func (s *ChromemIndex) Upsert(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	texts := make([]string, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("document at index %d has empty ID", i)
		}
		ids[i] = doc.ID
		texts[i] = doc.Content
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if len(embeddings[i]) != s.config.VectorSize {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embeddings[i]), s.config.VectorSize)
		}
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  convertMetadataToString(doc.Metadata),
			Embedding: embeddings[i],
		}
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted documents",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)
	return ids, nil
}

// Search performs filtered similarity search.
func (s *ChromemIndex) Search(ctx context.Context, query string, limit int, filter *Filter, scoreThreshold float32) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("limit", limit),
	)

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	docCount := collection.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}

	// Range conditions are evaluated post-query, so ask for everything the
	// equality filter admits and trim afterwards.
	n := limit
	if filter != nil && len(filter.Ranges) > 0 {
		n = docCount
	}
	if n > docCount {
		n = docCount
	}

	var where map[string]string
	if filter != nil && len(filter.Match) > 0 {
		where = make(map[string]string, len(filter.Match))
		for k, v := range filter.Match {
			where[k] = v
		}
	}

	results, err := collection.Query(ctx, query, n, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < scoreThreshold {
			continue
		}
		metadata := convertMetadataFromString(r.Metadata)
		if !filter.Matches(metadata) {
			continue
		}
		searchResults = append(searchResults, SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: metadata,
		})
		if len(searchResults) == limit {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// Get returns a stored document by ID.
func (s *ChromemIndex) Get(ctx context.Context, id string) (*Document, error) {
	collection, err := s.collection()
	if err != nil {
		return nil, err
	}

	doc, err := collection.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return &Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: convertMetadataFromString(doc.Metadata),
	}, nil
}

// UpdateMetadata atomically applies mutate to the document's metadata.
//
// The per-document mutex makes the read-modify-write atomic within the
// process; chromem is in-process only, so that is the full guarantee. The
// "version" field is still bumped on every write for observability and
// parity with the Qdrant index.
func (s *ChromemIndex) UpdateMetadata(ctx context.Context, id string, mutate func(map[string]any) map[string]any) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.UpdateMetadata")
	defer span.End()

	span.SetAttributes(attribute.String("document_id", id))

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	doc, err := collection.GetByID(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "not found")
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	metadata := convertMetadataFromString(doc.Metadata)
	if metadata == nil {
		// Documents stored without metadata still get a writable map.
		metadata = make(map[string]any)
	}
	updated := mutate(metadata)
	version, _ := MetadataInt(updated, "version")
	updated["version"] = version + 1

	if err := collection.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Metadata:  convertMetadataToString(updated),
		Embedding: doc.Embedding,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("updating document %s: %w", id, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents.
func (s *ChromemIndex) Count(ctx context.Context) (int, error) {
	collection, err := s.collection()
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

// Close closes the index. chromem persists automatically.
func (s *ChromemIndex) Close() error {
	s.logger.Debug("chromem index closed")
	return nil
}

// Ensure ChromemIndex implements Index.
var _ Index = (*ChromemIndex)(nil)
