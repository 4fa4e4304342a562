// Package vectorstore defines the evidence index contract and its
// implementations.
//
// The index stores one document per historical trade: an embedding of the
// trade's canonical rendering plus filterable metadata and the mutable
// learning fields (trust weight, reference count, accuracy). Everything
// above this package depends only on the Index interface, never on a
// specific engine.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for index operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrConnectionFailed indicates the index backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrDimensionMismatch indicates an embedding whose dimension does not
	// match the configured vector size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUpdateConflict indicates a metadata update lost a race with a
	// concurrent writer. Callers retry per their policy.
	ErrUpdateConflict = errors.New("concurrent metadata update conflict")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is the evidence index contract.
//
// Implementations:
//   - ChromemIndex: embedded chromem-go with disk persistence (default)
//   - QdrantIndex: external Qdrant over gRPC
//
// Metadata update atomicity: UpdateMetadata serializes updates per document
// so that concurrent trust-weight and reference-count mutations never lose
// writes. Implementations carry a monotonically increasing "version" field
// in metadata and report ErrUpdateConflict when a write raced with another
// process.
type Index interface {
	// Upsert stores documents keyed by their IDs. Re-upserting an existing
	// ID replaces its content, vector and metadata.
	Upsert(ctx context.Context, docs []Document) ([]string, error)

	// Search performs filtered similarity search. Results are ordered by
	// descending similarity and truncated to limit; matches scoring below
	// scoreThreshold are discarded.
	Search(ctx context.Context, query string, limit int, filter *Filter, scoreThreshold float32) ([]SearchResult, error)

	// Get returns a stored document by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// UpdateMetadata atomically applies mutate to the document's metadata.
	// The mutate function receives the current metadata and returns the
	// full replacement map; content and embedding are untouched.
	UpdateMetadata(ctx context.Context, id string, mutate func(map[string]any) map[string]any) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
