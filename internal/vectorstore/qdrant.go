package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("tradebank.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port (6333).
	Port int

	// Collection is the evidence collection name.
	Collection string

	// VectorSize is the embedding dimensionality. Must match the embedder.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff duration, doubled per attempt.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "trade_evidence"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// isTransientError reports whether a gRPC error should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantIndex implements Index using Qdrant's native gRPC client.
//
// Unlike the embedded chromem index, Qdrant evaluates both the equality and
// the range parts of a Filter server-side, and applies the score threshold
// in the query itself.
//
// Point IDs: Qdrant requires UUIDs, evidence IDs are source-trade
// identifiers. IDs that are not already UUIDs are mapped through a
// deterministic SHA1 UUID so re-upserting the same trade hits the same
// point. The original ID is kept in payload["id"].
type QdrantIndex struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	// locks serializes per-document metadata updates within this process.
	locks sync.Map // map[string]*sync.Mutex
}

// NewQdrantIndex creates a QdrantIndex, verifies connectivity and ensures
// the evidence collection exists.
func NewQdrantIndex(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantIndex, error) {
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

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Uint64("vector_size", config.VectorSize),
	)

	return idx, nil
}

// ensureCollection creates the evidence collection if it does not exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	_, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}

	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	s.logger.Info("created qdrant collection", zap.String("collection", s.config.Collection))
	return nil
}

// retryOperation retries a gRPC operation with exponential backoff on
// transient errors.
func (s *QdrantIndex) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s canceled: %w", name, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		if !isTransientError(err) {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, lastErr)
}

// pointID maps an evidence ID to a stable Qdrant point ID.
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (s *QdrantIndex) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// toQdrantPayload converts metadata plus content into a Qdrant payload.
func toQdrantPayload(id, content string, metadata map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+2)
	payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: id}}
	payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: content}}
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

// fromQdrantPayload splits a Qdrant payload back into id, content and metadata.
func fromQdrantPayload(payload map[string]*qdrant.Value) (id, content string, metadata map[string]any) {
	metadata = make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case "id":
				id = val.StringValue
			case "content":
				content = val.StringValue
			default:
				metadata[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		}
	}
	return id, content, metadata
}

// Upsert stores documents keyed by their IDs.
func (s *QdrantIndex) Upsert(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("collection", s.config.Collection),
	)

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

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		if uint64(len(embeddings[i])) != s.config.VectorSize {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embeddings[i]), s.config.VectorSize)
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: toQdrantPayload(doc.ID, doc.Content, doc.Metadata),
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// buildFilter translates a Filter into Qdrant conditions.
func buildFilter(filter *Filter) *qdrant.Filter {
	if filter == nil {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter.Match)+len(filter.Ranges))
	for key, value := range filter.Match {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	for _, r := range filter.Ranges {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: r.Key,
					Range: &qdrant.Range{
						Gte: qdrant.PtrOf(r.Min),
						Lte: qdrant.PtrOf(r.Max),
					},
				},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// Search performs filtered similarity search.
func (s *QdrantIndex) Search(ctx context.Context, query string, limit int, filter *Filter, scoreThreshold float32) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Search")
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

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	req := &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filter),
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, req)
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	results := make([]SearchResult, len(points))
	for i, point := range points {
		id, content, metadata := fromQdrantPayload(point.Payload)
		results[i] = SearchResult{
			ID:       id,
			Content:  content,
			Score:    point.Score,
			Metadata: metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// getPoint fetches a single point with payload.
func (s *QdrantIndex) getPoint(ctx context.Context, id string) (*qdrant.RetrievedPoint, error) {
	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            []*qdrant.PointId{pointID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return points[0], nil
}

// Get returns a stored document by ID.
func (s *QdrantIndex) Get(ctx context.Context, id string) (*Document, error) {
	point, err := s.getPoint(ctx, id)
	if err != nil {
		return nil, err
	}
	docID, content, metadata := fromQdrantPayload(point.Payload)
	if docID == "" {
		docID = id
	}
	return &Document{ID: docID, Content: content, Metadata: metadata}, nil
}

// UpdateMetadata atomically applies mutate to the document's metadata.
//
// In-process callers are serialized by a per-document mutex. Writers in
// other processes are detected through the version field: the point is
// re-read before the payload write and ErrUpdateConflict is returned when
// the version moved since the first read.
func (s *QdrantIndex) UpdateMetadata(ctx context.Context, id string, mutate func(map[string]any) map[string]any) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.UpdateMetadata")
	defer span.End()

	span.SetAttributes(attribute.String("document_id", id))

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	point, err := s.getPoint(ctx, id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	docID, content, metadata := fromQdrantPayload(point.Payload)
	if docID == "" {
		docID = id
	}
	version, _ := MetadataInt(metadata, "version")

	updated := mutate(metadata)
	updated["version"] = version + 1

	current, err := s.getPoint(ctx, id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	_, _, currentMeta := fromQdrantPayload(current.Payload)
	if currentVersion, _ := MetadataInt(currentMeta, "version"); currentVersion != version {
		span.SetStatus(codes.Error, "version conflict")
		return fmt.Errorf("%w: document %s version %d != %d", ErrUpdateConflict, id, currentVersion, version)
	}

	err = s.retryOperation(ctx, "set_payload", func() error {
		_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: s.config.Collection,
			Payload:        toQdrantPayload(docID, content, updated),
			PointsSelector: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("updating payload for %s: %w", id, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents.
func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		return 0, fmt.Errorf("getting collection info: %w", err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int(*info.PointsCount), nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Ensure QdrantIndex implements Index.
var _ Index = (*QdrantIndex)(nil)
