package embeddings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teiServer fakes a TEI embed endpoint that fails the first failures
// requests before answering with fixed vectors.
func teiServer(t *testing.T, failures int, failStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if int(n) <= failures {
			w.WriteHeader(failStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[0.1, 0.2, 0.3, 0.4], [0.5, 0.6, 0.7, 0.8]]`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestService(t *testing.T, baseURL string) *Service {
	t.Helper()
	svc, err := NewService(Config{BaseURL: baseURL}, nil)
	require.NoError(t, err)
	return svc
}

func TestEmbedDocuments(t *testing.T) {
	srv, calls := teiServer(t, 0, 0)
	svc := newTestService(t, srv.URL)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vectors[0])
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedDocumentsRetriesTransientFailure(t *testing.T) {
	srv, calls := teiServer(t, 1, http.StatusInternalServerError)
	svc := newTestService(t, srv.URL)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err, "a single 500 must be absorbed by the retry loop")
	require.Len(t, vectors, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedDocumentsRetryExhaustion(t *testing.T) {
	srv, calls := teiServer(t, 100, http.StatusServiceUnavailable)
	svc := newTestService(t, srv.URL)

	_, err := svc.EmbedDocuments(context.Background(), []string{"alpha"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedDocumentsNoRetryOnClientError(t *testing.T) {
	srv, calls := teiServer(t, 100, http.StatusBadRequest)
	svc := newTestService(t, srv.URL)

	_, err := svc.EmbedDocuments(context.Background(), []string{"alpha"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, int32(1), calls.Load(), "4xx other than 429 is not transient")
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	srv, _ := teiServer(t, 0, 0)
	svc := newTestService(t, srv.URL)

	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedQuery(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[0.1, 0.2, 0.3, 0.4]]`))
	}))
	t.Cleanup(srv.Close)
	svc := newTestService(t, srv.URL)

	vector, err := svc.EmbedQuery(context.Background(), "strategy: CSP")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vector)
	assert.Equal(t, int32(1), calls.Load())

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocumentsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[0.1, 0.2]]`))
	}))
	t.Cleanup(srv.Close)
	svc := newTestService(t, srv.URL)

	_, err := svc.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}
