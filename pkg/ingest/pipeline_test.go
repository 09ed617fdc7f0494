package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/processor"
)

type memStore struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]models.Document
	chunks   map[uuid.UUID][]models.EmbeddedChunk
	replaces int
	err      error
}

func newMemStore(docs ...models.Document) *memStore {
	s := &memStore{docs: map[uuid.UUID]models.Document{}, chunks: map[uuid.UUID][]models.EmbeddedChunk{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memStore) GetDocument(_ context.Context, tenantID, documentID uuid.UUID) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[documentID]
	if !ok || d.TenantID != tenantID {
		return models.Document{}, &types.NotFoundError{Resource: "document"}
	}
	return d, nil
}

func (s *memStore) ReplaceChunks(_ context.Context, _, documentID uuid.UUID, chunks []models.EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.replaces++
	s.chunks[documentID] = chunks
	d := s.docs[documentID]
	d.Status = models.StatusReady
	s.docs[documentID] = d
	return nil
}

func (s *memStore) SetDocumentStatus(_ context.Context, _, documentID uuid.UUID, status models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[documentID]
	d.Status = status
	s.docs[documentID] = d
	return nil
}

func (s *memStore) status(id uuid.UUID) models.DocumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].Status
}

func (s *memStore) hashes(id uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.chunks[id]))
	for _, c := range s.chunks[id] {
		out = append(out, c.Hash)
	}
	return out
}

type memBlobs map[string][]byte

func (b memBlobs) Put(_ context.Context, key string, data []byte) (string, error) {
	b["mem://"+key] = data
	return "mem://" + key, nil
}

func (b memBlobs) Get(_ context.Context, url string) ([]byte, error) {
	data, ok := b[url]
	if !ok {
		return nil, &types.NotFoundError{Resource: "blob"}
	}
	return data, nil
}

type fakeFetcher struct {
	text string
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) (string, string, error) {
	return "Page", f.text, f.err
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "gone" }
func (permanentErr) Permanent() bool { return true }

type fixture struct {
	tenantID uuid.UUID
	doc      models.Document
	store    *memStore
	blobs    memBlobs
	fetcher  *fakeFetcher
	embedder *fakeEmbedder
	pipeline *Pipeline
}

func newFixture(t *testing.T, source models.SourceType, content string) *fixture {
	t.Helper()

	f := &fixture{
		tenantID: uuid.New(),
		blobs:    memBlobs{},
		fetcher:  &fakeFetcher{text: content},
		embedder: &fakeEmbedder{},
	}
	f.doc = models.Document{
		ID:         uuid.New(),
		TenantID:   f.tenantID,
		Title:      "House rules",
		SourceType: source,
		Status:     models.StatusProcessing,
		StorageURL: "https://hotel.example.com/rules",
	}
	if source != models.SourceURL {
		url, err := f.blobs.Put(context.Background(), "rules", []byte(content))
		require.NoError(t, err)
		f.doc.StorageURL = url
	}
	f.store = newMemStore(f.doc)

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 800, ChunkOverlap: 200})
	require.NoError(t, err)

	f.pipeline, err = NewPipeline(PipelineDeps{
		Store:     f.store,
		Blobs:     f.blobs,
		Fetcher:   f.fetcher,
		Extractor: processor.NewExtractor(),
		Chunker:   chunker,
		Embedder:  f.embedder,
	})
	require.NoError(t, err)
	return f
}

func TestPipeline_RunText(t *testing.T) {
	f := newFixture(t, models.SourceText, strings.Repeat("a", 1401))

	result := f.pipeline.Run(context.Background(), f.tenantID, f.doc.ID)
	require.Equal(t, Succeeded, result.Kind, "err: %v", result.Err)
	assert.NoError(t, result.Err)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, models.StatusReady, f.store.status(f.doc.ID))

	chunks := f.store.chunks[f.doc.ID]
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, f.tenantID, c.TenantID)
		assert.Equal(t, f.doc.ID, c.DocumentID)
		assert.Len(t, c.Embedding, 2)
		assert.NotEmpty(t, c.Hash)
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	text := strings.Repeat("Breakfast is served from seven. ", 100)
	f := newFixture(t, models.SourceText, text)
	ctx := context.Background()

	first := f.pipeline.Run(ctx, f.tenantID, f.doc.ID)
	require.Equal(t, Succeeded, first.Kind)
	firstHashes := f.store.hashes(f.doc.ID)

	second := f.pipeline.Run(ctx, f.tenantID, f.doc.ID)
	require.Equal(t, Succeeded, second.Kind)

	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, firstHashes, f.store.hashes(f.doc.ID))
	assert.Equal(t, 2, f.store.replaces)
}

func TestPipeline_RunURL(t *testing.T) {
	f := newFixture(t, models.SourceURL, "Parking costs 200 SEK per night.")

	result := f.pipeline.Run(context.Background(), f.tenantID, f.doc.ID)
	require.Equal(t, Succeeded, result.Kind)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, "Parking costs 200 SEK per night.", f.store.chunks[f.doc.ID][0].Text)
}

func TestPipeline_EmptyTextIsReady(t *testing.T) {
	f := newFixture(t, models.SourceText, "")

	result := f.pipeline.Run(context.Background(), f.tenantID, f.doc.ID)
	require.Equal(t, Succeeded, result.Kind)
	assert.Zero(t, result.Chunks)
	assert.Zero(t, f.embedder.calls)
	assert.Equal(t, models.StatusReady, f.store.status(f.doc.ID))
}

func TestPipeline_Classification(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  Kind
	}{
		{
			name:  "embedding outage is retryable",
			setup: func(f *fixture) { f.embedder.errs = []error{&types.EmbeddingServiceError{Err: errors.New("503")}} },
			want:  Retryable,
		},
		{
			name:  "database error is retryable",
			setup: func(f *fixture) { f.store.err = errors.New("connection refused") },
			want:  Retryable,
		},
		{
			name:  "cancelled call is retryable",
			setup: func(f *fixture) { f.store.err = context.Canceled },
			want:  Retryable,
		},
		{
			name:  "missing document is fatal",
			setup: func(f *fixture) { delete(f.store.docs, f.doc.ID) },
			want:  Fatal,
		},
		{
			name:  "missing blob is fatal",
			setup: func(f *fixture) { delete(f.blobs, f.doc.StorageURL) },
			want:  Fatal,
		},
		{
			name: "unparseable pdf is fatal",
			setup: func(f *fixture) {
				d := f.store.docs[f.doc.ID]
				d.SourceType = models.SourcePDF
				f.store.docs[f.doc.ID] = d
			},
			want: Fatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.SourceText, "Checkout is at 11:00.")
			tt.setup(f)

			result := f.pipeline.Run(context.Background(), f.tenantID, f.doc.ID)
			assert.Equal(t, tt.want, result.Kind)
			assert.Error(t, result.Err)
		})
	}
}

func TestPipeline_URLClassification(t *testing.T) {
	f := newFixture(t, models.SourceURL, "")
	f.fetcher.err = permanentErr{}
	assert.Equal(t, Fatal, f.pipeline.Run(context.Background(), f.tenantID, f.doc.ID).Kind)

	f.fetcher.err = errors.New("timeout")
	assert.Equal(t, Retryable, f.pipeline.Run(context.Background(), f.tenantID, f.doc.ID).Kind)
}

func TestNewPipeline_RequiresDeps(t *testing.T) {
	_, err := NewPipeline(PipelineDeps{})
	var cfgErr *types.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
