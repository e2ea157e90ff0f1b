package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/courseassist/internal/models"
	"github.com/nikhilbhutani/courseassist/internal/vectorstore"
	"github.com/nikhilbhutani/courseassist/pkg/chunker"
)

// tenThousandChars has no whitespace, so chunk i spans [900i, 900i+1000).
func tenThousandChars() string {
	var sb strings.Builder
	for i := 0; sb.Len() < 10000; i++ {
		fmt.Fprintf(&sb, "%05d", i)
	}
	return sb.String()
}

func chunkText(text string, i int) string {
	return text[900*i : min(900*i+1000, len(text))]
}

func testOptions() Options {
	return Options{
		Chunking:          chunker.ChunkOptions{ChunkSize: 1000, ChunkOverlap: 100},
		AllowedExtensions: []string{".txt", ".pdf"},
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		Concurrency:       4,
	}
}

func newTestPipeline(e Embedder, store vectorstore.VectorStore, opts Options) *Pipeline {
	return NewPipeline(e, store, NewLocalLocker(), opts)
}

func TestIngest_PartialFailureStillIndexes(t *testing.T) {
	text := tenThousandChars()
	failing := map[string]bool{chunkText(text, 3): true, chunkText(text, 7): true}

	e := &fakeEmbedder{OnEmbed: func(_ context.Context, s string) ([]float32, error) {
		if failing[s] {
			return nil, fmt.Errorf("%w: connection refused", models.ErrProviderUnavailable)
		}
		return vectorFor(s), nil
	}}
	store := vectorstore.NewMemoryStore()
	p := newTestPipeline(e, store, testOptions())

	report, err := p.Ingest(context.Background(), models.NewDocument("cs009a", "syllabus.txt", []byte(text)))
	require.NoError(t, err)

	assert.Equal(t, models.StateIndexed, report.State)
	assert.Equal(t, []models.IngestState{
		models.StateReceived, models.StateValidated, models.StateChunked, models.StateEmbedding, models.StateIndexed,
	}, report.History)
	assert.Equal(t, 11, report.ChunkCount)
	assert.Equal(t, 9, report.Embedded)
	assert.Equal(t, []int{3, 7}, report.Skipped())
	assert.Equal(t, 3, e.callsFor(chunkText(text, 3)), "retried up to the attempt budget")
	assert.Equal(t, 3, report.Outcomes[7].Attempts)
	assert.Equal(t, 1, report.Outcomes[0].Attempts)
	assert.Equal(t, 9, store.Len("cs009a"))

	r := NewRetriever(e, store)
	res, err := r.Retrieve(context.Background(), "cs009a", chunkText(text, 5), 3, 4000)
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, 5, res.Chunks[0].Chunk.Index)
	assert.InDelta(t, 1.0, res.Chunks[0].Score, 1e-6)
}

func TestIngest_RejectedChunkSkippedWithoutRetry(t *testing.T) {
	text := tenThousandChars()
	bad := chunkText(text, 0)
	e := &fakeEmbedder{OnEmbed: func(_ context.Context, s string) ([]float32, error) {
		if s == bad {
			return nil, fmt.Errorf("%w: empty response", models.ErrProviderRejected)
		}
		return vectorFor(s), nil
	}}

	report, err := newTestPipeline(e, vectorstore.NewMemoryStore(), testOptions()).
		Ingest(context.Background(), models.NewDocument("c", "notes.txt", []byte(text)))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, report.Skipped())
	assert.Equal(t, 1, e.callsFor(bad))
	assert.Contains(t, report.Outcomes[0].Reason, "empty response")
}

func TestIngest_InvalidDocumentLeavesNothingBehind(t *testing.T) {
	tests := []struct {
		name string
		doc  models.Document
	}{
		{"disallowed extension", models.NewDocument("c", "dog,cat,bird.csv", []byte("dog,cat,bird"))},
		{"supported but not allowed", models.NewDocument("c", "notes.md", []byte("# notes"))},
		{"no extension", models.NewDocument("c", "README", []byte("hello"))},
		{"empty content", models.NewDocument("c", "empty.txt", nil)},
		{"missing course", models.NewDocument("", "notes.txt", []byte("hello"))},
		{"blank text", models.NewDocument("c", "blank.txt", []byte("   \n\t "))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &fakeEmbedder{}
			store := vectorstore.NewMemoryStore()

			report, err := newTestPipeline(e, store, testOptions()).Ingest(context.Background(), tt.doc)
			require.ErrorIs(t, err, models.ErrInvalidDocument)
			require.NotNil(t, report)
			assert.Equal(t, models.StateFailed, report.State)
			assert.ErrorIs(t, report.Err(), models.ErrInvalidDocument)
			assert.Zero(t, report.ChunkCount)
			assert.Zero(t, e.totalCalls())
			assert.Zero(t, store.Len(tt.doc.CourseID))
		})
	}
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	text := tenThousandChars()
	e := &fakeEmbedder{}
	store := vectorstore.NewMemoryStore()
	p := newTestPipeline(e, store, testOptions())
	doc := models.NewDocument("c", "lecture.txt", []byte(text))

	_, err := p.Ingest(context.Background(), doc)
	require.NoError(t, err)
	first, err := store.Query(context.Background(), "c", vectorFor(chunkText(text, 2)), 20)
	require.NoError(t, err)

	_, err = p.Ingest(context.Background(), doc)
	require.NoError(t, err)
	second, err := store.Query(context.Background(), "c", vectorFor(chunkText(text, 2)), 20)
	require.NoError(t, err)

	assert.Equal(t, 11, store.Len("c"))
	assert.Equal(t, first, second)
}

func TestIngest_ConcurrentSameDocument(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	e := &fakeEmbedder{OnEmbed: func(_ context.Context, s string) ([]float32, error) {
		if s == "Test file for CS009A" {
			once.Do(func() { close(entered) })
			<-unblock
		}
		return vectorFor(s), nil
	}}
	store := vectorstore.NewMemoryStore()
	p := newTestPipeline(e, store, testOptions())
	doc := models.NewDocument("cs009a", "test.txt", []byte("Test file for CS009A"))

	type result struct {
		report *models.IngestReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := p.Ingest(context.Background(), doc)
		done <- result{r, err}
	}()

	<-entered
	report, err := p.Ingest(context.Background(), doc)
	assert.ErrorIs(t, err, models.ErrIngestionInProgress)
	assert.Nil(t, report)

	other, err := p.Ingest(context.Background(), models.NewDocument("cs009a", "other.txt", []byte("different document")))
	require.NoError(t, err, "other documents are not blocked")
	assert.Equal(t, models.StateIndexed, other.State)

	close(unblock)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, models.StateIndexed, first.report.State)

	_, err = p.Ingest(context.Background(), doc)
	assert.NoError(t, err, "guard is released after completion")
}

func TestIngest_AllSkippedKeepsPreviousEntries(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	good := &fakeEmbedder{}
	_, err := newTestPipeline(good, store, testOptions()).
		Ingest(context.Background(), models.NewDocument("c", "a.txt", []byte("version one")))
	require.NoError(t, err)

	bad := &fakeEmbedder{OnEmbed: func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("%w: empty", models.ErrProviderRejected)
	}}
	report, err := newTestPipeline(bad, store, testOptions()).
		Ingest(context.Background(), models.NewDocument("c", "a.txt", []byte("version two")))
	require.ErrorIs(t, err, models.ErrNoChunksEmbedded)
	assert.Equal(t, models.StateFailed, report.State)
	assert.Equal(t, []int{0}, report.Skipped())

	got, err := store.Query(context.Background(), "c", vectorFor("version one"), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "version one", got[0].Chunk.Text)
}

func TestIngest_DimensionMismatchIsFatal(t *testing.T) {
	text := tenThousandChars()
	e := &fakeEmbedder{OnEmbed: func(_ context.Context, s string) ([]float32, error) {
		if s == chunkText(text, 4) {
			return nil, fmt.Errorf("%w: got 3, want 4", models.ErrDimensionMismatch)
		}
		return vectorFor(s), nil
	}}
	store := vectorstore.NewMemoryStore()

	report, err := newTestPipeline(e, store, testOptions()).
		Ingest(context.Background(), models.NewDocument("c", "x.txt", []byte(text)))
	require.ErrorIs(t, err, models.ErrDimensionMismatch)
	assert.Equal(t, models.StateFailed, report.State)
	assert.Equal(t, 1, e.callsFor(chunkText(text, 4)), "never retried")
	assert.Zero(t, store.Len("c"))
}

func TestIngest_CancelledBeforeSwapDiscardsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &fakeEmbedder{OnEmbed: func(context.Context, string) ([]float32, error) {
		cancel()
		return nil, fmt.Errorf("%w: timeout", models.ErrProviderUnavailable)
	}}
	store := vectorstore.NewMemoryStore()

	report, err := newTestPipeline(e, store, testOptions()).
		Ingest(ctx, models.NewDocument("c", "x.txt", []byte("some text")))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StateFailed, report.State)
	assert.Zero(t, store.Len("c"))
}

func TestIngest_BatchedEmbedding(t *testing.T) {
	text := tenThousandChars()
	opts := testOptions()
	opts.BatchSize = 4

	e := &fakeEmbedder{}
	report, err := newTestPipeline(e, vectorstore.NewMemoryStore(), opts).
		Ingest(context.Background(), models.NewDocument("c", "x.txt", []byte(text)))
	require.NoError(t, err)
	assert.Equal(t, 11, report.Embedded)
	assert.Equal(t, 3, e.batchCalls)
	assert.Zero(t, e.totalCalls())
}

func TestIngest_BatchFailureFallsBackToSingleChunks(t *testing.T) {
	text := tenThousandChars()
	opts := testOptions()
	opts.BatchSize = 4

	e := &fakeEmbedder{OnEmbedBatch: func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: batch too large", models.ErrProviderRejected)
	}}
	report, err := newTestPipeline(e, vectorstore.NewMemoryStore(), opts).
		Ingest(context.Background(), models.NewDocument("c", "x.txt", []byte(text)))
	require.NoError(t, err)
	assert.Equal(t, 11, report.Embedded)
	assert.Equal(t, 11, e.totalCalls())
	assert.Empty(t, report.Skipped())
}

func TestIngest_UnavailableBatchKeepsRetryBudget(t *testing.T) {
	text := tenThousandChars()
	opts := testOptions()
	opts.BatchSize = 4

	e := &fakeEmbedder{OnEmbedBatch: func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: 503", models.ErrProviderUnavailable)
	}}
	report, err := newTestPipeline(e, vectorstore.NewMemoryStore(), opts).
		Ingest(context.Background(), models.NewDocument("c", "x.txt", []byte(text)))
	require.ErrorIs(t, err, models.ErrNoChunksEmbedded)

	// 11 chunks in batches of 4: three batches, each tried MaxAttempts times.
	assert.Equal(t, 9, e.batchCalls)
	assert.Zero(t, e.totalCalls(), "no per-chunk retries after the batch gave up")
	require.Len(t, report.Skipped(), 11)
	for _, o := range report.Outcomes {
		assert.Equal(t, models.OutcomeSkipped, o.Kind)
		assert.Equal(t, opts.MaxAttempts, o.Attempts)
	}
}

func TestIngestHeld_RunsUnderCallersGuard(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	p := newTestPipeline(&fakeEmbedder{}, store, testOptions())
	ctx := context.Background()
	doc := models.NewDocument("c", "notes.txt", []byte("Office hours are at noon"))

	release, err := p.Guard(ctx, doc.ID)
	require.NoError(t, err)
	defer release()

	_, err = p.Ingest(ctx, doc)
	require.ErrorIs(t, err, models.ErrIngestionInProgress)

	report, err := p.IngestHeld(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, models.StateIndexed, report.State)
	assert.Equal(t, 1, store.Len("c"))
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "doc")
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "doc")
	assert.ErrorIs(t, err, models.ErrIngestionInProgress)

	release()
	release()
	again, err := l.Acquire(ctx, "doc")
	require.NoError(t, err)
	again()
}

func TestChainLockers_ReleasesOnPartialFailure(t *testing.T) {
	first, second := NewLocalLocker(), NewLocalLocker()
	ctx := context.Background()

	held, err := second.Acquire(ctx, "doc")
	require.NoError(t, err)

	chain := ChainLockers(first, second)
	_, err = chain.Acquire(ctx, "doc")
	assert.ErrorIs(t, err, models.ErrIngestionInProgress)

	release, err := first.Acquire(ctx, "doc")
	require.NoError(t, err, "first lock was released after the chain failed")
	release()

	held()
	releaseAll, err := chain.Acquire(ctx, "doc")
	require.NoError(t, err)
	releaseAll()
}

func TestChunkDocument(t *testing.T) {
	chunks, err := ChunkDocument(chunker.New(), "doc-1", "Office hours are on Monday.", chunker.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc-1", chunks[0].DocumentID)
	assert.Equal(t, 27, chunks[0].End)
	assert.Positive(t, chunks[0].TokenCount)
}
