package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client), mr
}

func TestCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	var got map[string]int
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, 1, got["a"])

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	c, _ := newTestCache(t)
	l := NewLocker(c, time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "doc-1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "doc-1")
	assert.ErrorIs(t, err, models.ErrIngestionInProgress)

	other, err := l.Acquire(ctx, "doc-2")
	require.NoError(t, err, "different documents do not contend")
	other()

	release()
	again, err := l.Acquire(ctx, "doc-1")
	require.NoError(t, err)
	again()
}

func TestLocker_ExpiredHolderCannotReleaseNewLock(t *testing.T) {
	c, mr := newTestCache(t)
	l := NewLocker(c, time.Second)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "doc-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "doc-1")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists(lockKey("doc-1")), "stale release must not drop the new holder's lock")
	fresh()
	assert.False(t, mr.Exists(lockKey("doc-1")))
}

func TestLocker_RefreshedWhileHeld(t *testing.T) {
	c, mr := newTestCache(t)
	l := NewLocker(c, 300*time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "doc-1")
	require.NoError(t, err)

	// miniredis only expires keys on FastForward; in between, real time lets
	// the refresher reset the TTL. Three rounds outlast the original TTL.
	for range 3 {
		time.Sleep(250 * time.Millisecond)
		mr.FastForward(200 * time.Millisecond)
		require.True(t, mr.Exists(lockKey("doc-1")), "lock expired while held")
	}

	_, err = l.Acquire(ctx, "doc-1")
	assert.ErrorIs(t, err, models.ErrIngestionInProgress)

	release()
	assert.False(t, mr.Exists(lockKey("doc-1")))

	// A released lock is no longer refreshed.
	again, err := l.Acquire(ctx, "doc-1")
	require.NoError(t, err)
	again()
}

func TestReportStore(t *testing.T) {
	c, _ := newTestCache(t)
	s := NewReportStore(c, time.Hour)
	ctx := context.Background()

	_, err := s.Load(ctx, "doc-1")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	r := models.NewIngestReport(models.NewDocument("cs009a", "notes.txt", []byte("x")))
	r.Advance(models.StateValidated)
	r.Outcomes = []models.ChunkOutcome{{Index: 0, Kind: models.OutcomeSkipped, Attempts: 3, Reason: "timeout"}}
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Load(ctx, r.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StateValidated, got.State)
	assert.Equal(t, []int{0}, got.Skipped())

	require.NoError(t, s.Delete(ctx, r.DocumentID))
	_, err = s.Load(ctx, r.DocumentID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}
