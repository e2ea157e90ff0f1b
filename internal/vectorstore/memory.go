package vectorstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

type memEntry struct {
	models.IndexEntry
	norm float64
}

// snapshot is immutable once published.
type snapshot struct {
	dims     int
	byCourse map[string][]memEntry
	owner    map[string]string // document id -> course id
}

// MemoryStore keeps the index in process. Writers build a new snapshot and
// publish it with a single pointer swap, so readers never lock.
type MemoryStore struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.snap.Store(&snapshot{byCourse: map[string][]memEntry{}, owner: map[string]string{}})
	return s
}

func (s *MemoryStore) UpsertDocument(ctx context.Context, documentID, courseID string, entries []models.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	dims, err := checkEntries(cur.dims, entries)
	if err != nil {
		return err
	}

	next := cur.without(documentID)
	next.dims = dims

	added := make([]memEntry, 0, len(entries))
	for _, e := range stamp(documentID, courseID, entries) {
		added = append(added, memEntry{IndexEntry: e, norm: norm(e.Embedding)})
	}
	next.byCourse[courseID] = append(slices.Clone(next.byCourse[courseID]), added...)
	next.owner[documentID] = courseID

	s.snap.Store(next)
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, ok := cur.owner[documentID]; !ok {
		return nil
	}
	s.snap.Store(cur.without(documentID))
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, courseID string, vector []float32, k int) ([]models.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := s.snap.Load()
	if err := checkDimension(snap.dims, len(vector)); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	partition := snap.byCourse[courseID]
	qn := norm(vector)
	results := make([]models.ScoredChunk, 0, len(partition))
	for _, e := range partition {
		results = append(results, models.ScoredChunk{
			CourseID: e.CourseID,
			Chunk:    e.Chunk,
			Score:    cosine(vector, qn, e.Embedding, e.norm),
		})
	}
	return topK(results, k), nil
}

func (s *MemoryStore) Dimension(context.Context) (int, error) {
	return s.snap.Load().dims, nil
}

// Len returns the number of entries held for courseID.
func (s *MemoryStore) Len(courseID string) int {
	return len(s.snap.Load().byCourse[courseID])
}

func (s *MemoryStore) Close() error { return nil }

// without returns a copy of the snapshot with documentID's entries removed.
// Untouched partitions are shared with the receiver.
func (sn *snapshot) without(documentID string) *snapshot {
	next := &snapshot{
		dims:     sn.dims,
		byCourse: maps.Clone(sn.byCourse),
		owner:    maps.Clone(sn.owner),
	}
	course, ok := sn.owner[documentID]
	if !ok {
		return next
	}

	kept := make([]memEntry, 0, len(sn.byCourse[course]))
	for _, e := range sn.byCourse[course] {
		if e.Chunk.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(next.byCourse, course)
	} else {
		next.byCourse[course] = kept
	}
	delete(next.owner, documentID)
	return next
}
