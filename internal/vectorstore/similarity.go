package vectorstore

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b given their norms. A zero
// vector is dissimilar to everything.
func cosine(a []float32, na float64, b []float32, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

// Cosine is the similarity metric used by every store.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, norm(a), b, norm(b))
}

// compareScored orders by descending score, then ascending
// (documentID, chunk index).
func compareScored(a, b models.ScoredChunk) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Chunk.DocumentID, b.Chunk.DocumentID); c != 0 {
		return c
	}
	return cmp.Compare(a.Chunk.Index, b.Chunk.Index)
}

// topK sorts results and truncates them to k.
func topK(results []models.ScoredChunk, k int) []models.ScoredChunk {
	slices.SortFunc(results, compareScored)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func checkDimension(established, got int) error {
	if established != 0 && established != got {
		return fmt.Errorf("%w: store holds %d, got %d", models.ErrDimensionMismatch, established, got)
	}
	return nil
}

// checkEntries verifies that every entry has the same length, matching
// established when it is set, and returns that length.
func checkEntries(established int, entries []models.IndexEntry) (int, error) {
	dims := established
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return 0, fmt.Errorf("%w: chunk %d has no embedding", models.ErrDimensionMismatch, e.Chunk.Index)
		}
		if err := checkDimension(dims, len(e.Embedding)); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", e.Chunk.Index, err)
		}
		dims = len(e.Embedding)
	}
	return dims, nil
}

// stamp sets the owning ids on every entry so callers cannot file an entry
// under a different document or course.
func stamp(documentID, courseID string, entries []models.IndexEntry) []models.IndexEntry {
	out := make([]models.IndexEntry, len(entries))
	for i, e := range entries {
		e.CourseID = courseID
		e.Chunk.DocumentID = documentID
		e.Embedding = slices.Clone(e.Embedding)
		out[i] = e
	}
	return out
}
