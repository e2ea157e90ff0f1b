package chunker

import (
	"errors"
	"fmt"
	"unicode"
)

type Strategy string

const (
	// StrategyBoundary snaps a window's end back to the nearest paragraph,
	// sentence or whitespace boundary, falling back to a hard cut.
	StrategyBoundary Strategy = "boundary"
	// StrategyFixed always cuts exactly ChunkSize characters.
	StrategyFixed Strategy = "fixed"
)

var ErrInvalidOptions = errors.New("invalid chunk options")

type Chunker interface {
	Chunk(text string, opts ChunkOptions) ([]TextChunk, error)
}

type ChunkOptions struct {
	ChunkSize    int      `yaml:"chunk_size"`    // max characters per chunk
	ChunkOverlap int      `yaml:"chunk_overlap"` // characters shared by consecutive chunks
	Strategy     Strategy `yaml:"strategy"`
}

// TextChunk is one window of the source text. Start and End are character
// (rune) offsets, End exclusive.
type TextChunk struct {
	Content string
	Index   int
	Start   int
	End     int
}

func DefaultOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:    1000,
		ChunkOverlap: 100,
		Strategy:     StrategyBoundary,
	}
}

func (o ChunkOptions) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidOptions, o.ChunkSize)
	}
	if o.ChunkOverlap <= 0 || o.ChunkOverlap >= o.ChunkSize {
		return fmt.Errorf("%w: overlap must be in (0, %d), got %d", ErrInvalidOptions, o.ChunkSize, o.ChunkOverlap)
	}
	switch o.Strategy {
	case "", StrategyBoundary, StrategyFixed:
		return nil
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidOptions, o.Strategy)
	}
}

// FixedCount returns the number of chunks StrategyFixed produces for a text of
// the given length in characters.
func FixedCount(length int, opts ChunkOptions) int {
	if length <= 0 {
		return 0
	}
	if length <= opts.ChunkSize {
		return 1
	}
	step := opts.ChunkSize - opts.ChunkOverlap
	rest := length - opts.ChunkSize
	return 1 + (rest+step-1)/step
}

type defaultChunker struct{}

func New() Chunker {
	return &defaultChunker{}
}

// Chunk walks text in windows of ChunkSize characters. Every chunk after the
// first starts exactly ChunkOverlap characters before the previous chunk's end,
// so the spans cover the text with no gaps. The result depends only on the
// text and opts.
func (c *defaultChunker) Chunk(text string, opts ChunkOptions) ([]TextChunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	chunks := make([]TextChunk, 0, FixedCount(n, opts))
	for start := 0; ; {
		end := start + opts.ChunkSize
		if end >= n {
			end = n
		} else if opts.Strategy != StrategyFixed {
			end = snapEnd(runes, start, end, opts.ChunkOverlap)
		}

		chunks = append(chunks, TextChunk{
			Content: string(runes[start:end]),
			Index:   len(chunks),
			Start:   start,
			End:     end,
		})

		if end == n {
			break
		}
		start = end - opts.ChunkOverlap
	}

	return chunks, nil
}

// boundary reports whether a cut just before position i (i.e. after
// runes[i-1]) lands on a boundary of the given kind.
type boundary func(runes []rune, i int) bool

var boundaries = []boundary{
	// paragraph break
	func(r []rune, i int) bool { return i >= 2 && r[i-1] == '\n' && r[i-2] == '\n' },
	// sentence end followed by whitespace
	func(r []rune, i int) bool {
		return i >= 2 && unicode.IsSpace(r[i-1]) && (r[i-2] == '.' || r[i-2] == '!' || r[i-2] == '?')
	},
	// line break
	func(r []rune, i int) bool { return r[i-1] == '\n' },
	// any whitespace
	func(r []rune, i int) bool { return unicode.IsSpace(r[i-1]) },
}

// snapEnd moves end back to the strongest boundary found in the back half of
// the window. The lower bound keeps every chunk longer than overlap so the
// walk always advances.
func snapEnd(runes []rune, start, end, overlap int) int {
	lower := start + (end-start)/2
	if floor := start + overlap + 1; lower < floor {
		lower = floor
	}
	for _, at := range boundaries {
		for i := end; i >= lower; i-- {
			if at(runes, i) {
				return i
			}
		}
	}
	return end
}
