package rag

import (
	"context"
	"hash/fnv"
	"sync"
)

// fakeEmbedder records calls per text. Unset hooks fall back to
// vectorFor.
type fakeEmbedder struct {
	OnEmbed      func(ctx context.Context, text string) ([]float32, error)
	OnEmbedBatch func(ctx context.Context, texts []string) ([][]float32, error)

	mu         sync.Mutex
	calls      map[string]int
	batchCalls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[text]++
	f.mu.Unlock()

	if f.OnEmbed != nil {
		return f.OnEmbed(ctx, text)
	}
	return vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()

	if f.OnEmbedBatch != nil {
		return f.OnEmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) callsFor(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func (f *fakeEmbedder) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// vectorFor derives a deterministic 4-dimensional vector from text.
func vectorFor(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()
	return []float32{
		float32(sum&0xff) + 1,
		float32(sum>>8&0xff) + 1,
		float32(sum>>16&0xff) + 1,
		float32(sum>>24&0xff) + 1,
	}
}
