package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// Locker guards against two ingestions of one document running at once.
// Acquire fails with models.ErrIngestionInProgress instead of waiting.
type Locker interface {
	Acquire(ctx context.Context, documentID string) (release func(), err error)
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{inFlight: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, documentID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inFlight[documentID]; busy {
		return nil, fmt.Errorf("%w: document %s", models.ErrIngestionInProgress, documentID)
	}
	l.inFlight[documentID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.inFlight, documentID)
			l.mu.Unlock()
		})
	}, nil
}

// chainLocker takes every lock in order, so a local guard can front a
// distributed one.
type chainLocker []Locker

// ChainLockers combines lockers; all must be acquired for Acquire to succeed.
func ChainLockers(lockers ...Locker) Locker {
	return chainLocker(lockers)
}

func (c chainLocker) Acquire(ctx context.Context, documentID string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, err := l.Acquire(ctx, documentID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
