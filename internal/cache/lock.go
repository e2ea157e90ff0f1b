package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder cannot release a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker hands out per-document ingestion locks shared by every process
// talking to the same Redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(c *Cache, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Locker{client: c.client, ttl: ttl}
}

func lockKey(documentID string) string {
	return "ingest:lock:" + documentID
}

// Acquire takes the lock for documentID or fails with
// models.ErrIngestionInProgress when another holder has it. The lock is
// refreshed every third of its TTL until released, so only a holder that
// stopped running loses it.
func (l *Locker) Acquire(ctx context.Context, documentID string) (func(), error) {
	token := uuid.NewString()
	key := lockKey(documentID)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %s", models.ErrIngestionInProgress, documentID)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(documentID, key, token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err(); err != nil {
				slog.Warn("release ingestion lock", "document_id", documentID, "error", err)
			}
		})
	}
	return release, nil
}

func (l *Locker) refresh(documentID, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := l.ttl / 3
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			slog.Warn("refresh ingestion lock", "document_id", documentID, "error", err)
		case n == 0:
			slog.Warn("ingestion lock lost", "document_id", documentID)
			return
		}
	}
}
