package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRegistry marks live attempt sessions in Redis so a second instance
// (or a second tab routed elsewhere) cannot open the same attempt while one
// session holds it. The TTL keeps a crashed holder from pinning the attempt
// forever; the attempt store's completion precondition stays the hard guard.
type SessionRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionRegistry(client *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{client: client, ttl: ttl}
}

func (r *SessionRegistry) Acquire(attemptID string) bool {
	ok, err := r.client.SetNX(context.Background(), r.key(attemptID), "1", r.ttl).Result()
	if err != nil {
		// Registry is advisory; a Redis outage must not block test taking.
		return true
	}
	return ok
}

func (r *SessionRegistry) Release(attemptID string) {
	_ = r.client.Del(context.Background(), r.key(attemptID)).Err()
}

func (r *SessionRegistry) key(attemptID string) string {
	return "attempt:session:" + attemptID
}
