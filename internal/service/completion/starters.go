package completion

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StarterTracker remembers which sentence starters a generation session
// has already used.
type StarterTracker interface {
	Used(ctx context.Context, session string) (map[string]bool, error)
	MarkUsed(ctx context.Context, session, starter string) error
	Reset(ctx context.Context, session string) error
}

type MemoryStarters struct {
	mu   sync.Mutex
	used map[string]map[string]bool
}

func NewMemoryStarters() *MemoryStarters {
	return &MemoryStarters{used: make(map[string]map[string]bool)}
}

func (m *MemoryStarters) Used(_ context.Context, session string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]bool, len(m.used[session]))
	for s := range m.used[session] {
		out[s] = true
	}
	return out, nil
}

func (m *MemoryStarters) MarkUsed(_ context.Context, session, starter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.used[session] == nil {
		m.used[session] = make(map[string]bool)
	}
	m.used[session][starter] = true
	return nil
}

func (m *MemoryStarters) Reset(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.used, session)
	return nil
}

// RedisStarters keeps one set per session so every process serving the
// session sees the same used starters.
type RedisStarters struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStarters(client *redis.Client, ttl time.Duration) *RedisStarters {
	return &RedisStarters{client: client, ttl: ttl}
}

func (r *RedisStarters) key(session string) string {
	return "quill:starters:" + session
}

func (r *RedisStarters) Used(ctx context.Context, session string) (map[string]bool, error) {
	members, err := r.client.SMembers(ctx, r.key(session)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(members))
	for _, m := range members {
		out[m] = true
	}
	return out, nil
}

func (r *RedisStarters) MarkUsed(ctx context.Context, session, starter string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key(session), starter)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(session), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStarters) Reset(ctx context.Context, session string) error {
	return r.client.Del(ctx, r.key(session)).Err()
}
