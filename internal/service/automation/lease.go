package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld means another loop owns the workflow.
var ErrLeaseHeld = errors.New("workflow loop lease is held elsewhere")

// Lease is exclusive ownership of a workflow's processing loop.
type Lease interface {
	// Refresh extends the lease; false means it was lost.
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Leaser interface {
	Acquire(ctx context.Context, workflowID uint) (Lease, error)
}

// MemoryLeaser guards loops within one process.
type MemoryLeaser struct {
	mu   sync.Mutex
	held map[uint]string
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{held: make(map[uint]string)}
}

func (m *MemoryLeaser) Acquire(_ context.Context, workflowID uint) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[workflowID]; ok {
		return nil, ErrLeaseHeld
	}
	token := uuid.NewString()
	m.held[workflowID] = token
	return &memoryLease{leaser: m, workflowID: workflowID, token: token}, nil
}

type memoryLease struct {
	leaser     *MemoryLeaser
	workflowID uint
	token      string
}

func (l *memoryLease) Refresh(context.Context) (bool, error) {
	l.leaser.mu.Lock()
	defer l.leaser.mu.Unlock()
	return l.leaser.held[l.workflowID] == l.token, nil
}

func (l *memoryLease) Release(context.Context) error {
	l.leaser.mu.Lock()
	defer l.leaser.mu.Unlock()
	if l.leaser.held[l.workflowID] == l.token {
		delete(l.leaser.held, l.workflowID)
	}
	return nil
}

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLeaser guards loops across processes sharing one redis.
type RedisLeaser struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLeaser(client *redis.Client, ttl time.Duration) *RedisLeaser {
	return &RedisLeaser{client: client, ttl: ttl}
}

func leaseKey(workflowID uint) string {
	return fmt.Sprintf("quill:automation:lease:%d", workflowID)
}

func (r *RedisLeaser) Acquire(ctx context.Context, workflowID uint) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, leaseKey(workflowID), token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &redisLease{client: r.client, key: leaseKey(workflowID), token: token, ttl: r.ttl}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func (l *redisLease) Refresh(ctx context.Context) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *redisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
