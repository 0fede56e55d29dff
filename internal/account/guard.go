package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/abrechnung/console/internal/shared"
)

// Guard tracks which keys have a submission in flight.
type Guard interface {
	// Acquire marks key as in flight and returns the token of this acquisition.
	// ok is false when key is already held.
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	// Release clears the in-flight mark for key if it still belongs to token.
	Release(ctx context.Context, key, token string) error
	// Held reports whether key is currently in flight.
	Held(ctx context.Context, key string) (bool, error)
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]string
}

// NewMemoryGuard returns an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]string)}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	g.held[key] = token
	return token, true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] == token {
		delete(g.held, key)
	}
	return nil
}

func (g *MemoryGuard) Held(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok, nil
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the in-flight mark between console replicas. The TTL only
// bounds how long a crashed process can leave a key held.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard constructs a RedisGuard.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, shared.PasswordChangeLockKey(key), token, g.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (g *RedisGuard) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, g.client, []string{shared.PasswordChangeLockKey(key)}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (g *RedisGuard) Held(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, shared.PasswordChangeLockKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var (
	_ Guard = (*MemoryGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
