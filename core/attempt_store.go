package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptStore persists the login-attempt ledger: an ordered sequence of epoch
// timestamps (seconds) per client identity. Absence of a ledger means zero
// attempts; implementations must treat delete-then-get as an empty result,
// not an error.
type AttemptStore interface {
	Get(ctx context.Context, identity string) ([]int64, error)
	Put(ctx context.Context, identity string, attempts []int64) error
	Delete(ctx context.Context, identity string) error
}

// attemptKey derives a stable storage key from a client identity.
func attemptKey(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return "login_attempts:" + hex.EncodeToString(sum[:])
}

// RedisAttemptStore stores each ledger as a JSON array under a hashed key.
// Values carry a retention TTL so abandoned ledgers expire without a sweep.
type RedisAttemptStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisAttemptStore(client *redis.Client, retention time.Duration) *RedisAttemptStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &RedisAttemptStore{client: client, retention: retention}
}

func (s *RedisAttemptStore) Get(ctx context.Context, identity string) ([]int64, error) {
	raw, err := s.client.Get(ctx, attemptKey(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var attempts []int64
	if err := json.Unmarshal([]byte(raw), &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (s *RedisAttemptStore) Put(ctx context.Context, identity string, attempts []int64) error {
	if len(attempts) == 0 {
		return s.Delete(ctx, identity)
	}
	raw, err := json.Marshal(attempts)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, attemptKey(identity), raw, s.retention).Err()
}

func (s *RedisAttemptStore) Delete(ctx context.Context, identity string) error {
	return s.client.Del(ctx, attemptKey(identity)).Err()
}

// MemoryAttemptStore is a mutex-guarded in-process ledger store. Used by
// tests and as a fallback when no redis is configured.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	ledgers map[string][]int64
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{ledgers: make(map[string][]int64)}
}

func (s *MemoryAttemptStore) Get(_ context.Context, identity string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempts, ok := s.ledgers[attemptKey(identity)]
	if !ok {
		return nil, nil
	}
	out := make([]int64, len(attempts))
	copy(out, attempts)
	return out, nil
}

func (s *MemoryAttemptStore) Put(_ context.Context, identity string, attempts []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(attempts) == 0 {
		delete(s.ledgers, attemptKey(identity))
		return nil
	}
	stored := make([]int64, len(attempts))
	copy(stored, attempts)
	s.ledgers[attemptKey(identity)] = stored
	return nil
}

func (s *MemoryAttemptStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledgers, attemptKey(identity))
	return nil
}
