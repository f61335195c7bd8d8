package core

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"
)

// Rate limiting defaults, matching the lockout policy the service shipped with.
const (
	DefaultMaxAttempts     = 5
	DefaultAttemptWindow   = 300 * time.Second
	DefaultRetentionWindow = 3600 * time.Second

	limiterStripes = 64
)

// RateLimiter tracks failed login attempts per client identity and decides
// whether an identity is currently locked out.
//
// Two windows apply on purpose: AttemptWindow bounds the lockout decision,
// while the longer RetentionWindow bounds how much raw history is kept. An
// identity can be "not currently limited" yet still carry older history.
//
// Storage errors are handled fail-open: an unreadable or corrupt ledger is
// treated as empty so a broken store cannot lock every client out. This is a
// deliberate availability-over-strictness tradeoff.
type RateLimiter struct {
	store AttemptStore

	MaxAttempts     int
	AttemptWindow   time.Duration
	RetentionWindow time.Duration

	// now is swappable for tests.
	now func() time.Time

	// Per-identity stripes keep ledger read-modify-write atomic so two
	// concurrent attempts for the same identity cannot lose an entry.
	stripes [limiterStripes]sync.Mutex
}

// NewRateLimiter builds a limiter with the given store and defaults.
func NewRateLimiter(store AttemptStore) *RateLimiter {
	return &RateLimiter{
		store:           store,
		MaxAttempts:     DefaultMaxAttempts,
		AttemptWindow:   DefaultAttemptWindow,
		RetentionWindow: DefaultRetentionWindow,
		now:             time.Now,
	}
}

// NewRateLimiterFromConfig builds a limiter with windows taken from cfg.
func NewRateLimiterFromConfig(store AttemptStore, cfg Config) *RateLimiter {
	rl := NewRateLimiter(store)
	if cfg.RateLimitMaxAttempts > 0 {
		rl.MaxAttempts = cfg.RateLimitMaxAttempts
	}
	if cfg.RateLimitWindowSec > 0 {
		rl.AttemptWindow = time.Duration(cfg.RateLimitWindowSec) * time.Second
	}
	if cfg.RateLimitRetentionSec > 0 {
		rl.RetentionWindow = time.Duration(cfg.RateLimitRetentionSec) * time.Second
	}
	return rl
}

func (rl *RateLimiter) lock(identity string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &rl.stripes[h.Sum32()%limiterStripes]
}

// load reads the ledger fail-open: errors degrade to an empty ledger.
func (rl *RateLimiter) load(ctx context.Context, identity string) []int64 {
	attempts, err := rl.store.Get(ctx, identity)
	if err != nil {
		log.Printf("rate limiter: ledger read failed, treating as empty: %v", err)
		return nil
	}
	return attempts
}

// pruneAfter keeps timestamps newer than cutoff, preserving order.
func pruneAfter(attempts []int64, cutoff int64) []int64 {
	out := attempts[:0]
	for _, ts := range attempts {
		if ts > cutoff {
			out = append(out, ts)
		}
	}
	return out
}

// IsRateLimited reports whether the identity has reached MaxAttempts within
// AttemptWindow. It always rewrites the pruned ledger; pruning on read is
// what bounds storage growth without a separate sweep process.
func (rl *RateLimiter) IsRateLimited(ctx context.Context, identity string) bool {
	mu := rl.lock(identity)
	mu.Lock()
	defer mu.Unlock()

	now := rl.now().Unix()
	attempts := pruneAfter(rl.load(ctx, identity), now-int64(rl.AttemptWindow.Seconds()))

	if err := rl.store.Put(ctx, identity, attempts); err != nil {
		log.Printf("rate limiter: ledger write failed: %v", err)
	}

	return len(attempts) >= rl.MaxAttempts
}

// RecordAttempt appends the current timestamp to the identity's ledger.
// History is pruned to RetentionWindow, not AttemptWindow, so the limiter
// keeps a longer record than the lockout decision needs.
func (rl *RateLimiter) RecordAttempt(ctx context.Context, identity string) {
	mu := rl.lock(identity)
	mu.Lock()
	defer mu.Unlock()

	now := rl.now().Unix()
	attempts := append(rl.load(ctx, identity), now)
	attempts = pruneAfter(attempts, now-int64(rl.RetentionWindow.Seconds()))

	if err := rl.store.Put(ctx, identity, attempts); err != nil {
		log.Printf("rate limiter: ledger write failed: %v", err)
	}
}

// RemainingLockout returns how long the identity stays locked out, or zero
// when it is not limited. The lockout clock is anchored to the oldest attempt
// surviving inside AttemptWindow (sliding window, not a cooldown restart).
func (rl *RateLimiter) RemainingLockout(ctx context.Context, identity string) time.Duration {
	mu := rl.lock(identity)
	mu.Lock()
	defer mu.Unlock()

	now := rl.now().Unix()
	attempts := pruneAfter(rl.load(ctx, identity), now-int64(rl.AttemptWindow.Seconds()))

	if len(attempts) < rl.MaxAttempts {
		return 0
	}

	oldest := attempts[0]
	for _, ts := range attempts {
		if ts < oldest {
			oldest = ts
		}
	}

	remaining := oldest + int64(rl.AttemptWindow.Seconds()) - now
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * time.Second
}

// ClearAttempts deletes the identity's ledger entirely. Called on successful
// login so attempt counts never survive a successful boundary.
func (rl *RateLimiter) ClearAttempts(ctx context.Context, identity string) {
	mu := rl.lock(identity)
	mu.Lock()
	defer mu.Unlock()

	if err := rl.store.Delete(ctx, identity); err != nil {
		log.Printf("rate limiter: ledger delete failed: %v", err)
	}
}
