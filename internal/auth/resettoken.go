package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetTokenStore holds pending password-reset tokens keyed by email.
// Storing a token for an email replaces any earlier one.
type ResetTokenStore interface {
	// Put stores token for email until ttl elapses.
	Put(ctx context.Context, email, token string, ttl time.Duration) error

	// Consume reports whether token is the live token for email. A matching
	// token is removed so it can be used only once.
	Consume(ctx context.Context, email, token string) (bool, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// NewResetToken returns a random 32-byte token, hex encoded.
func NewResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// --- MemoryResetTokenStore ---

// MemoryResetTokenStore is an in-memory ResetTokenStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryResetTokenStore struct {
	mu      sync.Mutex
	entries map[string]resetEntry
	now     func() time.Time
}

type resetEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemoryResetTokenStore creates an empty store.
func NewMemoryResetTokenStore() *MemoryResetTokenStore {
	return &MemoryResetTokenStore{
		entries: make(map[string]resetEntry),
		now:     time.Now,
	}
}

// Put stores a token with TTL.
func (s *MemoryResetTokenStore) Put(_ context.Context, email, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[email] = resetEntry{token: token, expiresAt: s.now().Add(ttl)}
	return nil
}

// Consume checks and removes a matching, unexpired token.
func (s *MemoryResetTokenStore) Consume(_ context.Context, email, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[email]
	if !ok {
		return false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, email)
		return false, nil
	}
	if !tokensEqual(entry.token, token) {
		return false, nil
	}
	delete(s.entries, email)
	return true, nil
}

// Sweep removes expired tokens and returns how many were dropped.
func (s *MemoryResetTokenStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for email, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, email)
			n++
		}
	}
	return n
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryResetTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HealthCheck always succeeds.
func (s *MemoryResetTokenStore) HealthCheck(context.Context) error { return nil }

// Driver reports "memory".
func (s *MemoryResetTokenStore) Driver() string { return "memory" }

// --- RedisResetTokenStore ---

// RedisResetTokenStore keeps reset tokens in Redis keys that expire with the
// token TTL. The key format is "reset:{email}".
type RedisResetTokenStore struct {
	client redis.Cmdable
}

// NewRedisResetTokenStore creates a Redis-backed store.
func NewRedisResetTokenStore(client redis.Cmdable) *RedisResetTokenStore {
	return &RedisResetTokenStore{client: client}
}

// FormatResetKey builds the Redis key for an email.
func FormatResetKey(email string) string {
	return "reset:" + email
}

// Put saves a token in Redis with TTL.
func (s *RedisResetTokenStore) Put(ctx context.Context, email, token string, ttl time.Duration) error {
	key := FormatResetKey(email)
	if err := s.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Consume compares the stored token and deletes it on match. If another
// caller deletes the key first, the token counts as already used.
func (s *RedisResetTokenStore) Consume(ctx context.Context, email, token string) (bool, error) {
	key := FormatResetKey(email)
	stored, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %q: %w", key, err)
	}
	if !tokensEqual(stored, token) {
		return false, nil
	}

	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %q: %w", key, err)
	}
	return deleted == 1, nil
}

// Driver reports "redis".
func (s *RedisResetTokenStore) Driver() string { return "redis" }

// HealthCheck pings Redis.
func (s *RedisResetTokenStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
