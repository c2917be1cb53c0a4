// Package presence records which users currently hold at least one live
// connection. The Redis implementation is shared by every process so the
// HTTP side sees the same view as the messaging server.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/palaver-chat/palaver/internal/redis"
)

// DefaultKey is the Redis set holding online user ids.
const DefaultKey = "palaver:online_users"

// Set is the presence contract. Add and Remove are idempotent.
type Set interface {
	Add(ctx context.Context, userID int64) error
	Remove(ctx context.Context, userID int64) error
	Contains(ctx context.Context, userID int64) (bool, error)
	// Clear drops every entry. Called once at server startup, since no
	// connection survives a restart.
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// Redis
// -----------------------------------------------------------------------------

// RedisSet stores presence in a single Redis set.
type RedisSet struct {
	rdb       goredis.UniversalClient
	key       string
	opTimeout time.Duration
}

// NewRedisSet returns a RedisSet on key, or DefaultKey when key is empty.
func NewRedisSet(rdb goredis.UniversalClient, key string) *RedisSet {
	if key == "" {
		key = DefaultKey
	}
	return &RedisSet{rdb: rdb, key: key, opTimeout: redis.DefaultOpTimeout}
}

func (s *RedisSet) Add(ctx context.Context, userID int64) error {
	ctx, cancel := redis.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.rdb.SAdd(ctx, s.key, member(userID)).Err(); err != nil {
		return fmt.Errorf("presence: add %d: %w", userID, err)
	}
	return nil
}

func (s *RedisSet) Remove(ctx context.Context, userID int64) error {
	ctx, cancel := redis.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.rdb.SRem(ctx, s.key, member(userID)).Err(); err != nil {
		return fmt.Errorf("presence: remove %d: %w", userID, err)
	}
	return nil
}

func (s *RedisSet) Contains(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := redis.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	ok, err := s.rdb.SIsMember(ctx, s.key, member(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence: contains %d: %w", userID, err)
	}
	return ok, nil
}

func (s *RedisSet) Clear(ctx context.Context) error {
	ctx, cancel := redis.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("presence: clear: %w", err)
	}
	return nil
}

func (s *RedisSet) Len(ctx context.Context) (int64, error) {
	ctx, cancel := redis.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	n, err := s.rdb.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: len: %w", err)
	}
	return n, nil
}

func member(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// -----------------------------------------------------------------------------
// In-memory
// -----------------------------------------------------------------------------

// MemorySet is a process-local Set for single-process deployments and tests.
type MemorySet struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

// NewMemorySet returns an empty MemorySet.
func NewMemorySet() *MemorySet {
	return &MemorySet{ids: make(map[int64]struct{})}
}

func (s *MemorySet) Add(_ context.Context, userID int64) error {
	s.mu.Lock()
	s.ids[userID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemorySet) Remove(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.ids, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemorySet) Contains(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[userID]
	return ok, nil
}

func (s *MemorySet) Clear(context.Context) error {
	s.mu.Lock()
	s.ids = make(map[int64]struct{})
	s.mu.Unlock()
	return nil
}

func (s *MemorySet) Len(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.ids)), nil
}
