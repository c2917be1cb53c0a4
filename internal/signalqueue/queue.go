// Package signalqueue is the cross-process FIFO that carries fan-out
// instructions from the HTTP side to the messaging server. Any process may
// push; exactly one drain loop pops.
package signalqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/palaver-chat/palaver/internal/redis"
)

// DefaultKey is the Redis list backing the queue.
const DefaultKey = "palaver:signal_queue"

var (
	// ErrEmpty is returned by Pop and PopWait when no message is available.
	ErrEmpty = errors.New("signal queue empty")

	// ErrMalformed is returned when a stored message cannot be decoded. The
	// message has already been removed from the queue.
	ErrMalformed = errors.New("malformed signal queue message")
)

// Queue is the signal queue contract.
type Queue interface {
	// Push appends m to the tail.
	Push(ctx context.Context, m Message) error
	// Pop removes and returns the head without blocking.
	Pop(ctx context.Context) (Message, error)
	// PopWait blocks up to timeout for a message.
	PopWait(ctx context.Context, timeout time.Duration) (Message, error)
	Len(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// Redis
// -----------------------------------------------------------------------------

// RedisQueue is a Queue on a Redis list: RPUSH on the tail, LPOP/BLPOP on
// the head.
type RedisQueue struct {
	rdb       goredis.UniversalClient
	key       string
	opTimeout time.Duration
}

// NewRedisQueue returns a RedisQueue on key, or DefaultKey when key is empty.
func NewRedisQueue(rdb goredis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key, opTimeout: redis.DefaultOpTimeout}
}

func (q *RedisQueue) Push(ctx context.Context, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}

	ctx, cancel := redis.WithTimeout(ctx, q.opTimeout)
	defer cancel()
	if err := q.rdb.RPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("signalqueue: push: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Message, error) {
	ctx, cancel := redis.WithTimeout(ctx, q.opTimeout)
	defer cancel()

	b, err := q.rdb.LPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Message{}, ErrEmpty
		}
		return Message{}, fmt.Errorf("signalqueue: pop: %w", err)
	}
	return Decode(b)
}

func (q *RedisQueue) PopWait(ctx context.Context, timeout time.Duration) (Message, error) {
	ctx, cancel := redis.WithTimeout(ctx, timeout+q.opTimeout)
	defer cancel()

	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Message{}, ErrEmpty
		}
		return Message{}, fmt.Errorf("signalqueue: blocking pop: %w", err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return Message{}, fmt.Errorf("%w: unexpected BLPOP reply of %d elements", ErrMalformed, len(res))
	}
	return Decode([]byte(res[1]))
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	ctx, cancel := redis.WithTimeout(ctx, q.opTimeout)
	defer cancel()
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("signalqueue: len: %w", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// In-memory
// -----------------------------------------------------------------------------

// MemoryQueue is a process-local Queue. Messages are stored encoded so they
// go through the same codec as the Redis queue.
type MemoryQueue struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{ready: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Push(_ context.Context, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Pop(context.Context) (Message, error) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Message{}, ErrEmpty
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.mu.Unlock()

	return Decode(b)
}

func (q *MemoryQueue) PopWait(ctx context.Context, timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m, err := q.Pop(ctx)
		if !errors.Is(err, ErrEmpty) {
			return m, err
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return Message{}, ErrEmpty
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
