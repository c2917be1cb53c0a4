// Package redis builds the shared go-redis client used by the presence set
// and the signal queue.
package redis

import (
	"context"
	"fmt"
	"runtime"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds a single Redis command when the caller's context
// carries no deadline.
const DefaultOpTimeout = 5 * time.Second

// Options configures the connection to Redis.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient returns a pooled client. It does not dial; call Ping to check
// reachability.
func NewClient(opts Options) *goredis.Client {
	poolSize := runtime.GOMAXPROCS(0) * 16
	if poolSize < 32 {
		poolSize = 32
	}
	if poolSize > 128 {
		poolSize = 128
	}

	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     poolSize,
		MinIdleConns: poolSize / 4,
		PoolTimeout:  1 * time.Second,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      1,
		MinRetryBackoff: 25 * time.Millisecond,
		MaxRetryBackoff: 250 * time.Millisecond,
	})
}

// Ping verifies the server answers within the default op timeout.
func Ping(ctx context.Context, rdb goredis.UniversalClient) error {
	ctx, cancel := WithTimeout(ctx, DefaultOpTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// WithTimeout applies d to ctx unless ctx already has a deadline.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
