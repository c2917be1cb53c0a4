package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/metrics"
	"github.com/palaver-chat/palaver/internal/presence"
	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/signalqueue"
)

// detached returns a client without a transport; its outbound buffer can be
// inspected directly.
func detached(userID int64, buffer int) *Client {
	return newClient(nil, userID, buffer, zap.NewNop())
}

func drainSend(c *Client) []string {
	var out []string
	for {
		select {
		case b := <-c.send:
			out = append(out, string(b))
		default:
			return out
		}
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry(metrics.New(), zap.NewNop())
	a1, a2 := detached(1, 4), detached(1, 4)

	assert.True(t, r.Add(a1))
	assert.False(t, r.Add(a2))
	assert.True(t, r.HasConnections(1))
	assert.Equal(t, 2, r.ConnectionCount())
	assert.Equal(t, []int64{1}, r.ConnectedUsers())

	assert.False(t, r.Remove(detached(1, 4)), "unknown connection")
	assert.False(t, r.Remove(a1))
	assert.True(t, r.HasConnections(1))
	assert.True(t, r.Remove(a2))
	assert.False(t, r.HasConnections(1))
	assert.Zero(t, r.ConnectionCount())
	assert.False(t, r.Remove(a2), "already removed")
}

func TestRegistry_SendToManyDeduplicates(t *testing.T) {
	r := NewRegistry(metrics.New(), zap.NewNop())
	a1, a2, b := detached(1, 4), detached(1, 4), detached(2, 4)
	r.Add(a1)
	r.Add(a2)
	r.Add(b)

	r.SendToMany([]int64{1, 2, 1, 3}, protocol.Message{Type: "ping", Data: map[string]int{"n": 1}})

	want := []string{`{"type":"ping","data":{"n":1}}`}
	assert.Equal(t, want, drainSend(a1))
	assert.Equal(t, want, drainSend(a2))
	assert.Equal(t, want, drainSend(b))

	r.SendToUser(2, protocol.Message{Type: "only-b"})
	assert.Empty(t, drainSend(a1))
	assert.Equal(t, []string{`{"type":"only-b","data":null}`}, drainSend(b))
}

func TestRegistry_SlowClientIsClosed(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(m, zap.NewNop())
	slow, fast := detached(1, 1), detached(1, 8)
	r.Add(slow)
	r.Add(fast)

	for i := 0; i < 3; i++ {
		r.SendToUser(1, protocol.Message{Type: "x"})
	}

	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())
	assert.Len(t, drainSend(fast), 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedSlowClients))

	// Sending to a closed client is silent.
	assert.NotPanics(t, func() { r.SendToUser(1, protocol.Message{Type: "y"}) })
}

// countingHandler counts presence hooks and returns no messages.
type countingHandler struct {
	connected    atomic.Int64
	disconnected atomic.Int64
}

func (h *countingHandler) Handle(context.Context, int64, protocol.Frame) ([]protocol.Outbound, error) {
	return nil, nil
}

func (h *countingHandler) Connected(context.Context, int64) ([]protocol.Outbound, error) {
	h.connected.Add(1)
	return nil, nil
}

func (h *countingHandler) Disconnected(context.Context, int64) ([]protocol.Outbound, error) {
	h.disconnected.Add(1)
	return nil, nil
}

func newUnitServer(h EventHandler, set presence.Set) *Server {
	m := metrics.New()
	reg := NewRegistry(m, zap.NewNop())
	return NewServer(Config{}, reg, h, set, signalqueue.NewMemoryQueue(), m, zap.NewNop())
}

func TestServer_OneTransitionPerUser(t *testing.T) {
	h := &countingHandler{}
	set := presence.NewMemorySet()
	s := newUnitServer(h, set)
	ctx := context.Background()

	c1, c2 := detached(1, 4), detached(1, 4)

	s.connect(ctx, c1)
	s.connect(ctx, c2)
	assert.EqualValues(t, 1, h.connected.Load())

	s.disconnect(ctx, c1)
	assert.EqualValues(t, 0, h.disconnected.Load())
	online, _ := set.Contains(ctx, 1)
	assert.True(t, online)

	s.disconnect(ctx, c2)
	assert.EqualValues(t, 1, h.disconnected.Load())
	online, _ = set.Contains(ctx, 1)
	assert.False(t, online)
}

func TestServer_PresenceMatchesRegistryUnderConcurrency(t *testing.T) {
	h := &countingHandler{}
	set := presence.NewMemorySet()
	s := newUnitServer(h, set)
	ctx := context.Background()

	const (
		users   = 8
		perUser = 4
		rounds  = 50
	)

	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				for j := 0; j < rounds; j++ {
					c := detached(userID, 1)
					s.connect(ctx, c)
					s.disconnect(ctx, c)
				}
			}(u)
		}
	}
	wg.Wait()

	for u := int64(1); u <= users; u++ {
		online, err := set.Contains(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, s.registry.HasConnections(u), online, "user %d", u)
	}
	assert.Zero(t, s.registry.ConnectionCount())
	assert.Equal(t, h.connected.Load(), h.disconnected.Load())
}
