package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishEvent(context.Background(), "/chat/1", "{}"))
	assert.NoError(t, n.StartEventSubscriber(context.Background(), func(string, string) {
		t.Fatal("no messages expected without Redis")
	}))
}

func TestChannelPaths(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/chat/5", ChannelPath(5))
	assert.Equal(t, "/chat/5/users/12", ChannelUserPath(5, 12))
}

func TestNotifier_PublishRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type received struct{ channel, payload string }
	messages := make(chan received, 4)
	require.NoError(t, n.StartEventSubscriber(ctx, func(channel, payload string) {
		messages <- received{channel, payload}
	}))

	require.NoError(t, n.PublishEvent(context.Background(), "/chat/7", `{"action":"kick"}`))

	select {
	case msg := <-messages:
		assert.Equal(t, eventChannelPrefix+"/chat/7", msg.channel)
		assert.Equal(t, `{"action":"kick"}`, msg.payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for round-trip message")
	}
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received int32
	payloads := make(chan string, 2)
	require.NoError(t, n.StartEventSubscriber(ctx, func(_ string, payload string) {
		atomic.AddInt32(&received, 1)
		payloads <- payload
	}))

	require.NoError(t, n.PublishEvent(context.Background(), "/chat/1", "before-cancel"))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)

	// Drain the pre-cancel message to avoid false positives.
	select {
	case <-payloads:
	default:
	}

	require.NoError(t, n.PublishEvent(context.Background(), "/chat/1", "after-cancel"))
	assert.Never(t, func() bool {
		select {
		case payload := <-payloads:
			return payload == "after-cancel"
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestNotifier_PanickingHandlerDoesNotKillSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	require.NoError(t, n.StartEventSubscriber(ctx, func(_ string, _ string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("handler blew up")
		}
	}))

	require.NoError(t, n.PublishEvent(context.Background(), "/chat/1", "first"))
	require.NoError(t, n.PublishEvent(context.Background(), "/chat/1", "second"))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 10*time.Millisecond)
}
