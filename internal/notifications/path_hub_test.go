package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addTestClient inserts a bare client without a real websocket
// connection so delivery can be observed on the Send channel.
func addTestClient(h *PathHub, userID uint) *Client {
	c := &Client{Hub: h, UserID: userID, Send: make(chan []byte, 10)}
	h.mu.Lock()
	if h.userConns[userID] == nil {
		h.userConns[userID] = make(map[*Client]bool)
	}
	h.userConns[userID][c] = true
	h.totalConns++
	h.mu.Unlock()
	return c
}

func recvPayload(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg := <-c.Send:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPathHub_RegisterEnforcesPerUserLimit(t *testing.T) {
	hub := NewPathHub()

	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(1, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(1, nil)
	assert.Error(t, err)

	// Other users are unaffected by one user's limit.
	_, err = hub.Register(2, nil)
	assert.NoError(t, err)
}

func TestPathHub_SubscribeDeliversSnapshotPrivately(t *testing.T) {
	hub := NewPathHub()
	c1 := addTestClient(hub, 1)
	c2 := addTestClient(hub, 2)

	hub.Subscribe(1, "/chat/5", map[string]string{"action": "init3"})

	var snapshot map[string]string
	require.NoError(t, json.Unmarshal([]byte(recvPayload(t, c1)), &snapshot))
	assert.Equal(t, "init3", snapshot["action"])
	assertNoMessage(t, c2)
	assert.Equal(t, 1, hub.SubscriberCount("/chat/5"))
}

func TestPathHub_PublishReachesOnlyPathSubscribers(t *testing.T) {
	hub := NewPathHub()
	c1 := addTestClient(hub, 1)
	c1b := addTestClient(hub, 1) // second device
	c2 := addTestClient(hub, 2)
	c3 := addTestClient(hub, 3)

	hub.Subscribe(1, "/chat/5", nil)
	hub.Subscribe(2, "/chat/5", nil)
	hub.Subscribe(3, "/chat/9", nil)

	hub.Publish("/chat/5", map[string]string{"action": "message2"})

	for _, c := range []*Client{c1, c1b, c2} {
		var evt map[string]string
		require.NoError(t, json.Unmarshal([]byte(recvPayload(t, c)), &evt))
		assert.Equal(t, "message2", evt["action"])
	}
	assertNoMessage(t, c3)
}

func TestPathHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewPathHub()
	c1 := addTestClient(hub, 1)

	hub.Subscribe(1, "/chat/5", nil)
	hub.Unsubscribe(1, "/chat/5")

	hub.Publish("/chat/5", map[string]string{"action": "message2"})
	assertNoMessage(t, c1)
	assert.Equal(t, 0, hub.SubscriberCount("/chat/5"))
}

func TestPathHub_UnregisterLastClientDropsSubscriptions(t *testing.T) {
	hub := NewPathHub()
	c1 := addTestClient(hub, 1)
	c1b := addTestClient(hub, 1)

	hub.Subscribe(1, "/chat/5", nil)
	hub.Subscribe(1, "/chat/5/users/1", nil)

	hub.UnregisterClient(c1)
	assert.True(t, hub.IsUserOnline(1))
	assert.Equal(t, 1, hub.SubscriberCount("/chat/5"))

	hub.UnregisterClient(c1b)
	assert.False(t, hub.IsUserOnline(1))

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.paths)
	assert.Empty(t, hub.userPaths)
	assert.Empty(t, hub.userConns)
	assert.Zero(t, hub.totalConns)
}

func TestPathHub_UnregisterUnknownClientIsNoop(t *testing.T) {
	hub := NewPathHub()
	addTestClient(hub, 1)

	stray := &Client{Hub: hub, UserID: 1, Send: make(chan []byte, 1)}
	hub.UnregisterClient(stray)

	assert.True(t, hub.IsUserOnline(1))
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Equal(t, 1, hub.totalConns)
}

func TestPathHub_StartWiring_DeliversAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two hub instances sharing one Redis, as in a multi-node deploy.
	hubA := NewPathHub()
	hubB := NewPathHub()
	require.NoError(t, hubA.StartWiring(ctx, NewNotifier(rdb)))
	require.NoError(t, hubB.StartWiring(ctx, NewNotifier(rdb)))

	cB := addTestClient(hubB, 2)
	hubB.Subscribe(2, "/chat/5", nil)

	hubA.Publish("/chat/5", map[string]string{"action": "join2"})

	assert.Eventually(t, func() bool {
		select {
		case msg := <-cB.Send:
			var evt map[string]string
			return json.Unmarshal(msg, &evt) == nil && evt["action"] == "join2"
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestPathHub_StartWiring_LocalSubscriberReceivesOwnPublish(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewPathHub()
	require.NoError(t, hub.StartWiring(ctx, NewNotifier(rdb)))

	c1 := addTestClient(hub, 1)
	hub.Subscribe(1, "/chat/5", nil)

	hub.Publish("/chat/5", map[string]string{"action": "leave2"})

	// Delivery loops back through the Redis subscriber exactly once.
	var evt map[string]string
	require.NoError(t, json.Unmarshal([]byte(recvPayload(t, c1)), &evt))
	assert.Equal(t, "leave2", evt["action"])
	assertNoMessage(t, c1)
}

func TestPathHub_ShutdownClearsState(t *testing.T) {
	hub := NewPathHub()
	hub.Subscribe(1, "/chat/5", nil)

	require.NoError(t, hub.Shutdown(context.Background()))

	assert.False(t, hub.IsUserOnline(1))
	assert.Equal(t, 0, hub.SubscriberCount("/chat/5"))
}
