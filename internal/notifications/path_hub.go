// Package notifications provides path-keyed real-time event delivery.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"shieldchat/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000

	// Redis channel prefix carrying path-scoped events between
	// instances.
	eventChannelPrefix = "chat:path:"
)

// PathHub fans payloads out to websocket clients by string path.
// Subscriptions are per user, so every live connection a user holds
// receives the same events.
type PathHub struct {
	mu sync.RWMutex

	// Map: path -> set of subscribed userIDs
	paths map[string]map[uint]struct{}

	// Map: userID -> set of subscribed paths
	userPaths map[uint]map[string]struct{}

	// Map: userID -> set of active Clients (multi-device support)
	userConns  map[uint]map[*Client]bool
	totalConns int

	notifier *Notifier
}

// Name returns a human-readable identifier for this hub.
func (h *PathHub) Name() string { return "chat hub" }

// NewPathHub creates a new PathHub instance.
func NewPathHub() *PathHub {
	return &PathHub{
		paths:     make(map[string]map[uint]struct{}),
		userPaths: make(map[uint]map[string]struct{}),
		userConns: make(map[uint]map[*Client]bool),
	}
}

// Register registers a user's websocket connection. Returns the Client
// or an error when connection limits are exceeded.
func (h *PathHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, fmt.Errorf("server connection limit reached")
	}
	if h.userConns[userID] == nil {
		h.userConns[userID] = make(map[*Client]bool)
	}
	if len(h.userConns[userID]) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, fmt.Errorf("user connection limit reached")
	}

	client := NewClient(h, conn, userID)
	h.userConns[userID][client] = true
	h.totalConns++
	active := len(h.userConns[userID])
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()

	log.Printf("PathHub: Registered user %d (active clients: %d)", userID, active)
	return client, nil
}

// UnregisterClient removes a user's websocket connection. When the last
// connection for the user is gone, their path subscriptions are
// dropped too.
func (h *PathHub) UnregisterClient(client *Client) {
	h.mu.Lock()

	clients, ok := h.userConns[client.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[client]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	h.totalConns--
	observability.WebSocketConnectionsTotal.Dec()
	if len(clients) > 0 {
		remaining := len(clients)
		h.mu.Unlock()
		log.Printf("PathHub: Unregistered client for user %d (remaining clients: %d)", client.UserID, remaining)
		return
	}

	delete(h.userConns, client.UserID)
	if paths, ok := h.userPaths[client.UserID]; ok {
		observability.PathSubscriptionsTotal.Sub(float64(len(paths)))
		for path := range paths {
			if users, ok := h.paths[path]; ok {
				delete(users, client.UserID)
				if len(users) == 0 {
					delete(h.paths, path)
				}
			}
		}
		delete(h.userPaths, client.UserID)
	}
	h.mu.Unlock()

	log.Printf("PathHub: Unregistered user %d (all connections closed)", client.UserID)
}

// IsUserOnline returns true when the user has at least one active
// websocket client.
func (h *PathHub) IsUserOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.userConns[userID]
	return ok && len(clients) > 0
}

// Subscribe delivers the snapshot privately to the user's connections,
// then joins the user to the path so they receive subsequent events.
func (h *PathHub) Subscribe(userID uint, path string, snapshot any) {
	if snapshot != nil {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			log.Printf("PathHub: Failed to marshal snapshot for %s: %v", path, err)
		} else {
			h.sendToUser(userID, payload)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.paths[path] == nil {
		h.paths[path] = make(map[uint]struct{})
	}
	h.paths[path][userID] = struct{}{}

	if h.userPaths[userID] == nil {
		h.userPaths[userID] = make(map[string]struct{})
	}
	if _, already := h.userPaths[userID][path]; !already {
		h.userPaths[userID][path] = struct{}{}
		observability.PathSubscriptionsTotal.Inc()
	}
}

// Unsubscribe removes the user from the path.
func (h *PathHub) Unsubscribe(userID uint, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if users, ok := h.paths[path]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(h.paths, path)
		}
	}
	if paths, ok := h.userPaths[userID]; ok {
		if _, subscribed := paths[path]; subscribed {
			delete(paths, path)
			observability.PathSubscriptionsTotal.Dec()
		}
		if len(paths) == 0 {
			delete(h.userPaths, userID)
		}
	}
}

// Publish sends the payload to every subscriber of the path. With a
// notifier attached the payload goes through Redis so every instance
// delivers it; otherwise delivery is local. Failures are logged, never
// returned: a committed operation is not undone by a lost broadcast.
func (h *PathHub) Publish(path string, payload any) {
	message, err := json.Marshal(payload)
	if err != nil {
		log.Printf("PathHub: Failed to marshal payload for %s: %v", path, err)
		return
	}
	if action := sniffAction(message); action != "" {
		observability.EventsPublishedTotal.WithLabelValues(action).Inc()
	}

	h.mu.RLock()
	n := h.notifier
	h.mu.RUnlock()

	if n != nil {
		if err := n.PublishEvent(context.Background(), path, string(message)); err != nil {
			log.Printf("PathHub: Redis publish failed for %s, delivering locally: %v", path, err)
			h.deliver(path, message)
		}
		return
	}

	h.deliver(path, message)
}

// sniffAction pulls the action discriminator out of a marshaled event
// for metric labels. Unknown shapes yield an empty string.
func sniffAction(message []byte) string {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		return ""
	}
	return probe.Action
}

// deliver fans a marshaled message out to the path's local subscribers.
func (h *PathHub) deliver(path string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users, ok := h.paths[path]
	if !ok {
		return
	}
	for userID := range users {
		if clients, ok := h.userConns[userID]; ok {
			for client := range clients {
				client.TrySend(message)
			}
		}
	}
}

func (h *PathHub) sendToUser(userID uint, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.userConns[userID]; ok {
		for client := range clients {
			client.TrySend(message)
		}
	}
}

// SubscriberCount returns how many users are subscribed to a path.
func (h *PathHub) SubscriberCount(path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.paths[path])
}

// StartWiring routes published events through Redis: local publishes go
// out on the event channel, and the subscriber delivers every incoming
// event (from this or any other instance) to local subscribers.
func (h *PathHub) StartWiring(ctx context.Context, n *Notifier) error {
	h.mu.Lock()
	h.notifier = n
	h.mu.Unlock()

	return n.StartEventSubscriber(ctx, func(channel, payload string) {
		path := strings.TrimPrefix(channel, eventChannelPrefix)
		if path == channel {
			log.Printf("PathHub: Ignoring event on unexpected channel %s", channel)
			return
		}
		h.deliver(path, []byte(payload))
	})
}

// Shutdown gracefully closes all websocket connections.
func (h *PathHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, clients := range h.userConns {
		for client := range clients {
			if err := client.Conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"action":"serverShutdown"}`)); err != nil {
				log.Printf("failed to write shutdown message for user %d: %v", userID, err)
			}
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %d: %v", userID, err)
			}
		}
	}

	observability.WebSocketConnectionsTotal.Sub(float64(h.totalConns))
	subs := 0
	for _, paths := range h.userPaths {
		subs += len(paths)
	}
	observability.PathSubscriptionsTotal.Sub(float64(subs))

	h.paths = make(map[string]map[uint]struct{})
	h.userPaths = make(map[uint]map[string]struct{})
	h.userConns = make(map[uint]map[*Client]bool)
	h.totalConns = 0

	return nil
}
