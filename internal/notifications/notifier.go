package notifications

import (
	"context"
	"log"
	"runtime/debug"

	"shieldchat/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Notifier bridges path-scoped events through Redis pub/sub so a
// payload published on one instance reaches subscribers on every
// instance. A nil Redis client turns every method into a no-op, which
// keeps single-instance deployments and tests simple.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishEvent sends an already-marshaled event payload for a path.
func (n *Notifier) PublishEvent(ctx context.Context, path, payload string) error {
	if n.rdb == nil {
		return nil
	}
	err := n.rdb.Publish(ctx, eventChannelPrefix+path, payload).Err()
	if err != nil {
		observability.RedisPublishErrors.Inc()
	}
	return err
}

// StartEventSubscriber subscribes to every path event channel and calls
// onMessage for each incoming message. The subscription runs until ctx
// is canceled; a panicking handler is logged and skipped, not fatal.
func (n *Notifier) StartEventSubscriber(
	ctx context.Context, onMessage func(channel, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, eventChannelPrefix+"*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in EventSubscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
