package hub

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sonastea/questbot/pkg/notify"
)

type Space string

type PubSub struct {
	conn *redis.Client
	subs []Space
}

func NewPubSub(conn *redis.Client) *PubSub {
	return &PubSub{
		conn: conn,
		subs: []Space{notify.DashboardChannel},
	}
}

// ListenPubSub relays every published event to connected clients until ctx
// is done.
func (hub *Hub) ListenPubSub(ctx context.Context) {
	channels := make([]string, len(hub.pubsub.subs))
	for i, sub := range hub.pubsub.subs {
		channels[i] = string(sub)
	}

	ps := hub.pubsub.conn.Subscribe(ctx, channels...)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := hub.Relay([]byte(msg.Payload)); err != nil {
				log.Warn("Failed to relay %s message: %v", msg.Channel, err)
			}
		}
	}
}
