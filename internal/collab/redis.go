package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"collabform/api/internal/util"
	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "collab:room:"

// envelope is the backplane message format. Node lets the origin process
// discard its own echo (it already delivered locally); Exclude carries the
// originating connection id so no recipient node echoes back to it.
type envelope struct {
	Node    string `json:"node"`
	Exclude string `json:"exclude,omitempty"`
	Event   Event  `json:"event"`
}

// RedisBroadcaster extends LocalBroadcaster across process boundaries via a
// Redis pub/sub channel per room. Group membership stays process-local; the
// channel makes every publish visible to the sibling processes hosting the
// rest of the room.
type RedisBroadcaster struct {
	*LocalBroadcaster
	client *redis.Client
	pubsub *redis.PubSub
	nodeID string
}

func NewRedisBroadcaster(ctx context.Context, client *redis.Client) (*RedisBroadcaster, error) {
	b := &RedisBroadcaster{
		LocalBroadcaster: NewLocalBroadcaster(),
		client:           client,
		nodeID:           util.NewID("node"),
	}

	b.pubsub = client.PSubscribe(ctx, roomChannelPrefix+"*")
	// Wait for the subscription ack so no publish can slip past startup.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("subscribe room channels: %w", err)
	}

	go b.listen()
	return b, nil
}

func (b *RedisBroadcaster) listen() {
	for msg := range b.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("collab: drop malformed backplane message on %s: %v", msg.Channel, err)
			continue
		}
		if env.Node == b.nodeID {
			continue
		}
		roomID := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
		b.deliver(roomID, env.Event, env.Exclude)
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, roomID string, event Event, excludeConnID string) error {
	b.deliver(roomID, event, excludeConnID)

	payload, err := json.Marshal(envelope{
		Node:    b.nodeID,
		Exclude: excludeConnID,
		Event:   event,
	})
	if err != nil {
		return fmt.Errorf("marshal backplane envelope: %w", err)
	}
	if err := b.client.Publish(ctx, roomChannelPrefix+roomID, payload).Err(); err != nil {
		return fmt.Errorf("publish to room %s: %w", roomID, err)
	}
	return nil
}

// Close stops the backplane subscription.
func (b *RedisBroadcaster) Close() error {
	return b.pubsub.Close()
}
