package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "events:ws:"

// RedisBroadcaster publishes events through Redis pub/sub so that every
// server process can deliver them to its own attached subscribers. Redis
// pub/sub matches the contract exactly: no buffering, no replay, at-most-once.
type RedisBroadcaster struct {
	client *redis.Client
	hub    *Hub
	log    zerolog.Logger
}

// NewRedisBroadcaster wraps client and relays received events into hub.
func NewRedisBroadcaster(client *redis.Client, hub *Hub, log zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, hub: hub, log: log}
}

// Publish sends the event to the workspace channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+ev.WorkspaceID, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes to all workspace channels and relays incoming events into
// the local hub until the context is cancelled.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("discarding malformed event")
				continue
			}
			if ev.WorkspaceID == "" {
				ev.WorkspaceID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			_ = b.hub.Publish(ctx, ev)
		}
	}
}
