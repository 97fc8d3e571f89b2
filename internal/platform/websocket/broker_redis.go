package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	hmsredis "github.com/hms/hms/internal/platform/redis"
)

// PushChannel is the Redis Pub/Sub channel shared by all instances.
const PushChannel = "hms:ws:push"

type envelope struct {
	Group string `json:"group"`
	Push  Push   `json:"push"`
}

// RedisBroker publishes pushes on Redis so that every instance delivers them
// to its local group members.
type RedisBroker struct {
	client *hmsredis.Client
	hub    *Hub
	logger zerolog.Logger
}

func NewRedisBroker(client *hmsredis.Client, hub *Hub, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, hub: hub, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, group string, push Push) error {
	data, err := encodeEnvelope(group, push)
	if err != nil {
		return err
	}
	if err := b.client.Client().Publish(ctx, PushChannel, data).Err(); err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return nil
}

// Run subscribes to PushChannel and delivers messages to the local hub until
// ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.client.Client().Subscribe(ctx, PushChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", PushChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			group, push, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn().Err(err).Msg("discarding malformed push")
				continue
			}
			b.hub.Deliver(group, push)
		}
	}
}

func encodeEnvelope(group string, push Push) ([]byte, error) {
	data, err := json.Marshal(envelope{Group: group, Push: push})
	if err != nil {
		return nil, fmt.Errorf("marshal push: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (string, Push, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", Push{}, fmt.Errorf("unmarshal push: %w", err)
	}
	if env.Group == "" || env.Push.Action == "" {
		return "", Push{}, fmt.Errorf("push missing group or action")
	}
	return env.Group, env.Push, nil
}
