package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-sync/internal/models"
)

type relayMessage struct {
	OwnerUID string              `json:"owner_uid"`
	Change   models.RecentChange `json:"change"`
}

// RedisRelay fans recent changes out to every replica over a Redis pub/sub
// channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		log:     log.With().Str("component", "redis-relay").Logger(),
	}
}

func encodeRelay(ownerUID string, change models.RecentChange) ([]byte, error) {
	return json.Marshal(relayMessage{OwnerUID: ownerUID, Change: change})
}

func decodeRelay(payload string) (relayMessage, error) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return relayMessage{}, err
	}
	if msg.OwnerUID == "" {
		return relayMessage{}, fmt.Errorf("relay message without owner")
	}
	return msg, nil
}

// Publish sends a change to all replicas.
func (r *RedisRelay) Publish(ctx context.Context, ownerUID string, change models.RecentChange) error {
	payload, err := encodeRelay(ownerUID, change)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run delivers relayed changes to dispatch until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, dispatch func(ownerUID string, change models.RecentChange)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			decoded, err := decodeRelay(msg.Payload)
			if err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed relay message")
				continue
			}
			dispatch(decoded.OwnerUID, decoded.Change)
		}
	}
}
