// Package events broadcasts committed balance changes over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "storewallet:balance"

var ErrInvalidPublisherConfig = errors.New("invalid publisher config")

// Publisher is the part of a redis client used to broadcast events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Payload is the JSON document published for each balance event.
type Payload struct {
	UserID          string `json:"user_id"`
	AccountID       string `json:"account_id"`
	Reason          string `json:"reason"`
	Reference       string `json:"reference,omitempty"`
	DeltaCents      int64  `json:"delta_cents"`
	OccurredUnixUTC int64  `json:"occurred_unix_utc"`
}

// RedisPublisher implements wallet.EventPublisher. Each user has a channel
// named "<prefix>:<user id>" so that a wallet screen subscribes only to its
// own account.
type RedisPublisher struct {
	client        Publisher
	channelPrefix string
}

// NewRedisPublisher returns a RedisPublisher; an empty prefix uses DefaultChannelPrefix.
func NewRedisPublisher(client Publisher, channelPrefix string) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidPublisherConfig)
	}
	if channelPrefix == "" {
		channelPrefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, channelPrefix: channelPrefix}, nil
}

// Channel returns the channel events for userID are published on.
func (publisher *RedisPublisher) Channel(userID wallet.UserID) string {
	return publisher.channelPrefix + ":" + userID.String()
}

// PublishBalanceEvent implements wallet.EventPublisher.
func (publisher *RedisPublisher) PublishBalanceEvent(ctx context.Context, event wallet.BalanceEvent) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	if err := publisher.client.Publish(ctx, publisher.Channel(event.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish balance event: %w", err)
	}
	return nil
}

// Encode renders a balance event as its published JSON form.
func Encode(event wallet.BalanceEvent) (string, error) {
	raw, err := json.Marshal(Payload{
		UserID:          event.UserID.String(),
		AccountID:       event.AccountID.String(),
		Reason:          event.Reason,
		Reference:       event.Reference.String(),
		DeltaCents:      event.DeltaCents.Int64(),
		OccurredUnixUTC: event.OccurredUnixUTC,
	})
	if err != nil {
		return "", fmt.Errorf("marshal balance event: %w", err)
	}
	return string(raw), nil
}

// Decode parses a published balance event.
func Decode(raw string) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Payload{}, fmt.Errorf("decode balance event: %w", err)
	}
	return payload, nil
}
