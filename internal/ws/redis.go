package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/models"
)

// DefaultChannel carries wallet events between server instances.
const DefaultChannel = "wallet_events"

// RedisNotifier publishes wallet events so every instance can reach the
// account's connections.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev models.WalletEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal wallet event: %w", err)
	}
	return n.rdb.Publish(ctx, n.channel, b).Err()
}

// LocalNotifier delivers straight to an in-process hub. Used when Redis is
// not configured.
type LocalNotifier struct {
	Hub *Hub
}

func (n LocalNotifier) Publish(_ context.Context, ev models.WalletEvent) error {
	n.Hub.Deliver(ev)
	return nil
}

// StartSubscriber forwards events from the channel to the hub until ctx is
// done.
func StartSubscriber(ctx context.Context, rdb *redis.Client, channel string, hub *Hub) {
	if rdb == nil {
		log.Info("[WS] redis client not set; wallet subscriber not started")
		return
	}
	if channel == "" {
		channel = DefaultChannel
	}

	pubsub := rdb.Subscribe(ctx, channel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.WithField("channel", channel).Info("[WS] wallet subscriber started")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.WalletEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.WithError(err).Warn("[WS] invalid wallet event payload")
					continue
				}
				hub.Deliver(ev)
			}
		}
	}()
}
