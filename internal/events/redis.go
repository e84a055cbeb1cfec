package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/domain"
)

const channelPrefix = "chronicle:campaign:"

// ChannelName is the Redis pub/sub channel carrying a campaign's events.
func ChannelName(campaignCode string) string {
	return channelPrefix + campaignCode
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBus distributes events across API instances over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// NewRedisBus connects and pings the server before returning.
func NewRedisBus(ctx context.Context, cfg RedisConfig, log logrus.FieldLogger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisBus{client: client, log: log}, nil
}

func (b *RedisBus) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", evt.ID, err)
	}
	channel := ChannelName(evt.CampaignCode)
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.log.WithFields(logrus.Fields{
			"channel":  channel,
			"event_id": evt.ID,
			"type":     evt.Type,
		}).WithError(err).Error("redis publish failed")
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, campaignCode string) (<-chan domain.Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, ChannelName(campaignCode))
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", campaignCode, err)
	}
	out := make(chan domain.Event, subscriberBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed event")
					continue
				}
				select {
				case out <- evt:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
