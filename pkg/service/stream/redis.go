package stream

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/secmon-lab/changegate/pkg/utils/safe"
)

const defaultChannelPrefix = "changegate:notifications:"

// RedisBroker fans notifications out over Redis pub/sub so every server
// instance can serve streams of every user
type RedisBroker struct {
	client *redis.Client
	prefix string
}

var _ interfaces.NotificationBroker = (*RedisBroker)(nil)

// RedisOption configures RedisBroker
type RedisOption func(*RedisBroker)

// WithChannelPrefix sets the prefix of per-user pub/sub channels
func WithChannelPrefix(prefix string) RedisOption {
	return func(b *RedisBroker) {
		b.prefix = prefix
	}
}

// NewRedisBroker connects to the Redis server at redisURL (redis://...)
func NewRedisBroker(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisBroker, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid redis URL")
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		safe.Close(ctx, client)
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", redisOpts.Addr))
	}
	return NewRedisBrokerWithClient(client, opts...), nil
}

// NewRedisBrokerWithClient wraps an existing client
func NewRedisBrokerWithClient(client *redis.Client, opts ...RedisOption) *RedisBroker {
	b := &RedisBroker{client: client, prefix: defaultChannelPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) channel(userID types.UserID) string {
	return b.prefix + userID.String()
}

func (b *RedisBroker) Publish(ctx context.Context, n *model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return goerr.Wrap(err, "failed to encode notification", goerr.V(model.NotificationIDKey, n.ID))
	}
	if err := b.client.Publish(ctx, b.channel(n.RecipientID), payload).Err(); err != nil {
		return goerr.Wrap(err, "failed to publish notification",
			goerr.V(model.NotificationIDKey, n.ID), goerr.V(model.UserIDKey, n.RecipientID))
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by Redis
func (b *RedisBroker) Subscribe(ctx context.Context, userID types.UserID) (<-chan *model.Notification, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		safe.Close(ctx, ps)
		return nil, nil, goerr.Wrap(err, "failed to subscribe", goerr.V(model.UserIDKey, userID))
	}

	out := make(chan *model.Notification, defaultBuffer)
	subCtx, stop := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer safe.Close(ctx, ps)

		messages := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var n model.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					logging.From(ctx).Warn("invalid notification on stream", "error", err.Error())
					continue
				}
				select {
				case out <- &n:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return out, stop, nil
}

// Close releases the Redis connection pool
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
