// Package broadcast relays committed document updates over Redis pub/sub.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/merge"
)

// Origin tags transactions applied from a subscription. Commits with this
// origin are never published again.
const Origin = "broadcast"

// DefaultPrefix is the channel prefix when none is configured.
const DefaultPrefix = "weave"

// RedisPublisher publishes committed updates to one channel per document.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a RedisPublisher.
type Option func(*RedisPublisher)

// WithPrefix sets the channel prefix.
//
// Default: DefaultPrefix
func WithPrefix(prefix string) Option {
	return func(p *RedisPublisher) {
		p.prefix = prefix
	}
}

// WithLogger sets the structured logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(p *RedisPublisher) {
		p.logger = l
	}
}

// WithPublishTimeout bounds each publish call.
//
// Default: 5s
func WithPublishTimeout(d time.Duration) Option {
	return func(p *RedisPublisher) {
		p.timeout = d
	}
}

// NewRedisPublisher connects to redisURL and checks the connection.
func NewRedisPublisher(ctx context.Context, redisURL string, opts ...Option) (*RedisPublisher, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisPublisherWithClient(client, opts...), nil
}

// NewRedisPublisherWithClient creates a publisher from an existing client.
func NewRedisPublisherWithClient(client *redis.Client, opts ...Option) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		prefix:  DefaultPrefix,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Channel returns key's channel name: prefix:workspace:document.
func (p *RedisPublisher) Channel(key merge.Key) string {
	return p.prefix + ":" + key.Workspace + ":" + key.Document
}

// Publish sends update on key's channel.
func (p *RedisPublisher) Publish(ctx context.Context, key merge.Key, update []byte) error {
	if err := p.client.Publish(ctx, p.Channel(key), update).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Observer returns a document observer that publishes every committed
// update of key, except those that arrived through a subscription.
func (p *RedisPublisher) Observer(key merge.Key) doc.Observer {
	return doc.ObserverFuncs{
		AfterCommit: func(ev doc.CommitEvent) error {
			if ev.Origin == Origin || len(ev.Operations) == 0 {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			if err := p.Publish(ctx, key, ev.Update); err != nil {
				return err
			}
			p.logger.Debug("update published",
				"doc", key.String(),
				"ops", len(ev.Operations),
				"local", ev.Local,
			)
			return nil
		},
	}
}
