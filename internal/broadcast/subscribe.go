package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/merge"
)

// Subscription delivers update payloads published for one document.
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	C      <-chan []byte
}

// Close ends the subscription and closes C, even if nobody is reading it.
// It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// Subscribe listens on key's channel. The subscription is confirmed
// before Subscribe returns, so updates published afterwards are not
// missed.
func (p *RedisPublisher) Subscribe(ctx context.Context, key merge.Key) (*Subscription, error) {
	pubsub := p.client.Subscribe(ctx, p.Channel(key))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	out := make(chan []byte)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return &Subscription{pubsub: pubsub, done: done, C: out}, nil
}

// Follow applies every update published for key to d until ctx is done.
// Malformed payloads are logged and skipped.
func (p *RedisPublisher) Follow(ctx context.Context, d *doc.Document, key merge.Key) error {
	sub, err := p.Subscribe(ctx, key)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := d.ApplyUpdate(update, Origin); err != nil {
				p.logger.Warn("dropping broadcast update",
					"doc", key.String(),
					"replica", d.Replica(),
					"error", err,
				)
			}
		}
	}
}
