package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/testutil"
	"github.com/roach88/weave/internal/value"
)

var testKey = merge.Key{Workspace: "ws", Document: "notes"}

func setupPublisher(t *testing.T) *RedisPublisher {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	p := NewRedisPublisherWithClient(client, WithLogger(testutil.DiscardLogger()))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNewRedisPublisher(t *testing.T) {
	s := miniredis.RunT(t)

	p, err := NewRedisPublisher(context.Background(), "redis://"+s.Addr(), WithPrefix("test"))
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "test:ws:notes", p.Channel(testKey))

	_, err = NewRedisPublisher(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestRedisPublisher_Channel(t *testing.T) {
	p := setupPublisher(t)
	assert.Equal(t, "weave:ws:notes", p.Channel(testKey))
}

func TestRedisPublisher_SubscribeReceivesPublished(t *testing.T) {
	p := setupPublisher(t)
	ctx := context.Background()

	sub, err := p.Subscribe(ctx, testKey)
	require.NoError(t, err)
	defer sub.Close()

	other, err := p.Subscribe(ctx, merge.Key{Workspace: "ws", Document: "other"})
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, p.Publish(ctx, testKey, []byte{1, 2, 3}))

	select {
	case got := <-sub.C:
		assert.Equal(t, []byte{1, 2, 3}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	select {
	case got := <-other.C:
		t.Fatalf("unexpected message on other channel: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscription_CloseWithoutReader(t *testing.T) {
	p := setupPublisher(t)
	ctx := context.Background()

	sub, err := p.Subscribe(ctx, testKey)
	require.NoError(t, err)

	// Nobody reads C, so the forwarder parks on its send.
	require.NoError(t, p.Publish(ctx, testKey, []byte{1}))
	require.NoError(t, p.Publish(ctx, testKey, []byte{2}))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("C was not closed after Close")
		}
	}
}

func TestRedisPublisher_ObserverAndFollow(t *testing.T) {
	p := setupPublisher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	author := testutil.NewReplica(t, "author", doc.WithObserver(p.Observer(testKey)))
	follower := testutil.NewReplica(t, "follower", doc.WithObserver(p.Observer(testKey)))

	done := make(chan error, 1)
	sub, err := p.Subscribe(ctx, testKey)
	require.NoError(t, err)
	go func() {
		for update := range sub.C {
			if err := follower.ApplyUpdate(update, Origin); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	require.NoError(t, author.Transact("typing", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(0, "hello")
	}))
	require.NoError(t, author.Transact("typing", func(tx *doc.Transaction) error {
		return tx.Map("meta").Set("title", value.String("greeting"))
	}))

	require.Eventually(t, func() bool {
		return follower.GetText("body") == "hello" && len(follower.GetMap("meta")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	testutil.RequireConverged(t, author, follower)

	require.NoError(t, sub.Close())
	assert.NoError(t, <-done)
}

func TestRedisPublisher_FollowStopsOnCancel(t *testing.T) {
	p := setupPublisher(t)
	ctx, cancel := context.WithCancel(context.Background())
	d := testutil.NewReplica(t, "reader")

	done := make(chan error, 1)
	go func() { done <- p.Follow(ctx, d, testKey) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not stop")
	}
}
