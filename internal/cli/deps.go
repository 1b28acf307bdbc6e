package cli

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff"

	"github.com/roach88/weave/internal/broadcast"
	"github.com/roach88/weave/internal/compactor"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/store"
)

// StoreOptions selects the database for store-backed commands.
type StoreOptions struct {
	Database  string
	Workspace string
	Document  string
}

func (s *StoreOptions) key() merge.Key {
	return merge.Key{Workspace: s.Workspace, Document: s.Document}
}

// openStore opens the --db database, falling back to the configured path.
func (o *RootOptions) openStore(db string) (*store.Store, error) {
	if db == "" {
		db = o.Config.Store.Path
	}
	o.Logger.Debug("opening database", "path", db)
	st, err := store.Open(db)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// publisher connects to Redis when broadcasting is enabled; nil otherwise.
func (o *RootOptions) publisher(ctx context.Context) (*broadcast.RedisPublisher, error) {
	if !o.Config.Redis.Enabled {
		return nil, nil
	}
	p, err := broadcast.NewRedisPublisher(ctx, o.Config.Redis.URL,
		broadcast.WithPrefix(o.Config.Redis.ChannelPrefix),
		broadcast.WithLogger(o.Logger),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
	}
	return p, nil
}

// newBackOff builds the compaction retry policy from config.
func (o *RootOptions) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.Config.Merge.InitialInterval
	b.MaxInterval = o.Config.Merge.MaxInterval
	return backoff.WithMaxRetries(b, uint64(o.Config.Merge.MaxRetries))
}

// newWorker wires a compactor over st, publishing snapshots through p if
// it is not nil.
func (o *RootOptions) newWorker(st *store.Store, p *broadcast.RedisPublisher) *compactor.Worker {
	m := merge.New(
		merge.WithLogger(o.Logger),
		merge.WithHistoryCapacity(o.Config.Merge.HistoryCapacity),
	)
	opts := []compactor.Option{
		compactor.WithLogger(o.Logger),
		compactor.WithBackOff(o.newBackOff),
	}
	if p != nil {
		opts = append(opts, compactor.WithOnCompact(func(ctx context.Context, r compactor.Result, snapshot []byte) {
			if err := p.Publish(ctx, r.Key, snapshot); err != nil {
				o.Logger.Warn("snapshot not published", "doc", r.Key.String(), "error", err)
			}
		}))
	}
	return compactor.New(st, m, opts...)
}

func requireDocument(s *StoreOptions) error {
	if s.Workspace == "" || s.Document == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("--workspace and --doc are required (got %q, %q)", s.Workspace, s.Document))
	}
	return nil
}
