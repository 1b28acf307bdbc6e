package merge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/testutil"
	"github.com/roach88/weave/internal/value"
)

var testKey = Key{Workspace: "ws", Document: "notes"}

func newOrchestrator(opts ...Option) *Orchestrator {
	return New(append([]Option{WithLogger(testutil.DiscardLogger())}, opts...)...)
}

// textUpdates returns a base update and two concurrent edits on top of it.
func textUpdates(t *testing.T) (base, left, right []byte) {
	t.Helper()
	origin := testutil.NewReplica(t, "origin")
	require.NoError(t, origin.Transact("test", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(0, "AC")
	}))
	base = testutil.Full(t, origin)

	x := testutil.NewReplica(t, "x")
	require.NoError(t, x.ApplyUpdate(base, "test"))
	require.NoError(t, x.Transact("test", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(1, "B")
	}))

	y := testutil.NewReplica(t, "y")
	require.NoError(t, y.ApplyUpdate(base, "test"))
	require.NoError(t, y.Transact("test", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(0, "Z")
	}))

	return base, testutil.Since(t, x, origin), testutil.Since(t, y, origin)
}

func load(t *testing.T, snapshot []byte) *doc.Document {
	t.Helper()
	d := testutil.NewReplica(t, "reader")
	require.NoError(t, d.ApplyUpdate(snapshot, "test"))
	return d
}

func TestKey_StringRoundTrip(t *testing.T) {
	parsed, err := ParseKey(testKey.String())
	require.NoError(t, err)
	assert.Equal(t, testKey, parsed)

	for _, bad := range []string{"", "ws", "/doc", "ws/"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestOrchestrator_MergeFoldsUpdates(t *testing.T) {
	base, left, right := textUpdates(t)
	o := newOrchestrator()

	snapshot, err := o.Merge(context.Background(), testKey, base, [][]byte{right, left})
	require.NoError(t, err)
	assert.Equal(t, "ZABC", load(t, snapshot).GetText("body"))

	// Merging the snapshot with inputs it already holds changes nothing.
	again, err := o.Merge(context.Background(), testKey, snapshot, [][]byte{left, base})
	require.NoError(t, err)
	assert.Equal(t, testutil.Canonical(t, load(t, snapshot)), testutil.Canonical(t, load(t, again)))
}

func TestOrchestrator_MergeFastPaths(t *testing.T) {
	base, left, _ := textUpdates(t)
	o := newOrchestrator(WithCriticalSection(func(context.Context, Key) {
		t.Fatal("fast path must not replay")
	}))
	ctx := context.Background()

	out, err := o.Merge(ctx, testKey, base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, out)

	out, err = o.Merge(ctx, testKey, base, [][]byte{{0, 0}, {}})
	require.NoError(t, err)
	assert.Equal(t, base, out)

	out, err = o.Merge(ctx, testKey, nil, [][]byte{left})
	require.NoError(t, err)
	assert.Equal(t, left, out)

	out, err = o.Merge(ctx, testKey, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestOrchestrator_MergeRejectsMalformedLoneInput(t *testing.T) {
	o := newOrchestrator()

	out, err := o.Merge(context.Background(), testKey, nil, [][]byte{{0xff, 0xff, 0xff, 0xff}})
	require.Error(t, err)
	assert.True(t, op.IsMalformed(err))
	assert.Nil(t, out)

	out, err = o.Merge(context.Background(), testKey, []byte{0xff, 0xff, 0xff, 0xff}, nil)
	require.Error(t, err)
	assert.True(t, op.IsMalformed(err))
	assert.Nil(t, out)
}

func TestOrchestrator_MergeFailureReturnsNothing(t *testing.T) {
	base, left, _ := textUpdates(t)
	o := newOrchestrator()

	out, err := o.Merge(context.Background(), testKey, base, [][]byte{left, {1, 5, 0xff}})
	require.Error(t, err)
	assert.True(t, op.IsMergeFailure(err))
	assert.Nil(t, out)
}

func TestOrchestrator_MergeExclusivePerKey(t *testing.T) {
	base, left, right := textUpdates(t)

	var inside, peak atomic.Int32
	o := newOrchestrator(WithCriticalSection(func(context.Context, Key) {
		n := inside.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inside.Add(-1)
	}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Merge(context.Background(), testKey, base, [][]byte{left, right})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Zero(t, o.locks.Len())
}

func TestOrchestrator_DifferentKeysRunInParallel(t *testing.T) {
	base, left, _ := textUpdates(t)

	entered := make(chan Key, 2)
	release := make(chan struct{})
	o := newOrchestrator(WithCriticalSection(func(_ context.Context, key Key) {
		entered <- key
		<-release
	}))

	var wg sync.WaitGroup
	for _, key := range []Key{{"ws", "a"}, {"ws", "b"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Merge(context.Background(), key, base, [][]byte{left})
			assert.NoError(t, err)
		}()
	}

	// Both merges are inside their critical sections at the same time.
	got := []Key{<-entered, <-entered}
	assert.ElementsMatch(t, []Key{{"ws", "a"}, {"ws", "b"}}, got)
	close(release)
	wg.Wait()
}

func TestOrchestrator_MergeGivesUpWaitingOnCancel(t *testing.T) {
	base, left, _ := textUpdates(t)
	locks := NewKeyedMutex()
	unlock, err := locks.Lock(context.Background(), testKey)
	require.NoError(t, err)
	defer unlock()

	o := newOrchestrator(WithLocks(locks))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = o.Merge(ctx, testKey, base, [][]byte{left})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.Len())
}

func TestOrchestrator_Diff(t *testing.T) {
	base, left, right := textUpdates(t)
	o := newOrchestrator()
	snapshot, err := o.Merge(context.Background(), testKey, base, [][]byte{left, right})
	require.NoError(t, err)

	client := load(t, base)
	sv, err := client.EncodeStateVector()
	require.NoError(t, err)

	missing, serverSV, err := o.Diff(snapshot, sv)
	require.NoError(t, err)
	require.NoError(t, client.ApplyUpdate(missing, "server"))
	assert.Equal(t, "ZABC", client.GetText("body"))

	decoded, err := codec.DecodeStateVector(serverSV)
	require.NoError(t, err)
	assert.Equal(t, client.StateVector(), decoded)

	// A client that is up to date gets nothing.
	missing, _, err = o.Diff(snapshot, serverSV)
	require.NoError(t, err)
	assert.True(t, codec.IsEmptyUpdate(missing))
}

func TestOrchestrator_ValidateUpdate(t *testing.T) {
	base, _, _ := textUpdates(t)
	o := newOrchestrator()

	assert.True(t, o.ValidateUpdate(base))
	assert.True(t, o.ValidateUpdate(nil))
	assert.False(t, o.ValidateUpdate(base[:len(base)-1]))
	assert.False(t, o.ValidateUpdate([]byte{9, 1}))
}

func TestKeyedMutex_EvictsIdleLocks(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, k.Len())

	acquired := make(chan struct{})
	go func() {
		second, err := k.Lock(ctx, testKey)
		assert.NoError(t, err)
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the first held the lock")
	case <-time.After(5 * time.Millisecond):
	}
	unlock()
	<-acquired

	assert.Eventually(t, func() bool { return k.Len() == 0 }, time.Second, time.Millisecond)
}

func TestMerge_MapSnapshot(t *testing.T) {
	a := testutil.NewReplica(t, "a")
	b := testutil.NewReplica(t, "b")
	require.NoError(t, a.Transact("test", func(tx *doc.Transaction) error {
		return tx.Map("meta").Set("title", value.String("from a"))
	}))
	require.NoError(t, b.Transact("test", func(tx *doc.Transaction) error {
		return tx.Map("meta").Set("owner", value.String("b"))
	}))

	snapshot, err := newOrchestrator().Merge(context.Background(), testKey, nil,
		[][]byte{testutil.Full(t, a), testutil.Full(t, b)})
	require.NoError(t, err)
	assert.Equal(t,
		value.Object{"title": value.String("from a"), "owner": value.String("b")},
		load(t, snapshot).GetMap("meta"))
}
