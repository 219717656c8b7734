package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/enrich"
	"github.com/mediameter-lab/mediameter/internal/kv"
	"github.com/mediameter-lab/mediameter/internal/kv/memstore"
	"github.com/mediameter-lab/mediameter/internal/settle"
)

// fakeCatalog resolves season attributes from a fixed map. Unknown seasons
// report ErrNotFound, like the real catalog does.
type fakeCatalog struct {
	mu    sync.Mutex
	attrs map[string]enrich.SeasonAttrs
	calls int
}

func (f *fakeCatalog) SeasonAttrs(_ context.Context, seasonID string, _ keyspace.Period) (enrich.SeasonAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	attrs, ok := f.attrs[seasonID]
	if !ok {
		return enrich.SeasonAttrs{}, fmt.Errorf("season %q: %w", seasonID, enrich.ErrNotFound)
	}
	return attrs, nil
}

// fakeSettlement records submitted statements and can be told to fail.
type fakeSettlement struct {
	mu       sync.Mutex
	fail     error
	charges  []settle.Statement
	earnings []settle.Statement
}

func (f *fakeSettlement) SubmitCharges(_ context.Context, st settle.Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.charges = append(f.charges, st)
	return nil
}

func (f *fakeSettlement) SubmitEarnings(_ context.Context, st settle.Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.earnings = append(f.earnings, st)
	return nil
}

func cellValue(t *testing.T, store kv.Store, key, family, column string) int64 {
	t.Helper()
	row, err := store.ReadRow(context.Background(), key)
	require.NoError(t, err)
	return kv.DecodeInt64(row.Cell(family, column))
}

func rowExists(t *testing.T, store kv.Store, key string) bool {
	t.Helper()
	_, err := store.ReadRow(context.Background(), key)
	if errors.Is(err, kv.ErrRowNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

// seedBreakdowns writes n per-consumer breakdown rows for one publisher day
// plus the matching work item, with weighted seconds 1..n.
func seedBreakdowns(t *testing.T, store kv.Store, day keyspace.Period, pub string, n int) string {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		key := keyspace.ChildKey(keyspace.KindPublisherWatchChild, day, pub, fmt.Sprintf("acct-%02d", i))
		require.NoError(t, store.Apply(ctx,
			kv.Set(key, "t", "ws", kv.EncodeInt64(int64(i))),
			kv.Set(key, "t", "bytes", kv.EncodeInt64(int64(i)*100)),
		))
	}
	item := keyspace.WorkKey(keyspace.KindPublisherWatchDaily, day, pub)
	require.NoError(t, store.Apply(ctx, PendingWorkItem(keyspace.KindPublisherWatchDaily, day, pub)))
	return item
}

func TestProcessor_InterruptedRunResumesToIdenticalResult(t *testing.T) {
	ctx := context.Background()
	day := keyspace.Period("2026-08-15")

	// Reference: uninterrupted run.
	ref := memstore.New()
	refItem := seedBreakdowns(t, ref, day, "pub-1", 5)
	require.NoError(t, NewProcessor(ref, NewPublisherWatchDaily(), 2).Process(ctx, refItem))

	// Interrupted run: die right after the first durable checkpoint, then
	// hand the same item to a fresh processor.
	store := memstore.New()
	item := seedBreakdowns(t, store, day, "pub-1", 5)

	boom := errors.New("simulated crash")
	crashing := NewProcessor(store, NewPublisherWatchDaily(), 2)
	crashing.afterCheckpoint = func() error { return boom }
	require.ErrorIs(t, crashing.Process(ctx, item), boom)
	assert.True(t, rowExists(t, store, item), "work item must survive the crash")

	require.NoError(t, NewProcessor(store, NewPublisherWatchDaily(), 2).Process(ctx, item))

	final := keyspace.FinalKey(keyspace.KindPublisherDailyFinal, "pub-1", day)
	want, err := ref.ReadRow(ctx, final)
	require.NoError(t, err)
	got, err := store.ReadRow(ctx, final)
	require.NoError(t, err)
	assert.Equal(t, want.Families, got.Families, "resumed run must publish identical cells")

	assert.Equal(t, int64(15), cellValue(t, store, final, "t", "ws"))
	assert.Equal(t, int64(1500), cellValue(t, store, final, "t", "bytes"))
	assert.False(t, rowExists(t, store, item))
}

func TestProcessor_ResultIndependentOfPageSize(t *testing.T) {
	ctx := context.Background()
	day := keyspace.Period("2026-08-15")
	final := keyspace.FinalKey(keyspace.KindPublisherDailyFinal, "pub-1", day)

	run := func(pageSize int) (kv.Row, int) {
		store := memstore.New()
		item := seedBreakdowns(t, store, day, "pub-1", 5)
		proc := NewProcessor(store, NewPublisherWatchDaily(), pageSize)
		checkpoints := 0
		proc.afterCheckpoint = func() error { checkpoints++; return nil }
		require.NoError(t, proc.Process(ctx, item))
		row, err := store.ReadRow(ctx, final)
		require.NoError(t, err)
		return row, checkpoints
	}

	small, smallCheckpoints := run(2)
	large, largeCheckpoints := run(100)

	assert.Equal(t, large.Families, small.Families)
	assert.Equal(t, 3, smallCheckpoints, "5 rows at page size 2 means pages of 2, 2 and 1")
	assert.Equal(t, 1, largeCheckpoints)
}

func TestProcessor_RetiredItemIsNoOp(t *testing.T) {
	store := memstore.New()
	proc := NewProcessor(store, NewPublisherWatchDaily(), 0)

	key := keyspace.WorkKey(keyspace.KindPublisherWatchDaily, "2026-08-15", "pub-1")
	require.NoError(t, proc.Process(context.Background(), key))
	assert.Equal(t, 0, store.Len())
}

func TestProcessor_RejectsForeignKind(t *testing.T) {
	store := memstore.New()
	proc := NewProcessor(store, NewPublisherWatchDaily(), 0)

	key := keyspace.WorkKey(keyspace.KindConsumerMonthly, "2026-08", "acct-1")
	assert.Error(t, proc.Process(context.Background(), key))
}

func TestProcessor_OverflowIsFatal(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	day := keyspace.Period("2026-08-15")

	a := keyspace.ChildKey(keyspace.KindPublisherWatchChild, day, "pub-1", "acct-1")
	b := keyspace.ChildKey(keyspace.KindPublisherWatchChild, day, "pub-1", "acct-2")
	require.NoError(t, store.Apply(ctx,
		kv.Set(a, "t", "ws", kv.EncodeInt64(counter.Ceiling-1)),
		kv.Set(b, "t", "ws", kv.EncodeInt64(5)),
		PendingWorkItem(keyspace.KindPublisherWatchDaily, day, "pub-1"),
	))

	item := keyspace.WorkKey(keyspace.KindPublisherWatchDaily, day, "pub-1")
	err := NewProcessor(store, NewPublisherWatchDaily(), 0).Process(ctx, item)
	require.ErrorIs(t, err, counter.ErrOverflow)
	assert.True(t, rowExists(t, store, item), "overflow must not retire the item")
}
