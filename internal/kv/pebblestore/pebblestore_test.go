package pebblestore

import (
	"context"
	"testing"

	"github.com/mediameter-lab/mediameter/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Apply(ctx,
		kv.Set("cf#acct-1#2026-08-30", "w", "season1", kv.EncodeInt64(3)),
		kv.Set("cf#acct-1#2026-08-30", "a", "season1", kv.EncodeInt64(24)),
	))

	row, err := s.ReadRow(ctx, "cf#acct-1#2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(3), kv.DecodeInt64(row.Cell("w", "season1")))
	assert.Equal(t, int64(24), kv.DecodeInt64(row.Cell("a", "season1")))

	_, err = s.ReadRow(ctx, "cf#acct-1#2026-08-29")
	assert.ErrorIs(t, err, kv.ErrRowNotFound)
}

func TestStore_ScanGroupsCellsByRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Apply(ctx,
		kv.Set("pw#2026-08-30#pub-1#acct-1", "t", "ws", kv.EncodeInt64(10)),
		kv.Set("pw#2026-08-30#pub-1#acct-1", "t", "bytes", kv.EncodeInt64(99)),
		kv.Set("pw#2026-08-30#pub-1#acct-2", "t", "ws", kv.EncodeInt64(20)),
		kv.Set("pw#2026-08-30#pub-2#acct-1", "t", "ws", kv.EncodeInt64(30)),
	))

	rows, err := s.Scan(ctx, "pw#2026-08-30#pub-1#", "pw#2026-08-30#pub-1+", kv.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pw#2026-08-30#pub-1#acct-1", rows[0].Key)
	assert.Equal(t, int64(99), kv.DecodeInt64(rows[0].Cell("t", "bytes")))
	assert.Equal(t, "pw#2026-08-30#pub-1#acct-2", rows[1].Key)
}

func TestStore_ScanLimitAndKeysOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, key := range []string{"wd#2026-08-28#a", "wd#2026-08-29#a", "wd#2026-08-30#a"} {
		require.NoError(t, s.Apply(ctx, kv.Set(key, "meta", "pending", []byte("1"))))
	}

	rows, err := s.Scan(ctx, "wd#", "wd+", kv.ScanOptions{Limit: 2, KeysOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "wd#2026-08-28#a", rows[0].Key)
	assert.Nil(t, rows[0].Families)
}

func TestStore_Increment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.Increment(ctx, "wr#2026-08-30#acct-1", "raw", "s1#e1#ms", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), v)

	v, err = s.Increment(ctx, "wr#2026-08-30#acct-1", "raw", "s1#e1#ms", 2200)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), v)
}

func TestStore_DeleteRowAndRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Apply(ctx,
		kv.Set("pw#2026-08-30#pub-1#acct-1", "t", "ws", kv.EncodeInt64(1)),
		kv.Set("pw#2026-08-30#pub-1#acct-2", "t", "ws", kv.EncodeInt64(2)),
		kv.Set("pd#2026-08-30#pub-1", "meta", "pending", []byte("1")),
	))

	require.NoError(t, s.Apply(ctx,
		kv.DeleteRange("pw#2026-08-30#pub-1#", "pw#2026-08-30#pub-1+"),
		kv.DeleteRow("pd#2026-08-30#pub-1"),
	))

	rows, err := s.Scan(ctx, "p", "q", kv.ScanOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
