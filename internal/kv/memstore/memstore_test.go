package memstore

import (
	"context"
	"testing"

	"github.com/mediameter-lab/mediameter/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Apply(ctx,
		kv.Set("wr#2026-08-30#acct-1", "raw", "s1#e1#ms", kv.EncodeInt64(200)),
		kv.Set("wr#2026-08-30#acct-1", "raw", "s1#e2#ms", kv.EncodeInt64(2200)),
	))

	row, err := s.ReadRow(ctx, "wr#2026-08-30#acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), kv.DecodeInt64(row.Cell("raw", "s1#e1#ms")))
	assert.Equal(t, int64(2200), kv.DecodeInt64(row.Cell("raw", "s1#e2#ms")))

	_, err = s.ReadRow(ctx, "missing")
	assert.ErrorIs(t, err, kv.ErrRowNotFound)
}

func TestStore_IncrementFromAbsent(t *testing.T) {
	ctx := context.Background()
	s := New()

	v, err := s.Increment(ctx, "wr#2026-08-30#acct-1", "raw", "s1#e1#ms", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), v)

	v, err = s.Increment(ctx, "wr#2026-08-30#acct-1", "raw", "s1#e1#ms", 2200)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), v)
}

func TestStore_ScanOrderLimitAndBounds(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, key := range []string{
		"wd#2026-08-28#acct-2",
		"wd#2026-08-30#acct-1",
		"wd#2026-08-29#acct-1",
		"wd#2026-08-29#acct-3",
	} {
		require.NoError(t, s.Apply(ctx, kv.Set(key, "meta", "pending", []byte("1"))))
	}

	rows, err := s.Scan(ctx, "wd#", "wd#2026-08-30", kv.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "wd#2026-08-28#acct-2", rows[0].Key)
	assert.Equal(t, "wd#2026-08-29#acct-1", rows[1].Key)
	assert.Equal(t, "wd#2026-08-29#acct-3", rows[2].Key)

	rows, err = s.Scan(ctx, "wd#", "wd#2026-08-30", kv.ScanOptions{Limit: 2, KeysOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Families)
}

func TestStore_DeleteRowAndRange(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, key := range []string{
		"pw#2026-08-30#pub-1#acct-1",
		"pw#2026-08-30#pub-1#acct-2",
		"pw#2026-08-30#pub-2#acct-1",
		"pd#2026-08-30#pub-1",
	} {
		require.NoError(t, s.Apply(ctx, kv.Set(key, "t", "ws", kv.EncodeInt64(1))))
	}

	require.NoError(t, s.Apply(ctx,
		kv.DeleteRange("pw#2026-08-30#pub-1#", "pw#2026-08-30#pub-1+"),
		kv.DeleteRow("pd#2026-08-30#pub-1"),
	))

	assert.Equal(t, 1, s.Len())
	_, err := s.ReadRow(ctx, "pw#2026-08-30#pub-2#acct-1")
	assert.NoError(t, err)
}

func TestStore_ReadRowReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Apply(ctx, kv.Set("k", "f", "c", []byte("abc"))))

	row, err := s.ReadRow(ctx, "k")
	require.NoError(t, err)
	row.Families["f"]["c"][0] = 'x'

	row2, err := s.ReadRow(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), row2.Cell("f", "c"))
}
