package postgresstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediameter-lab/mediameter/internal/kv"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestStore_ReadRow(t *testing.T) {
	tests := []struct {
		name       string
		mockResult func(mock sqlmock.Sqlmock)
		assertions func(t *testing.T, row kv.Row, err error)
	}{
		{
			name: "row with two families",
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(queryReadRow)).
					WithArgs("cf#acct-1#2026-08-30").
					WillReturnRows(sqlmock.NewRows([]string{"family", "column_name", "value"}).
						AddRow("w", "season1", kv.EncodeInt64(3)).
						AddRow("a", "season1", kv.EncodeInt64(24)))
			},
			assertions: func(t *testing.T, row kv.Row, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(3), kv.DecodeInt64(row.Cell("w", "season1")))
				assert.Equal(t, int64(24), kv.DecodeInt64(row.Cell("a", "season1")))
			},
		},
		{
			name: "absent row maps to ErrRowNotFound",
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(queryReadRow)).
					WithArgs("cf#acct-1#2026-08-30").
					WillReturnRows(sqlmock.NewRows([]string{"family", "column_name", "value"}))
			},
			assertions: func(t *testing.T, _ kv.Row, err error) {
				require.ErrorIs(t, err, kv.ErrRowNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.mockResult(mock)

			row, err := store.ReadRow(context.Background(), "cf#acct-1#2026-08-30")
			tt.assertions(t, row, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_ApplyBatchIsTransactional(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertCell)).
		WithArgs("cf#acct-1#2026-08-30", "w", "season1", kv.EncodeInt64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryDeleteRow)).
		WithArgs("wd#2026-08-30#acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryDeleteRange)).
		WithArgs("wr#2026-08-30#acct-1#", "wr#2026-08-30#acct-1+").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.Apply(context.Background(),
		kv.Set("cf#acct-1#2026-08-30", "w", "season1", kv.EncodeInt64(3)),
		kv.DeleteRow("wd#2026-08-30#acct-1"),
		kv.DeleteRange("wr#2026-08-30#acct-1#", "wr#2026-08-30#acct-1+"),
	)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_IncrementFromAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(querySelectCounterForUpdate)).
		WithArgs("wr#2026-08-30#acct-1", "raw", "s1#e1#ms").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertCell)).
		WithArgs("wr#2026-08-30#acct-1", "raw", "s1#e1#ms", kv.EncodeInt64(200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := store.Increment(context.Background(), "wr#2026-08-30#acct-1", "raw", "s1#e1#ms", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_IncrementAddsToExisting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(querySelectCounterForUpdate)).
		WithArgs("wr#2026-08-30#acct-1", "raw", "s1#e1#ms").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(kv.EncodeInt64(200)))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertCell)).
		WithArgs("wr#2026-08-30#acct-1", "raw", "s1#e1#ms", kv.EncodeInt64(2400)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := store.Increment(context.Background(), "wr#2026-08-30#acct-1", "raw", "s1#e1#ms", 2200)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ScanKeysOnly(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryScanKeys)).
		WithArgs("wd#", "wd#2026-08-31", 2).
		WillReturnRows(sqlmock.NewRows([]string{"row_key"}).
			AddRow("wd#2026-08-29#acct-1").
			AddRow("wd#2026-08-30#acct-1"))

	rows, err := store.Scan(context.Background(), "wd#", "wd#2026-08-31", kv.ScanOptions{Limit: 2, KeysOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "wd#2026-08-29#acct-1", rows[0].Key)
	assert.Nil(t, rows[0].Families)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ScanMaterializesCells(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryScanKeys)).
		WithArgs("pw#2026-08-30#pub-1#", "pw#2026-08-30#pub-1+", nil).
		WillReturnRows(sqlmock.NewRows([]string{"row_key"}).
			AddRow("pw#2026-08-30#pub-1#acct-1").
			AddRow("pw#2026-08-30#pub-1#acct-2"))
	mock.ExpectQuery(regexp.QuoteMeta(queryScanCells)).
		WithArgs(pq.Array([]string{"pw#2026-08-30#pub-1#acct-1", "pw#2026-08-30#pub-1#acct-2"})).
		WillReturnRows(sqlmock.NewRows([]string{"row_key", "family", "column_name", "value"}).
			AddRow("pw#2026-08-30#pub-1#acct-1", "t", "ws", kv.EncodeInt64(10)).
			AddRow("pw#2026-08-30#pub-1#acct-2", "t", "ws", kv.EncodeInt64(20)))

	rows, err := store.Scan(context.Background(), "pw#2026-08-30#pub-1#", "pw#2026-08-30#pub-1+", kv.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(10), kv.DecodeInt64(rows[0].Cell("t", "ws")))
	assert.Equal(t, int64(20), kv.DecodeInt64(rows[1].Cell("t", "ws")))
	require.NoError(t, mock.ExpectationsWereMet())
}
