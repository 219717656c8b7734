// Package kv defines the sorted key-value store contract the aggregation
// engine runs against. A cell is addressed by (row key, family, column) and
// holds an opaque byte value; row keys sort lexicographically. The engine
// requires only single-row atomicity from implementations; crash safety
// comes from checkpoint ordering, not from transactions.
package kv

import (
	"context"
	"encoding/binary"
	"errors"
)

// ErrRowNotFound is returned by ReadRow when no cell exists for the key.
var ErrRowNotFound = errors.New("row not found")

// Row is a materialized row: family → column → value.
type Row struct {
	Key      string
	Families map[string]map[string][]byte
}

// Cell returns the value at (family, column), or nil when absent.
func (r Row) Cell(family, column string) []byte {
	return r.Families[family][column]
}

// Op discriminates mutation types.
type Op int

const (
	OpSet Op = iota
	OpDeleteRow
	OpDeleteRange
)

// Mutation is one write in an Apply batch.
type Mutation struct {
	Op     Op
	Key    string
	EndKey string // exclusive; OpDeleteRange only
	Family string
	Column string
	Value  []byte
}

// Set builds a cell-write mutation.
func Set(key, family, column string, value []byte) Mutation {
	return Mutation{Op: OpSet, Key: key, Family: family, Column: column, Value: value}
}

// DeleteRow builds a whole-row delete mutation.
func DeleteRow(key string) Mutation {
	return Mutation{Op: OpDeleteRow, Key: key}
}

// DeleteRange builds a [start, end) row-range delete mutation.
func DeleteRange(start, end string) Mutation {
	return Mutation{Op: OpDeleteRange, Key: start, EndKey: end}
}

// ScanOptions bounds a range scan.
type ScanOptions struct {
	Limit    int  // max rows returned; 0 means no limit
	KeysOnly bool // return row keys without cell values
}

// Store is the sorted key-value namespace contract.
type Store interface {
	// ReadRow returns all cells of one row, or ErrRowNotFound.
	ReadRow(ctx context.Context, key string) (Row, error)

	// Apply performs a batch of mutations as one durable write. Atomicity is
	// guaranteed per row only.
	Apply(ctx context.Context, muts ...Mutation) error

	// Increment atomically adds delta to a numeric cell (absent counts as 0)
	// and returns the new value.
	Increment(ctx context.Context, key, family, column string, delta int64) (int64, error)

	// Scan returns rows with start <= key < end in key order, honoring opts.
	Scan(ctx context.Context, start, end string, opts ScanOptions) ([]Row, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// EncodeInt64 encodes a counter value as 8 big-endian bytes, the canonical
// numeric cell representation across all backends.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeInt64 decodes a numeric cell. Absent or malformed cells decode to 0.
func DecodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
