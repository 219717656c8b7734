// Package memstore is an in-memory kv.Store used by unit tests and the
// "memory" backend. Keys are kept in a sorted slice; every operation takes
// the store mutex, which is more than the single-row atomicity the contract
// asks for.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/mediameter-lab/mediameter/internal/kv"
)

type Store struct {
	mu   sync.Mutex
	keys []string                                // sorted
	rows map[string]map[string]map[string][]byte // key → family → column → value
}

// New creates an empty store.
func New() *Store {
	return &Store{rows: make(map[string]map[string]map[string][]byte)}
}

func (s *Store) ReadRow(_ context.Context, key string) (kv.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[key]
	if !ok {
		return kv.Row{}, kv.ErrRowNotFound
	}
	return kv.Row{Key: key, Families: copyFamilies(row)}, nil
}

func (s *Store) Apply(_ context.Context, muts ...kv.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range muts {
		switch m.Op {
		case kv.OpSet:
			s.setLocked(m.Key, m.Family, m.Column, m.Value)
		case kv.OpDeleteRow:
			s.deleteLocked(m.Key)
		case kv.OpDeleteRange:
			for _, key := range s.keysInRangeLocked(m.Key, m.EndKey, 0) {
				s.deleteLocked(key)
			}
		}
	}
	return nil
}

func (s *Store) Increment(_ context.Context, key, family, column string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if row, ok := s.rows[key]; ok {
		current = kv.DecodeInt64(row[family][column])
	}
	next := current + delta
	s.setLocked(key, family, column, kv.EncodeInt64(next))
	return next, nil
}

func (s *Store) Scan(_ context.Context, start, end string, opts kv.ScanOptions) ([]kv.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []kv.Row
	for _, key := range s.keysInRangeLocked(start, end, opts.Limit) {
		row := kv.Row{Key: key}
		if !opts.KeysOnly {
			row.Families = copyFamilies(s.rows[key])
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Len returns the number of rows; test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *Store) setLocked(key, family, column string, value []byte) {
	row, ok := s.rows[key]
	if !ok {
		row = make(map[string]map[string][]byte)
		s.rows[key] = row
		i := sort.SearchStrings(s.keys, key)
		s.keys = append(s.keys, "")
		copy(s.keys[i+1:], s.keys[i:])
		s.keys[i] = key
	}
	cols, ok := row[family]
	if !ok {
		cols = make(map[string][]byte)
		row[family] = cols
	}
	cols[column] = append([]byte(nil), value...)
}

func (s *Store) deleteLocked(key string) {
	if _, ok := s.rows[key]; !ok {
		return
	}
	delete(s.rows, key)
	i := sort.SearchStrings(s.keys, key)
	if i < len(s.keys) && s.keys[i] == key {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
	}
}

func (s *Store) keysInRangeLocked(start, end string, limit int) []string {
	i := sort.SearchStrings(s.keys, start)
	var out []string
	for ; i < len(s.keys); i++ {
		if end != "" && s.keys[i] >= end {
			break
		}
		out = append(out, s.keys[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func copyFamilies(row map[string]map[string][]byte) map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(row))
	for family, cols := range row {
		cc := make(map[string][]byte, len(cols))
		for col, v := range cols {
			cc[col] = append([]byte(nil), v...)
		}
		out[family] = cc
	}
	return out
}
