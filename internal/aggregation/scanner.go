package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

// Scanner discovers pending work items of one kind in cursor-paginated
// batches. Discovery never mutates anything: callers hand each returned key to
// the matching Processor and come back with the cursor for the next batch.
type Scanner struct {
	store    kv.Store
	kind     keyspace.Kind
	monthly  bool
	upstream []keyspace.Kind
	now      func() time.Time
}

// NewScanner creates a scanner for one work-item kind. The upstream kinds, if
// any, gate discovery: no item is surfaced for a period that an unprocessed
// upstream item could still contribute to.
func NewScanner(store kv.Store, kind keyspace.Kind, monthly bool, upstream []keyspace.Kind, now func() time.Time) *Scanner {
	if now == nil {
		now = time.Now
	}
	return &Scanner{store: store, kind: kind, monthly: monthly, upstream: upstream, now: now}
}

// DiscoverResult is one page of pending work-item keys. NextCursor is set only
// when the page was full; an empty cursor means the queue is drained for now.
type DiscoverResult struct {
	Keys       []string `json:"keys"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// Discover returns up to limit pending work-item keys strictly after cursor
// (pass "" to start from the front of the queue), bounded so the still-open
// current period and anything gated by pending upstream work stay invisible.
func (s *Scanner) Discover(ctx context.Context, cursor string, limit int) (DiscoverResult, error) {
	if limit <= 0 {
		return DiscoverResult{}, fmt.Errorf("discover %s: limit must be positive, got %d", s.kind, limit)
	}

	end, err := s.upperBound(ctx)
	if err != nil {
		return DiscoverResult{}, err
	}

	start := string(s.kind) + keyspace.Separator
	if cursor != "" {
		start = keyspace.After(cursor)
	}
	if start >= end {
		return DiscoverResult{}, nil
	}

	rows, err := s.store.Scan(ctx, start, end, kv.ScanOptions{Limit: limit, KeysOnly: true})
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("discover %s: %w", s.kind, err)
	}

	res := DiscoverResult{Keys: make([]string, 0, len(rows))}
	for _, r := range rows {
		res.Keys = append(res.Keys, r.Key)
	}
	// A full page may have more behind it; a short page is definitive.
	if len(rows) == limit {
		res.NextCursor = rows[len(rows)-1].Key
	}

	slog.Debug("[Aggregation] Discovered work items",
		"kind", s.kind, "count", len(res.Keys), "more", res.NextCursor != "")
	return res, nil
}

// upperBound computes the exclusive key bound for discovery: the start of the
// current own period, pulled further back to the earliest period a pending
// upstream item could still feed.
func (s *Scanner) upperBound(ctx context.Context) (string, error) {
	now := s.now()
	open := keyspace.DayOf(now)
	if s.monthly {
		open = keyspace.MonthOf(now)
	}
	bound := keyspace.UpperBound(s.kind, open)

	for _, up := range s.upstream {
		r := keyspace.PrefixRange(string(up))
		rows, err := s.store.Scan(ctx, r.Start, r.End, kv.ScanOptions{Limit: 1, KeysOnly: true})
		if err != nil {
			return "", fmt.Errorf("discover %s: probe upstream %s: %w", s.kind, up, err)
		}
		if len(rows) == 0 {
			continue
		}
		pk, err := keyspace.ParseWorkKey(rows[0].Key)
		if err != nil {
			return "", fmt.Errorf("discover %s: upstream %s: %w", s.kind, up, err)
		}
		period := pk.Period
		if s.monthly {
			period = period.Month()
		}
		if candidate := keyspace.UpperBound(s.kind, period); candidate < bound {
			bound = candidate
		}
	}
	return bound, nil
}
