package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/enrich"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

const defaultLookupConcurrency = 8

// consumerWatchStage aggregates one consumer's raw watch row for one day into
// the consumer's daily final plus per-publisher breakdown rows. It is the only
// stage that enriches: every season's grade and owning publisher come from the
// catalog as of the metered day.
type consumerWatchStage struct {
	catalog     enrich.Catalog
	concurrency int
}

// NewConsumerWatchDaily creates the consumer-watch-daily stage. concurrency
// bounds parallel catalog lookups within one row; zero selects the default.
func NewConsumerWatchDaily(catalog enrich.Catalog, concurrency int) Stage {
	if concurrency <= 0 {
		concurrency = defaultLookupConcurrency
	}
	return &consumerWatchStage{catalog: catalog, concurrency: concurrency}
}

func (s *consumerWatchStage) Kind() keyspace.Kind { return keyspace.KindConsumerWatchDaily }

func (s *consumerWatchStage) ChildRange(item keyspace.ParsedKey) keyspace.Range {
	return keyspace.PrefixRange(keyspace.WorkKey(keyspace.KindWatchRaw, item.Period, item.OwnerID))
}

// seasonTotals collects one season's raw contributions before weighting.
type seasonTotals struct {
	millis int64
	bytes  int64
}

func (s *consumerWatchStage) Fold(ctx context.Context, item keyspace.ParsedKey, child kv.Row, acc counter.Accumulator) error {
	totals := make(map[string]*seasonTotals)
	for column, value := range child.Families[RawFamily] {
		parts := strings.Split(column, keyspace.Separator)
		if len(parts) != 3 {
			slog.Warn("[Aggregation] Malformed raw watch column, skipping",
				"row", child.Key, "column", column)
			continue
		}
		seasonID, suffix := parts[0], parts[2]
		st := totals[seasonID]
		if st == nil {
			st = &seasonTotals{}
			totals[seasonID] = st
		}
		switch suffix {
		case SuffixMillis:
			st.millis += kv.DecodeInt64(value)
		case SuffixBytes:
			st.bytes += kv.DecodeInt64(value)
		}
	}
	if len(totals) == 0 {
		return nil
	}

	seasons := make([]string, 0, len(totals))
	for id := range totals {
		seasons = append(seasons, id)
	}
	sort.Strings(seasons)

	// Resolve attributes for all distinct seasons concurrently; the cache
	// collapses duplicate in-flight lookups across rows. The accumulator is
	// only touched after every lookup has settled.
	type resolution struct {
		attrs   enrich.SeasonAttrs
		skipped bool
	}
	results := make([]resolution, len(seasons))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range seasons {
		g.Go(func() error {
			attrs, err := s.catalog.SeasonAttrs(gctx, id, item.Period)
			if errors.Is(err, enrich.ErrNotFound) {
				slog.Warn("[Aggregation] Season absent from catalog, skipping its contributions",
					"season_id", id, "period", item.Period, "account_id", item.OwnerID)
				results[i].skipped = true
				return nil
			}
			if err != nil {
				return err
			}
			results[i].attrs = attrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("enrich %q: %w", child.Key, err)
	}

	for i, id := range seasons {
		if results[i].skipped {
			continue
		}
		attrs := results[i].attrs
		st := totals[id]
		weighted := st.millis * attrs.Grade

		if err := acc.Add(accWatchMillis, id, st.millis); err != nil {
			return err
		}
		if err := acc.Add(accWeightedMillis, id, weighted); err != nil {
			return err
		}
		if st.bytes > 0 {
			if err := acc.Add(accSeasonBytes, id, st.bytes); err != nil {
				return err
			}
		}
		if err := acc.Add(accPublisherMillis, attrs.PublisherID, weighted); err != nil {
			return err
		}
		if st.bytes > 0 {
			if err := acc.Add(accPublisherBytes, attrs.PublisherID, st.bytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// Accumulator families of this stage. Raw millisecond and byte sums are kept
// through the fold; the ceiling unit conversions happen once, at publish.
const (
	accWatchMillis     = "wm"
	accWeightedMillis  = "am"
	accSeasonBytes     = "bm"
	accPublisherMillis = "pwm"
	accPublisherBytes  = "pbm"
)

func (s *consumerWatchStage) Publish(_ context.Context, item keyspace.ParsedKey, acc counter.Accumulator) ([]kv.Mutation, error) {
	finalKey := keyspace.FinalKey(keyspace.KindConsumerDailyFinal, item.OwnerID, item.Period)

	var muts []kv.Mutation
	for _, season := range acc.Columns(accWatchMillis) {
		sec := counter.CeilDiv(acc.Get(accWatchMillis, season), 1000)
		muts = append(muts, kv.Set(finalKey, famWatchSec, season, kv.EncodeInt64(sec)))
	}
	for _, season := range acc.Columns(accWeightedMillis) {
		sec := counter.CeilDiv(acc.Get(accWeightedMillis, season), 1000)
		muts = append(muts, kv.Set(finalKey, famWeightedSec, season, kv.EncodeInt64(sec)))
	}
	for _, season := range acc.Columns(accSeasonBytes) {
		muts = append(muts, kv.Set(finalKey, famBytes, season, kv.EncodeInt64(acc.Get(accSeasonBytes, season))))
	}

	for _, pub := range acc.Columns(accPublisherMillis) {
		childKey := keyspace.ChildKey(keyspace.KindPublisherWatchChild, item.Period, pub, item.OwnerID)
		sec := counter.CeilDiv(acc.Get(accPublisherMillis, pub), 1000)
		muts = append(muts, kv.Set(childKey, famTotals, colWeightedSec, kv.EncodeInt64(sec)))
		if b := acc.Get(accPublisherBytes, pub); b > 0 {
			muts = append(muts, kv.Set(childKey, famTotals, colBytes, kv.EncodeInt64(b)))
		}
		muts = append(muts, PendingWorkItem(keyspace.KindPublisherWatchDaily, item.Period, pub))
	}

	if len(muts) > 0 {
		muts = append(muts, PendingWorkItem(keyspace.KindConsumerMonthly, item.Period.Month(), item.OwnerID))
	}
	return muts, nil
}

func (s *consumerWatchStage) Retire(item keyspace.ParsedKey) []kv.Mutation {
	return []kv.Mutation{
		kv.DeleteRow(keyspace.WorkKey(keyspace.KindWatchRaw, item.Period, item.OwnerID)),
		kv.DeleteRow(keyspace.WorkKey(item.Kind, item.Period, item.OwnerID)),
	}
}
