package aggregation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

// publisherStorageStage folds one publisher's raw storage row for a day
// (bytes held and milliseconds of retention, per stored item) into the
// publisher's daily final.
type publisherStorageStage struct{}

// NewPublisherStorageDaily creates the publisher-storage-daily stage.
func NewPublisherStorageDaily() Stage { return &publisherStorageStage{} }

func (s *publisherStorageStage) Kind() keyspace.Kind { return keyspace.KindPublisherStorageDay }

func (s *publisherStorageStage) ChildRange(item keyspace.ParsedKey) keyspace.Range {
	return keyspace.PrefixRange(keyspace.WorkKey(keyspace.KindStorageRaw, item.Period, item.OwnerID))
}

func (s *publisherStorageStage) Fold(_ context.Context, _ keyspace.ParsedKey, child kv.Row, acc counter.Accumulator) error {
	return sumRawSuffixes(child, acc, map[string]string{
		SuffixBytes:  accStorageBytes,
		SuffixMillis: accStorageMillis,
	})
}

// Accumulator layout shared by the raw-summing stages (storage, upload): one
// family, one column per metered quantity.
const (
	accRawTotals     = "rm"
	accStorageBytes  = "bytes"
	accStorageMillis = "ms"
)

func (s *publisherStorageStage) Publish(_ context.Context, item keyspace.ParsedKey, acc counter.Accumulator) ([]kv.Mutation, error) {
	finalKey := keyspace.FinalKey(keyspace.KindPublisherDailyFinal, item.OwnerID, item.Period)

	var muts []kv.Mutation
	if b := acc.Get(accRawTotals, accStorageBytes); b > 0 {
		mb := counter.CeilDiv(b, bytesPerMB)
		muts = append(muts, kv.Set(finalKey, famTotals, colStoredMB, kv.EncodeInt64(mb)))
	}
	if ms := acc.Get(accRawTotals, accStorageMillis); ms > 0 {
		sec := counter.CeilDiv(ms, 1000)
		muts = append(muts, kv.Set(finalKey, famTotals, colStorageSec, kv.EncodeInt64(sec)))
	}
	if len(muts) > 0 {
		muts = append(muts, PendingWorkItem(keyspace.KindPublisherMonthly, item.Period.Month(), item.OwnerID))
	}
	return muts, nil
}

func (s *publisherStorageStage) Retire(item keyspace.ParsedKey) []kv.Mutation {
	return []kv.Mutation{
		kv.DeleteRow(keyspace.WorkKey(keyspace.KindStorageRaw, item.Period, item.OwnerID)),
		kv.DeleteRow(keyspace.WorkKey(item.Kind, item.Period, item.OwnerID)),
	}
}

// sumRawSuffixes folds a raw row's "<subject>#<suffix>" counter cells into the
// stage's accumulator family, one accumulator column per mapped suffix.
func sumRawSuffixes(child kv.Row, acc counter.Accumulator, bySuffix map[string]string) error {
	for column, value := range child.Families[RawFamily] {
		idx := strings.LastIndex(column, keyspace.Separator)
		if idx < 1 {
			slog.Warn("[Aggregation] Malformed raw column, skipping", "row", child.Key, "column", column)
			continue
		}
		target, ok := bySuffix[column[idx+1:]]
		if !ok {
			continue
		}
		if err := acc.Add(accRawTotals, target, kv.DecodeInt64(value)); err != nil {
			return err
		}
	}
	return nil
}
