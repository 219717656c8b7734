package aggregation

import (
	"context"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

// publisherUploadStage folds one publisher's raw upload row for a day (bytes
// ingested and upload count, per item) into the publisher's daily final.
type publisherUploadStage struct{}

// NewPublisherUploadDaily creates the publisher-upload-daily stage.
func NewPublisherUploadDaily() Stage { return &publisherUploadStage{} }

func (s *publisherUploadStage) Kind() keyspace.Kind { return keyspace.KindPublisherUploadDay }

func (s *publisherUploadStage) ChildRange(item keyspace.ParsedKey) keyspace.Range {
	return keyspace.PrefixRange(keyspace.WorkKey(keyspace.KindUploadRaw, item.Period, item.OwnerID))
}

const accUploadCount = "count"

func (s *publisherUploadStage) Fold(_ context.Context, _ keyspace.ParsedKey, child kv.Row, acc counter.Accumulator) error {
	return sumRawSuffixes(child, acc, map[string]string{
		SuffixBytes: accStorageBytes,
		SuffixCount: accUploadCount,
	})
}

func (s *publisherUploadStage) Publish(_ context.Context, item keyspace.ParsedKey, acc counter.Accumulator) ([]kv.Mutation, error) {
	finalKey := keyspace.FinalKey(keyspace.KindPublisherDailyFinal, item.OwnerID, item.Period)

	var muts []kv.Mutation
	if b := acc.Get(accRawTotals, accStorageBytes); b > 0 {
		mb := counter.CeilDiv(b, bytesPerMB)
		muts = append(muts, kv.Set(finalKey, famTotals, colUploadedMB, kv.EncodeInt64(mb)))
	}
	if n := acc.Get(accRawTotals, accUploadCount); n > 0 {
		muts = append(muts, kv.Set(finalKey, famTotals, colUploadCount, kv.EncodeInt64(n)))
	}
	if len(muts) > 0 {
		muts = append(muts, PendingWorkItem(keyspace.KindPublisherMonthly, item.Period.Month(), item.OwnerID))
	}
	return muts, nil
}

func (s *publisherUploadStage) Retire(item keyspace.ParsedKey) []kv.Mutation {
	return []kv.Mutation{
		kv.DeleteRow(keyspace.WorkKey(keyspace.KindUploadRaw, item.Period, item.OwnerID)),
		kv.DeleteRow(keyspace.WorkKey(item.Kind, item.Period, item.OwnerID)),
	}
}
