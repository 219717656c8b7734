package aggregation

import (
	"context"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

// publisherWatchStage sums the per-consumer breakdown rows a day's consumer
// stage fanned out to one publisher. Breakdown cells are already weighted and
// unit-converted, so this is a plain column-wise sum.
type publisherWatchStage struct{}

// NewPublisherWatchDaily creates the publisher-watch-daily stage.
func NewPublisherWatchDaily() Stage { return &publisherWatchStage{} }

func (s *publisherWatchStage) Kind() keyspace.Kind { return keyspace.KindPublisherWatchDaily }

func (s *publisherWatchStage) ChildRange(item keyspace.ParsedKey) keyspace.Range {
	return keyspace.ChildRange(keyspace.KindPublisherWatchChild, item.Period, item.OwnerID)
}

func (s *publisherWatchStage) Fold(_ context.Context, _ keyspace.ParsedKey, child kv.Row, acc counter.Accumulator) error {
	for column, value := range child.Families[famTotals] {
		if err := acc.Add(famTotals, column, kv.DecodeInt64(value)); err != nil {
			return err
		}
	}
	return nil
}

func (s *publisherWatchStage) Publish(_ context.Context, item keyspace.ParsedKey, acc counter.Accumulator) ([]kv.Mutation, error) {
	finalKey := keyspace.FinalKey(keyspace.KindPublisherDailyFinal, item.OwnerID, item.Period)

	var muts []kv.Mutation
	for _, column := range acc.Columns(famTotals) {
		muts = append(muts, kv.Set(finalKey, famTotals, column, kv.EncodeInt64(acc.Get(famTotals, column))))
	}
	if len(muts) > 0 {
		muts = append(muts, PendingWorkItem(keyspace.KindPublisherMonthly, item.Period.Month(), item.OwnerID))
	}
	return muts, nil
}

func (s *publisherWatchStage) Retire(item keyspace.ParsedKey) []kv.Mutation {
	children := s.ChildRange(item)
	return []kv.Mutation{
		kv.DeleteRange(children.Start, children.End),
		kv.DeleteRow(keyspace.WorkKey(item.Kind, item.Period, item.OwnerID)),
	}
}
