package aggregation

import (
	"context"
	"fmt"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/kv"
	"github.com/mediameter-lab/mediameter/internal/ratecard"
	"github.com/mediameter-lab/mediameter/internal/settle"
)

// publisherMonthlyStage rolls a publisher's daily finals for one month into
// the monthly final and submits the month's earnings statement. Daily cells
// are already unit-converted except for raw delivery bytes, which convert to
// megabytes here.
type publisherMonthlyStage struct {
	earnings settle.EarningsClient
	cards    *ratecard.Repository
}

// NewPublisherMonthly creates the publisher-monthly stage.
func NewPublisherMonthly(earnings settle.EarningsClient, cards *ratecard.Repository) Stage {
	return &publisherMonthlyStage{earnings: earnings, cards: cards}
}

func (s *publisherMonthlyStage) Kind() keyspace.Kind { return keyspace.KindPublisherMonthly }

func (s *publisherMonthlyStage) ChildRange(item keyspace.ParsedKey) keyspace.Range {
	return keyspace.MonthRange(keyspace.KindPublisherDailyFinal, item.OwnerID, item.Period)
}

func (s *publisherMonthlyStage) Fold(_ context.Context, _ keyspace.ParsedKey, child kv.Row, acc counter.Accumulator) error {
	for column, value := range child.Families[famTotals] {
		if err := acc.Add(famTotals, column, kv.DecodeInt64(value)); err != nil {
			return err
		}
	}
	return nil
}

func (s *publisherMonthlyStage) Publish(ctx context.Context, item keyspace.ParsedKey, acc counter.Accumulator) ([]kv.Mutation, error) {
	totals := map[string]int64{
		colWeightedSec: acc.Get(famTotals, colWeightedSec),
		colNetworkMB:   counter.CeilDiv(acc.Get(famTotals, colBytes), bytesPerMB),
		colStoredMB:    acc.Get(famTotals, colStoredMB),
		colStorageSec:  acc.Get(famTotals, colStorageSec),
		colUploadedMB:  acc.Get(famTotals, colUploadedMB),
		colUploadCount: acc.Get(famTotals, colUploadCount),
	}

	st := settle.BuildStatement(ratecard.ActorPublisher, item.OwnerID, item.Period, map[string]int64{
		ratecard.MetricWeightedWatchSeconds: totals[colWeightedSec],
		ratecard.MetricNetworkMB:            totals[colNetworkMB],
		ratecard.MetricStoredMB:             totals[colStoredMB],
		ratecard.MetricStorageSeconds:       totals[colStorageSec],
		ratecard.MetricUploadedMB:           totals[colUploadedMB],
		ratecard.MetricUploadCount:          totals[colUploadCount],
	}, s.cards)
	if len(st.Lines) > 0 {
		if err := s.earnings.SubmitEarnings(ctx, st); err != nil {
			return nil, fmt.Errorf("submit earnings for %s %s: %w", item.OwnerID, item.Period, err)
		}
	}

	finalKey := keyspace.FinalKey(keyspace.KindPublisherMonthlyFinal, item.OwnerID, item.Period)
	var muts []kv.Mutation
	for _, column := range []string{colNetworkMB, colStorageSec, colStoredMB, colUploadCount, colUploadedMB, colWeightedSec} {
		if v := totals[column]; v > 0 {
			muts = append(muts, kv.Set(finalKey, famTotals, column, kv.EncodeInt64(v)))
		}
	}
	return muts, nil
}

func (s *publisherMonthlyStage) Retire(item keyspace.ParsedKey) []kv.Mutation {
	days := s.ChildRange(item)
	return []kv.Mutation{
		kv.DeleteRange(days.Start, days.End),
		kv.DeleteRow(keyspace.WorkKey(item.Kind, item.Period, item.OwnerID)),
	}
}
