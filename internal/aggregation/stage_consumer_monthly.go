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

// consumerMonthlyStage rolls a consumer's daily finals for one month into the
// monthly final and submits the month's charge statement to billing. The
// statement must be accepted before the rollup row is published; a failure
// leaves the work item pending and the whole call is retried.
type consumerMonthlyStage struct {
	billing settle.BillingClient
	cards   *ratecard.Repository
}

// NewConsumerMonthly creates the consumer-monthly stage.
func NewConsumerMonthly(billing settle.BillingClient, cards *ratecard.Repository) Stage {
	return &consumerMonthlyStage{billing: billing, cards: cards}
}

func (s *consumerMonthlyStage) Kind() keyspace.Kind { return keyspace.KindConsumerMonthly }

func (s *consumerMonthlyStage) ChildRange(item keyspace.ParsedKey) keyspace.Range {
	return keyspace.MonthRange(keyspace.KindConsumerDailyFinal, item.OwnerID, item.Period)
}

func (s *consumerMonthlyStage) Fold(_ context.Context, _ keyspace.ParsedKey, child kv.Row, acc counter.Accumulator) error {
	sums := []struct {
		family string
		column string
	}{
		{famWatchSec, colWatchSec},
		{famWeightedSec, colWeightedSec},
		{famBytes, colBytes},
	}
	for _, sum := range sums {
		for _, value := range child.Families[sum.family] {
			if err := acc.Add(famTotals, sum.column, kv.DecodeInt64(value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *consumerMonthlyStage) Publish(ctx context.Context, item keyspace.ParsedKey, acc counter.Accumulator) ([]kv.Mutation, error) {
	watchSec := acc.Get(famTotals, colWatchSec)
	weightedSec := acc.Get(famTotals, colWeightedSec)
	networkMB := counter.CeilDiv(acc.Get(famTotals, colBytes), bytesPerMB)

	st := settle.BuildStatement(ratecard.ActorConsumer, item.OwnerID, item.Period, map[string]int64{
		ratecard.MetricWatchSeconds:         watchSec,
		ratecard.MetricWeightedWatchSeconds: weightedSec,
		ratecard.MetricNetworkMB:            networkMB,
	}, s.cards)
	if len(st.Lines) > 0 {
		if err := s.billing.SubmitCharges(ctx, st); err != nil {
			return nil, fmt.Errorf("submit charges for %s %s: %w", item.OwnerID, item.Period, err)
		}
	}

	finalKey := keyspace.FinalKey(keyspace.KindConsumerMonthlyFinal, item.OwnerID, item.Period)
	var muts []kv.Mutation
	if watchSec > 0 {
		muts = append(muts, kv.Set(finalKey, famTotals, colWatchSec, kv.EncodeInt64(watchSec)))
	}
	if weightedSec > 0 {
		muts = append(muts, kv.Set(finalKey, famTotals, colWeightedSec, kv.EncodeInt64(weightedSec)))
	}
	if networkMB > 0 {
		muts = append(muts, kv.Set(finalKey, famTotals, colNetworkMB, kv.EncodeInt64(networkMB)))
	}
	return muts, nil
}

func (s *consumerMonthlyStage) Retire(item keyspace.ParsedKey) []kv.Mutation {
	days := s.ChildRange(item)
	return []kv.Mutation{
		kv.DeleteRange(days.Start, days.End),
		kv.DeleteRow(keyspace.WorkKey(item.Kind, item.Period, item.OwnerID)),
	}
}
