// Package settle hands finalized metered quantities to the external billing
// (consumer) and earnings (publisher) services. Submissions must succeed for
// a work item to retire; the caller retries the whole process call on
// failure, so statement ids are derived deterministically to keep retried
// submissions idempotent on the remote side.
package settle

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/ratecard"
)

// statementNamespace seeds deterministic statement ids. Fixed forever: a
// retried submission for the same owner and period must carry the same id.
var statementNamespace = uuid.MustParse("9a1c8f8e-6f0b-4f6e-9b1a-2d3e4c5b6a70")

// Line is one priced metric on a statement.
type Line struct {
	Metric    string          `json:"metric"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// Statement is the finalized set of metered quantities for one owner and one
// period.
type Statement struct {
	ID       uuid.UUID       `json:"id"`
	Actor    string          `json:"actor"`
	OwnerID  string          `json:"owner_id"`
	Period   keyspace.Period `json:"period"`
	Currency string          `json:"currency"`
	Lines    []Line          `json:"lines"`
	Total    decimal.Decimal `json:"total"`
}

// BillingClient accepts consumer statements.
type BillingClient interface {
	SubmitCharges(ctx context.Context, st Statement) error
}

// EarningsClient accepts publisher statements.
type EarningsClient interface {
	SubmitEarnings(ctx context.Context, st Statement) error
}

// BuildStatement prices the metered quantities against the loaded rate cards.
// Metrics without a card or with zero quantity produce no line; a statement
// reports what was actually metered and priced, never explicit zeros. Lines
// are ordered by metric name so retried builds are byte-identical.
func BuildStatement(actor, ownerID string, period keyspace.Period, quantities map[string]int64, cards *ratecard.Repository) Statement {
	st := Statement{
		ID:      StatementID(actor, ownerID, period),
		Actor:   actor,
		OwnerID: ownerID,
		Period:  period,
		Total:   decimal.Zero,
	}

	metrics := make([]string, 0, len(quantities))
	for metric := range quantities {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		qty := quantities[metric]
		if qty == 0 {
			continue
		}
		card, ok := cards.Get(actor, metric)
		if !ok {
			continue
		}
		amount := card.UnitPrice.Mul(decimal.NewFromInt(qty))
		st.Lines = append(st.Lines, Line{
			Metric:    metric,
			Quantity:  qty,
			UnitPrice: card.UnitPrice,
			Amount:    amount,
		})
		st.Total = st.Total.Add(amount)
		if st.Currency == "" {
			st.Currency = card.Currency
		}
	}
	return st
}

// StatementID derives the deterministic statement id for one owner+period.
func StatementID(actor, ownerID string, period keyspace.Period) uuid.UUID {
	return uuid.NewSHA1(statementNamespace, []byte(actor+"#"+ownerID+"#"+string(period)))
}
