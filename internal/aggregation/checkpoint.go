package aggregation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

// Checkpoint is the durable fold state, stored as a JSON cell on the work-item
// row itself. Writing it is a single-row operation, so the store's per-row
// atomicity is all the durability the resume protocol needs.
type Checkpoint struct {
	// Cursor is the key of the last child row fully folded in. Empty until
	// the first page lands.
	Cursor string `json:"cursor"`

	// Accumulator carries the running totals over every child row at or
	// below Cursor.
	Accumulator counter.Accumulator `json:"accumulator"`

	// Completed flips once the child scan has drained. After that the only
	// remaining work is publication and retirement, in that order.
	Completed bool `json:"completed"`
}

// loadCheckpoint decodes the checkpoint cell of a work-item row. A row without
// one (first attempt) yields a fresh checkpoint.
func loadCheckpoint(row kv.Row) (Checkpoint, error) {
	raw := row.Cell(metaFamily, checkpointColumn)
	if raw == nil {
		return Checkpoint{Accumulator: counter.New()}, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint of %q: %w", row.Key, err)
	}
	if cp.Accumulator == nil {
		cp.Accumulator = counter.New()
	}
	return cp, nil
}

func saveCheckpoint(ctx context.Context, store kv.Store, workKey string, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint of %q: %w", workKey, err)
	}
	if err := store.Apply(ctx, kv.Set(workKey, metaFamily, checkpointColumn, raw)); err != nil {
		return fmt.Errorf("persist checkpoint of %q: %w", workKey, err)
	}
	return nil
}
