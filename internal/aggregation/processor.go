package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mediameter-lab/mediameter/internal/core/counter"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

const defaultPageSize = 256

// Stage supplies the per-kind semantics the generic processor folds, publishes
// and retires with. Implementations must be deterministic: given the same
// child rows, Fold and Publish produce the same accumulator and mutations on
// every attempt, which is what makes retried runs byte-identical.
type Stage interface {
	// Kind is the work-item kind this stage processes.
	Kind() keyspace.Kind

	// ChildRange is the scan interval of a work item's input rows.
	ChildRange(item keyspace.ParsedKey) keyspace.Range

	// Fold reduces one child row into the accumulator.
	Fold(ctx context.Context, item keyspace.ParsedKey, child kv.Row, acc counter.Accumulator) error

	// Publish turns the final accumulator into output mutations: rollup rows
	// plus any downstream work items they enqueue. Side effects that must
	// precede publication (statement submission) happen here too.
	Publish(ctx context.Context, item keyspace.ParsedKey, acc counter.Accumulator) ([]kv.Mutation, error)

	// Retire removes the work item and its fully consumed inputs.
	Retire(item keyspace.ParsedKey) []kv.Mutation
}

// Processor drives one stage through the checkpointed fold protocol. It holds
// no per-item state, so a single Processor serves any number of concurrent
// Process calls for distinct work items.
type Processor struct {
	store    kv.Store
	stage    Stage
	pageSize int

	// afterCheckpoint runs after each durable checkpoint write. Only tests
	// set it, to cut a run short at an exact recovery point.
	afterCheckpoint func() error
}

// NewProcessor creates a processor for one stage. pageSize bounds how many
// child rows are folded between checkpoints; zero selects the default.
func NewProcessor(store kv.Store, stage Stage, pageSize int) *Processor {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Processor{store: store, stage: stage, pageSize: pageSize}
}

// Process runs one work item to completion: resume from the stored checkpoint
// if any, fold remaining child pages with a durable checkpoint after each,
// publish the outputs and retire the item. Every step is safe to repeat, so
// callers retry the whole call on any error.
//
// A missing work-item row means an earlier attempt already retired it; that is
// the idempotency backstop, not an error.
func (p *Processor) Process(ctx context.Context, workKey string) error {
	item, err := keyspace.ParseWorkKey(workKey)
	if err != nil {
		return err
	}
	if item.Kind != p.stage.Kind() {
		return fmt.Errorf("process %q: kind %s does not belong to stage %s", workKey, item.Kind, p.stage.Kind())
	}

	row, err := p.store.ReadRow(ctx, workKey)
	if errors.Is(err, kv.ErrRowNotFound) {
		slog.Info("[Aggregation] Work item already retired", "key", workKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read work item %q: %w", workKey, err)
	}

	cp, err := loadCheckpoint(row)
	if err != nil {
		return err
	}

	bounds := p.stage.ChildRange(item)
	for !cp.Completed {
		start := bounds.Start
		if cp.Cursor != "" {
			start = keyspace.After(cp.Cursor)
		}
		page, err := p.store.Scan(ctx, start, bounds.End, kv.ScanOptions{Limit: p.pageSize})
		if err != nil {
			return fmt.Errorf("scan children of %q: %w", workKey, err)
		}
		for _, child := range page {
			if err := p.stage.Fold(ctx, item, child, cp.Accumulator); err != nil {
				return fmt.Errorf("fold %q into %q: %w", child.Key, workKey, err)
			}
		}
		if len(page) > 0 {
			cp.Cursor = page[len(page)-1].Key
		}
		cp.Completed = len(page) < p.pageSize
		if err := saveCheckpoint(ctx, p.store, workKey, cp); err != nil {
			return err
		}
		if p.afterCheckpoint != nil {
			if err := p.afterCheckpoint(); err != nil {
				return err
			}
		}
	}

	muts, err := p.stage.Publish(ctx, item, cp.Accumulator)
	if err != nil {
		return fmt.Errorf("publish %q: %w", workKey, err)
	}
	if len(muts) > 0 {
		if err := p.store.Apply(ctx, muts...); err != nil {
			return fmt.Errorf("publish %q: %w", workKey, err)
		}
	}

	if err := p.store.Apply(ctx, p.stage.Retire(item)...); err != nil {
		return fmt.Errorf("retire %q: %w", workKey, err)
	}

	slog.Info("[Aggregation] Work item processed",
		"key", workKey, "cells", cp.Accumulator.Len(), "outputs", len(muts))
	return nil
}
