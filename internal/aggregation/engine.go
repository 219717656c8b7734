package aggregation

import (
	"sort"
	"time"

	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/enrich"
	"github.com/mediameter-lab/mediameter/internal/kv"
	"github.com/mediameter-lab/mediameter/internal/ratecard"
	"github.com/mediameter-lab/mediameter/internal/settle"
)

// Worker pairs a stage's scanner and processor.
type Worker struct {
	Scanner   *Scanner
	Processor *Processor
}

// Options wires the engine's collaborators.
type Options struct {
	Store    kv.Store
	Catalog  enrich.Catalog
	Billing  settle.BillingClient
	Earnings settle.EarningsClient
	Cards    *ratecard.Repository

	// PageSize bounds child rows folded between checkpoints (0 = default).
	PageSize int
	// LookupConcurrency bounds parallel catalog lookups per row (0 = default).
	LookupConcurrency int
	// Now overrides the clock; tests pin it, production leaves it nil.
	Now func() time.Time
}

// Engine holds one worker per stage. Monthly scanners are gated on every
// upstream daily queue that can still feed their month: consumer months wait
// on pending consumer-watch days, publisher months on all three publisher
// feeds plus the consumer-watch days that produce the breakdowns.
type Engine struct {
	workers map[string]*Worker
}

// NewEngine builds the six stage workers.
func NewEngine(opts Options) *Engine {
	stages := []struct {
		name     string
		stage    Stage
		monthly  bool
		upstream []keyspace.Kind
	}{
		{StageConsumerWatchDaily, NewConsumerWatchDaily(opts.Catalog, opts.LookupConcurrency), false, nil},
		{StagePublisherWatchDaily, NewPublisherWatchDaily(), false,
			[]keyspace.Kind{keyspace.KindConsumerWatchDaily}},
		{StagePublisherStorageDaily, NewPublisherStorageDaily(), false, nil},
		{StagePublisherUploadDaily, NewPublisherUploadDaily(), false, nil},
		{StageConsumerMonthly, NewConsumerMonthly(opts.Billing, opts.Cards), true,
			[]keyspace.Kind{keyspace.KindConsumerWatchDaily}},
		{StagePublisherMonthly, NewPublisherMonthly(opts.Earnings, opts.Cards), true,
			[]keyspace.Kind{
				keyspace.KindConsumerWatchDaily,
				keyspace.KindPublisherWatchDaily,
				keyspace.KindPublisherStorageDay,
				keyspace.KindPublisherUploadDay,
			}},
	}

	e := &Engine{workers: make(map[string]*Worker, len(stages))}
	for _, s := range stages {
		e.workers[s.name] = &Worker{
			Scanner:   NewScanner(opts.Store, s.stage.Kind(), s.monthly, s.upstream, opts.Now),
			Processor: NewProcessor(opts.Store, s.stage, opts.PageSize),
		}
	}
	return e
}

// Worker returns the worker for a stage name.
func (e *Engine) Worker(stage string) (*Worker, bool) {
	w, ok := e.workers[stage]
	return w, ok
}

// Stages returns the registered stage names, sorted.
func (e *Engine) Stages() []string {
	names := make([]string, 0, len(e.workers))
	for name := range e.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
