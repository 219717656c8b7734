package aggregation

import (
	"context"
	"log/slog"
	"time"
)

// Poller drives every stage of an Engine on a periodic interval, for
// deployments without an external scheduler. It is stateless: each tick
// independently discovers whatever is pending and drains it.
type Poller struct {
	interval      time.Duration
	engine        *Engine
	discoverLimit int
}

// NewPoller creates a periodic driver for the engine's stages.
func NewPoller(interval time.Duration, engine *Engine, discoverLimit int) *Poller {
	if discoverLimit <= 0 {
		discoverLimit = 100
	}
	return &Poller{interval: interval, engine: engine, discoverLimit: discoverLimit}
}

// Start begins periodic draining. Runs until context is cancelled, then makes
// one final pass so in-flight periods settle before shutdown.
func (p *Poller) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("[Poller] Starting aggregation poller",
		"interval", p.interval,
		"discover_limit", p.discoverLimit,
		"stages", p.engine.Stages(),
	)

	// Initial drain to catch up with any backlog.
	p.drainAll(ctx)

	for {
		select {
		case <-ticker.C:
			p.drainAll(ctx)
		case <-ctx.Done():
			slog.Info("[Poller] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Poller] Running final drain before shutdown...")
			p.drainAll(shutdownCtx)
			slog.Info("[Poller] Final drain complete")

			return nil
		}
	}
}

// drainAll drains every stage once. Ordering does not matter for correctness
// because discovery gates each stage on its upstream queues; work held back
// by a gate surfaces on a later tick.
func (p *Poller) drainAll(ctx context.Context) {
	for _, stage := range p.engine.Stages() {
		if ctx.Err() != nil {
			return
		}
		w, _ := p.engine.Worker(stage)
		p.drainStage(ctx, stage, w)
	}
}

// drainStage discovers and processes one stage's queue until it is empty.
func (p *Poller) drainStage(ctx context.Context, stage string, w *Worker) {
	processed := 0
	cursor := ""
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := w.Scanner.Discover(ctx, cursor, p.discoverLimit)
		if err != nil {
			slog.Error("[Poller] Discovery failed", "stage", stage, "error", err)
			return
		}
		for _, key := range res.Keys {
			if err := w.Processor.Process(ctx, key); err != nil {
				// Leave the item pending; the next tick retries it.
				slog.Error("[Poller] Processing failed", "stage", stage, "key", key, "error", err)
				return
			}
			processed++
		}
		if res.NextCursor == "" {
			if processed > 0 {
				slog.Info("[Poller] Stage drained", "stage", stage, "processed", processed)
			}
			return
		}
		cursor = res.NextCursor
	}
}
