package engine

import (
	"context"
	"time"

	"github.com/fractal-lba/adaptive/internal/qlearn"
	"github.com/fractal-lba/adaptive/pkg/otel"
)

// MaintenanceReport describes one maintenance tick.
type MaintenanceReport struct {
	Replayed        int     `json:"replayed"`
	Swept           int     `json:"swept"`
	PrunedStates    int     `json:"pruned_states"`
	ExplorationRate float64 `json:"exploration_rate"`
}

// Maintain runs one maintenance tick under the engine lock: a replay pass,
// the retention sweep, exploration decay and stale-state pruning.
func (e *Engine) Maintain(ctx context.Context) MaintenanceReport {
	_, span := otel.StartSpan(ctx, tracerName, "engine.Maintain")
	defer span.End()

	e.mu.Lock()
	var rep MaintenanceReport
	rep.Replayed = qlearn.Replay(e.qtable, e.memory, e.cfg.Replay, e.rng)

	cutoff := e.now().Add(-e.cfg.Retention)
	for id, ad := range e.pending {
		if ad.CreatedAt.Before(cutoff) {
			delete(e.pending, id)
			rep.Swept++
		}
	}
	for id, ad := range e.active {
		if ad.CreatedAt.Before(cutoff) {
			delete(e.active, id)
			rep.Swept++
		}
	}
	e.counters.Swept += int64(rep.Swept)

	e.explorationRate *= e.cfg.ExplorationDecay
	if e.explorationRate < e.cfg.MinExploration {
		e.explorationRate = e.cfg.MinExploration
	}
	rep.ExplorationRate = e.explorationRate

	if e.cfg.QLearning.StateTTL > 0 {
		rep.PrunedStates = e.qtable.Prune()
	}

	stats := e.qtable.Stats()
	reclaimed := stats.Evicted + stats.Expired
	evictedDelta := reclaimed - e.lastEvicted
	e.lastEvicted = reclaimed
	pending, active, replaySize := len(e.pending), len(e.active), e.memory.Len()
	e.mu.Unlock()

	span.SetAttributes(otel.AttrReplayBatch.Int(rep.Replayed), otel.AttrExplorationRate.Float64(rep.ExplorationRate))
	e.metrics.ReplayUpdates.Add(float64(rep.Replayed))
	e.metrics.SweptAdaptations.Add(float64(rep.Swept))
	e.metrics.QStateEvictions.Add(float64(evictedDelta))
	e.metrics.ExplorationRate.Set(rep.ExplorationRate)
	e.metrics.QTableStates.Set(float64(stats.States))
	e.metrics.ReplayMemory.Set(float64(replaySize))
	e.metrics.PendingAdaptations.Set(float64(pending))
	e.metrics.ActiveAdaptations.Set(float64(active))
	e.observeExperiments()

	if rep.Swept > 0 || rep.PrunedStates > 0 {
		e.log.Debug("maintenance sweep", "swept", rep.Swept, "pruned_states", rep.PrunedStates, "replayed", rep.Replayed)
	}
	return rep
}

// Start runs Maintain every MaintenanceInterval until ctx is cancelled or
// Stop is called. Calling Start while the loop runs is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.cancel != nil {
		return
	}
	e.harness.Resume()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.MaintenanceInterval)
		defer ticker.Stop()

		e.log.Info("maintenance loop started", "interval", e.cfg.MaintenanceInterval)
		for {
			select {
			case <-ctx.Done():
				e.log.Info("maintenance loop stopped")
				return
			case <-ticker.C:
				e.Maintain(ctx)
			}
		}
	}()
}

// Stop ends the maintenance loop and cancels pending experiment conclusions.
func (e *Engine) Stop() {
	e.loopMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.harness.Stop()
}
