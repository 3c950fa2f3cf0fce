package engine

import (
	"fmt"
	"time"

	"github.com/fractal-lba/adaptive/internal/bandit"
	"github.com/fractal-lba/adaptive/internal/qlearn"
	"github.com/fractal-lba/adaptive/internal/strategy"
)

// SnapshotVersion is bumped when the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the learned state of an engine. Adaptations and experiments
// are transient and not included.
type Snapshot struct {
	Version         int                                        `json:"version"`
	TakenAt         time.Time                                  `json:"taken_at"`
	Policy          Policy                                     `json:"policy"`
	ExplorationRate float64                                    `json:"exploration_rate"`
	Counters        Counters                                   `json:"counters"`
	QTable          []qlearn.StateRow                          `json:"qtable"`
	Strategies      []strategy.Strategy                        `json:"strategies"`
	Bandits         map[bandit.Kind]map[string]bandit.ArmStats `json:"bandits"`
	Replay          []qlearn.Experience                        `json:"replay"`
}

// Snapshot captures the learners under the engine lock.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &Snapshot{
		Version:         SnapshotVersion,
		TakenAt:         e.now(),
		Policy:          e.policy,
		ExplorationRate: e.explorationRate,
		Counters:        e.counters,
		QTable:          e.qtable.Export(),
		Strategies:      e.registry.Export(),
		Bandits:         make(map[bandit.Kind]map[string]bandit.ArmStats, len(e.bandits)),
		Replay:          e.memory.Snapshot(),
	}
	for _, alg := range e.bandits {
		s.Bandits[alg.Kind()] = alg.Stats()
	}
	return s
}

// Restore replaces the learners with s. Pending and active adaptations are
// left alone.
func (e *Engine) Restore(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("engine: nil snapshot")
	}
	if s.Version != SnapshotVersion {
		return fmt.Errorf("engine: snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	policy, err := ParsePolicy(string(s.Policy))
	if err != nil {
		return err
	}
	if s.ExplorationRate < 0 || s.ExplorationRate > 1 {
		return fmt.Errorf("engine: snapshot exploration rate %v out of range", s.ExplorationRate)
	}

	e.mu.Lock()
	e.policy = policy
	e.explorationRate = s.ExplorationRate
	e.counters = s.Counters
	e.qtable.Import(s.QTable)
	e.registry.Import(s.Strategies)
	for _, alg := range e.bandits {
		alg.Restore(s.Bandits[alg.Kind()])
	}
	e.memory.Reset(s.Replay)
	stats := e.qtable.Stats()
	e.lastEvicted = stats.Evicted + stats.Expired
	e.mu.Unlock()

	e.metrics.ExplorationRate.Set(s.ExplorationRate)
	e.metrics.QTableStates.Set(float64(stats.States))
	e.metrics.ReplayMemory.Set(float64(len(s.Replay)))
	e.log.Info("engine restored",
		"taken_at", s.TakenAt,
		"states", stats.States,
		"replay", len(s.Replay),
		"policy", policy,
	)
	return nil
}
