package qlearn

import "math/rand/v2"

// ReplayConfig controls batched replay passes.
type ReplayConfig struct {
	// MinSize is the memory size below which no replay happens.
	MinSize int `yaml:"min_size" json:"min_size"`
	// BatchSize is the maximum number of experiences per pass.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// DefaultReplayConfig returns min 50, batch 32.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{MinSize: 50, BatchSize: 32}
}

// Replay samples a batch from mem and applies the Q-learning update for each
// experience, bootstrapping from the next state unless terminal. It returns
// the number of updates applied.
func Replay(t *Table, mem *Memory, cfg ReplayConfig, rng *rand.Rand) int {
	if mem.Len() < cfg.MinSize {
		return 0
	}
	batch := mem.Sample(cfg.BatchSize, rng)
	for _, exp := range batch {
		t.Learn(exp.State.Key, exp.Action, exp.Reward, exp.NextState.Key, exp.Terminal)
	}
	return len(batch)
}
