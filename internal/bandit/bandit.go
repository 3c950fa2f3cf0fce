// Package bandit implements the arm-selection estimators maintained alongside
// the Q-table: Thompson sampling, UCB1 and epsilon-greedy. All three share the
// Algorithm contract so the engine can switch policies without branching on type.
package bandit

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Kind tags an algorithm implementation.
type Kind string

const (
	KindThompson      Kind = "thompson"
	KindUCB           Kind = "ucb"
	KindEpsilonGreedy Kind = "epsilon_greedy"
)

// Kinds lists every algorithm in the order the engine maintains them.
func Kinds() []Kind {
	return []Kind{KindThompson, KindUCB, KindEpsilonGreedy}
}

var (
	// ErrNoArms is returned by Select when the candidate list is empty.
	ErrNoArms = errors.New("bandit: no candidate arms")

	// ErrUnknownKind is returned by New for an unrecognized Kind.
	ErrUnknownKind = errors.New("bandit: unknown algorithm kind")
)

// Algorithm selects among named arms and learns from scalar rewards.
type Algorithm interface {
	Kind() Kind

	// Select returns one of arms. Arms never seen before start from the prior.
	Select(arms []string) (string, error)

	// Update records reward for arm.
	Update(arm string, reward float64)

	// Stats returns a copy of every arm's statistics.
	Stats() map[string]ArmStats

	// Restore replaces all arm statistics.
	Restore(stats map[string]ArmStats)
}

// ArmStats tracks reward statistics for an arm. Thompson sampling reads
// Alpha/Beta; UCB1 and epsilon-greedy read Pulls/AvgReward.
type ArmStats struct {
	// Beta distribution parameters
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`

	TotalReward float64 `json:"total_reward"`
	Pulls       int64   `json:"pulls"`
	AvgReward   float64 `json:"avg_reward"`
}

func newArmStats() *ArmStats {
	return &ArmStats{Alpha: 1, Beta: 1} // uniform prior
}

func (s *ArmStats) record(reward float64) {
	s.Pulls++
	s.TotalReward += reward
	s.AvgReward = s.TotalReward / float64(s.Pulls)
}

// Config parameterizes the algorithms built by New.
type Config struct {
	// Epsilon is the exploration probability of the epsilon-greedy bandit.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`

	// UCBExploration is the c constant of UCB1.
	UCBExploration float64 `yaml:"ucb_exploration" json:"ucb_exploration"`

	// Seed fixes the random source; 0 seeds from the clock.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns ε = 0.1 and c = 2.
func DefaultConfig() Config {
	return Config{
		Epsilon:        0.1,
		UCBExploration: 2.0,
	}
}

// New builds the algorithm tagged by kind.
func New(kind Kind, cfg Config) (Algorithm, error) {
	switch kind {
	case KindThompson:
		return NewThompson(cfg.Seed), nil
	case KindUCB:
		return NewUCB(cfg.UCBExploration), nil
	case KindEpsilonGreedy:
		return NewEpsilonGreedy(cfg.Epsilon, cfg.Seed), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func newSource(seed uint64) *rand.PCG {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

func copyStats(in map[string]*ArmStats) map[string]ArmStats {
	out := make(map[string]ArmStats, len(in))
	for k, v := range in {
		out[k] = *v
	}
	return out
}

func restoreStats(in map[string]ArmStats) map[string]*ArmStats {
	out := make(map[string]*ArmStats, len(in))
	for k, v := range in {
		s := v
		out[k] = &s
	}
	return out
}
