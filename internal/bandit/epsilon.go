package bandit

import (
	"math/rand/v2"
	"sync"
)

// EpsilonGreedy plays a uniformly random arm with probability epsilon and
// the best running average otherwise. Its epsilon is independent of the
// engine's own exploration rate.
type EpsilonGreedy struct {
	mu      sync.Mutex
	epsilon float64
	rng     *rand.Rand
	arms    map[string]*ArmStats
}

// NewEpsilonGreedy creates the bandit; seed 0 seeds from the clock.
func NewEpsilonGreedy(epsilon float64, seed uint64) *EpsilonGreedy {
	if epsilon < 0 {
		epsilon = 0
	}
	if epsilon > 1 {
		epsilon = 1
	}
	return &EpsilonGreedy{
		epsilon: epsilon,
		rng:     rand.New(newSource(seed)),
		arms:    make(map[string]*ArmStats),
	}
}

func (e *EpsilonGreedy) Kind() Kind { return KindEpsilonGreedy }

func (e *EpsilonGreedy) Select(arms []string) (string, error) {
	if len(arms) == 0 {
		return "", ErrNoArms
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rng.Float64() < e.epsilon {
		return arms[e.rng.IntN(len(arms))], nil
	}

	best := arms[0]
	bestAvg := 0.0
	for i, arm := range arms {
		avg := 0.0
		if s, ok := e.arms[arm]; ok {
			avg = s.AvgReward
		}
		if i == 0 || avg > bestAvg {
			bestAvg = avg
			best = arm
		}
	}
	return best, nil
}

func (e *EpsilonGreedy) Update(arm string, reward float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.arms[arm]
	if !ok {
		s = newArmStats()
		e.arms[arm] = s
	}
	s.record(reward)
}

func (e *EpsilonGreedy) Stats() map[string]ArmStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyStats(e.arms)
}

func (e *EpsilonGreedy) Restore(stats map[string]ArmStats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.arms = restoreStats(stats)
}
