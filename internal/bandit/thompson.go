package bandit

import (
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// Thompson samples each arm's Beta posterior and plays the largest draw.
type Thompson struct {
	mu   sync.Mutex
	src  *rand.PCG
	arms map[string]*ArmStats
}

// NewThompson creates a Thompson sampler; seed 0 seeds from the clock.
func NewThompson(seed uint64) *Thompson {
	return &Thompson{
		src:  newSource(seed),
		arms: make(map[string]*ArmStats),
	}
}

func (t *Thompson) Kind() Kind { return KindThompson }

func (t *Thompson) Select(arms []string) (string, error) {
	if len(arms) == 0 {
		return "", ErrNoArms
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	best := arms[0]
	maxSample := -1.0
	for _, arm := range arms {
		alpha, beta := 1.0, 1.0
		if s, ok := t.arms[arm]; ok {
			alpha, beta = s.Alpha, s.Beta
		}
		sample := distuv.Beta{Alpha: alpha, Beta: beta, Src: t.src}.Rand()
		if sample > maxSample {
			maxSample = sample
			best = arm
		}
	}
	return best, nil
}

// Update adds a positive reward to alpha; otherwise beta grows by 1-reward.
func (t *Thompson) Update(arm string, reward float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.arms[arm]
	if !ok {
		s = newArmStats()
		t.arms[arm] = s
	}
	if reward > 0 {
		s.Alpha += reward
	} else {
		s.Beta += 1 - reward
	}
	s.record(reward)
}

func (t *Thompson) Stats() map[string]ArmStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyStats(t.arms)
}

func (t *Thompson) Restore(stats map[string]ArmStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arms = restoreStats(stats)
}
