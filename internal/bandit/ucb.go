package bandit

import (
	"math"
	"sync"
)

// UCB implements UCB1. Untried arms have infinite priority; among untried
// arms the one handed out least often goes first, so n untried arms are each
// returned once before any of them repeats.
type UCB struct {
	mu          sync.Mutex
	exploration float64
	arms        map[string]*ArmStats
	totalPulls  int64
	handedOut   map[string]int // selections of untried arms awaiting an update
}

// NewUCB creates a UCB1 bandit with exploration constant c (default 2).
func NewUCB(c float64) *UCB {
	if c <= 0 {
		c = 2.0
	}
	return &UCB{
		exploration: c,
		arms:        make(map[string]*ArmStats),
		handedOut:   make(map[string]int),
	}
}

func (u *UCB) Kind() Kind { return KindUCB }

func (u *UCB) Select(arms []string) (string, error) {
	if len(arms) == 0 {
		return "", ErrNoArms
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	untried := ""
	fewest := math.MaxInt
	for _, arm := range arms {
		if s, ok := u.arms[arm]; ok && s.Pulls > 0 {
			continue
		}
		if n := u.handedOut[arm]; n < fewest {
			fewest = n
			untried = arm
		}
	}
	if untried != "" {
		u.handedOut[untried]++
		return untried, nil
	}

	// UCB formula: avgReward + c * sqrt(log(totalPulls) / numPulls)
	logTotal := math.Log(float64(u.totalPulls))
	best := arms[0]
	maxUCB := math.Inf(-1)
	for _, arm := range arms {
		s := u.arms[arm]
		score := s.AvgReward + u.exploration*math.Sqrt(logTotal/float64(s.Pulls))
		if score > maxUCB {
			maxUCB = score
			best = arm
		}
	}
	return best, nil
}

func (u *UCB) Update(arm string, reward float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.arms[arm]
	if !ok {
		s = newArmStats()
		u.arms[arm] = s
	}
	s.record(reward)
	u.totalPulls++
	if u.handedOut[arm] > 0 {
		u.handedOut[arm]--
	}
}

func (u *UCB) Stats() map[string]ArmStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return copyStats(u.arms)
}

func (u *UCB) Restore(stats map[string]ArmStats) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.arms = restoreStats(stats)
	u.handedOut = make(map[string]int)
	u.totalPulls = 0
	for _, s := range u.arms {
		u.totalPulls += s.Pulls
	}
}
