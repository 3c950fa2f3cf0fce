package engine

// Metrics is a point-in-time view of the engine.
type Metrics struct {
	Policy               Policy  `json:"policy"`
	AdaptationsGenerated int64   `json:"adaptationsGenerated"`
	AdaptationsApplied   int64   `json:"adaptationsApplied"`
	ApplyFailures        int64   `json:"applyFailures"`
	FeedbackEvents       int64   `json:"feedbackEvents"`
	SuccessRate          float64 `json:"successRate"`
	AverageReward        float64 `json:"averageReward"`
	ExplorationRatio     float64 `json:"explorationRatio"`
	ExplorationRate      float64 `json:"explorationRate"`
	QTableSize           int     `json:"qTableSize"`
	QTableEvictions      uint64  `json:"qTableEvictions"`
	ReplayMemorySize     int     `json:"replayMemorySize"`
	ActiveAdaptations    int     `json:"activeAdaptations"`
	PendingAdaptations   int     `json:"pendingAdaptations"`
	Experiments          int     `json:"experiments"`
	ConcludedExperiments int     `json:"concludedExperiments"`
}

// Metrics returns the current counters. SuccessRate is the share of feedback
// events with a positive reward; ExplorationRatio is the share of generated
// adaptations that came from exploration.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	m := Metrics{
		Policy:               e.policy,
		AdaptationsGenerated: e.counters.Generated,
		AdaptationsApplied:   e.counters.Applied,
		ApplyFailures:        e.counters.ApplyFailures,
		FeedbackEvents:       e.counters.Feedback,
		ExplorationRate:      e.explorationRate,
		ReplayMemorySize:     e.memory.Len(),
		ActiveAdaptations:    len(e.active),
		PendingAdaptations:   len(e.pending),
	}
	if e.counters.Feedback > 0 {
		m.SuccessRate = float64(e.counters.Successes) / float64(e.counters.Feedback)
		m.AverageReward = e.counters.RewardSum / float64(e.counters.Feedback)
	}
	if e.counters.Generated > 0 {
		m.ExplorationRatio = float64(e.counters.Explored) / float64(e.counters.Generated)
	}
	stats := e.qtable.Stats()
	m.QTableSize = stats.States
	m.QTableEvictions = stats.Evicted + stats.Expired
	e.mu.Unlock()

	m.Experiments, m.ConcludedExperiments = e.harness.Counts()
	return m
}
