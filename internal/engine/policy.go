package engine

import (
	"fmt"

	"github.com/fractal-lba/adaptive/internal/bandit"
	"github.com/fractal-lba/adaptive/internal/state"
	"github.com/fractal-lba/adaptive/internal/strategy"
)

// Policy selects how the exploit step picks an action.
type Policy string

const (
	PolicyQLearning     Policy = "qlearning"
	PolicyThompson      Policy = "thompson"
	PolicyUCB           Policy = "ucb"
	PolicyEpsilonGreedy Policy = "epsilon_greedy"
	PolicySoftmax       Policy = "softmax"
)

// Policies lists every supported policy.
func Policies() []Policy {
	return []Policy{PolicyQLearning, PolicyThompson, PolicyUCB, PolicyEpsilonGreedy, PolicySoftmax}
}

// ParsePolicy validates s; "" maps to the default policy.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyQLearning, nil
	}
	for _, p := range Policies() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("engine: unknown policy %q", s)
}

// bandit returns the algorithm kind behind a bandit policy.
func (p Policy) bandit() (bandit.Kind, bool) {
	switch p {
	case PolicyThompson:
		return bandit.KindThompson, true
	case PolicyUCB:
		return bandit.KindUCB, true
	case PolicyEpsilonGreedy:
		return bandit.KindEpsilonGreedy, true
	}
	return "", false
}

// Selection sources recorded on each adaptation.
const (
	SourceExplore    = "explore"
	SourceQTable     = "qtable"
	SourcePrediction = "prediction"
	SourceFallback   = "fallback"
)

// Predictions is the optional hint supplied by a prediction provider.
type Predictions struct {
	NextAction *PredictedAction `json:"nextAction,omitempty"`
}

// PredictedAction names the kind of work the user is expected to do next.
type PredictedAction struct {
	Type string `json:"type"`
}

// predictionActions maps predicted work types to a starting action for
// states the Q-table has not seen.
var predictionActions = map[string]strategy.Action{
	"code_generation": {Strategy: strategy.CodeStyle, Option: "functional"},
	"debugging":       {Strategy: strategy.AssistanceLevel, Option: "comprehensive"},
	"learning":        {Strategy: strategy.LearningPace, Option: "slow"},
	"optimization":    {Strategy: strategy.ResponseStyle, Option: "concise"},
}

// lookupPrediction resolves a prediction through the fixed lookup table.
func lookupPrediction(p *Predictions) (strategy.Action, bool) {
	if p == nil || p.NextAction == nil {
		return strategy.Action{}, false
	}
	a, ok := predictionActions[p.NextAction.Type]
	return a, ok
}

// selectLocked picks the action for st and reports where it came from.
// Exploration always runs first. Callers hold e.mu.
func (e *Engine) selectLocked(st state.State, pred *Predictions) (strategy.Action, string) {
	if e.rng.Float64() < e.explorationRate {
		return e.registry.Random(e.rng), SourceExplore
	}

	if kind, ok := e.policy.bandit(); ok {
		if a, ok := e.selectBanditLocked(kind); ok {
			return a, string(e.policy)
		}
		return e.fallbackLocked(pred)
	}

	if e.policy == PolicySoftmax {
		name := e.registry.RandomStrategy(e.rng)
		if a, err := e.registry.Sample(name, e.rng); err == nil {
			return a, string(PolicySoftmax)
		}
		return e.fallbackLocked(pred)
	}

	if key, _, ok := e.qtable.Best(st.Key); ok {
		if a, err := strategy.ParseAction(key); err == nil && e.registry.Contains(a) {
			return a, SourceQTable
		}
	}
	return e.fallbackLocked(pred)
}

func (e *Engine) selectBanditLocked(kind bandit.Kind) (strategy.Action, bool) {
	actions := e.registry.Actions()
	keys := make([]string, len(actions))
	for i, a := range actions {
		keys[i] = a.Key()
	}
	for _, alg := range e.bandits {
		if alg.Kind() != kind {
			continue
		}
		key, err := alg.Select(keys)
		if err != nil {
			return strategy.Action{}, false
		}
		a, err := strategy.ParseAction(key)
		return a, err == nil
	}
	return strategy.Action{}, false
}

// fallbackLocked uses the prediction table, then a uniform random action.
func (e *Engine) fallbackLocked(pred *Predictions) (strategy.Action, string) {
	if a, ok := lookupPrediction(pred); ok && e.registry.Contains(a) {
		return a, SourcePrediction
	}
	return e.registry.Random(e.rng), SourceFallback
}
