// Package strategy owns the behavioural strategies the engine chooses between:
// their option sets, per-option reward estimates and softmax selection weights.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Built-in strategy tags.
const (
	ResponseStyle   = "response-style"
	CodeStyle       = "code-style"
	AssistanceLevel = "assistance-level"
	LearningPace    = "learning-pace"
)

// RewardDecay is the weight kept by the old estimate in the per-option EMA.
const RewardDecay = 0.9

var (
	ErrUnknownStrategy   = errors.New("strategy: unknown strategy")
	ErrUnknownOption     = errors.New("strategy: unknown option")
	ErrDuplicateStrategy = errors.New("strategy: already registered")
	ErrNoOptions         = errors.New("strategy: no options")
)

// Action is one option of one strategy.
type Action struct {
	Strategy string `json:"strategy"`
	Option   string `json:"option"`
}

// Key returns "<strategy>:<option>".
func (a Action) Key() string {
	return a.Strategy + ":" + a.Option
}

func (a Action) String() string { return a.Key() }

// ParseAction splits an action key produced by Key. Strategy names never
// contain ':', so the first separator wins.
func ParseAction(key string) (Action, error) {
	name, option, ok := strings.Cut(key, ":")
	if !ok || name == "" || option == "" {
		return Action{}, fmt.Errorf("strategy: malformed action key %q", key)
	}
	return Action{Strategy: name, Option: option}, nil
}

// Strategy is a named option set with parallel reward and weight vectors.
type Strategy struct {
	Name    string    `json:"name"`
	Options []string  `json:"options"`
	Rewards []float64 `json:"rewards"`
	Weights []float64 `json:"weights"`
}

func (s *Strategy) clone() Strategy {
	return Strategy{
		Name:    s.Name,
		Options: append([]string(nil), s.Options...),
		Rewards: append([]float64(nil), s.Rewards...),
		Weights: append([]float64(nil), s.Weights...),
	}
}

func (s *Strategy) index(option string) int {
	for i, o := range s.Options {
		if o == option {
			return i
		}
	}
	return -1
}

// reweight recomputes the weights as softmax(rewards), shifted by the max
// for numeric stability.
func (s *Strategy) reweight() {
	m := floats.Max(s.Rewards)
	for i, r := range s.Rewards {
		s.Weights[i] = math.Exp(r - m)
	}
	floats.Scale(1/floats.Sum(s.Weights), s.Weights)
}

// Registry holds strategies in registration order.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	strategies map[string]*Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]*Strategy)}
}

// DefaultRegistry returns the four built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range []struct {
		name    string
		options []string
	}{
		{ResponseStyle, []string{"concise", "detailed", "balanced"}},
		{CodeStyle, []string{"functional", "object-oriented", "procedural"}},
		{AssistanceLevel, []string{"minimal", "moderate", "comprehensive"}},
		{LearningPace, []string{"slow", "moderate", "fast"}},
	} {
		// Static definitions; cannot fail.
		_ = r.Register(s.name, s.options)
	}
	return r
}

// Register adds a strategy with zero rewards and uniform weights.
func (r *Registry) Register(name string, options []string) error {
	if name == "" || strings.Contains(name, ":") {
		return fmt.Errorf("strategy: invalid name %q", name)
	}
	if len(options) == 0 {
		return fmt.Errorf("%w: %s", ErrNoOptions, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.strategies[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, name)
	}
	s := &Strategy{
		Name:    name,
		Options: append([]string(nil), options...),
		Rewards: make([]float64, len(options)),
		Weights: make([]float64, len(options)),
	}
	s.reweight()
	r.strategies[name] = s
	r.order = append(r.order, name)
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[name]
	return ok
}

// Get returns a copy of the named strategy.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return Strategy{}, false
	}
	return s.clone(), true
}

// Names returns strategy names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Actions returns every (strategy, option) pair in registration order.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Action
	for _, name := range r.order {
		for _, o := range r.strategies[name].Options {
			out = append(out, Action{Strategy: name, Option: o})
		}
	}
	return out
}

// Contains reports whether a names a registered option.
func (r *Registry) Contains(a Action) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[a.Strategy]
	return ok && s.index(a.Option) >= 0
}

// Random picks a uniformly random strategy, then a uniformly random option.
func (r *Registry) Random(rng *rand.Rand) Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return Action{}
	}
	s := r.strategies[r.order[rng.IntN(len(r.order))]]
	return Action{Strategy: s.Name, Option: s.Options[rng.IntN(len(s.Options))]}
}

// RandomStrategy returns a uniformly random strategy name, "" when empty.
func (r *Registry) RandomStrategy(rng *rand.Rand) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return ""
	}
	return r.order[rng.IntN(len(r.order))]
}

// Update folds reward into the option's moving average and recomputes the
// strategy's weights.
func (r *Registry) Update(a Action, reward float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.strategies[a.Strategy]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, a.Strategy)
	}
	i := s.index(a.Option)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOption, a.Key())
	}
	s.Rewards[i] = RewardDecay*s.Rewards[i] + (1-RewardDecay)*reward
	s.reweight()
	return nil
}

// Weights returns a copy of the named strategy's weights.
func (r *Registry) Weights(name string) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return append([]float64(nil), s.Weights...), nil
}

// Weight returns the current selection weight of a, 0 when a is unknown.
func (r *Registry) Weight(a Action) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[a.Strategy]
	if !ok {
		return 0
	}
	if i := s.index(a.Option); i >= 0 {
		return s.Weights[i]
	}
	return 0
}

// Sample draws an option of the named strategy with probability equal to its weight.
func (r *Registry) Sample(name string, rng *rand.Rand) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	u := rng.Float64()
	acc := 0.0
	for i, w := range s.Weights {
		acc += w
		if u < acc {
			return Action{Strategy: name, Option: s.Options[i]}, nil
		}
	}
	// Rounding left u past the cumulative sum.
	return Action{Strategy: name, Option: s.Options[len(s.Options)-1]}, nil
}

// Export returns copies of every strategy in registration order.
func (r *Registry) Export() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.strategies[name].clone())
	}
	return out
}

// Import restores reward estimates for strategies already registered.
// Unknown strategies and options are ignored so a snapshot taken with a
// different option set still loads.
func (r *Registry) Import(in []Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, snap := range in {
		s, ok := r.strategies[snap.Name]
		if !ok {
			continue
		}
		for j, o := range snap.Options {
			if j >= len(snap.Rewards) {
				break
			}
			if i := s.index(o); i >= 0 {
				s.Rewards[i] = snap.Rewards[j]
			}
		}
		s.reweight()
	}
}
