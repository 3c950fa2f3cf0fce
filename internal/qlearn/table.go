// Package qlearn holds the tabular Q-value store and the experience replay
// memory that feeds it.
package qlearn

import (
	"fmt"
	"sync"
	"time"

	"github.com/fractal-lba/adaptive/internal/cache"
)

// Config parameterizes the Q-learning update and the state arena.
type Config struct {
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	DiscountFactor float64 `yaml:"discount_factor" json:"discount_factor"`

	// MaxStates caps the number of state rows; the least recently used row
	// is evicted past it. 0 means unbounded.
	MaxStates int `yaml:"max_states" json:"max_states"`

	// StateTTL reclaims rows not updated for this long. 0 disables it.
	StateTTL time.Duration `yaml:"state_ttl" json:"state_ttl"`
}

// DefaultConfig returns α = 0.01, γ = 0.95, unbounded states.
func DefaultConfig() Config {
	return Config{
		LearningRate:   0.01,
		DiscountFactor: 0.95,
	}
}

// row holds one state's action values in first-seen order.
type row struct {
	order  []string
	values map[string]float64
}

func newRow() *row {
	return &row{values: make(map[string]float64)}
}

func (r *row) set(action string, v float64) {
	if _, ok := r.values[action]; !ok {
		r.order = append(r.order, action)
	}
	r.values[action] = v
}

func (r *row) best() (string, float64, bool) {
	if len(r.order) == 0 {
		return "", 0, false
	}
	bestAction := r.order[0]
	bestValue := r.values[bestAction]
	for _, a := range r.order[1:] {
		if v := r.values[a]; v > bestValue {
			bestAction, bestValue = a, v
		}
	}
	return bestAction, bestValue, true
}

// Table maps state key → action key → estimated value (default 0).
type Table struct {
	mu    sync.Mutex
	cfg   Config
	rows  *cache.Arena[string, *row]
	steps int64
}

// NewTable creates an empty Q-table.
func NewTable(cfg Config) (*Table, error) {
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		return nil, fmt.Errorf("qlearn: learning rate must be in (0, 1], got %v", cfg.LearningRate)
	}
	if cfg.DiscountFactor < 0 || cfg.DiscountFactor > 1 {
		return nil, fmt.Errorf("qlearn: discount factor must be in [0, 1], got %v", cfg.DiscountFactor)
	}
	rows, err := cache.NewArena[string, *row](cfg.MaxStates, cfg.StateTTL)
	if err != nil {
		return nil, fmt.Errorf("qlearn: state arena: %w", err)
	}
	return &Table{cfg: cfg, rows: rows}, nil
}

// Value returns Q(state, action), 0 when unrecorded.
func (t *Table) Value(state, action string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.rows.Peek(state); ok {
		return r.values[action]
	}
	return 0
}

// Best returns the highest-valued action recorded for state. Ties go to the
// action recorded first. ok is false when the state has no actions.
func (t *Table) Best(state string) (action string, value float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, found := t.rows.Get(state)
	if !found {
		return "", 0, false
	}
	return r.best()
}

// MaxValue returns max_a Q(state, a), 0 when the state has no actions.
func (t *Table) MaxValue(state string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxValueLocked(state)
}

// Actions returns state's action values in first-seen order.
func (t *Table) Actions(state string) []ActionValue {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rows.Peek(state)
	if !ok {
		return nil
	}
	out := make([]ActionValue, len(r.order))
	for i, a := range r.order {
		out[i] = ActionValue{Action: a, Value: r.values[a]}
	}
	return out
}

// Set overwrites Q(state, action).
func (t *Table) Set(state, action string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.rowLocked(state)
	r.set(action, value)
	t.rows.Put(state, r)
}

// Learn applies Q(s,a) ← Q(s,a) + α (target − Q(s,a)) with
// target = reward when terminal, else reward + γ max_a' Q(s', a').
// It returns the updated value.
func (t *Table) Learn(state, action string, reward float64, nextState string, terminal bool) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := reward
	if !terminal {
		target += t.cfg.DiscountFactor * t.maxValueLocked(nextState)
	}

	r := t.rowLocked(state)
	current := r.values[action]
	updated := current + t.cfg.LearningRate*(target-current)
	r.set(action, updated)
	t.rows.Put(state, r)
	t.steps++

	return updated
}

// Len returns the number of state rows.
func (t *Table) Len() int {
	return t.rows.Len()
}

// Prune drops rows that went stale and returns how many.
func (t *Table) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows.Sweep()
}

// Stats reports arena counters.
func (t *Table) Stats() TableStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.rows.Counters()
	return TableStats{
		States:  s.Size,
		Evicted: s.Evicted,
		Expired: s.Expired,
		Updates: t.steps,
	}
}

// TableStats summarizes the Q-table.
type TableStats struct {
	States  int    `json:"states"`
	Evicted uint64 `json:"evicted"`
	Expired uint64 `json:"expired"`
	Updates int64  `json:"updates"`
}

// ActionValue is one entry of a state row.
type ActionValue struct {
	Action string  `json:"action"`
	Value  float64 `json:"value"`
}

// StateRow is the serialized form of one state.
type StateRow struct {
	State   string        `json:"state"`
	Actions []ActionValue `json:"actions"`
}

// Export returns every live row, least recently used first.
func (t *Table) Export() []StateRow {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.rows.Keys()
	out := make([]StateRow, 0, len(keys))
	for _, k := range keys {
		r, ok := t.rows.Peek(k)
		if !ok {
			continue
		}
		sr := StateRow{State: k, Actions: make([]ActionValue, len(r.order))}
		for i, a := range r.order {
			sr.Actions[i] = ActionValue{Action: a, Value: r.values[a]}
		}
		out = append(out, sr)
	}
	return out
}

// Import replaces the table contents with rows.
func (t *Table) Import(rows []StateRow) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows.Reset()
	for _, sr := range rows {
		r := newRow()
		for _, av := range sr.Actions {
			r.set(av.Action, av.Value)
		}
		t.rows.Put(sr.State, r)
	}
}

func (t *Table) rowLocked(state string) *row {
	if r, ok := t.rows.Get(state); ok {
		return r
	}
	return newRow()
}

func (t *Table) maxValueLocked(state string) float64 {
	r, ok := t.rows.Peek(state)
	if !ok {
		return 0
	}
	_, v, _ := r.best()
	return v
}
