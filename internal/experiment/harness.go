// Package experiment runs A/B experiments over named variants and picks a
// winner by conversion rate when they conclude.
package experiment

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fractal-lba/adaptive/internal/events"
	"github.com/fractal-lba/adaptive/pkg/logger"
)

// DefaultDuration applies when Start is given a non-positive duration.
const DefaultDuration = time.Hour

var (
	ErrNoVariants       = errors.New("experiment: no variants")
	ErrDuplicateVariant = errors.New("experiment: duplicate variant")
)

// Observation is one tracked outcome for a variant.
type Observation struct {
	Converted bool     `json:"converted"`
	Reward    *float64 `json:"reward,omitempty"`
}

type variantStats struct {
	impressions int64
	conversions int64
	rewards     []float64
}

type experiment struct {
	id        string
	name      string
	variants  []string
	stats     map[string]*variantStats
	startedAt time.Time
	duration  time.Duration
	timer     *time.Timer
}

// VariantResult summarizes one variant.
type VariantResult struct {
	Variant        string  `json:"variant"`
	Impressions    int64   `json:"impressions"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	AvgReward      float64 `json:"avg_reward"`
	RewardSamples  int     `json:"reward_samples"`
}

// Result describes an experiment. Winner and ConcludedAt are set once concluded.
type Result struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Concluded   bool            `json:"concluded"`
	ConcludedAt time.Time       `json:"concluded_at,omitempty"`
	Winner      string          `json:"winner,omitempty"`
	Variants    []VariantResult `json:"variants"`
}

// Harness owns running and concluded experiments. Its mutex is independent
// of the engine's.
type Harness struct {
	mu        sync.Mutex
	running   map[string]*experiment
	concluded map[string]Result
	stopped   bool

	log       *logger.Logger
	publisher events.Publisher
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.log = l
		}
	}
}

// WithPublisher sets where experiment notifications go.
func WithPublisher(p events.Publisher) Option {
	return func(h *Harness) {
		if p != nil {
			h.publisher = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHarness creates an empty harness.
func NewHarness(opts ...Option) *Harness {
	h := &Harness{
		running:   make(map[string]*experiment),
		concluded: make(map[string]Result),
		log:       logger.Nop(),
		publisher: events.Nop{},
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start registers an experiment and schedules its conclusion after duration.
func (h *Harness) Start(name string, variants []string, duration time.Duration) (string, error) {
	if len(variants) == 0 {
		return "", ErrNoVariants
	}
	if duration <= 0 {
		duration = DefaultDuration
	}

	exp := &experiment{
		id:       uuid.NewString(),
		name:     name,
		variants: append([]string(nil), variants...),
		stats:    make(map[string]*variantStats, len(variants)),
		duration: duration,
	}
	for _, v := range variants {
		if _, dup := exp.stats[v]; dup {
			return "", fmt.Errorf("%w: %q", ErrDuplicateVariant, v)
		}
		exp.stats[v] = &variantStats{}
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return "", errors.New("experiment: harness stopped")
	}
	exp.startedAt = h.now()
	id := exp.id
	exp.timer = h.afterFunc(duration, func() { h.Conclude(id) })
	h.running[id] = exp
	res := exp.result()
	h.mu.Unlock()

	h.log.Info("experiment started", "experiment_id", id, "name", name, "variants", variants, "duration", duration)
	h.publisher.Publish(events.ExperimentStarted, res)
	return id, nil
}

// Track records an observation. Unknown experiments or variants are ignored.
func (h *Harness) Track(id, variant string, obs Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	exp, ok := h.running[id]
	if !ok {
		return
	}
	s, ok := exp.stats[variant]
	if !ok {
		return
	}
	s.impressions++
	if obs.Converted {
		s.conversions++
	}
	if obs.Reward != nil {
		s.rewards = append(s.rewards, *obs.Reward)
	}
}

// Conclude computes the results of a running experiment, moves it to the
// concluded index and returns the result. A previously concluded experiment
// returns its stored result; an unknown id returns false.
func (h *Harness) Conclude(id string) (Result, bool) {
	h.mu.Lock()
	exp, ok := h.running[id]
	if !ok {
		res, done := h.concluded[id]
		h.mu.Unlock()
		return res, done
	}
	if exp.timer != nil {
		exp.timer.Stop()
	}
	res := exp.result()
	res.Concluded = true
	res.ConcludedAt = h.now()
	res.Winner = winner(res.Variants)
	delete(h.running, id)
	h.concluded[id] = res
	h.mu.Unlock()

	h.log.Info("experiment concluded", "experiment_id", id, "name", res.Name, "winner", res.Winner)
	h.publisher.Publish(events.ExperimentConcluded, res)
	return res, true
}

// Result returns the current view of a running or concluded experiment.
func (h *Harness) Result(id string) (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if exp, ok := h.running[id]; ok {
		return exp.result(), true
	}
	res, ok := h.concluded[id]
	return res, ok
}

// Assign deterministically maps subject to one of a running experiment's
// variants, so the same subject always lands in the same bucket.
func (h *Harness) Assign(id, subject string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	exp, ok := h.running[id]
	if !ok {
		return "", false
	}
	hasher := fnv.New32a()
	hasher.Write([]byte(id))
	hasher.Write([]byte{0})
	hasher.Write([]byte(subject))
	return exp.variants[hasher.Sum32()%uint32(len(exp.variants))], true
}

// Counts returns the number of running and concluded experiments.
func (h *Harness) Counts() (running, concluded int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.running), len(h.concluded)
}

// Stop cancels every pending auto-conclusion. Running experiments stay
// running and can still be concluded manually.
func (h *Harness) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for _, exp := range h.running {
		if exp.timer != nil {
			exp.timer.Stop()
		}
	}
}

// Resume undoes Stop: new experiments are accepted again and running ones are
// rescheduled for what is left of their duration, concluding at once when it
// has already passed.
func (h *Harness) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.stopped {
		return
	}
	h.stopped = false
	now := h.now()
	for id, exp := range h.running {
		remaining := max(exp.startedAt.Add(exp.duration).Sub(now), 0)
		exp.timer = h.afterFunc(remaining, func() { h.Conclude(id) })
	}
}

func (e *experiment) result() Result {
	res := Result{
		ID:        e.id,
		Name:      e.name,
		StartedAt: e.startedAt,
		Duration:  e.duration,
		Variants:  make([]VariantResult, 0, len(e.variants)),
	}
	for _, v := range e.variants {
		s := e.stats[v]
		vr := VariantResult{
			Variant:       v,
			Impressions:   s.impressions,
			Conversions:   s.conversions,
			RewardSamples: len(s.rewards),
		}
		if s.impressions > 0 {
			vr.ConversionRate = float64(s.conversions) / float64(s.impressions)
		}
		if len(s.rewards) > 0 {
			sum := 0.0
			for _, r := range s.rewards {
				sum += r
			}
			vr.AvgReward = sum / float64(len(s.rewards))
		}
		res.Variants = append(res.Variants, vr)
	}
	return res
}

// winner picks the highest conversion rate; the first variant wins ties.
func winner(variants []VariantResult) string {
	if len(variants) == 0 {
		return ""
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.ConversionRate > best.ConversionRate {
			best = v
		}
	}
	return best.Variant
}
