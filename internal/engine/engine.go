// Package engine is the adaptive decision engine: it turns user context into
// adaptation recommendations, routes feedback into every learner, and runs
// the periodic maintenance that replays experience and decays exploration.
package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fractal-lba/adaptive/internal/bandit"
	"github.com/fractal-lba/adaptive/internal/events"
	"github.com/fractal-lba/adaptive/internal/experiment"
	"github.com/fractal-lba/adaptive/internal/metrics"
	"github.com/fractal-lba/adaptive/internal/qlearn"
	"github.com/fractal-lba/adaptive/internal/reward"
	"github.com/fractal-lba/adaptive/internal/state"
	"github.com/fractal-lba/adaptive/internal/strategy"
	"github.com/fractal-lba/adaptive/pkg/logger"
)

const tracerName = "github.com/fractal-lba/adaptive/internal/engine"

var (
	ErrNoStrategies      = errors.New("engine: no strategies registered")
	ErrUnknownAdaptation = errors.New("engine: unknown adaptation")
	ErrAlreadyApplied    = errors.New("engine: adaptation already applied")
)

// Config holds the engine tunables.
type Config struct {
	Policy Policy `yaml:"policy" json:"policy"`

	InitialExploration float64 `yaml:"initial_exploration" json:"initial_exploration"`
	ExplorationDecay   float64 `yaml:"exploration_decay" json:"exploration_decay"`
	MinExploration     float64 `yaml:"min_exploration" json:"min_exploration"`

	// Retention is how long an adaptation is kept after creation.
	Retention           time.Duration `yaml:"retention" json:"retention"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" json:"maintenance_interval"`

	ReplayCapacity int                 `yaml:"replay_capacity" json:"replay_capacity"`
	Replay         qlearn.ReplayConfig `yaml:"replay" json:"replay"`
	QLearning      qlearn.Config       `yaml:"qlearning" json:"qlearning"`
	Bandit         bandit.Config       `yaml:"bandit" json:"bandit"`
	Reward         reward.Weights      `yaml:"reward" json:"reward"`

	// Seed fixes every random source; 0 seeds from the clock.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Policy:              PolicyQLearning,
		InitialExploration:  0.1,
		ExplorationDecay:    0.999,
		MinExploration:      0.01,
		Retention:           time.Hour,
		MaintenanceInterval: 100 * time.Millisecond,
		ReplayCapacity:      qlearn.DefaultMemoryCapacity,
		Replay:              qlearn.DefaultReplayConfig(),
		QLearning:           qlearn.DefaultConfig(),
		Bandit:              bandit.DefaultConfig(),
		Reward:              reward.DefaultWeights(),
	}
}

// Validate checks ranges that would make the learners misbehave.
func (c Config) Validate() error {
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.InitialExploration < 0 || c.InitialExploration > 1 {
		return fmt.Errorf("engine: initial exploration must be in [0, 1], got %v", c.InitialExploration)
	}
	if c.MinExploration < 0 || c.MinExploration > 1 {
		return fmt.Errorf("engine: min exploration must be in [0, 1], got %v", c.MinExploration)
	}
	if c.ExplorationDecay <= 0 || c.ExplorationDecay > 1 {
		return fmt.Errorf("engine: exploration decay must be in (0, 1], got %v", c.ExplorationDecay)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("engine: retention must be positive, got %v", c.Retention)
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("engine: maintenance interval must be positive, got %v", c.MaintenanceInterval)
	}
	if c.Reward.Scale <= 0 {
		return fmt.Errorf("engine: reward scale must be positive, got %v", c.Reward.Scale)
	}
	return nil
}

// Engine is safe for concurrent use. A single mutex guards all learner and
// lifecycle state; executors and notifications run outside it.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	encoder   *state.Encoder
	registry  *strategy.Registry
	executors *strategy.ExecutorRegistry
	qtable    *qlearn.Table
	memory    *qlearn.Memory
	bandits   []bandit.Algorithm
	harness   *experiment.Harness
	rng       *rand.Rand

	pending map[string]*Adaptation
	active  map[string]*Adaptation

	policy          Policy
	explorationRate float64
	counters        Counters
	lastEvicted     uint64

	log       *logger.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
	now       func() time.Time

	loopMu sync.Mutex
	cancel func()
	done   chan struct{}
}

// Counters are the cumulative lifecycle counts behind Metrics.
type Counters struct {
	Generated     int64   `json:"generated"`
	Explored      int64   `json:"explored"`
	Applied       int64   `json:"applied"`
	ApplyFailures int64   `json:"apply_failures"`
	Feedback      int64   `json:"feedback"`
	Successes     int64   `json:"successes"`
	RewardSum     float64 `json:"reward_sum"`
	Swept         int64   `json:"swept"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the Prometheus collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPublisher sets where notifications go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithRegistry replaces the default strategy registry.
func WithRegistry(r *strategy.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithClock overrides the time source used for timestamps, retention and the
// time-of-day default.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine. Executors are registered afterwards through Executors.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyQLearning
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		registry:  strategy.DefaultRegistry(),
		pending:   make(map[string]*Adaptation),
		active:    make(map[string]*Adaptation),
		policy:    cfg.Policy,
		log:       logger.Nop(),
		publisher: events.Nop{},
		now:       time.Now,

		explorationRate: cfg.InitialExploration,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}

	table, err := qlearn.NewTable(cfg.QLearning)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.qtable = table
	e.memory = qlearn.NewMemory(cfg.ReplayCapacity)
	e.encoder = state.NewEncoderWithClock(e.now)
	e.executors = strategy.NewExecutorRegistry(e.registry)

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	e.rng = rand.New(rand.NewPCG(seed, seed>>1|1))

	for i, kind := range bandit.Kinds() {
		bcfg := cfg.Bandit
		if cfg.Seed != 0 {
			bcfg.Seed = cfg.Seed + uint64(i) + 1
		}
		alg, err := bandit.New(kind, bcfg)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.bandits = append(e.bandits, alg)
	}

	e.harness = experiment.NewHarness(
		experiment.WithLogger(e.log),
		experiment.WithPublisher(e.publisher),
		experiment.WithClock(e.now),
	)

	e.metrics.ExplorationRate.Set(e.explorationRate)
	return e, nil
}

// Registry returns the strategy registry the engine learns over.
func (e *Engine) Registry() *strategy.Registry {
	return e.registry
}

// Executors returns the executor registry Apply dispatches through.
func (e *Engine) Executors() *strategy.ExecutorRegistry {
	return e.executors
}

// Policy returns the active selection policy.
func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// SetPolicy switches the exploit-step policy. Every learner is trained on
// all feedback, so the switch needs no warm-up.
func (e *Engine) SetPolicy(p Policy) error {
	if _, err := ParsePolicy(string(p)); err != nil {
		return err
	}

	e.mu.Lock()
	old := e.policy
	e.policy = p
	e.mu.Unlock()

	e.log.Info("policy switched", "from", old, "to", p)
	return nil
}

// ExplorationRate returns the current exploration probability.
func (e *Engine) ExplorationRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.explorationRate
}

// SetExplorationRate overrides the exploration probability, clamped to [0, 1].
// Decay resumes from the new value on the next tick.
func (e *Engine) SetExplorationRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}

	e.mu.Lock()
	e.explorationRate = rate
	e.mu.Unlock()
	e.metrics.ExplorationRate.Set(rate)
}

// Lookup returns a copy of a pending or active adaptation.
func (e *Engine) Lookup(id string) (Adaptation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ad, ok := e.pending[id]; ok {
		return ad.clone(), true
	}
	if ad, ok := e.active[id]; ok {
		return ad.clone(), true
	}
	return Adaptation{}, false
}
