package engine

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/fractal-lba/adaptive/internal/events"
	"github.com/fractal-lba/adaptive/internal/qlearn"
	"github.com/fractal-lba/adaptive/internal/reward"
	"github.com/fractal-lba/adaptive/internal/state"
	"github.com/fractal-lba/adaptive/internal/strategy"
	"github.com/fractal-lba/adaptive/pkg/otel"
)

// Status is an adaptation's lifecycle stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Adaptation is one recommendation and its tracking record.
type Adaptation struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"created_at"`
	Status          Status           `json:"status"`
	Context         state.Context    `json:"context"`
	State           state.State      `json:"state"`
	Action          strategy.Action  `json:"action"`
	StrategyType    string           `json:"strategy_type"`
	Confidence      float64          `json:"confidence"`
	EstimatedReward float64          `json:"estimated_reward"`
	Source          string           `json:"source"`
	Parameters      map[string]any   `json:"parameters,omitempty"`
	AppliedAt       *time.Time       `json:"applied_at,omitempty"`
	Result          *strategy.Result `json:"result,omitempty"`
}

func (a *Adaptation) clone() Adaptation {
	out := *a
	out.Parameters = maps.Clone(a.Parameters)
	if a.AppliedAt != nil {
		t := *a.AppliedAt
		out.AppliedAt = &t
	}
	if a.Result != nil {
		r := *a.Result
		r.Details = maps.Clone(a.Result.Details)
		out.Result = &r
	}
	return out
}

// Outcome reports what one feedback event did to the learners.
type Outcome struct {
	AdaptationID string          `json:"adaptation_id"`
	Action       strategy.Action `json:"action"`
	Reward       float64         `json:"reward"`
	PreviousQ    float64         `json:"previous_q"`
	UpdatedQ     float64         `json:"updated_q"`
	NextState    state.State     `json:"next_state"`
	Terminal     bool            `json:"terminal"`
}

// Generate recommends an adaptation for c and records it as pending.
func (e *Engine) Generate(ctx context.Context, c state.Context, pred *Predictions) (*Adaptation, error) {
	_, span := otel.StartSpan(ctx, tracerName, "engine.Generate")
	defer span.End()

	e.mu.Lock()
	st := e.encoder.Encode(c)
	action, source := e.selectLocked(st, pred)
	if action.Strategy == "" {
		e.mu.Unlock()
		otel.RecordError(span, ErrNoStrategies, "")
		return nil, ErrNoStrategies
	}

	ad := &Adaptation{
		ID:              uuid.NewString(),
		CreatedAt:       e.now(),
		Status:          StatusPending,
		Context:         c,
		State:           st,
		Action:          action,
		StrategyType:    action.Strategy,
		Confidence:      e.registry.Weight(action),
		EstimatedReward: e.qtable.Value(st.Key, action.Key()),
		Source:          source,
		Parameters: map[string]any{
			"state_key":        st.Key,
			"policy":           string(e.policy),
			"exploration_rate": e.explorationRate,
		},
	}
	e.pending[ad.ID] = ad
	e.counters.Generated++
	if source == SourceExplore {
		e.counters.Explored++
	}
	out := ad.clone()
	pending, policy := len(e.pending), e.policy
	e.mu.Unlock()

	span.SetAttributes(otel.AdaptationAttributes(out.ID, action.Strategy, action.Option, st.Key, source)...)
	span.SetAttributes(otel.AttrPolicy.String(string(policy)))
	e.metrics.Generated.WithLabelValues(action.Strategy, source).Inc()
	e.metrics.PendingAdaptations.Set(float64(pending))
	e.log.Debug("adaptation generated",
		"adaptation_id", out.ID,
		"strategy", action.Strategy,
		"option", action.Option,
		"state_key", st.Key,
		"source", source,
		"confidence", out.Confidence,
	)
	e.publisher.Publish(events.AdaptationGenerated, out)
	return &out, nil
}

// Apply runs the executor for ad's strategy. A successful dispatch moves the
// adaptation from pending to active and returns the executor's result.
// Executor errors and panics come back as a failed result and leave the
// adaptation pending and the learners untouched.
func (e *Engine) Apply(ctx context.Context, ad *Adaptation) strategy.Result {
	ctx, span := otel.StartSpan(ctx, tracerName, "engine.Apply")
	defer span.End()

	if ad == nil {
		return strategy.Result{Success: false, Error: ErrUnknownAdaptation.Error()}
	}

	e.mu.Lock()
	stored, ok := e.pending[ad.ID]
	if !ok {
		_, applied := e.active[ad.ID]
		e.mu.Unlock()
		err := ErrUnknownAdaptation
		if applied {
			err = ErrAlreadyApplied
		}
		otel.RecordError(span, err, ad.ID)
		return strategy.Result{Success: false, Error: fmt.Sprintf("%v: %s", err, ad.ID)}
	}
	req := strategy.Request{
		Strategy:   stored.Action.Strategy,
		Option:     stored.Action.Option,
		Context:    stored.Context,
		Timestamp:  e.now(),
		Parameters: stored.Parameters,
	}
	req.Parameters = maps.Clone(req.Parameters)
	e.mu.Unlock()

	span.SetAttributes(otel.AttrAdaptationID.String(ad.ID), otel.AttrStrategy.String(req.Strategy), otel.AttrOption.String(req.Option))

	res, err := e.executors.Execute(ctx, req)
	if err != nil {
		e.mu.Lock()
		e.counters.ApplyFailures++
		e.mu.Unlock()
		e.metrics.ApplyFailures.WithLabelValues(req.Strategy).Inc()
		otel.RecordError(span, err, "executor failed")
		e.log.Warn("adaptation apply failed", "adaptation_id", ad.ID, "strategy", req.Strategy, "error", err)
		return res
	}

	e.mu.Lock()
	stored, ok = e.pending[ad.ID]
	if !ok {
		// Swept while the executor ran.
		e.mu.Unlock()
		return res
	}
	delete(e.pending, ad.ID)
	appliedAt := e.now()
	stored.Status = StatusActive
	stored.AppliedAt = &appliedAt
	result := res
	stored.Result = &result
	e.active[ad.ID] = stored
	e.counters.Applied++
	out := stored.clone()
	pending, active := len(e.pending), len(e.active)
	e.mu.Unlock()

	e.metrics.Applied.WithLabelValues(req.Strategy).Inc()
	e.metrics.PendingAdaptations.Set(float64(pending))
	e.metrics.ActiveAdaptations.Set(float64(active))
	e.log.Debug("adaptation applied", "adaptation_id", ad.ID, "strategy", req.Strategy, "option", req.Option, "success", res.Success)
	e.publisher.Publish(events.AdaptationApplied, out)
	return res
}

// Feedback scores fb and updates every learner for the active adaptation id.
// It returns false, after logging a warning, when id is not active; feedback
// can race with the retention sweep.
func (e *Engine) Feedback(ctx context.Context, id string, fb reward.Feedback) (Outcome, bool) {
	_, span := otel.StartSpan(ctx, tracerName, "engine.Feedback")
	defer span.End()

	e.mu.Lock()
	ad, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		e.metrics.UnknownFeedback.Inc()
		e.log.Warn("feedback for unknown adaptation", "adaptation_id", id)
		return Outcome{}, false
	}

	out := e.learnLocked(ad.State, ad.Action, fb)
	out.AdaptationID = id
	replaySize := e.memory.Len()
	e.mu.Unlock()

	span.SetAttributes(otel.FeedbackAttributes(id, out.Reward, fb.Terminal)...)
	e.metrics.Feedback.WithLabelValues(out.Action.Strategy).Inc()
	e.metrics.Reward.Observe(out.Reward)
	e.metrics.ReplayMemory.Set(float64(replaySize))
	e.log.Debug("feedback processed",
		"adaptation_id", id,
		"action", out.Action.Key(),
		"reward", out.Reward,
		"q_value", out.UpdatedQ,
	)
	e.publisher.Publish(events.FeedbackProcessed, out)
	return out, true
}

// Learn applies feedback for action taken in st without an adaptation record.
// Journal replay uses it to rebuild learners after a restore.
func (e *Engine) Learn(ctx context.Context, st state.State, action strategy.Action, fb reward.Feedback) Outcome {
	_, span := otel.StartSpan(ctx, tracerName, "engine.Learn")
	defer span.End()

	e.mu.Lock()
	out := e.learnLocked(st, action, fb)
	replaySize := e.memory.Len()
	e.mu.Unlock()

	span.SetAttributes(otel.AttrStrategy.String(action.Strategy), otel.AttrOption.String(action.Option), otel.AttrReward.Float64(out.Reward))
	e.metrics.Feedback.WithLabelValues(action.Strategy).Inc()
	e.metrics.Reward.Observe(out.Reward)
	e.metrics.ReplayMemory.Set(float64(replaySize))
	return out
}

// learnLocked routes one reward into the Q-table, replay memory, strategy
// weights and every bandit. Callers hold e.mu.
func (e *Engine) learnLocked(st state.State, action strategy.Action, fb reward.Feedback) Outcome {
	r := e.cfg.Reward.Score(fb)
	next := e.encoder.Encode(fb.Context)
	key := action.Key()

	out := Outcome{
		Action:    action,
		Reward:    r,
		PreviousQ: e.qtable.Value(st.Key, key),
		NextState: next,
		Terminal:  fb.Terminal,
	}
	out.UpdatedQ = e.qtable.Learn(st.Key, key, r, next.Key, fb.Terminal)

	e.memory.Add(qlearn.Experience{
		State:     st,
		Action:    key,
		Reward:    r,
		NextState: next,
		Terminal:  fb.Terminal,
	})

	if err := e.registry.Update(action, r); err != nil {
		// The registry no longer has this option; the Q-table and bandits
		// still learn.
		e.log.Warn("strategy weights not updated", "action", key, "error", err)
	}
	for _, alg := range e.bandits {
		alg.Update(key, r)
	}

	e.counters.Feedback++
	e.counters.RewardSum += r
	if r > 0 {
		e.counters.Successes++
	}
	return out
}
