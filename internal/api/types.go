package api

import (
	"fmt"
	"time"

	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/experiment"
	"github.com/fractal-lba/adaptive/internal/reward"
	"github.com/fractal-lba/adaptive/internal/state"
	"github.com/fractal-lba/adaptive/internal/strategy"
)

// GenerateRequest asks the engine for an adaptation for the given context
type GenerateRequest struct {
	Context     state.Context       `json:"context"`
	Predictions *engine.Predictions `json:"predictions,omitempty"`
	// Apply runs the executor immediately after generation.
	Apply bool `json:"apply,omitempty"`
}

// GenerateResponse carries the generated adaptation and, when requested,
// the executor result
type GenerateResponse struct {
	Adaptation engine.Adaptation `json:"adaptation"`
	Result     *strategy.Result  `json:"result,omitempty"`
}

// ApplyResponse is returned by the apply endpoint
type ApplyResponse struct {
	AdaptationID string          `json:"adaptation_id"`
	Result       strategy.Result `json:"result"`
}

// FeedbackRequest is the body of the feedback endpoint. The adaptation id
// comes from the path.
type FeedbackRequest = reward.Feedback

// FeedbackResponse reports the learning step the feedback produced
type FeedbackResponse struct {
	Outcome engine.Outcome `json:"outcome"`
}

// PolicyRequest switches the selection policy
type PolicyRequest struct {
	Policy          string   `json:"policy"`
	ExplorationRate *float64 `json:"exploration_rate,omitempty"`
}

// PolicyResponse echoes the active policy
type PolicyResponse struct {
	Policy          engine.Policy `json:"policy"`
	ExplorationRate float64       `json:"exploration_rate"`
}

// ExperimentRequest starts an A/B experiment
type ExperimentRequest struct {
	Name     string   `json:"name"`
	Variants []string `json:"variants"`
	// Duration is a Go duration string; empty uses the harness default.
	Duration string `json:"duration,omitempty"`
}

// ParseDuration returns the requested duration or zero when unset.
func (r ExperimentRequest) ParseDuration() (time.Duration, error) {
	if r.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Duration)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", r.Duration, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative, got %s", d)
	}
	return d, nil
}

// ExperimentResponse carries the new experiment id
type ExperimentResponse struct {
	ID string `json:"id"`
}

// TrackRequest records one observation for a variant
type TrackRequest struct {
	Variant string `json:"variant"`
	experiment.Observation
}

// AssignmentResponse is the sticky variant for a subject
type AssignmentResponse struct {
	ExperimentID string `json:"experiment_id"`
	Subject      string `json:"subject"`
	Variant      string `json:"variant"`
}

// ExperimentResult is the read model of a running or concluded experiment
type ExperimentResult = experiment.Result

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}
