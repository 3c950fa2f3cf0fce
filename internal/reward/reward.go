// Package reward turns caller feedback into a scalar reward in [-1, 1].
package reward

import (
	"github.com/fractal-lba/adaptive/internal/state"
)

// Feedback is the caller's report on an applied adaptation. Every flag is
// optional; an absent flag contributes nothing.
type Feedback struct {
	Success        bool `json:"success,omitempty"`
	UserSatisfied  bool `json:"userSatisfied,omitempty"`
	TaskCompleted  bool `json:"taskCompleted,omitempty"`
	TimeReduced    bool `json:"timeReduced,omitempty"`
	Error          bool `json:"error,omitempty"`
	UserFrustrated bool `json:"userFrustrated,omitempty"`
	Abandoned      bool `json:"abandoned,omitempty"`

	// Terminal marks the end of an episode; replay does not bootstrap past it.
	Terminal bool `json:"terminal,omitempty"`

	// Context observed after the adaptation, used for the next state.
	Context state.Context `json:"context"`
}

// Weights holds the per-flag contributions and the normalizing divisor.
type Weights struct {
	Success        float64 `yaml:"success" json:"success"`
	UserSatisfied  float64 `yaml:"user_satisfied" json:"user_satisfied"`
	TaskCompleted  float64 `yaml:"task_completed" json:"task_completed"`
	TimeReduced    float64 `yaml:"time_reduced" json:"time_reduced"`
	Error          float64 `yaml:"error" json:"error"`
	UserFrustrated float64 `yaml:"user_frustrated" json:"user_frustrated"`
	Abandoned      float64 `yaml:"abandoned" json:"abandoned"`
	Scale          float64 `yaml:"scale" json:"scale"`
}

// DefaultWeights returns the standard reward model.
func DefaultWeights() Weights {
	return Weights{
		Success:        1,
		UserSatisfied:  2,
		TaskCompleted:  3,
		TimeReduced:    1,
		Error:          -2,
		UserFrustrated: -3,
		Abandoned:      -5,
		Scale:          5,
	}
}

// Score computes the clipped reward for fb.
func (w Weights) Score(fb Feedback) float64 {
	sum := 0.0
	if fb.Success {
		sum += w.Success
	}
	if fb.UserSatisfied {
		sum += w.UserSatisfied
	}
	if fb.TaskCompleted {
		sum += w.TaskCompleted
	}
	if fb.TimeReduced {
		sum += w.TimeReduced
	}
	if fb.Error {
		sum += w.Error
	}
	if fb.UserFrustrated {
		sum += w.UserFrustrated
	}
	if fb.Abandoned {
		sum += w.Abandoned
	}

	scale := w.Scale
	if scale <= 0 {
		scale = 1
	}
	return Clip(sum / scale)
}

// Compute scores fb with the default weights.
func Compute(fb Feedback) float64 {
	return DefaultWeights().Score(fb)
}

// Clip bounds r to [-1, 1].
func Clip(r float64) float64 {
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}
