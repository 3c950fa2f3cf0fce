package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		fb   Feedback
		want float64
	}{
		{"empty", Feedback{}, 0},
		{"success only", Feedback{Success: true}, 0.2},
		{"satisfied and completed", Feedback{UserSatisfied: true, TaskCompleted: true}, 1},
		{"frustrated", Feedback{UserFrustrated: true}, -0.6},
		{"mixed", Feedback{Success: true, Error: true, TimeReduced: true}, 0},
		{"abandoned", Feedback{Abandoned: true}, -1},
		{"terminal flag is not scored", Feedback{Terminal: true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Compute(tt.fb), 1e-12)
		})
	}
}

func TestCompute_ClipsAllPositive(t *testing.T) {
	fb := Feedback{Success: true, UserSatisfied: true, TaskCompleted: true, TimeReduced: true}
	assert.Equal(t, 1.0, Compute(fb))
}

func TestCompute_ClipsAllNegative(t *testing.T) {
	fb := Feedback{Error: true, UserFrustrated: true, Abandoned: true}
	assert.Equal(t, -1.0, Compute(fb))
}

func TestScore_NonPositiveScaleFallsBackToOne(t *testing.T) {
	w := DefaultWeights()
	w.Scale = 0
	assert.Equal(t, 1.0, w.Score(Feedback{Success: true}))
}
