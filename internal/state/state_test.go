package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 3, 1, hour, 15, 0, 0, time.UTC)
	}
}

func TestEncode_Defaults(t *testing.T) {
	enc := NewEncoderWithClock(fixedClock(12))

	s := enc.Encode(Context{})

	assert.Equal(t, 0.0, s.Features.Frustration)
	assert.Equal(t, 1.0, s.Features.Engagement)
	assert.Equal(t, 0.5, s.Features.Complexity)
	assert.Equal(t, 0.5, s.Features.TimeOfDay)
	assert.Equal(t, 0.0, s.Features.SessionDuration)
	assert.Equal(t, "0-10-5-5-0", s.Key)
}

func TestEncode_ExplicitZeroIsKept(t *testing.T) {
	enc := NewEncoderWithClock(fixedClock(0))

	s := enc.Encode(Context{Engagement: Float(0)})

	assert.Equal(t, 0.0, s.Features.Engagement)
	assert.Equal(t, "0-0-5-0-0", s.Key)
}

func TestKey_RoundsToTenths(t *testing.T) {
	tests := []struct {
		name string
		f    Features
		want string
	}{
		{"exact", Features{0.8, 1, 0.5, 0.25, 0}, "8-10-5-3-0"},
		{"half up", Features{0.05, 0.15, 0.449, 0.951, 1.04}, "1-2-4-10-10"},
		{"negative half", Features{-0.05, 0, 0, 0, 0}, "0-0-0-0-0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.f))
		})
	}
}

func TestKey_SameRoundedFeaturesShareKey(t *testing.T) {
	enc := NewEncoderWithClock(fixedClock(6))

	a := enc.Encode(Context{Frustration: Float(0.81), Complexity: Float(0.52)})
	b := enc.Encode(Context{Frustration: Float(0.79), Complexity: Float(0.48)})

	require.NotEqual(t, a.Features, b.Features)
	assert.Equal(t, a.Key, b.Key)
}
