package experiment

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/adaptive/internal/events"
)

type recorder struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (r *recorder) Publish(kind events.Kind, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recorder) seen() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Kind(nil), r.kinds...)
}

func reward(v float64) *float64 { return &v }

func track(h *Harness, id, variant string, conversions, impressions int) {
	for i := 0; i < impressions; i++ {
		h.Track(id, variant, Observation{Converted: i < conversions})
	}
}

func TestStart_RequiresVariants(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	_, err := h.Start("empty", nil, time.Minute)
	assert.ErrorIs(t, err, ErrNoVariants)

	_, err = h.Start("dup", []string{"A", "A"}, time.Minute)
	assert.ErrorIs(t, err, ErrDuplicateVariant)
}

func TestStart_DefaultDuration(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	id, err := h.Start("defaults", []string{"A"}, 0)
	require.NoError(t, err)

	res, ok := h.Result(id)
	require.True(t, ok)
	assert.Equal(t, DefaultDuration, res.Duration)
	assert.False(t, res.Concluded)
}

func TestConclude_HigherConversionRateWins(t *testing.T) {
	rec := &recorder{}
	h := NewHarness(WithPublisher(rec))
	defer h.Stop()

	id, err := h.Start("checkout", []string{"A", "B"}, time.Hour)
	require.NoError(t, err)
	track(h, id, "A", 5, 10)
	track(h, id, "B", 8, 10)

	res, ok := h.Conclude(id)
	require.True(t, ok)
	assert.Equal(t, "B", res.Winner)
	assert.True(t, res.Concluded)
	assert.InDelta(t, 0.5, res.Variants[0].ConversionRate, 1e-12)
	assert.InDelta(t, 0.8, res.Variants[1].ConversionRate, 1e-12)

	running, concluded := h.Counts()
	assert.Equal(t, 0, running)
	assert.Equal(t, 1, concluded)
	assert.Equal(t, []events.Kind{events.ExperimentStarted, events.ExperimentConcluded}, rec.seen())
}

func TestConclude_RewardDoesNotBreakTies(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	id, err := h.Start("tie", []string{"A", "B"}, time.Hour)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		h.Track(id, "A", Observation{Converted: i%2 == 0, Reward: reward(0.1)})
		h.Track(id, "B", Observation{Converted: i%2 == 0, Reward: reward(0.9)})
	}

	res, ok := h.Conclude(id)
	require.True(t, ok)
	assert.Equal(t, "A", res.Winner)
	assert.InDelta(t, 0.1, res.Variants[0].AvgReward, 1e-12)
	assert.InDelta(t, 0.9, res.Variants[1].AvgReward, 1e-12)
	assert.Equal(t, 4, res.Variants[1].RewardSamples)
}

func TestConclude_NoImpressions(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	id, err := h.Start("quiet", []string{"A", "B"}, time.Hour)
	require.NoError(t, err)

	res, ok := h.Conclude(id)
	require.True(t, ok)
	assert.Equal(t, "A", res.Winner)
	assert.Zero(t, res.Variants[1].ConversionRate)
}

func TestUnknownExperimentIsNoop(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	assert.NotPanics(t, func() { h.Track("missing", "A", Observation{Converted: true}) })
	_, ok := h.Conclude("missing")
	assert.False(t, ok)
	_, ok = h.Result("missing")
	assert.False(t, ok)
}

func TestTrack_AfterConclusionIsIgnored(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	id, err := h.Start("late", []string{"A"}, time.Hour)
	require.NoError(t, err)
	h.Track(id, "A", Observation{Converted: true})
	first, _ := h.Conclude(id)

	h.Track(id, "A", Observation{Converted: false})
	h.Track(id, "unknown-variant", Observation{Converted: true})
	again, ok := h.Conclude(id)
	require.True(t, ok)
	assert.Equal(t, first, again)
	assert.Equal(t, int64(1), again.Variants[0].Impressions)
}

func TestAutoConclusion(t *testing.T) {
	rec := &recorder{}
	h := NewHarness(WithPublisher(rec))
	defer h.Stop()

	id, err := h.Start("short", []string{"A", "B"}, 20*time.Millisecond)
	require.NoError(t, err)
	track(h, id, "B", 1, 1)

	require.Eventually(t, func() bool {
		res, ok := h.Result(id)
		return ok && res.Concluded
	}, time.Second, 5*time.Millisecond)

	res, _ := h.Result(id)
	assert.Equal(t, "B", res.Winner)
	assert.Contains(t, rec.seen(), events.ExperimentConcluded)
}

func TestStop_CancelsAutoConclusion(t *testing.T) {
	h := NewHarness()

	id, err := h.Start("cancelled", []string{"A"}, 20*time.Millisecond)
	require.NoError(t, err)
	h.Stop()

	time.Sleep(60 * time.Millisecond)
	res, ok := h.Result(id)
	require.True(t, ok)
	assert.False(t, res.Concluded)

	_, err = h.Start("after-stop", []string{"A"}, time.Minute)
	assert.Error(t, err)
}

func TestResume_ReschedulesAndAcceptsNewExperiments(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	overdue, err := h.Start("overdue", []string{"A"}, 20*time.Millisecond)
	require.NoError(t, err)
	later, err := h.Start("later", []string{"A"}, time.Hour)
	require.NoError(t, err)
	h.Stop()
	time.Sleep(40 * time.Millisecond)

	h.Resume()

	require.Eventually(t, func() bool {
		res, ok := h.Result(overdue)
		return ok && res.Concluded
	}, time.Second, 5*time.Millisecond)
	res, ok := h.Result(later)
	require.True(t, ok)
	assert.False(t, res.Concluded)

	_, err = h.Start("after-resume", []string{"A"}, time.Minute)
	assert.NoError(t, err)
}

func TestAssign_IsSticky(t *testing.T) {
	h := NewHarness()
	defer h.Stop()

	id, err := h.Start("buckets", []string{"A", "B", "C"}, time.Hour)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, subject := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10"} {
		v, ok := h.Assign(id, subject)
		require.True(t, ok)
		again, _ := h.Assign(id, subject)
		assert.Equal(t, v, again)
		seen[v] = true
	}
	assert.Greater(t, len(seen), 1)

	_, ok := h.Assign("missing", "u1")
	assert.False(t, ok)
}
