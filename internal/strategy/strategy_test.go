package strategy

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{ResponseStyle, CodeStyle, AssistanceLevel, LearningPace}, r.Names())
	assert.Len(t, r.Actions(), 12)

	s, ok := r.Get(CodeStyle)
	require.True(t, ok)
	assert.Equal(t, []string{"functional", "object-oriented", "procedural"}, s.Options)
	for _, w := range s.Weights {
		assert.InDelta(t, 1.0/3, w, 1e-12)
	}
}

func TestActionKeyRoundTrip(t *testing.T) {
	a := Action{Strategy: CodeStyle, Option: "object-oriented"}
	assert.Equal(t, "code-style:object-oriented", a.Key())

	parsed, err := ParseAction(a.Key())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = ParseAction("no-separator")
	assert.Error(t, err)
}

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register("empty", nil), ErrNoOptions)
	assert.Error(t, r.Register("bad:name", []string{"x"}))
	require.NoError(t, r.Register("tone", []string{"warm", "neutral"}))
	assert.ErrorIs(t, r.Register("tone", []string{"x"}), ErrDuplicateStrategy)
}

func TestUpdate_EMAAndSoftmax(t *testing.T) {
	r := DefaultRegistry()

	require.NoError(t, r.Update(Action{Strategy: ResponseStyle, Option: "detailed"}, 1))

	s, _ := r.Get(ResponseStyle)
	assert.Equal(t, []float64{0, 0.1, 0}, s.Rewards)

	denom := 2 + math.Exp(0.1)
	assert.InDelta(t, 1/denom, s.Weights[0], 1e-12)
	assert.InDelta(t, math.Exp(0.1)/denom, s.Weights[1], 1e-12)
	assert.InDelta(t, 1/denom, s.Weights[2], 1e-12)

	// Other strategies are untouched.
	other, _ := r.Get(CodeStyle)
	assert.Equal(t, []float64{0, 0, 0}, other.Rewards)
}

func TestUpdate_WeightsAlwaysSumToOne(t *testing.T) {
	r := DefaultRegistry()
	rng := rand.New(rand.NewPCG(7, 7))

	for i := 0; i < 1000; i++ {
		a := r.Random(rng)
		require.NoError(t, r.Update(a, rng.Float64()*2-1))
	}
	for _, name := range r.Names() {
		w, err := r.Weights(name)
		require.NoError(t, err)
		sum := 0.0
		for _, v := range w {
			assert.Greater(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, name)
	}
}

func TestUpdate_UnknownTargets(t *testing.T) {
	r := DefaultRegistry()

	assert.ErrorIs(t, r.Update(Action{Strategy: "nope", Option: "x"}, 1), ErrUnknownStrategy)
	assert.ErrorIs(t, r.Update(Action{Strategy: CodeStyle, Option: "x"}, 1), ErrUnknownOption)
}

func TestRandom_ReturnsRegisteredAction(t *testing.T) {
	r := DefaultRegistry()
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 100; i++ {
		assert.True(t, r.Contains(r.Random(rng)))
	}
	assert.Equal(t, Action{}, NewRegistry().Random(rng))
}

func TestSample_FollowsWeights(t *testing.T) {
	r := DefaultRegistry()
	for i := 0; i < 200; i++ {
		require.NoError(t, r.Update(Action{Strategy: LearningPace, Option: "fast"}, 1))
		require.NoError(t, r.Update(Action{Strategy: LearningPace, Option: "slow"}, -1))
	}
	rng := rand.New(rand.NewPCG(3, 4))

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		a, err := r.Sample(LearningPace, rng)
		require.NoError(t, err)
		counts[a.Option]++
	}
	assert.Greater(t, counts["fast"], counts["moderate"])
	assert.Greater(t, counts["moderate"], counts["slow"])

	_, err := r.Sample("nope", rng)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestExportImport(t *testing.T) {
	r := DefaultRegistry()
	require.NoError(t, r.Update(Action{Strategy: CodeStyle, Option: "procedural"}, 0.5))

	restored := DefaultRegistry()
	restored.Import(append(r.Export(), Strategy{Name: "gone", Options: []string{"x"}, Rewards: []float64{1}}))

	want, _ := r.Get(CodeStyle)
	got, _ := restored.Get(CodeStyle)
	assert.Equal(t, want.Rewards, got.Rewards)
	assert.InDeltaSlice(t, want.Weights, got.Weights, 1e-12)
	assert.False(t, restored.Has("gone"))
}

func TestExecutorRegistry_RejectsUnknownTag(t *testing.T) {
	execs := NewExecutorRegistry(DefaultRegistry())

	err := execs.Register("tone", Acknowledge())
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	require.NoError(t, execs.Register(CodeStyle, Acknowledge()))
}

func TestExecutorRegistry_Dispatch(t *testing.T) {
	execs := NewExecutorRegistry(DefaultRegistry())
	var got Request
	require.NoError(t, execs.Register(CodeStyle, ExecutorFunc(func(_ context.Context, req Request) (Result, error) {
		got = req
		return Result{Success: true}, nil
	})))

	req := Request{Strategy: CodeStyle, Option: "functional", Timestamp: time.Unix(0, 0)}
	res, err := execs.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, req, got)

	// No dedicated executor and no fallback.
	res, err = execs.Execute(context.Background(), Request{Strategy: ResponseStyle, Option: "concise"})
	assert.ErrorIs(t, err, ErrNoExecutor)
	assert.False(t, res.Success)

	execs.SetFallback(Acknowledge())
	res, err = execs.Execute(context.Background(), Request{Strategy: ResponseStyle, Option: "concise"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "concise", res.Details["option"])
}

func TestExecutorRegistry_FailuresBecomeResults(t *testing.T) {
	execs := NewExecutorRegistry(DefaultRegistry())
	require.NoError(t, execs.Register(CodeStyle, ExecutorFunc(func(context.Context, Request) (Result, error) {
		return Result{}, errors.New("template missing")
	})))
	require.NoError(t, execs.Register(LearningPace, ExecutorFunc(func(context.Context, Request) (Result, error) {
		panic("boom")
	})))

	res, err := execs.Execute(context.Background(), Request{Strategy: CodeStyle})
	assert.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "template missing", res.Error)

	res, err = execs.Execute(context.Background(), Request{Strategy: LearningPace})
	assert.Error(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestWeight(t *testing.T) {
	r := DefaultRegistry()

	assert.InDelta(t, 1.0/3, r.Weight(Action{Strategy: CodeStyle, Option: "functional"}), 1e-12)
	assert.Zero(t, r.Weight(Action{Strategy: CodeStyle, Option: "missing"}))
	assert.Zero(t, r.Weight(Action{Strategy: "missing", Option: "x"}))
}
