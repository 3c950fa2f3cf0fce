package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/adaptive/internal/reward"
	"github.com/fractal-lba/adaptive/internal/state"
)

func TestMaintain_DecaysExplorationToFloor(t *testing.T) {
	e, _ := newTestEngine(t)

	rep := e.Maintain(context.Background())
	assert.InDelta(t, 0.1*0.999, rep.ExplorationRate, 1e-15)

	e.SetExplorationRate(0.01001)
	e.Maintain(context.Background())
	assert.Equal(t, 0.01, e.ExplorationRate())
	e.Maintain(context.Background())
	assert.Equal(t, 0.01, e.ExplorationRate())
}

func TestMaintain_ReplayNeedsMinimumMemory(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetExplorationRate(1)

	for i := 0; i < 49; i++ {
		ad := generateApplied(t, e, state.Context{})
		_, ok := e.Feedback(context.Background(), ad.ID, reward.Feedback{Success: true, Terminal: true})
		require.True(t, ok)
	}
	assert.Zero(t, e.Maintain(context.Background()).Replayed)

	ad := generateApplied(t, e, state.Context{})
	e.Feedback(context.Background(), ad.ID, reward.Feedback{Success: true, Terminal: true})

	assert.Equal(t, 32, e.Maintain(context.Background()).Replayed)
}

func TestMaintain_ReplayMovesQTowardsTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetExplorationRate(0)
	pred := &Predictions{NextAction: &PredictedAction{Type: "optimization"}}

	var key, stateKey string
	for i := 0; i < 60; i++ {
		ad, err := e.Generate(context.Background(), state.Context{}, pred)
		require.NoError(t, err)
		require.True(t, e.Apply(context.Background(), ad).Success)
		e.Feedback(context.Background(), ad.ID, reward.Feedback{TaskCompleted: true, UserSatisfied: true, Terminal: true})
		key, stateKey = ad.Action.Key(), ad.State.Key
	}
	before := e.qtable.Value(stateKey, key)

	e.Maintain(context.Background())

	after := e.qtable.Value(stateKey, key)
	assert.Greater(t, after, before)
	assert.Less(t, after, 1.0)
}

func TestMaintain_SweepsExpiredAdaptations(t *testing.T) {
	e, clock := newTestEngine(t)

	old := generateApplied(t, e, state.Context{})
	stale, err := e.Generate(context.Background(), state.Context{}, nil)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	fresh := generateApplied(t, e, state.Context{})
	assert.Zero(t, e.Maintain(context.Background()).Swept)

	clock.Advance(2 * time.Minute)
	rep := e.Maintain(context.Background())
	assert.Equal(t, 2, rep.Swept)

	_, ok := e.Lookup(old.ID)
	assert.False(t, ok)
	_, ok = e.Lookup(stale.ID)
	assert.False(t, ok)
	_, ok = e.Lookup(fresh.ID)
	assert.True(t, ok)

	_, ok = e.Feedback(context.Background(), old.ID, reward.Feedback{Success: true})
	assert.False(t, ok)
}

func TestMaintain_PrunesStaleStates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 9
	cfg.QLearning.StateTTL = 10 * time.Millisecond
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Stop()

	e.qtable.Set("stale", "code-style:functional", 0.5)
	time.Sleep(30 * time.Millisecond)

	rep := e.Maintain(context.Background())
	assert.Equal(t, 1, rep.PrunedStates)
	assert.Zero(t, e.Metrics().QTableSize)
	assert.Equal(t, uint64(1), e.Metrics().QTableEvictions)
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 3
	cfg.MaintenanceInterval = 5 * time.Millisecond
	e, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	e.Start(ctx)

	require.Eventually(t, func() bool {
		return e.ExplorationRate() < 0.1
	}, time.Second, 5*time.Millisecond)

	e.Stop()
	rate := e.ExplorationRate()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, rate, e.ExplorationRate())
	assert.NotPanics(t, e.Stop)
}

func TestRestartAfterStop_AcceptsExperiments(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	e.Start(ctx)
	e.Stop()
	_, err = e.StartExperiment(ctx, "while-stopped", []string{"A", "B"}, time.Hour)
	assert.Error(t, err)

	e.Start(ctx)
	t.Cleanup(e.Stop)
	id, err := e.StartExperiment(ctx, "after-restart", []string{"A", "B"}, time.Hour)
	require.NoError(t, err)
	_, ok := e.ExperimentResult(id)
	assert.True(t, ok)
}
