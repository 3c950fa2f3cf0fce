package qlearn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(DefaultConfig())
	require.NoError(t, err)
	return table
}

func TestNewTable_RejectsBadRates(t *testing.T) {
	_, err := NewTable(Config{LearningRate: 0, DiscountFactor: 0.9})
	assert.Error(t, err)

	_, err = NewTable(Config{LearningRate: 0.1, DiscountFactor: 1.5})
	assert.Error(t, err)
}

func TestLearn_SingleStep(t *testing.T) {
	table := newTestTable(t)
	table.Set("s1", "response-style:concise", 0.4)

	got := table.Learn("s0", "code-style:functional", 1, "s1", false)

	// 0 + 0.01 * (1 + 0.95*0.4 - 0)
	assert.InDelta(t, 0.0138, got, 1e-12)
	assert.InDelta(t, 0.0138, table.Value("s0", "code-style:functional"), 1e-12)
}

func TestLearn_UnknownNextStateBootstrapsZero(t *testing.T) {
	table := newTestTable(t)

	got := table.Learn("s0", "a", -0.6, "never-seen", false)

	assert.InDelta(t, -0.006, got, 1e-12)
}

func TestLearn_ConvergesOnTerminalReward(t *testing.T) {
	table := newTestTable(t)

	prev := 0.0
	for i := 0; i < 500; i++ {
		v := table.Learn("s", "a", 1, "s", true)
		require.Greater(t, v, prev, "update %d did not increase Q", i)
		require.LessOrEqual(t, v, 1.0)
		prev = v
	}

	assert.Greater(t, table.Value("s", "a"), 0.99)
}

func TestBest_StrictMaximum(t *testing.T) {
	table := newTestTable(t)
	table.Set("s", "a", 0.1)
	table.Set("s", "b", 0.7)
	table.Set("s", "c", 0.3)

	action, value, ok := table.Best("s")
	require.True(t, ok)
	assert.Equal(t, "b", action)
	assert.Equal(t, 0.7, value)
}

func TestBest_TieGoesToFirstSeen(t *testing.T) {
	table := newTestTable(t)
	table.Set("s", "b", 0.5)
	table.Set("s", "a", 0.5)
	table.Set("s", "b", 0.5)

	for i := 0; i < 10; i++ {
		action, _, ok := table.Best("s")
		require.True(t, ok)
		assert.Equal(t, "b", action)
	}
}

func TestBest_EmptyState(t *testing.T) {
	table := newTestTable(t)

	_, _, ok := table.Best("missing")
	assert.False(t, ok)
	assert.Equal(t, 0.0, table.MaxValue("missing"))
}

func TestMaxValue_AllNegative(t *testing.T) {
	table := newTestTable(t)
	table.Set("s", "a", -0.3)
	table.Set("s", "b", -0.1)

	assert.Equal(t, -0.1, table.MaxValue("s"))
}

func TestTable_MaxStatesEvictsLeastRecent(t *testing.T) {
	table, err := NewTable(Config{LearningRate: 0.1, DiscountFactor: 0.9, MaxStates: 2})
	require.NoError(t, err)

	table.Learn("s1", "a", 1, "", true)
	table.Learn("s2", "a", 1, "", true)
	table.Best("s1")
	table.Learn("s3", "a", 1, "", true)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 0.0, table.Value("s2", "a"))
	assert.NotZero(t, table.Value("s1", "a"))
	assert.Equal(t, uint64(1), table.Stats().Evicted)
}

func TestTable_PruneStaleStates(t *testing.T) {
	table, err := NewTable(Config{LearningRate: 0.1, DiscountFactor: 0.9, StateTTL: 10 * time.Millisecond})
	require.NoError(t, err)

	table.Learn("s1", "a", 1, "", true)
	time.Sleep(30 * time.Millisecond)
	table.Learn("s2", "a", 1, "", true)

	assert.Equal(t, 1, table.Prune())
	assert.Equal(t, 1, table.Len())
}

func TestExportImport_PreservesOrder(t *testing.T) {
	table := newTestTable(t)
	table.Set("s", "b", 0.5)
	table.Set("s", "a", 0.5)
	table.Set("t", "x", -1)

	rows := table.Export()
	require.Len(t, rows, 2)

	restored := newTestTable(t)
	restored.Import(rows)

	action, _, ok := restored.Best("s")
	require.True(t, ok)
	assert.Equal(t, "b", action)
	assert.Equal(t, -1.0, restored.Value("t", "x"))
	assert.Equal(t, table.Actions("s"), restored.Actions("s"))
}
