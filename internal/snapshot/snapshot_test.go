package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/qlearn"
)

func sampleSnapshot() *engine.Snapshot {
	return &engine.Snapshot{
		Version:         engine.SnapshotVersion,
		TakenAt:         time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Policy:          engine.PolicyUCB,
		ExplorationRate: 0.07,
		QTable: []qlearn.StateRow{
			{State: "8-10-5-5-0", Actions: []qlearn.ActionValue{{Action: "code-style:functional", Value: -0.006}}},
		},
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "default", sampleSnapshot()))

	got, err := store.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)

	info, err := os.Stat(filepath.Join(dir, "default.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// No temporary files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_Overwrite(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := sampleSnapshot()
	require.NoError(t, store.Save(ctx, "default", first))
	second := sampleSnapshot()
	second.ExplorationRate = 0.01
	require.NoError(t, store.Save(ctx, "default", second))

	got, err := store.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 0.01, got.ExplorationRate)
}

func TestFileStore_NotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestFileStore_RejectsPathNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Save(context.Background(), "../escape", sampleSnapshot()))
	_, err = store.Load(context.Background(), "")
	assert.Error(t, err)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0600))

	_, err = store.Load(context.Background(), "bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotNotFound)
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), Config{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = Open(context.Background(), Config{Backend: BackendFile, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = Open(context.Background(), Config{Backend: "etcd"})
	assert.Error(t, err)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "adaptive:snapshot:default", redisKey("default"))
}
