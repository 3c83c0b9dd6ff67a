package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndRestoreBest(t *testing.T) {
	f := newFixture(t, 0)
	dir := t.TempDir()

	store, err := NewStore(dir, "run-1", 5, f.backend, f.net)
	require.NoError(t, err)

	require.NoError(t, store.SaveBest(2, 0.42))

	// Change the parameters, then restore the snapshot.
	weight := f.net.Parameters()[0].Tensor().Raw().AsFloat32()
	saved := snapshot(weight)
	for i := range weight {
		weight[i] += 1
	}

	require.NoError(t, store.RestoreBest())
	assert.Equal(t, saved, weight)
}

func TestStoreFileNamesCarryRunID(t *testing.T) {
	f := newFixture(t, 0)
	dir := t.TempDir()

	store, err := NewStore(dir, "abc", 7, f.backend, f.net)
	require.NoError(t, err)

	require.NoError(t, store.SaveBest(1, 0.5))
	require.NoError(t, store.SavePost())
	require.NoError(t, store.SaveFinal())

	for _, name := range []string{
		"abc_best_7e.born",
		"abc_after_training_7e.born",
		"abc_model.born",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestStoreCreatesDirectory(t *testing.T) {
	f := newFixture(t, 0)
	dir := filepath.Join(t.TempDir(), "nested", "models")

	_, err := NewStore(dir, "run", 1, f.backend, f.net)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRestoreBestMissingFile(t *testing.T) {
	f := newFixture(t, 0)

	store, err := NewStore(t.TempDir(), "run", 1, f.backend, f.net)
	require.NoError(t, err)

	assert.Error(t, store.RestoreBest())
}
