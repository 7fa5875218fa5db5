package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_CategoryRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	loaded, err := store.LoadCategory(ctx, "acme", "20260831", "Rods")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	state := &CategoryState{Sitename: "acme", Name: "Rods", Date: "20260831", PageNo: 5}
	require.NoError(t, store.SaveCategory(ctx, state))

	loaded, err = store.LoadCategory(ctx, "acme", "20260831", "Rods")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 5, loaded.PageNo)
	assert.False(t, loaded.Done)

	state.Done = true
	require.NoError(t, store.SaveCategory(ctx, state))

	loaded, err = store.LoadCategory(ctx, "acme", "20260831", "Rods")
	require.NoError(t, err)
	assert.True(t, loaded.Done)
}

func TestFileStore_ProductRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	state := &ProductState{
		Sitename: "acme", Category: "Rods", Date: "20260831", ProductID: "p-100", Done: true,
	}
	require.NoError(t, store.SaveProduct(ctx, state))

	loaded, err := store.LoadProduct(ctx, "acme", "20260831", "Rods", "p-100")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Done)

	loaded, err = store.LoadProduct(ctx, "acme", "20260831", "Rods", "p-999")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileStore_TruncatedFileTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)

	path := filepath.Join(root, "acme", "states", "20260831")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "Rods.json"), nil, 0o644))

	loaded, err := store.LoadCategory(ctx, "acme", "20260831", "Rods")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Fishing_Rods_Sea", SanitizeName("Fishing/Rods>Sea"))
	assert.Equal(t, "a_b", SanitizeName("a:b"))
}

func TestResumeCategory(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	t.Run("fresh category starts at start page", func(t *testing.T) {
		state, err := ResumeCategory(ctx, store, "acme", "20260831", "Reels", 1, true)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, 1, state.PageNo)
	})

	t.Run("resumes from persisted page", func(t *testing.T) {
		saved := &CategoryState{Sitename: "acme", Name: "Reels", Date: "20260831", PageNo: 5}
		require.NoError(t, store.SaveCategory(ctx, saved))

		state, err := ResumeCategory(ctx, store, "acme", "20260831", "Reels", 1, true)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, 5, state.PageNo)
	})

	t.Run("done category is never re-entered", func(t *testing.T) {
		saved := &CategoryState{Sitename: "acme", Name: "Reels", Date: "20260831", PageNo: 9, Done: true}
		require.NoError(t, store.SaveCategory(ctx, saved))

		state, err := ResumeCategory(ctx, store, "acme", "20260831", "Reels", 1, true)
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("disabled checkpointing ignores persisted state", func(t *testing.T) {
		state, err := ResumeCategory(ctx, store, "acme", "20260831", "Reels", 3, false)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, 3, state.PageNo)
	})
}

func TestResumeProduct(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	state, err := ResumeProduct(ctx, store, "acme", "20260831", "Reels", "p-1", true)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Done)

	state.Done = true
	require.NoError(t, store.SaveProduct(ctx, state))

	state, err = ResumeProduct(ctx, store, "acme", "20260831", "Reels", "p-1", true)
	require.NoError(t, err)
	assert.Nil(t, state)
}
