package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulacraliasing/md5rs-client/internal/domain/entity"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestDiscoverWalksInOrderWithStableIDs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.jpg"))
	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "sub", "c.png"))

	items, err := NewDiscovery().Discover(root)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, filepath.Join(root, "a.mp4"), items[0].Path)
	assert.Equal(t, entity.MediaKindVideo, items[0].Kind)
	assert.Equal(t, filepath.Join(root, "b.jpg"), items[1].Path)
	assert.Equal(t, entity.MediaKindImage, items[1].Kind)
	assert.Equal(t, filepath.Join(root, "sub", "c.png"), items[2].Path)

	for i, item := range items {
		assert.Equal(t, i, item.ID)
	}
}

func TestDiscoverSkipsClassifiedAndHiddenEntries(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "keep.jpg"))
	touch(t, filepath.Join(root, "Animal", "old.jpg"))
	touch(t, filepath.Join(root, "Blank", "old.jpg"))
	touch(t, filepath.Join(root, ".hidden", "x.jpg"))
	touch(t, filepath.Join(root, ".DS_Store"))
	touch(t, filepath.Join(root, "result.json"))
	touch(t, filepath.Join(root, "notes.txt"))

	items, err := NewDiscovery().Discover(root)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(root, "keep.jpg"), items[0].Path)
}

func TestDiscoverEmptyFolder(t *testing.T) {
	items, err := NewDiscovery().Discover(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, items)
}
