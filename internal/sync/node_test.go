package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPath(t *testing.T) {
	// keys are stable across runs and clients
	assert.Equal(t, "9af4335b0672b095f1cf804f8eb44de0", HashPath("docs/readme.txt"))
	assert.Equal(t, HashPath("a.txt"), HashPath("a.txt"))
	assert.NotEqual(t, HashPath("a.txt"), HashPath("b.txt"))
}

func TestNewLocalNode(t *testing.T) {
	root := t.TempDir()
	abs := filepath.Join(root, "sub", "file.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("hello"), 0o644))

	node, err := NewLocalNode(root, abs)
	require.NoError(t, err)
	assert.Equal(t, "sub/file.bin", node.Path)
	assert.Equal(t, HashPath("sub/file.bin"), node.Key)
	assert.Equal(t, int64(5), node.Size)
	assert.Equal(t, abs, node.AbsPath())
	assert.NotZero(t, node.ModifiedTime)

	etag, err := node.ETag()
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", etag) // md5("hello")
}

func TestLocalNodeUpdated(t *testing.T) {
	node := &LocalNode{ModifiedTime: 100, CreatedTime: 50}

	assert.False(t, node.Updated(&StoredNodeHistory{LocalModifiedTime: 100, LocalCreatedTime: 50}))
	assert.True(t, node.Updated(&StoredNodeHistory{LocalModifiedTime: 101, LocalCreatedTime: 50}))
	assert.True(t, node.Updated(&StoredNodeHistory{LocalModifiedTime: 100, LocalCreatedTime: 51}))
}

func TestScanRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "mid.txt"), []byte("22"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "deep.txt"), []byte("333"), 0o644))

	nodes, err := ScanRoot(root)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	paths := make(map[string]int64)
	for _, n := range nodes {
		paths[n.Path] = n.Size
	}
	assert.Equal(t, int64(1), paths["top.txt"])
	assert.Equal(t, int64(2), paths["a/mid.txt"])
	assert.Equal(t, int64(3), paths["a/b/deep.txt"])
}
