package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTempStoreWritesContentOnceBySha(t *testing.T) {
	base := t.TempDir()
	ts, err := newTempStore(base)
	require.NoError(t, err)

	path, err := ts.Write("abc123", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "percy", "abc123"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	// A second write for the same sha is a no-op and must not error even if
	// the file were removed underneath it.
	require.NoError(t, os.Remove(path))
	path2, err := ts.Write("abc123", []byte("different"))
	require.NoError(t, err)
	require.Equal(t, path, path2)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "second Write for an already-seen sha must not rewrite the file")
}

func TestTempStoreCleanupRemovesWrittenFiles(t *testing.T) {
	base := t.TempDir()
	ts, err := newTempStore(base)
	require.NoError(t, err)

	path, err := ts.Write("deadbeef", []byte("payload"))
	require.NoError(t, err)

	ts.Cleanup()

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
