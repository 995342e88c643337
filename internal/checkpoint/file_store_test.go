package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, present, err := store.Read(context.Background())
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, store.Write(context.Background(), []byte(`{"version":1}`)))

	blob, present, err := store.Read(context.Background())
	require.NoError(t, err)
	require.True(t, present)
	require.JSONEq(t, `{"version":1}`, string(blob))

	// Overwrite replaces, never appends.
	require.NoError(t, store.Write(context.Background(), []byte(`{"version":1,"page_count":9}`)))
	blob, _, err = store.Read(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"page_count":9}`, string(blob))

	// No temp file left behind.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("")
	require.Error(t, err)
}
