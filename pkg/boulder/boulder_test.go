package boulder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSetGetDelete(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("1")))

	value, closer, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)
	require.NoError(t, closer.Close())

	require.NoError(t, db.Delete([]byte("a")))

	_, _, err = db.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteRange(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Set([]byte("b"), []byte("2")))
	require.NoError(t, db.Set([]byte("c"), []byte("3")))

	require.NoError(t, db.DeleteRange([]byte("a"), []byte("c")))

	_, _, err = db.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrNotFound))
	_, _, err = db.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))

	value, closer, err := db.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), value)
	require.NoError(t, closer.Close())
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db2, err := Open(dir)
	require.NoError(t, err)
	defer db2.Close()

	value, closer, err := db2.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
	require.NoError(t, closer.Close())
}
