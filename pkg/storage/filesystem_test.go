package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.Put("requests/req-1/a.txt", strings.NewReader("hello"), 10)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	f, err := store.Open("requests/req-1/a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "hello", string(body))

	require.NoError(t, store.Delete("requests/req-1/a.txt"))
	require.NoError(t, store.Delete("requests/req-1/a.txt"))
	_, err = store.Open("requests/req-1/a.txt")
	require.Error(t, err)
}

func TestLocalStorageLimitsAndKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put("requests/req-1/big.bin", strings.NewReader("0123456789"), 4)
	require.Error(t, err)
	_, err = store.Open("requests/req-1/big.bin")
	require.Error(t, err)

	_, err = store.Put("../escape.txt", strings.NewReader("x"), 0)
	require.Error(t, err)

	_, err = store.Put("requests/req-2/a.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	require.NoError(t, store.DeletePrefix("requests/req-2"))
	_, err = store.Open("requests/req-2/a.txt")
	require.Error(t, err)
}
