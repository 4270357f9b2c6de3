package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, store.Put(7, kp))

	got, err := store.Get(7)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, kp.Public.Equal(got.Public))
	require.True(t, kp.Private.Equal(got.Private))

	// Repeated store/retrieve cycles keep returning the same key material.
	require.NoError(t, store.Put(7, got))
	again, err := store.Get(7)
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(again.Public))
}

func TestGetAbsent(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(42)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPutOverwrites(t *testing.T) {
	store := openTestStore(t)

	first, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	second, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, store.Put(3, first))
	require.NoError(t, store.Put(3, second))

	got, err := store.Get(3)
	require.NoError(t, err)
	require.True(t, second.Public.Equal(got.Public))
	require.False(t, first.Public.Equal(got.Public))
}

func TestEntriesAreNamespacedByUser(t *testing.T) {
	store := openTestStore(t)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, store.Put(1, kp))

	got, err := store.Get(2)
	require.NoError(t, err)
	require.Nil(t, got)
}
