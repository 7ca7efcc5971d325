package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/store"
)

// NewStore opens a SQLite store in a temp directory, closed on cleanup.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// StorePath returns a fresh database path under t.TempDir(), for tests that
// reopen the same file to simulate a restart.
func StorePath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pos.db")
}
