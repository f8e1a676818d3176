package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
	"github.com/aussiebroadwan/oltmanager/internal/credstore/drivers/sqlite"
	"github.com/aussiebroadwan/oltmanager/internal/credstore/storetest"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.db")
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	return s, path
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) credstore.Store {
		s, _ := openTemp(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	require.NoError(t, credstore.SaveTokens(ctx, s, credstore.Tokens{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := credstore.LoadTokens(ctx, reopened)
	require.NoError(t, err)
	require.Equal(t, credstore.Tokens{AccessToken: "a", RefreshToken: "r"}, got)
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	s, _ := openTemp(t)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
}
