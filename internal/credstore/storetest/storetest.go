// Package storetest holds the behaviour every credstore.Store driver must
// satisfy. Driver tests call Run with a factory for a fresh, empty store.
package storetest

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) credstore.Store

func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "missing")
		require.ErrorIs(t, err, credstore.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", "v1"))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v1", v)
	})

	t.Run("set replaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", "v1"))
		require.NoError(t, s.Set(ctx, "k", "v2"))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v2", v)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "a", "1"))
		require.NoError(t, s.Set(ctx, "b", "2"))
		require.NoError(t, s.Delete(ctx, "a", "never-set"))

		_, err := s.Get(ctx, "a")
		require.ErrorIs(t, err, credstore.ErrNotFound)
		v, err := s.Get(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, "2", v)
	})

	t.Run("token helpers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		empty, err := credstore.LoadTokens(ctx, s)
		require.NoError(t, err)
		require.Equal(t, credstore.Tokens{}, empty)

		require.NoError(t, credstore.SaveTokens(ctx, s, credstore.Tokens{AccessToken: "a1", RefreshToken: "r1"}))
		require.NoError(t, credstore.SaveTokens(ctx, s, credstore.Tokens{AccessToken: "a2"}))

		got, err := credstore.LoadTokens(ctx, s)
		require.NoError(t, err)
		require.Equal(t, credstore.Tokens{AccessToken: "a2", RefreshToken: "r1"}, got)

		require.NoError(t, credstore.ClearTokens(ctx, s))
		got, err = credstore.LoadTokens(ctx, s)
		require.NoError(t, err)
		require.Equal(t, credstore.Tokens{}, got)
	})
}
