package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
	credredis "github.com/aussiebroadwan/oltmanager/internal/credstore/drivers/redis"
	"github.com/aussiebroadwan/oltmanager/internal/credstore/storetest"
	"github.com/aussiebroadwan/oltmanager/pkg/idx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a throwaway Redis and returns its address.
// The test is skipped when no Docker provider is reachable.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForListeningPort("6379/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return addr
}

func TestRedisStore(t *testing.T) {
	addr := setupRedisContainer(t)

	storetest.Run(t, func(t *testing.T) credstore.Store {
		client := redis.NewClient(&redis.Options{Addr: addr})
		require.NoError(t, client.Ping(t.Context()).Err())

		// Unique prefix per subtest keeps runs isolated without FLUSHDB.
		s, err := credredis.New(credredis.Config{
			Client:    client,
			KeyPrefix: fmt.Sprintf("oltmanager:test:%s:", idx.New("")),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStoreUsesKeyPrefix(t *testing.T) {
	addr := setupRedisContainer(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	s, err := credredis.New(credredis.Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, credstore.SaveTokens(t.Context(), s, credstore.Tokens{AccessToken: "a", RefreshToken: "r"}))

	inspect := redis.NewClient(&redis.Options{Addr: addr})
	defer inspect.Close()
	v, err := inspect.Get(t.Context(), "oltmanager:credentials:refresh_token").Result()
	require.NoError(t, err)
	require.Equal(t, "r", v)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := credredis.New(credredis.Config{})
	require.Error(t, err)
}
