package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Интеграционные тесты списка отзыва в Redis (образ redis:7-alpine).
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/cache -v -count=1

func startRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "docker.io/redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		ProviderType:     tc.ProviderDocker,
	})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379/tcp")

	rdb, err := Connect(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)

	cleanup := func() {
		_ = rdb.Close()
		_ = c.Terminate(context.Background())
	}
	return rdb, cleanup
}

func TestConnect_BadURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "://bad")
	require.Error(t, err)
}

func TestIntegration_RevokeToken(t *testing.T) {
	rdb, cleanup := startRedis(t)
	defer cleanup()

	rv := NewRevocations(rdb, "test:")
	ctx := context.Background()

	ok, err := rv.RevokeToken(ctx, "jti", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rv.RevokeToken(ctx, "jti", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	ttl, err := rdb.PTTL(ctx, "test:rt:jti").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, rv.DeleteExpired(ctx, time.Now()))
}

func TestIntegration_UserSessions(t *testing.T) {
	rdb, cleanup := startRedis(t)
	defer cleanup()

	rv := NewRevocations(rdb, "")
	ctx := context.Background()
	uid := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	_, found, err := rv.SessionsRevokedAt(ctx, uid)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, rv.RevokeUserSessions(ctx, uid, base, base.Add(time.Hour)))
	require.NoError(t, rv.RevokeUserSessions(ctx, uid, base.Add(-time.Minute), base.Add(time.Hour)))

	at, found, err := rv.SessionsRevokedAt(ctx, uid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, base, at)

	ttl, err := rdb.PTTL(ctx, "auth:us:"+uid.String()).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)
}
