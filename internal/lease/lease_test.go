package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changeguard/internal/db"
	"changeguard/internal/domain"
)

func TestSQLiteLeaser(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	l := NewSQLiteLeaser(writeDB)
	ctx := context.Background()

	clock := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	token, err := l.Acquire(ctx, "simulation:s1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = l.Acquire(ctx, "simulation:s1", time.Minute)
	require.ErrorIs(t, err, domain.ErrLeaseHeld)

	// Other keys are independent.
	_, err = l.Acquire(ctx, "simulation:s2", time.Minute)
	require.NoError(t, err)

	// A stale token does not release the current holder.
	require.NoError(t, l.Release(ctx, "simulation:s1", "not-the-token"))
	_, err = l.Acquire(ctx, "simulation:s1", time.Minute)
	require.ErrorIs(t, err, domain.ErrLeaseHeld)

	require.NoError(t, l.Release(ctx, "simulation:s1", token))
	again, err := l.Acquire(ctx, "simulation:s1", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, token, again)
}

func TestSQLiteLeaser_ExpiredLeaseIsTakenOver(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	l := NewSQLiteLeaser(writeDB)
	ctx := context.Background()

	clock := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	first, err := l.Acquire(ctx, "simulation:s1", 30*time.Second)
	require.NoError(t, err)

	clock = clock.Add(31 * time.Second)
	second, err := l.Acquire(ctx, "simulation:s1", 30*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The crashed holder's late release must not drop the new lease.
	require.NoError(t, l.Release(ctx, "simulation:s1", first))
	_, err = l.Acquire(ctx, "simulation:s1", 30*time.Second)
	require.ErrorIs(t, err, domain.ErrLeaseHeld)
}

func TestLeaser_RejectsInvalidInput(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	for name, l := range map[string]domain.Leaser{
		"sqlite": NewSQLiteLeaser(writeDB),
		"redis":  NewRedisLeaser(client),
	} {
		t.Run(name, func(t *testing.T) {
			var validation *domain.ValidationError
			_, err := l.Acquire(context.Background(), "", time.Minute)
			require.ErrorAs(t, err, &validation)
			_, err = l.Acquire(context.Background(), "k", 0)
			require.ErrorAs(t, err, &validation)
		})
	}
}

func TestRedisLeaser(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLeaser(client)
	ctx := context.Background()

	token, err := l.Acquire(ctx, "simulation:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(redisKeyPrefix+"simulation:s1"))

	_, err = l.Acquire(ctx, "simulation:s1", time.Minute)
	require.ErrorIs(t, err, domain.ErrLeaseHeld)

	require.NoError(t, l.Release(ctx, "simulation:s1", "not-the-token"))
	assert.True(t, mr.Exists(redisKeyPrefix+"simulation:s1"))

	require.NoError(t, l.Release(ctx, "simulation:s1", token))
	assert.False(t, mr.Exists(redisKeyPrefix+"simulation:s1"))
}

func TestRedisLeaser_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLeaser(client)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "simulation:s1", 30*time.Second)
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)
	_, err = l.Acquire(ctx, "simulation:s1", 30*time.Second)
	require.NoError(t, err)
}

func TestNewRedisClient_BadURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedisClient(context.Background(), "http://not-redis")
	require.Error(t, err)
}
