package redisadp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zimagehq/zimage/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(rdb), mr
}

func TestSetGetTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, GPUStatsKey, []byte(`{"available":true}`), GPUStatsTTL))
	got, err := c.Get(ctx, GPUStatsKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"available":true}`, string(got))

	// After the TTL elapses the document is gone.
	mr.FastForward(31 * time.Second)
	_, err = c.Get(ctx, GPUStatsKey)
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetMissing(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Get(context.Background(), "nope")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}
