//go:build integration
// +build integration

package genlock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/types"
)

func setupTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb, err := ConnectRedis(context.Background(), addr)
	if err != nil {
		t.Skipf("Skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedis(rdb, RedisOptions{
		Prefix:       "genlock-test-" + uuid.NewString(),
		LeaseTTL:     2 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}, nil)
}

func TestRedis_LeaderAndFollowers(t *testing.T) {
	lock := setupTestRedis(t)
	ctx := context.Background()
	key := Key{UserID: uuid.New(), Type: types.ArtifactQuestions}

	leader, err := lock.AcquireOrJoin(ctx, key, Request{Owner: "r1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.Equal(t, Leader, leader.Role())

	follower, err := lock.AcquireOrJoin(ctx, key, Request{Owner: "r2"})
	require.NoError(t, err)
	assert.Equal(t, Follower, follower.Role())
	assert.Equal(t, leader.Info().TicketID, follower.Info().TicketID)
	assert.Equal(t, "fp", follower.Info().Fingerprint)

	done := make(chan Outcome, 1)
	go func() {
		out, err := follower.Wait(ctx)
		assert.NoError(t, err)
		done <- out
	}()

	leader.Release(Outcome{Artifact: &types.Artifact{Version: 2, Type: types.ArtifactQuestions}})

	select {
	case out := <-done:
		require.NotNil(t, out.Artifact)
		assert.Equal(t, 2, out.Artifact.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("follower never received the outcome")
	}

	next, err := lock.AcquireOrJoin(ctx, key, Request{Owner: "r3"})
	require.NoError(t, err)
	assert.Equal(t, Leader, next.Role())
	next.Release(Outcome{})
}

func TestRedis_TimeoutReachesFollower(t *testing.T) {
	lock := setupTestRedis(t)
	ctx := context.Background()
	key := Key{UserID: uuid.New(), Type: types.ArtifactDetailedRoadmap}

	leader, err := lock.AcquireOrJoin(ctx, key, Request{Owner: "r1"})
	require.NoError(t, err)
	follower, err := lock.AcquireOrJoin(ctx, key, Request{Owner: "r2"})
	require.NoError(t, err)

	leader.Release(Outcome{Err: &apperr.GenerationTimeoutError{Type: types.ArtifactDetailedRoadmap, Timeout: time.Minute}})

	out, err := follower.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, errors.Is(out.Err, apperr.ErrGenerationTimeout))
	assert.True(t, errors.Is(out.Err, apperr.ErrGenerationFailure))
}

func TestRedis_FollowerDetectsLostLeader(t *testing.T) {
	lock := setupTestRedis(t)
	ctx := context.Background()
	key := Key{UserID: uuid.New(), Type: types.ArtifactCareerPaths}

	leader, err := lock.AcquireOrJoin(ctx, key, Request{Owner: "r1"})
	require.NoError(t, err)
	follower, err := lock.AcquireOrJoin(ctx, key, Request{Owner: "r2"})
	require.NoError(t, err)

	// simulate a crashed leader: the lease vanishes and nothing is published
	require.NoError(t, lock.rdb.Del(ctx, lock.leaseKey(key)).Err())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := follower.Wait(waitCtx)
	require.NoError(t, err)
	assert.True(t, errors.Is(out.Err, apperr.ErrGenerationFailure))

	leader.Release(Outcome{})
}
