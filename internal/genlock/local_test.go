package genlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-journey/internal/types"
)

func testKey() Key {
	return Key{UserID: uuid.New(), Type: types.ArtifactQuestions}
}

func TestLocal_LeaderThenFollowers(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)
	key := testKey()

	leader, err := l.AcquireOrJoin(ctx, key, Request{Owner: "r1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.Equal(t, Leader, leader.Role())
	assert.Equal(t, "r1", leader.Info().Owner)
	assert.True(t, l.InFlight(key))

	var followers []Ticket
	for i := 0; i < 5; i++ {
		f, err := l.AcquireOrJoin(ctx, key, Request{Owner: "rx"})
		require.NoError(t, err)
		assert.Equal(t, Follower, f.Role())
		assert.Equal(t, leader.Info().TicketID, f.Info().TicketID)
		assert.Equal(t, "fp", f.Info().Fingerprint)
		followers = append(followers, f)
	}

	artifact := &types.Artifact{Version: 3}
	leader.Release(Outcome{Artifact: artifact})
	assert.False(t, l.InFlight(key))

	for _, f := range followers {
		out, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Same(t, artifact, out.Artifact)
		assert.NoError(t, out.Err)
	}
}

func TestLocal_ReleaseExactlyOnce(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)
	key := testKey()

	leader, err := l.AcquireOrJoin(ctx, key, Request{Owner: "r1"})
	require.NoError(t, err)
	follower, err := l.AcquireOrJoin(ctx, key, Request{Owner: "r2"})
	require.NoError(t, err)

	first := errors.New("first")
	leader.Release(Outcome{Err: first})
	leader.Release(Outcome{Err: errors.New("second")})
	follower.Release(Outcome{Err: errors.New("followers cannot release")})

	out, err := follower.Wait(ctx)
	require.NoError(t, err)
	assert.Same(t, first, out.Err)

	out, err = leader.Wait(ctx)
	require.NoError(t, err)
	assert.Same(t, first, out.Err)
}

func TestLocal_NewLeaderAfterRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)
	key := testKey()

	first, err := l.AcquireOrJoin(ctx, key, Request{Owner: "r1"})
	require.NoError(t, err)
	first.Release(Outcome{Err: errors.New("stale")})

	// a late release of the old ticket must not free the new slot
	second, err := l.AcquireOrJoin(ctx, key, Request{Owner: "r2"})
	require.NoError(t, err)
	assert.Equal(t, Leader, second.Role())
	assert.NotEqual(t, first.Info().TicketID, second.Info().TicketID)

	first.Release(Outcome{})
	assert.True(t, l.InFlight(key))

	follower, err := l.AcquireOrJoin(ctx, key, Request{Owner: "r3"})
	require.NoError(t, err)
	assert.Equal(t, Follower, follower.Role())
	second.Release(Outcome{Artifact: &types.Artifact{Version: 1}})

	out, err := follower.Wait(ctx)
	require.NoError(t, err)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, out.Artifact.Version)
}

func TestLocal_IndependentKeys(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)
	userID := uuid.New()

	a, err := l.AcquireOrJoin(ctx, Key{UserID: userID, Type: types.ArtifactQuestions}, Request{})
	require.NoError(t, err)
	b, err := l.AcquireOrJoin(ctx, Key{UserID: userID, Type: types.ArtifactCareerPaths}, Request{})
	require.NoError(t, err)
	c, err := l.AcquireOrJoin(ctx, Key{UserID: uuid.New(), Type: types.ArtifactQuestions}, Request{})
	require.NoError(t, err)

	assert.Equal(t, Leader, a.Role())
	assert.Equal(t, Leader, b.Role())
	assert.Equal(t, Leader, c.Role())
}

func TestLocal_WaitCancelled(t *testing.T) {
	l := NewLocal(nil)
	key := testKey()

	leader, err := l.AcquireOrJoin(context.Background(), key, Request{})
	require.NoError(t, err)
	follower, err := l.AcquireOrJoin(context.Background(), key, Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = follower.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// abandoning the wait leaves the generation in place
	assert.True(t, l.InFlight(key))
	leader.Release(Outcome{})
	assert.False(t, l.InFlight(key))
}

func TestLocal_ConcurrentAcquireSingleLeader(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)
	key := testKey()

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		leaders []Ticket
		tickets []Ticket
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := l.AcquireOrJoin(ctx, key, Request{})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			tickets = append(tickets, tk)
			if tk.Role() == Leader {
				leaders = append(leaders, tk)
			}
		}()
	}
	wg.Wait()

	require.Len(t, leaders, 1)
	leaders[0].Release(Outcome{Artifact: &types.Artifact{Version: 7}})
	for _, tk := range tickets {
		out, err := tk.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, out.Artifact.Version)
	}
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "leader", Leader.String())
	assert.Equal(t, "follower", Follower.String())
	assert.Equal(t, "unknown", Role(0).String())
}
