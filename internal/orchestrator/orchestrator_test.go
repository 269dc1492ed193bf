package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/genlock"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

// countingLock records how often the slot was requested.
type countingLock struct {
	genlock.Lock
	calls atomic.Int32
}

func (c *countingLock) AcquireOrJoin(ctx context.Context, key genlock.Key, req genlock.Request) (genlock.Ticket, error) {
	c.calls.Add(1)
	return c.Lock.AcquireOrJoin(ctx, key, req)
}

// losingLock hands out leader tickets whose slot is lost when lost is closed.
type losingLock struct {
	genlock.Lock
	lost chan struct{}
}

type losingTicket struct {
	genlock.Ticket
	lost chan struct{}
}

func (t losingTicket) Lost() <-chan struct{} { return t.lost }

func (l *losingLock) AcquireOrJoin(ctx context.Context, key genlock.Key, req genlock.Request) (genlock.Ticket, error) {
	ticket, err := l.Lock.AcquireOrJoin(ctx, key, req)
	if err != nil || ticket.Role() != genlock.Leader {
		return ticket, err
	}
	return losingTicket{Ticket: ticket, lost: l.lost}, nil
}

// flakyStore fails reads or writes on demand.
type flakyStore struct {
	store.Store
	failGet atomic.Bool
	failPut atomic.Bool
}

func (f *flakyStore) GetArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) (*types.Artifact, error) {
	if f.failGet.Load() {
		return nil, errors.New("connection refused")
	}
	return f.Store.GetArtifact(ctx, userID, t)
}

func (f *flakyStore) PutArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType, payload json.RawMessage, fp string, adv *store.Advance) (*types.Artifact, error) {
	if f.failPut.Load() {
		return nil, errors.New("disk full")
	}
	return f.Store.PutArtifact(ctx, userID, t, payload, fp, adv)
}

type fixture struct {
	store *flakyStore
	lock  *countingLock
	orch  *Orchestrator
}

func newFixture(opts Options) *fixture {
	s := &flakyStore{Store: store.NewMemory()}
	l := &countingLock{Lock: genlock.NewLocal(nil)}
	return &fixture{store: s, lock: l, orch: New(s, l, opts, nil)}
}

// counter is a generator that counts invocations.
type counter struct {
	n     atomic.Int32
	delay time.Duration
	err   error
	gate  chan struct{}
}

func (c *counter) generate(ctx context.Context) (json.RawMessage, error) {
	n := c.n.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return json.RawMessage(fmt.Sprintf(`{"questions":[{"id":"q%d","text":"generated"}]}`, n)), nil
}

func request(userID uuid.UUID, fp string, gen GenerateFunc) Request {
	return Request{
		UserID:      userID,
		Type:        types.ArtifactQuestions,
		Fingerprint: fp,
		Policy:      stages.Cacheable,
		Generate:    gen,
		Owner:       "test",
	}
}

func TestObtain_GeneratesThenServesFromCache(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()
	gen := &counter{}

	first, err := f.orch.Obtain(ctx, request(userID, "fp", gen.generate))
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, first.Source)
	assert.Equal(t, 1, first.Artifact.Version)
	assert.Equal(t, "fp", first.Artifact.InputFingerprint)
	assert.Equal(t, int32(1), f.lock.calls.Load())

	second, err := f.orch.Obtain(ctx, request(userID, "fp", gen.generate))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Artifact.ID, second.Artifact.ID)
	assert.JSONEq(t, string(first.Artifact.Payload), string(second.Artifact.Payload))

	assert.Equal(t, int32(1), gen.n.Load(), "cache hit must not generate")
	assert.Equal(t, int32(1), f.lock.calls.Load(), "cache hit must not touch the lock")
}

func TestObtain_FingerprintMismatchRegenerates(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()
	gen := &counter{}

	_, err := f.orch.Obtain(ctx, request(userID, "fp1", gen.generate))
	require.NoError(t, err)

	res, err := f.orch.Obtain(ctx, request(userID, "fp2", gen.generate))
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, res.Source)
	assert.Equal(t, 2, res.Artifact.Version)
	assert.Equal(t, "fp2", res.Artifact.InputFingerprint)
	assert.Equal(t, int32(2), gen.n.Load())

	versions, err := f.store.ListArtifactVersions(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.NotNil(t, versions[1].SupersededAt)
}

func TestObtain_SingleFlight(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()
	gen := &counter{gate: make(chan struct{})}

	const n = 10
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.Obtain(ctx, request(userID, "fp", gen.generate))
		}(i)
	}

	require.Eventually(t, func() bool { return gen.n.Load() == 1 }, time.Second, 5*time.Millisecond)
	// give the remaining callers time to queue behind the leader
	require.Eventually(t, func() bool { return f.lock.calls.Load() == n }, time.Second, 5*time.Millisecond)
	close(gen.gate)
	wg.Wait()

	assert.Equal(t, int32(1), gen.n.Load())
	generated := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, results[i].Artifact.Version)
		assert.JSONEq(t, string(results[0].Artifact.Payload), string(results[i].Artifact.Payload))
		if results[i].Source == SourceGenerated {
			generated++
		} else {
			assert.Equal(t, SourceJoined, results[i].Source)
		}
	}
	assert.Equal(t, 1, generated)
}

func TestObtain_FollowersReceiveFailure(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()
	gen := &counter{gate: make(chan struct{}), err: errors.New("model overloaded")}

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Obtain(ctx, request(userID, "fp", gen.generate))
		}(i)
	}
	require.Eventually(t, func() bool { return f.lock.calls.Load() == n }, time.Second, 5*time.Millisecond)
	close(gen.gate)
	wg.Wait()

	assert.Equal(t, int32(1), gen.n.Load(), "no silent retry")
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrGenerationFailure))
		assert.False(t, errors.Is(err, apperr.ErrGenerationTimeout))
		assert.Contains(t, err.Error(), "model overloaded")
	}

	a, err := f.store.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestObtain_FailureKeepsPriorArtifact(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.orch.Obtain(ctx, request(userID, "fp1", (&counter{}).generate))
	require.NoError(t, err)

	_, err = f.orch.Obtain(ctx, request(userID, "fp2", (&counter{err: errors.New("boom")}).generate))
	require.Error(t, err)

	a, err := f.store.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "fp1", a.InputFingerprint)
	assert.Equal(t, 1, a.Version)
}

func TestObtain_TimeoutReachesAllWaiters(t *testing.T) {
	f := newFixture(Options{Timeouts: map[types.ArtifactType]time.Duration{
		types.ArtifactQuestions: 50 * time.Millisecond,
	}})
	ctx := context.Background()
	userID := uuid.New()
	block := make(chan struct{})
	defer close(block)
	// ignores its context entirely
	gen := func(context.Context) (json.RawMessage, error) {
		<-block
		return json.RawMessage(`{}`), nil
	}

	const n = 3
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Obtain(ctx, request(userID, "fp", gen))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrGenerationTimeout))
		assert.True(t, errors.Is(err, apperr.ErrGenerationFailure))
	}
	a, err := f.store.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestObtain_CallerCancellationDoesNotAbortGeneration(t *testing.T) {
	f := newFixture(Options{})
	userID := uuid.New()
	gen := &counter{gate: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.Obtain(ctx, request(userID, "fp", gen.generate))
		errCh <- err
	}()

	require.Eventually(t, func() bool { return gen.n.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(gen.gate)
	require.Eventually(t, func() bool {
		a, err := f.store.GetArtifact(context.Background(), userID, types.ArtifactQuestions)
		return err == nil && a != nil
	}, time.Second, 5*time.Millisecond)

	res, err := f.orch.Obtain(context.Background(), request(userID, "fp", gen.generate))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, int32(1), gen.n.Load())
}

func TestObtain_AlwaysFresh(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()
	gen := &counter{}

	req := request(userID, "fp", gen.generate)
	req.Type = types.ArtifactDetailedRoadmap
	req.Policy = stages.AlwaysFresh

	first, err := f.orch.Obtain(ctx, req)
	require.NoError(t, err)
	second, err := f.orch.Obtain(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, SourceGenerated, first.Source)
	assert.Equal(t, SourceGenerated, second.Source)
	assert.Equal(t, 2, second.Artifact.Version)
	assert.Equal(t, int32(2), gen.n.Load())
}

func TestObtain_AlwaysFreshConcurrentCallersShare(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()
	gen := &counter{gate: make(chan struct{})}

	req := request(userID, "fp", gen.generate)
	req.Type = types.ArtifactDetailedRoadmap
	req.Policy = stages.AlwaysFresh

	var wg sync.WaitGroup
	results := make([]*Result, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.orch.Obtain(ctx, req)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	require.Eventually(t, func() bool { return f.lock.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(gen.gate)
	wg.Wait()

	assert.Equal(t, int32(1), gen.n.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, 1, r.Artifact.Version)
	}
}

func TestObtain_FollowerWithDifferentInputsRegenerates(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()
	first := &counter{gate: make(chan struct{})}
	second := &counter{}

	leaderDone := make(chan *Result, 1)
	go func() {
		res, err := f.orch.Obtain(ctx, request(userID, "fp-a", first.generate))
		assert.NoError(t, err)
		leaderDone <- res
	}()
	require.Eventually(t, func() bool { return first.n.Load() == 1 }, time.Second, 5*time.Millisecond)

	followerDone := make(chan *Result, 1)
	go func() {
		res, err := f.orch.Obtain(ctx, request(userID, "fp-b", second.generate))
		assert.NoError(t, err)
		followerDone <- res
	}()
	require.Eventually(t, func() bool { return f.lock.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(first.gate)

	a := <-leaderDone
	b := <-followerDone
	assert.Equal(t, "fp-a", a.Artifact.InputFingerprint)
	assert.Equal(t, "fp-b", b.Artifact.InputFingerprint)
	assert.Equal(t, SourceGenerated, b.Source)
	assert.Equal(t, 2, b.Artifact.Version)
	assert.Equal(t, int32(1), second.n.Load())
}

func TestObtain_StorageUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("read", func(t *testing.T) {
		f := newFixture(Options{})
		f.store.failGet.Store(true)
		gen := &counter{}
		_, err := f.orch.Obtain(ctx, request(uuid.New(), "fp", gen.generate))
		assert.True(t, errors.Is(err, apperr.ErrStorageUnavailable))
		assert.Equal(t, int32(0), gen.n.Load())
	})

	t.Run("write", func(t *testing.T) {
		f := newFixture(Options{})
		f.store.failPut.Store(true)
		_, err := f.orch.Obtain(ctx, request(uuid.New(), "fp", (&counter{}).generate))
		assert.True(t, errors.Is(err, apperr.ErrStorageUnavailable))
	})
}

func TestObtain_AdvanceCommittedWithArtifact(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	userID := uuid.New()

	req := request(userID, "fp", (&counter{}).generate)
	req.Type = types.ArtifactCareerPaths
	req.Advance = &store.Advance{
		Action: string(stages.ActionSubmitAnswers),
		Expect: []types.Stage{types.StageBasicRegistered},
		To:     types.StageCareerPathsGenerated,
	}

	// journey is still at Authenticated, so the move is rejected and nothing is stored
	_, err := f.orch.Obtain(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStageTransition))
	a, err := f.store.GetArtifact(ctx, userID, types.ArtifactCareerPaths)
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = f.store.AdvanceStage(ctx, userID, store.Advance{
		Action: "register_basic",
		Expect: []types.Stage{types.StageAuthenticated},
		To:     types.StageBasicRegistered,
	})
	require.NoError(t, err)

	res, err := f.orch.Obtain(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, res.Source)

	j, err := f.store.GetJourney(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.StageCareerPathsGenerated, j.CurrentStage)
}

func TestObtain_LostSlotStoresNothing(t *testing.T) {
	s := store.NewMemory()
	lock := &losingLock{Lock: genlock.NewLocal(nil), lost: make(chan struct{})}
	orch := New(s, lock, Options{}, nil)
	ctx := context.Background()
	userID := uuid.New()

	gen := &counter{gate: make(chan struct{})}
	errCh := make(chan error, 1)
	go func() {
		_, err := orch.Obtain(ctx, request(userID, "fp", gen.generate))
		errCh <- err
	}()

	require.Eventually(t, func() bool { return gen.n.Load() == 1 }, time.Second, time.Millisecond)
	close(lock.lost)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrGenerationFailure))
	case <-time.After(2 * time.Second):
		t.Fatal("leader kept generating after losing its slot")
	}

	a, err := s.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestObtain_GeneratorPanicIsFailure(t *testing.T) {
	f := newFixture(Options{})
	_, err := f.orch.Obtain(context.Background(), request(uuid.New(), "fp", func(context.Context) (json.RawMessage, error) {
		panic("nil map")
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrGenerationFailure))
}

func TestObtain_InvalidJSON(t *testing.T) {
	f := newFixture(Options{})
	_, err := f.orch.Obtain(context.Background(), request(uuid.New(), "fp", func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`not json`), nil
	}))
	assert.True(t, errors.Is(err, apperr.ErrGenerationFailure))
}

func TestObtain_RequestValidation(t *testing.T) {
	f := newFixture(Options{})
	_, err := f.orch.Obtain(context.Background(), Request{UserID: uuid.New(), Type: types.ArtifactQuestions})
	assert.Error(t, err)

	_, err = f.orch.Obtain(context.Background(), request(uuid.New(), "fp", (&counter{}).generate).withType("resume"))
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func (r Request) withType(t types.ArtifactType) Request {
	r.Type = t
	return r
}

func TestTimeout(t *testing.T) {
	o := New(store.NewMemory(), genlock.NewLocal(nil), Options{}, nil)
	assert.Equal(t, 60*time.Second, o.Timeout(types.ArtifactQuestions))
	assert.Equal(t, 90*time.Second, o.Timeout(types.ArtifactCareerPaths))
	assert.Equal(t, 5*time.Minute, o.Timeout(types.ArtifactDetailedRoadmap))
	assert.Equal(t, 2*time.Minute, o.Timeout("other"))
}
