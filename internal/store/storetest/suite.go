// Package storetest provides a conformance suite run against every
// store.Store implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GetArtifact_Missing", testGetArtifactMissing},
		{"PutArtifact_Versions", testPutArtifactVersions},
		{"PutArtifact_IsolatedByUserAndType", testIsolation},
		{"InvalidateArtifact_KeepsHistory", testInvalidate},
		{"PutArtifact_WithAdvance", testPutWithAdvance},
		{"PutArtifact_AdvanceRejectedWritesNothing", testPutAdvanceRejected},
		{"AdvanceStage_Idempotent", testAdvanceIdempotent},
		{"AdvanceStage_SelectedPath", testAdvanceSelectedPath},
		{"SaveProfile", testSaveProfile},
		{"SaveProfile_DetachedFromCaller", testProfileDetached},
		{"PutArtifact_ConcurrentVersionsUnique", testConcurrentPuts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func payload(v string) json.RawMessage {
	return json.RawMessage(`{"questions":[{"id":"q1","text":"` + v + `"}]}`)
}

func register(t *testing.T, s store.Store, userID uuid.UUID) {
	t.Helper()
	_, err := s.SaveProfile(context.Background(), userID, &types.Profile{CareerGoal: "Data engineer"}, &store.Advance{
		Action: "register_basic",
		Expect: []types.Stage{types.StageAuthenticated},
		To:     types.StageBasicRegistered,
	})
	require.NoError(t, err)
}

func testGetArtifactMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, err := s.GetArtifact(ctx, uuid.New(), types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Nil(t, a)

	j, err := s.GetJourney(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, j)

	p, err := s.GetProfile(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, p)

	versions, err := s.ListArtifactVersions(ctx, uuid.New(), types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func testPutArtifactVersions(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()

	first, err := s.PutArtifact(ctx, userID, types.ArtifactQuestions, payload("one"), "fp1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "fp1", first.InputFingerprint)
	assert.NotEqual(t, uuid.Nil, first.ID)

	second, err := s.PutArtifact(ctx, userID, types.ArtifactQuestions, payload("two"), "fp2", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	got, err := s.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "fp2", got.InputFingerprint)
	assert.JSONEq(t, string(payload("two")), string(got.Payload))
	assert.True(t, got.Current())

	versions, err := s.ListArtifactVersions(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, 1, versions[1].Version)
	assert.NotNil(t, versions[1].SupersededAt)
	assert.Nil(t, versions[0].SupersededAt)
}

func testIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, err := s.PutArtifact(ctx, alice, types.ArtifactQuestions, payload("a"), "fa", nil)
	require.NoError(t, err)

	got, err := s.GetArtifact(ctx, bob, types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetArtifact(ctx, alice, types.ArtifactCareerPaths)
	require.NoError(t, err)
	assert.Nil(t, got)

	other, err := s.PutArtifact(ctx, alice, types.ArtifactCareerPaths, json.RawMessage(`{"careerPaths":[]}`), "fc", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Version)
}

func testInvalidate(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()

	// invalidating nothing is fine
	require.NoError(t, s.InvalidateArtifact(ctx, userID, types.ArtifactQuestions))

	_, err := s.PutArtifact(ctx, userID, types.ArtifactQuestions, payload("one"), "fp1", nil)
	require.NoError(t, err)
	require.NoError(t, s.InvalidateArtifact(ctx, userID, types.ArtifactQuestions))
	require.NoError(t, s.InvalidateArtifact(ctx, userID, types.ArtifactQuestions))

	got, err := s.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Nil(t, got)

	versions, err := s.ListArtifactVersions(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.NotNil(t, versions[0].InvalidatedAt)

	next, err := s.PutArtifact(ctx, userID, types.ArtifactQuestions, payload("two"), "fp1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version, "versions are never reused")

	got, err = s.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Version)
}

func testPutWithAdvance(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()
	register(t, s, userID)

	adv := &store.Advance{
		Action: "submit_answers_generate_career_paths",
		Expect: []types.Stage{types.StageBasicRegistered},
		To:     types.StageCareerPathsGenerated,
	}
	_, err := s.PutArtifact(ctx, userID, types.ArtifactCareerPaths, json.RawMessage(`{"careerPaths":[]}`), "fp", adv)
	require.NoError(t, err)

	j, err := s.GetJourney(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, types.StageCareerPathsGenerated, j.CurrentStage)
	require.Len(t, j.StageHistory, 3)
	assert.Equal(t, types.StageAuthenticated, j.StageHistory[0].Stage)
	assert.Equal(t, types.StageBasicRegistered, j.StageHistory[1].Stage)
	assert.Equal(t, types.StageCareerPathsGenerated, j.StageHistory[2].Stage)
	assert.Equal(t, "submit_answers_generate_career_paths", j.StageHistory[2].Action)

	// repeating the move at the target stage changes nothing
	_, err = s.PutArtifact(ctx, userID, types.ArtifactCareerPaths, json.RawMessage(`{"careerPaths":[]}`), "fp", adv)
	require.NoError(t, err)
	j, err = s.GetJourney(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, j.StageHistory, 3)
}

func testPutAdvanceRejected(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()

	adv := &store.Advance{
		Action: "generate_detailed_roadmap",
		Expect: []types.Stage{types.StageCareerPathsGenerated},
		To:     types.StageRoadmapGenerated,
	}
	_, err := s.PutArtifact(ctx, userID, types.ArtifactDetailedRoadmap, json.RawMessage(`{}`), "fp", adv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStageTransition))

	got, err := s.GetArtifact(ctx, userID, types.ArtifactDetailedRoadmap)
	require.NoError(t, err)
	assert.Nil(t, got, "rejected move must not store the artifact")

	versions, err := s.ListArtifactVersions(ctx, userID, types.ArtifactDetailedRoadmap)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func testAdvanceIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()

	adv := store.Advance{Action: "register_basic", Expect: []types.Stage{types.StageAuthenticated}, To: types.StageBasicRegistered}
	j, err := s.AdvanceStage(ctx, userID, adv)
	require.NoError(t, err)
	assert.Equal(t, types.StageBasicRegistered, j.CurrentStage)
	assert.Len(t, j.StageHistory, 2)

	j, err = s.AdvanceStage(ctx, userID, adv)
	require.NoError(t, err)
	assert.Equal(t, types.StageBasicRegistered, j.CurrentStage)
	assert.Len(t, j.StageHistory, 2)

	_, err = s.AdvanceStage(ctx, userID, store.Advance{
		Action: "complete_journey",
		Expect: []types.Stage{types.StageRoadmapActive},
		To:     types.StageJourneyCompleted,
	})
	assert.True(t, errors.Is(err, apperr.ErrInvalidStageTransition))

	j, err = s.GetJourney(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.StageBasicRegistered, j.CurrentStage)
}

func testAdvanceSelectedPath(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()
	register(t, s, userID)

	_, err := s.AdvanceStage(ctx, userID, store.Advance{
		Action: "submit",
		Expect: []types.Stage{types.StageBasicRegistered},
		To:     types.StageCareerPathsGenerated,
	})
	require.NoError(t, err)

	path := &types.CareerPath{Title: "Data Engineer", Description: "Pipelines", KeySkillsRequired: []string{"SQL"}}
	j, err := s.AdvanceStage(ctx, userID, store.Advance{
		Action:       "select_career_path",
		Expect:       []types.Stage{types.StageCareerPathsGenerated},
		To:           types.StageCareerPathSelected,
		SelectedPath: path,
	})
	require.NoError(t, err)
	require.NotNil(t, j.SelectedPath)
	assert.Equal(t, "Data Engineer", j.SelectedPath.Title)

	j, err = s.GetJourney(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, j.SelectedPath)
	assert.Equal(t, []string{"SQL"}, j.SelectedPath.KeySkillsRequired)
	assert.Equal(t, types.StageCareerPathSelected, j.CurrentStage)
}

func testSaveProfile(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()

	profile := &types.Profile{Name: "Asha", CareerGoal: "Data engineer", Skills: []string{"SQL"}, YearsOfExperience: 2}
	j, err := s.SaveProfile(ctx, userID, profile, &store.Advance{
		Action: "register_basic",
		Expect: []types.Stage{types.StageAuthenticated},
		To:     types.StageBasicRegistered,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StageBasicRegistered, j.CurrentStage)

	got, err := s.GetProfile(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Data engineer", got.CareerGoal)
	assert.Equal(t, []string{"SQL"}, got.Skills)
	assert.Equal(t, 2, got.YearsOfExperience)

	// update without a stage move
	profile.CareerGoal = "ML engineer"
	j, err = s.SaveProfile(ctx, userID, profile, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StageBasicRegistered, j.CurrentStage)
	assert.Len(t, j.StageHistory, 2)

	got, err = s.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "ML engineer", got.CareerGoal)

	// a rejected move leaves the stored profile untouched
	profile.CareerGoal = "Chef"
	_, err = s.SaveProfile(ctx, userID, profile, &store.Advance{
		Action: "register_basic",
		Expect: []types.Stage{types.StageAuthenticated},
		To:     types.StageRoadmapActive,
	})
	require.Error(t, err)
	got, err = s.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "ML engineer", got.CareerGoal)
}

func testProfileDetached(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()

	profile := &types.Profile{
		CareerGoal:        "Data analyst",
		Skills:            []string{"SQL", "Excel"},
		AcademicInterests: []string{"Statistics"},
	}
	_, err := s.SaveProfile(ctx, userID, profile, nil)
	require.NoError(t, err)

	profile.Skills[0] = "MUTATED"
	profile.AcademicInterests[0] = "MUTATED"

	got, err := s.GetProfile(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"SQL", "Excel"}, got.Skills)
	assert.Equal(t, []string{"Statistics"}, got.AcademicInterests)

	got.Skills[1] = "MUTATED"
	again, err := s.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"SQL", "Excel"}, again.Skills)
}

func testConcurrentPuts(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := uuid.New()

	const n = 8
	var wg sync.WaitGroup
	versions := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := s.PutArtifact(ctx, userID, types.ArtifactQuestions, payload("x"), "fp", nil)
			if assert.NoError(t, err) {
				versions <- a.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)

	got, err := s.GetArtifact(ctx, userID, types.ArtifactQuestions)
	require.NoError(t, err)
	assert.Equal(t, n, got.Version)
}
