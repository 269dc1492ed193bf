package stages

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-journey/internal/types"
)

func TestTransitions_Exhaustive(t *testing.T) {
	expected := map[types.Stage][]types.Stage{
		types.StageAuthenticated:        {types.StageBasicRegistered},
		types.StageBasicRegistered:      {types.StageProfileCompleted, types.StageCareerPathsGenerated},
		types.StageProfileCompleted:     {types.StageCareerPathsGenerated},
		types.StageCareerPathsGenerated: {types.StageCareerPathSelected, types.StageRoadmapGenerated},
		types.StageCareerPathSelected:   {types.StageRoadmapGenerated},
		types.StageRoadmapGenerated:     {types.StageRoadmapActive},
		types.StageRoadmapActive:        {types.StageJourneyPaused, types.StageJourneyCompleted},
		types.StageJourneyPaused:        {types.StageRoadmapActive},
		types.StageJourneyCompleted:     {},
	}

	for _, from := range types.AllStages() {
		want, ok := expected[from]
		require.True(t, ok, "stage %s missing from expectation", from)
		assert.ElementsMatch(t, want, AllowedNext(from), "successors of %s", from)

		for _, to := range types.AllStages() {
			legal := from == to
			for _, w := range want {
				if w == to {
					legal = true
				}
			}
			assert.Equal(t, legal, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_InvalidStage(t *testing.T) {
	assert.False(t, CanTransition(types.Stage(0), types.StageAuthenticated))
	assert.False(t, CanTransition(types.StageAuthenticated, types.Stage(42)))
}

func TestAllowedNext_ReturnsCopy(t *testing.T) {
	next := AllowedNext(types.StageBasicRegistered)
	next[0] = types.StageJourneyCompleted
	assert.Equal(t, types.StageProfileCompleted, AllowedNext(types.StageBasicRegistered)[0])
}

func TestIsValidPrecondition(t *testing.T) {
	tests := []struct {
		action Action
		stage  types.Stage
		want   bool
	}{
		{ActionRegisterBasic, types.StageAuthenticated, true},
		{ActionRegisterBasic, types.StageBasicRegistered, false},
		{ActionGenerateQuestions, types.StageAuthenticated, false},
		{ActionGenerateQuestions, types.StageBasicRegistered, true},
		{ActionGenerateQuestions, types.StageCareerPathsGenerated, false},
		{ActionSubmitAnswers, types.StageBasicRegistered, true},
		{ActionSubmitAnswers, types.StageCareerPathsGenerated, false},
		{ActionSelectCareerPath, types.StageCareerPathsGenerated, true},
		{ActionSelectCareerPath, types.StageCareerPathSelected, false},
		{ActionGenerateDetailedRoadmap, types.StageCareerPathsGenerated, true},
		{ActionGenerateDetailedRoadmap, types.StageCareerPathSelected, true},
		{ActionGenerateDetailedRoadmap, types.StageRoadmapGenerated, true},
		{ActionGenerateDetailedRoadmap, types.StageRoadmapActive, false},
		{ActionActivateRoadmap, types.StageRoadmapGenerated, true},
		{ActionPauseJourney, types.StageRoadmapActive, true},
		{ActionPauseJourney, types.StageJourneyPaused, false},
		{ActionResumeJourney, types.StageJourneyPaused, true},
		{ActionCompleteJourney, types.StageRoadmapActive, true},
		{ActionCompleteJourney, types.StageJourneyPaused, false},
		{Action("unknown"), types.StageAuthenticated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+tt.stage.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidPrecondition(tt.action, tt.stage))
		})
	}
}

// Every action's post stage must be reachable from each of its preconditions.
func TestActionRegistry_ConsistentWithTransitions(t *testing.T) {
	for name, spec := range ActionRegistry {
		assert.Equal(t, name, spec.Name)
		require.NotEmpty(t, spec.Preconditions, "action %s", name)
		for _, pre := range spec.Preconditions {
			assert.True(t, CanTransition(pre, spec.Target(pre)),
				"action %s: %s -> %s", name, pre, spec.Target(pre))
		}
	}
}

func TestActionRegistry_Artifacts(t *testing.T) {
	q, err := Lookup(ActionGenerateQuestions)
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactQuestions, q.Artifact)
	assert.Equal(t, Cacheable, q.Policy)
	assert.Equal(t, types.StageBasicRegistered, q.Target(types.StageBasicRegistered))

	cp, err := Lookup(ActionSubmitAnswers)
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactCareerPaths, cp.Artifact)
	assert.Equal(t, Cacheable, cp.Policy)

	rm, err := Lookup(ActionGenerateDetailedRoadmap)
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactDetailedRoadmap, rm.Artifact)
	assert.Equal(t, AlwaysFresh, rm.Policy)

	sel, err := Lookup(ActionSelectCareerPath)
	require.NoError(t, err)
	assert.False(t, sel.Generates())

	_, err = Lookup(Action("nope"))
	assert.Error(t, err)
}

func TestActions_Ordered(t *testing.T) {
	actions := Actions()
	require.Len(t, actions, len(ActionRegistry))
	assert.Equal(t, ActionRegisterBasic, actions[0].Name)
	assert.Equal(t, ActionGenerateQuestions, actions[1].Name)
	assert.Equal(t, ActionSubmitAnswers, actions[2].Name)
	assert.Equal(t, ActionResumeJourney, actions[len(actions)-1].Name)

	// equal stages fall back to the action name
	i := slices.IndexFunc(actions, func(s ActionSpec) bool { return s.Name == ActionEvaluateTopicAssessment })
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, ActionGenerateTopicAssessment, actions[i+1].Name)
}

func TestTopicActions(t *testing.T) {
	for _, action := range []Action{ActionGenerateTopicAssessment, ActionEvaluateTopicAssessment} {
		spec, err := Lookup(action)
		require.NoError(t, err)
		assert.True(t, spec.Generates())
		assert.Equal(t, Cacheable, spec.Policy)
		assert.Equal(t, types.StageRoadmapActive, spec.Target(types.StageRoadmapActive))
		assert.True(t, IsValidPrecondition(action, types.StageRoadmapActive))
		assert.False(t, IsValidPrecondition(action, types.StageRoadmapGenerated))
		assert.False(t, IsValidPrecondition(action, types.StageJourneyPaused))
	}
}

func TestOrderAndDescribe(t *testing.T) {
	assert.Equal(t, 1, Order(types.StageAuthenticated))
	assert.Equal(t, 8, Order(types.StageJourneyCompleted))
	assert.Equal(t, 9, Order(types.StageJourneyPaused))
	assert.Equal(t, "Unknown stage", Describe(types.Stage(0)))
	for _, s := range types.AllStages() {
		assert.NotEqual(t, "Unknown stage", Describe(s))
	}
}

func TestProgressOf(t *testing.T) {
	p := ProgressOf(types.StageAuthenticated)
	assert.Equal(t, 1, p.CurrentStep)
	assert.Equal(t, 8, p.TotalSteps)
	assert.InDelta(t, 12.5, p.Percentage, 0.001)
	assert.Equal(t, []types.Stage{types.StageAuthenticated}, p.CompletedStages)

	p = ProgressOf(types.StageJourneyCompleted)
	assert.InDelta(t, 100.0, p.Percentage, 0.001)
	assert.Len(t, p.CompletedStages, 8)

	paused := ProgressOf(types.StageJourneyPaused)
	active := ProgressOf(types.StageRoadmapActive)
	assert.True(t, paused.Paused)
	assert.Equal(t, active.CurrentStep, paused.CurrentStep)
	assert.Equal(t, types.StageJourneyPaused, paused.CurrentStage)
}
