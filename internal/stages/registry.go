// Package stages provides the journey stage graph, the action registry and
// the precondition checks that gate every journey operation.
package stages

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jonathan/career-journey/internal/types"
)

// Action names a journey operation.
type Action string

// Journey actions.
const (
	ActionRegisterBasic           Action = "register_basic"
	ActionGenerateQuestions       Action = "generate_questions"
	ActionSubmitAnswers           Action = "submit_answers_generate_career_paths"
	ActionSelectCareerPath        Action = "select_career_path"
	ActionGenerateDetailedRoadmap Action = "generate_detailed_roadmap"
	ActionActivateRoadmap         Action = "activate_roadmap"
	ActionPauseJourney            Action = "pause_journey"
	ActionResumeJourney           Action = "resume_journey"
	ActionCompleteJourney         Action = "complete_journey"
	ActionGenerateTopicAssessment Action = "generate_topic_assessment"
	ActionEvaluateTopicAssessment Action = "evaluate_topic_assessment"
)

// CachePolicy controls whether a stored artifact may satisfy a request.
type CachePolicy int

const (
	// Cacheable artifacts are reused while their input fingerprint matches.
	Cacheable CachePolicy = iota
	// AlwaysFresh artifacts are regenerated on every request.
	AlwaysFresh
)

func (p CachePolicy) String() string {
	if p == AlwaysFresh {
		return "always_fresh"
	}
	return "cacheable"
}

// ActionSpec defines metadata for a journey action.
type ActionSpec struct {
	Name          Action
	Preconditions []types.Stage
	// PostStage is the stage after success. Zero means the stage is unchanged.
	PostStage types.Stage
	// Artifact is empty for actions that generate nothing. Topic actions
	// name the kind; the stored type is scoped to the requested topic.
	Artifact types.ArtifactType
	Policy   CachePolicy
}

// Generates reports whether the action produces an artifact.
func (s ActionSpec) Generates() bool {
	return s.Artifact != ""
}

// Target returns the stage the journey holds after the action, given the
// current stage.
func (s ActionSpec) Target(current types.Stage) types.Stage {
	if s.PostStage == 0 {
		return current
	}
	return s.PostStage
}

// ActionRegistry holds all action definitions.
var ActionRegistry = map[Action]ActionSpec{
	ActionRegisterBasic: {
		Name:          ActionRegisterBasic,
		Preconditions: []types.Stage{types.StageAuthenticated},
		PostStage:     types.StageBasicRegistered,
	},
	ActionGenerateQuestions: {
		Name:          ActionGenerateQuestions,
		Preconditions: []types.Stage{types.StageBasicRegistered},
		Artifact:      types.ArtifactQuestions,
		Policy:        Cacheable,
	},
	ActionSubmitAnswers: {
		Name:          ActionSubmitAnswers,
		Preconditions: []types.Stage{types.StageBasicRegistered},
		PostStage:     types.StageCareerPathsGenerated,
		Artifact:      types.ArtifactCareerPaths,
		Policy:        Cacheable,
	},
	ActionSelectCareerPath: {
		Name:          ActionSelectCareerPath,
		Preconditions: []types.Stage{types.StageCareerPathsGenerated},
		PostStage:     types.StageCareerPathSelected,
	},
	ActionGenerateDetailedRoadmap: {
		Name: ActionGenerateDetailedRoadmap,
		Preconditions: []types.Stage{
			types.StageCareerPathsGenerated,
			types.StageCareerPathSelected,
			types.StageRoadmapGenerated,
		},
		PostStage: types.StageRoadmapGenerated,
		Artifact:  types.ArtifactDetailedRoadmap,
		Policy:    AlwaysFresh,
	},
	ActionActivateRoadmap: {
		Name:          ActionActivateRoadmap,
		Preconditions: []types.Stage{types.StageRoadmapGenerated},
		PostStage:     types.StageRoadmapActive,
	},
	ActionPauseJourney: {
		Name:          ActionPauseJourney,
		Preconditions: []types.Stage{types.StageRoadmapActive},
		PostStage:     types.StageJourneyPaused,
	},
	ActionResumeJourney: {
		Name:          ActionResumeJourney,
		Preconditions: []types.Stage{types.StageJourneyPaused},
		PostStage:     types.StageRoadmapActive,
	},
	ActionCompleteJourney: {
		Name:          ActionCompleteJourney,
		Preconditions: []types.Stage{types.StageRoadmapActive},
		PostStage:     types.StageJourneyCompleted,
	},
	ActionGenerateTopicAssessment: {
		Name:          ActionGenerateTopicAssessment,
		Preconditions: []types.Stage{types.StageRoadmapActive},
		Artifact:      types.ArtifactTopicAssessment,
		Policy:        Cacheable,
	},
	// Identical answers to the same assessment are served the stored evaluation.
	ActionEvaluateTopicAssessment: {
		Name:          ActionEvaluateTopicAssessment,
		Preconditions: []types.Stage{types.StageRoadmapActive},
		Artifact:      types.ArtifactTopicEvaluation,
		Policy:        Cacheable,
	},
}

// transitions is the exhaustive successor table. Remaining in the current
// stage is always permitted and is not listed.
var transitions = map[types.Stage][]types.Stage{
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

var order = map[types.Stage]int{
	types.StageAuthenticated:        1,
	types.StageBasicRegistered:      2,
	types.StageProfileCompleted:     3,
	types.StageCareerPathsGenerated: 4,
	types.StageCareerPathSelected:   5,
	types.StageRoadmapGenerated:     6,
	types.StageRoadmapActive:        7,
	types.StageJourneyCompleted:     8,
	types.StageJourneyPaused:        9,
}

var descriptions = map[types.Stage]string{
	types.StageAuthenticated:        "User has signed in",
	types.StageBasicRegistered:      "User has completed basic registration",
	types.StageProfileCompleted:     "User profile is complete",
	types.StageCareerPathsGenerated: "Career paths are available, one needs to be selected",
	types.StageCareerPathSelected:   "Career path chosen, roadmap needs to be generated",
	types.StageRoadmapGenerated:     "Roadmap ready, the journey can start",
	types.StageRoadmapActive:        "User is actively following the roadmap",
	types.StageJourneyCompleted:     "User has completed the career journey",
	types.StageJourneyPaused:        "User has paused the journey",
}

// Lookup returns the definition of an action.
func Lookup(action Action) (ActionSpec, error) {
	spec, ok := ActionRegistry[action]
	if !ok {
		return ActionSpec{}, fmt.Errorf("unknown action: %s", action)
	}
	return spec, nil
}

// Actions returns every registered action in journey order.
func Actions() []ActionSpec {
	out := make([]ActionSpec, 0, len(ActionRegistry))
	for _, spec := range ActionRegistry {
		out = append(out, spec)
	}
	slices.SortFunc(out, func(a, b ActionSpec) int {
		if d := Order(a.Preconditions[0]) - Order(b.Preconditions[0]); d != 0 {
			return d
		}
		if d := Order(a.Target(a.Preconditions[0])) - Order(b.Target(b.Preconditions[0])); d != 0 {
			return d
		}
		return strings.Compare(string(a.Name), string(b.Name))
	})
	return out
}

// AllowedNext returns the stages reachable from stage in one step, excluding
// stage itself.
func AllowedNext(stage types.Stage) []types.Stage {
	return slices.Clone(transitions[stage])
}

// CanTransition reports whether moving from one stage to another is legal.
// Staying in place is always legal.
func CanTransition(from, to types.Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// IsValidPrecondition reports whether action may run while the journey is at stage.
func IsValidPrecondition(action Action, stage types.Stage) bool {
	spec, ok := ActionRegistry[action]
	if !ok {
		return false
	}
	return slices.Contains(spec.Preconditions, stage)
}

// Order returns the position of stage in the journey. JourneyPaused is 9.
func Order(stage types.Stage) int {
	return order[stage]
}

// Describe returns a human readable description of stage.
func Describe(stage types.Stage) string {
	if d, ok := descriptions[stage]; ok {
		return d
	}
	return "Unknown stage"
}
