package stages

import "github.com/jonathan/career-journey/internal/types"

// Progress summarises how far a journey has advanced.
type Progress struct {
	CurrentStage    types.Stage   `json:"current_stage"`
	CurrentStep     int           `json:"current_step"`
	TotalSteps      int           `json:"total_steps"`
	Percentage      float64       `json:"progress_percentage"`
	CompletedStages []types.Stage `json:"completed_steps"`
	Paused          bool          `json:"paused"`
	Description     string        `json:"description"`
}

// linear is the journey without the paused side branch.
var linear = []types.Stage{
	types.StageAuthenticated,
	types.StageBasicRegistered,
	types.StageProfileCompleted,
	types.StageCareerPathsGenerated,
	types.StageCareerPathSelected,
	types.StageRoadmapGenerated,
	types.StageRoadmapActive,
	types.StageJourneyCompleted,
}

// ProgressOf computes progress for a journey at stage. A paused journey
// reports the progress of the active roadmap it was paused from.
func ProgressOf(stage types.Stage) Progress {
	effective := stage
	if stage == types.StageJourneyPaused {
		effective = types.StageRoadmapActive
	}
	step := Order(effective)

	var completed []types.Stage
	for _, s := range linear {
		if Order(s) <= step {
			completed = append(completed, s)
		}
	}

	return Progress{
		CurrentStage:    stage,
		CurrentStep:     step,
		TotalSteps:      len(linear),
		Percentage:      float64(step) / float64(len(linear)) * 100,
		CompletedStages: completed,
		Paused:          stage == types.StageJourneyPaused,
		Description:     Describe(stage),
	}
}
