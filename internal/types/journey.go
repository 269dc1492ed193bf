//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// StageEntry records the moment a journey entered a stage.
type StageEntry struct {
	Stage     Stage     `json:"stage"`
	Action    string    `json:"action,omitempty"`
	EnteredAt time.Time `json:"entered_at"`
}

// JourneyState is the persisted position of a user in the journey.
// StageHistory is append-only.
type JourneyState struct {
	UserID       uuid.UUID    `json:"user_id"`
	CurrentStage Stage        `json:"current_stage"`
	StageHistory []StageEntry `json:"stage_history"`
	SelectedPath *CareerPath  `json:"selected_path,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewJourneyState returns the implicit state of a user who has not yet
// registered.
func NewJourneyState(userID uuid.UUID, now time.Time) *JourneyState {
	return &JourneyState{
		UserID:       userID,
		CurrentStage: StageAuthenticated,
		StageHistory: []StageEntry{{Stage: StageAuthenticated, EnteredAt: now}},
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of the state.
func (j *JourneyState) Clone() *JourneyState {
	if j == nil {
		return nil
	}
	out := *j
	out.StageHistory = append([]StageEntry(nil), j.StageHistory...)
	if j.SelectedPath != nil {
		path := *j.SelectedPath
		path.KeySkillsRequired = append([]string(nil), j.SelectedPath.KeySkillsRequired...)
		path.LearningRoadmap = append([]string(nil), j.SelectedPath.LearningRoadmap...)
		out.SelectedPath = &path
	}
	return &out
}

// CompletedStages returns the distinct stages visited before the current one,
// in the order they were first entered.
func (j *JourneyState) CompletedStages() []Stage {
	seen := make(map[Stage]bool)
	var out []Stage
	for _, e := range j.StageHistory {
		if e.Stage == j.CurrentStage || seen[e.Stage] {
			continue
		}
		seen[e.Stage] = true
		out = append(out, e.Stage)
	}
	return out
}
