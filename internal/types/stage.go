// Package types provides type definitions for structured data used throughout the career-journey system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
)

// Stage is a position in a user's career journey. The set of stages is closed.
type Stage int

// Journey stages in their natural order. JourneyPaused sits outside the linear
// order and only connects to RoadmapActive.
const (
	StageAuthenticated Stage = iota + 1
	StageBasicRegistered
	StageProfileCompleted
	StageCareerPathsGenerated
	StageCareerPathSelected
	StageRoadmapGenerated
	StageRoadmapActive
	StageJourneyCompleted
	StageJourneyPaused
)

var stageNames = map[Stage]string{
	StageAuthenticated:        "AUTHENTICATED",
	StageBasicRegistered:      "BASIC_REGISTERED",
	StageProfileCompleted:     "PROFILE_COMPLETED",
	StageCareerPathsGenerated: "CAREER_PATHS_GENERATED",
	StageCareerPathSelected:   "CAREER_PATH_SELECTED",
	StageRoadmapGenerated:     "ROADMAP_GENERATED",
	StageRoadmapActive:        "ROADMAP_ACTIVE",
	StageJourneyCompleted:     "JOURNEY_COMPLETED",
	StageJourneyPaused:        "JOURNEY_PAUSED",
}

// AllStages returns every stage in declaration order.
func AllStages() []Stage {
	return []Stage{
		StageAuthenticated,
		StageBasicRegistered,
		StageProfileCompleted,
		StageCareerPathsGenerated,
		StageCareerPathSelected,
		StageRoadmapGenerated,
		StageRoadmapActive,
		StageJourneyCompleted,
		StageJourneyPaused,
	}
}

// String returns the persisted name of the stage.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Valid reports whether s is one of the declared stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// ParseStage converts a persisted stage name back into a Stage.
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// MarshalJSON encodes the stage by name.
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a stage name.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
