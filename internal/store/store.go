// Package store defines the persistence contracts for journeys, profiles and
// generated artifacts, and provides an in-memory implementation.
package store

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/types"
)

// ArtifactStore persists versioned artifacts keyed by (user, type).
type ArtifactStore interface {
	// GetArtifact returns the current version, or nil when there is none or
	// it has been invalidated.
	GetArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) (*types.Artifact, error)
	// PutArtifact stores a new version, superseding the previous one. When adv
	// is non-nil the journey stage moves in the same transaction.
	PutArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType, payload json.RawMessage, fingerprint string, adv *Advance) (*types.Artifact, error)
	// InvalidateArtifact hides the current version. History is kept.
	InvalidateArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) error
	// ListArtifactVersions returns every stored version, newest first.
	ListArtifactVersions(ctx context.Context, userID uuid.UUID, t types.ArtifactType) ([]types.Artifact, error)
}

// JourneyStore persists journey state and the profile that feeds generation.
type JourneyStore interface {
	// GetJourney returns nil when the user has no persisted journey.
	GetJourney(ctx context.Context, userID uuid.UUID) (*types.JourneyState, error)
	AdvanceStage(ctx context.Context, userID uuid.UUID, adv Advance) (*types.JourneyState, error)
	// SaveProfile stores the profile and, when adv is non-nil, moves the stage
	// in the same transaction.
	SaveProfile(ctx context.Context, userID uuid.UUID, profile *types.Profile, adv *Advance) (*types.JourneyState, error)
	// GetProfile returns nil when the user has no profile.
	GetProfile(ctx context.Context, userID uuid.UUID) (*types.Profile, error)
}

// Store is the full persistence surface used by the journey service.
type Store interface {
	ArtifactStore
	JourneyStore
	Close() error
}

// Advance describes a compare-and-set stage move.
type Advance struct {
	Action string
	// Expect lists the stages the journey may be in for the move to apply.
	Expect []types.Stage
	To     types.Stage
	// SelectedPath, when set, replaces the journey's selected career path.
	SelectedPath *types.CareerPath
}

// Apply moves state according to adv. A journey already at adv.To is left in
// place and no history is appended. It returns whether the stage changed.
func (adv Advance) Apply(state *types.JourneyState, now time.Time) (bool, error) {
	changed := false
	if state.CurrentStage != adv.To {
		if !slices.Contains(adv.Expect, state.CurrentStage) || !stages.CanTransition(state.CurrentStage, adv.To) {
			return false, &apperr.InvalidStageTransitionError{
				Action:  adv.Action,
				Current: state.CurrentStage,
				Allowed: adv.Expect,
			}
		}
		state.CurrentStage = adv.To
		state.StageHistory = append(state.StageHistory, types.StageEntry{
			Stage:     adv.To,
			Action:    adv.Action,
			EnteredAt: now,
		})
		changed = true
	}
	if adv.SelectedPath != nil {
		path := *adv.SelectedPath
		state.SelectedPath = &path
	}
	state.UpdatedAt = now
	return changed, nil
}
