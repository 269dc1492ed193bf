package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/types"
)

type artifactKey struct {
	userID uuid.UUID
	typ    types.ArtifactType
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	journeys  map[uuid.UUID]*types.JourneyState
	profiles  map[uuid.UUID]*types.Profile
	artifacts map[artifactKey][]*types.Artifact
	now       func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		journeys:  make(map[uuid.UUID]*types.JourneyState),
		profiles:  make(map[uuid.UUID]*types.Profile),
		artifacts: make(map[artifactKey][]*types.Artifact),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) GetArtifact(_ context.Context, userID uuid.UUID, t types.ArtifactType) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.artifacts[artifactKey{userID, t}]
	if len(versions) == 0 {
		return nil, nil
	}
	latest := versions[len(versions)-1]
	if !latest.Current() {
		return nil, nil
	}
	return cloneArtifact(latest), nil
}

func (m *Memory) PutArtifact(_ context.Context, userID uuid.UUID, t types.ArtifactType, payload json.RawMessage, fingerprint string, adv *Advance) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var next *types.JourneyState
	if adv != nil {
		next = m.journeyLocked(userID, now).Clone()
		if _, err := adv.Apply(next, now); err != nil {
			return nil, err
		}
	}

	key := artifactKey{userID, t}
	versions := m.artifacts[key]
	version := 1
	if n := len(versions); n > 0 {
		prev := versions[n-1]
		version = prev.Version + 1
		if prev.SupersededAt == nil {
			prev.SupersededAt = &now
		}
	}

	a := &types.Artifact{
		ID:               uuid.New(),
		UserID:           userID,
		Type:             t,
		Payload:          append(json.RawMessage(nil), payload...),
		InputFingerprint: fingerprint,
		GeneratedAt:      now,
		Version:          version,
	}
	m.artifacts[key] = append(versions, a)
	if next != nil {
		m.journeys[userID] = next
	}
	return cloneArtifact(a), nil
}

func (m *Memory) InvalidateArtifact(_ context.Context, userID uuid.UUID, t types.ArtifactType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.artifacts[artifactKey{userID, t}]
	if len(versions) == 0 {
		return nil
	}
	latest := versions[len(versions)-1]
	if latest.InvalidatedAt == nil {
		now := m.now()
		latest.InvalidatedAt = &now
	}
	return nil
}

func (m *Memory) ListArtifactVersions(_ context.Context, userID uuid.UUID, t types.ArtifactType) ([]types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.artifacts[artifactKey{userID, t}]
	out := make([]types.Artifact, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, *cloneArtifact(versions[i]))
	}
	return out, nil
}

func (m *Memory) GetJourney(_ context.Context, userID uuid.UUID) (*types.JourneyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.journeys[userID].Clone(), nil
}

func (m *Memory) AdvanceStage(_ context.Context, userID uuid.UUID, adv Advance) (*types.JourneyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	next := m.journeyLocked(userID, now).Clone()
	if _, err := adv.Apply(next, now); err != nil {
		return nil, err
	}
	m.journeys[userID] = next
	return next.Clone(), nil
}

func (m *Memory) SaveProfile(_ context.Context, userID uuid.UUID, profile *types.Profile, adv *Advance) (*types.JourneyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	next := m.journeyLocked(userID, now).Clone()
	if adv != nil {
		if _, err := adv.Apply(next, now); err != nil {
			return nil, err
		}
	}
	m.profiles[userID] = profile.Clone()
	m.journeys[userID] = next
	return next.Clone(), nil
}

func (m *Memory) GetProfile(_ context.Context, userID uuid.UUID) (*types.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

// journeyLocked returns the stored journey or the implicit initial one.
// Callers must hold m.mu and must not mutate the result.
func (m *Memory) journeyLocked(userID uuid.UUID, now time.Time) *types.JourneyState {
	if j, ok := m.journeys[userID]; ok {
		return j
	}
	return types.NewJourneyState(userID, now)
}

func cloneArtifact(a *types.Artifact) *types.Artifact {
	out := *a
	out.Payload = append(json.RawMessage(nil), a.Payload...)
	return &out
}
