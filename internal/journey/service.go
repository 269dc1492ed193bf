// Package journey implements the stage-gated journey operations: each action
// is checked against the stage registry, its inputs are fingerprinted, and
// generating actions go through the orchestrator so the stage move commits
// together with the artifact.
package journey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/logging"
	"github.com/jonathan/career-journey/internal/orchestrator"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

// Generators produces artifact payloads from journey inputs.
type Generators interface {
	Questions(ctx context.Context, profile *types.Profile) (json.RawMessage, error)
	CareerPaths(ctx context.Context, profile *types.Profile, answers []types.Answer) (json.RawMessage, error)
	DetailedRoadmap(ctx context.Context, profile *types.Profile, path *types.CareerPath) (json.RawMessage, error)
	TopicAssessment(ctx context.Context, profile *types.Profile, careerTitle, phase string, topic *types.RoadmapTopic) (json.RawMessage, error)
	EvaluateTopic(ctx context.Context, assessment *types.TopicAssessment, answers []types.TopicAnswer) (json.RawMessage, error)
}

// Inputs carries the caller-supplied data for an action. Fields unused by the
// action are ignored.
type Inputs struct {
	Profile   *types.Profile
	Answers   []types.Answer
	Path      *types.CareerPath
	// Topic names a roadmap topic for the topic assessment actions.
	Topic        string
	TopicAnswers []types.TopicAnswer
	RequestID    string
}

// Outcome is the committed state after an action.
type Outcome struct {
	Journey  *types.JourneyState `json:"journey"`
	Artifact *types.Artifact     `json:"artifact,omitempty"`
	Source   orchestrator.Source `json:"source,omitempty"`
	// Stale is set when Artifact no longer matches the current inputs.
	Stale bool `json:"stale,omitempty"`
}

// ArtifactView is a stored artifact together with whether it still matches
// the inputs it would be generated from today.
type ArtifactView struct {
	*types.Artifact
	Stale bool `json:"stale"`
}

// Service runs journey actions.
type Service struct {
	store store.Store
	orch  *orchestrator.Orchestrator
	gens  Generators
	log   *logging.Logger
	now   func() time.Time
}

// NewService wires a journey service.
func NewService(s store.Store, orch *orchestrator.Orchestrator, gens Generators, log *logging.Logger) *Service {
	return &Service{
		store: s,
		orch:  orch,
		gens:  gens,
		log:   logging.OrNop(log).With("component", "journey"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Perform runs action for the user. The stage precondition is checked before
// any input validation or generation.
func (s *Service) Perform(ctx context.Context, userID uuid.UUID, action stages.Action, in Inputs) (*Outcome, error) {
	spec, err := stages.Lookup(action)
	if err != nil {
		return nil, &apperr.InvalidInputError{Field: "action", Message: err.Error()}
	}

	state, err := s.State(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !stages.IsValidPrecondition(action, state.CurrentStage) {
		return nil, &apperr.InvalidStageTransitionError{
			Action:  string(action),
			Current: state.CurrentStage,
			Allowed: spec.Preconditions,
		}
	}

	adv := store.Advance{
		Action: string(action),
		Expect: spec.Preconditions,
		To:     spec.Target(state.CurrentStage),
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	log := s.log.With("user_id", userID.String(), "action", string(action), "request_id", in.RequestID)

	var out *Outcome
	switch action {
	case stages.ActionRegisterBasic:
		out, err = s.registerBasic(ctx, userID, adv, in)
	case stages.ActionGenerateQuestions:
		out, err = s.generateQuestions(ctx, userID, spec, adv, state, in)
	case stages.ActionSubmitAnswers:
		out, err = s.submitAnswers(ctx, userID, spec, adv, state, in)
	case stages.ActionSelectCareerPath:
		out, err = s.selectCareerPath(ctx, userID, adv, in)
	case stages.ActionGenerateDetailedRoadmap:
		out, err = s.generateDetailedRoadmap(ctx, userID, spec, adv, state, in)
	case stages.ActionActivateRoadmap:
		out, err = s.activateRoadmap(ctx, userID, adv)
	case stages.ActionGenerateTopicAssessment:
		out, err = s.generateTopicAssessment(ctx, userID, spec, adv, state, in)
	case stages.ActionEvaluateTopicAssessment:
		out, err = s.evaluateTopicAssessment(ctx, userID, spec, adv, state, in)
	default:
		out, err = s.advance(ctx, userID, adv)
	}
	if err != nil {
		log.Warn("action failed", "stage", state.CurrentStage.String(), "kind", string(apperr.KindOf(err)), "error", err)
		return nil, err
	}

	log.Info("action completed", "from", state.CurrentStage.String(), "to", out.Journey.CurrentStage.String(), "source", string(out.Source))
	return out, nil
}

// RegisterBasic stores the profile and moves the journey to BasicRegistered.
func (s *Service) RegisterBasic(ctx context.Context, userID uuid.UUID, profile *types.Profile) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionRegisterBasic, Inputs{Profile: profile})
}

// GenerateQuestions returns the assessment questions, generating them when
// the profile changed since the last generation.
func (s *Service) GenerateQuestions(ctx context.Context, userID uuid.UUID) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionGenerateQuestions, Inputs{})
}

// SubmitAnswersGenerateCareerPaths turns the answers into career path suggestions.
func (s *Service) SubmitAnswersGenerateCareerPaths(ctx context.Context, userID uuid.UUID, answers []types.Answer) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionSubmitAnswers, Inputs{Answers: answers})
}

// SelectCareerPath records one of the generated career paths as the user's choice.
func (s *Service) SelectCareerPath(ctx context.Context, userID uuid.UUID, path *types.CareerPath) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionSelectCareerPath, Inputs{Path: path})
}

// GenerateDetailedRoadmap always generates a new roadmap. An empty path falls
// back to the journey's selected path.
func (s *Service) GenerateDetailedRoadmap(ctx context.Context, userID uuid.UUID, path *types.CareerPath) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionGenerateDetailedRoadmap, Inputs{Path: path})
}

// ActivateRoadmap starts the user on the current detailed roadmap. The
// roadmap is returned with the outcome.
func (s *Service) ActivateRoadmap(ctx context.Context, userID uuid.UUID) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionActivateRoadmap, Inputs{})
}

// PauseJourney suspends an active roadmap.
func (s *Service) PauseJourney(ctx context.Context, userID uuid.UUID) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionPauseJourney, Inputs{})
}

// ResumeJourney returns a paused journey to the active roadmap.
func (s *Service) ResumeJourney(ctx context.Context, userID uuid.UUID) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionResumeJourney, Inputs{})
}

// CompleteJourney marks an active roadmap as finished. It is terminal.
func (s *Service) CompleteJourney(ctx context.Context, userID uuid.UUID) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionCompleteJourney, Inputs{})
}

// GenerateTopicAssessment returns the skill check for a topic of the active
// roadmap, generating it when the profile or the roadmap changed.
func (s *Service) GenerateTopicAssessment(ctx context.Context, userID uuid.UUID, topic string) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionGenerateTopicAssessment, Inputs{Topic: topic})
}

// EvaluateTopicAssessment grades answers to the current assessment of a topic.
func (s *Service) EvaluateTopicAssessment(ctx context.Context, userID uuid.UUID, topic string, answers []types.TopicAnswer) (*Outcome, error) {
	return s.Perform(ctx, userID, stages.ActionEvaluateTopicAssessment, Inputs{Topic: topic, TopicAnswers: answers})
}

// UpdateProfile replaces the profile of a registered user without moving the
// stage. Artifacts generated from the old profile stop matching their
// fingerprint and are regenerated on next request.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, profile *types.Profile) (*Outcome, error) {
	state, err := s.State(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state.CurrentStage == types.StageAuthenticated {
		return nil, &apperr.InvalidStageTransitionError{
			Action:  "update_profile",
			Current: state.CurrentStage,
			Allowed: stages.AllowedNext(types.StageAuthenticated),
		}
	}
	if err := validateProfile(profile); err != nil {
		return nil, err
	}
	next, err := s.store.SaveProfile(ctx, userID, profile, nil)
	if err != nil {
		return nil, apperr.Storage("save profile", err)
	}
	return &Outcome{Journey: next}, nil
}

// State returns the user's journey, or the implicit initial journey when none
// is stored.
func (s *Service) State(ctx context.Context, userID uuid.UUID) (*types.JourneyState, error) {
	state, err := s.store.GetJourney(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("get journey", err)
	}
	if state == nil {
		state = types.NewJourneyState(userID, s.now())
	}
	return state, nil
}

// Progress summarises the user's position in the journey.
func (s *Service) Progress(ctx context.Context, userID uuid.UUID) (*stages.Progress, error) {
	state, err := s.State(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := stages.ProgressOf(state.CurrentStage)
	return &p, nil
}

// Profile returns the stored profile, or nil.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*types.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("get profile", err)
	}
	return p, nil
}

// Artifact returns the current artifact of type t flagged with its
// staleness, or nil.
func (s *Service) Artifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) (*ArtifactView, error) {
	a, err := s.artifact(ctx, userID, t)
	if err != nil || a == nil {
		return nil, err
	}
	stale, err := s.stale(ctx, userID, a)
	if err != nil {
		return nil, err
	}
	return &ArtifactView{Artifact: a, Stale: stale}, nil
}

func (s *Service) artifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) (*types.Artifact, error) {
	a, err := s.store.GetArtifact(ctx, userID, t)
	if err != nil {
		return nil, apperr.Storage("get artifact", err)
	}
	return a, nil
}

// ArtifactHistory returns every stored version of type t, newest first.
func (s *Service) ArtifactHistory(ctx context.Context, userID uuid.UUID, t types.ArtifactType) ([]types.Artifact, error) {
	versions, err := s.store.ListArtifactVersions(ctx, userID, t)
	if err != nil {
		return nil, apperr.Storage("list artifact versions", err)
	}
	return versions, nil
}

// InvalidateArtifact hides the current artifact of type t so the next request
// regenerates it. History is kept.
func (s *Service) InvalidateArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) error {
	if err := s.store.InvalidateArtifact(ctx, userID, t); err != nil {
		return apperr.Storage("invalidate artifact", err)
	}
	s.log.Info("artifact invalidated", "user_id", userID.String(), "type", string(t))
	return nil
}

// obtain runs a generating action through the orchestrator for artifact type
// t and returns the committed journey. state is the journey the action was
// checked against.
func (s *Service) obtain(ctx context.Context, userID uuid.UUID, spec stages.ActionSpec, t types.ArtifactType, adv store.Advance, state *types.JourneyState, fp, requestID string, gen orchestrator.GenerateFunc) (*Outcome, error) {
	res, err := s.orch.Obtain(ctx, orchestrator.Request{
		UserID:      userID,
		Type:        t,
		Fingerprint: fp,
		Policy:      spec.Policy,
		Generate:    gen,
		Advance:     &adv,
		Owner:       requestID,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case res.Source == orchestrator.SourceGenerated:
		state, err = s.State(ctx, userID)
	case state.CurrentStage == adv.To && adv.SelectedPath == nil:
		// Nothing to move.
	default:
		// Served from cache or from another caller's generation: make sure the
		// stage move happened. A move already applied is a no-op.
		state, err = s.store.AdvanceStage(ctx, userID, adv)
		if err != nil {
			err = apperr.Storage("advance stage", err)
		}
	}
	if err != nil {
		return nil, err
	}
	return &Outcome{Journey: state, Artifact: res.Artifact, Source: res.Source}, nil
}

func (s *Service) advance(ctx context.Context, userID uuid.UUID, adv store.Advance) (*Outcome, error) {
	state, err := s.store.AdvanceStage(ctx, userID, adv)
	if err != nil {
		return nil, apperr.Storage("advance stage", err)
	}
	return &Outcome{Journey: state}, nil
}

func (s *Service) loadProfile(ctx context.Context, userID uuid.UUID) (*types.Profile, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !profile.Complete() {
		return nil, &apperr.ProfileIncompleteError{Missing: []string{"career_goal"}}
	}
	return profile, nil
}

func (s *Service) requireArtifact(ctx context.Context, userID uuid.UUID, t types.ArtifactType) (*types.Artifact, error) {
	a, err := s.artifact(ctx, userID, t)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &apperr.ProfileIncompleteError{Missing: []string{string(t)}}
	}
	return a, nil
}

func validateProfile(profile *types.Profile) error {
	if profile == nil {
		return &apperr.InvalidInputError{Field: "profile", Message: "profile is required"}
	}
	if err := profile.Validate(); err != nil {
		return validationError("profile", err)
	}
	return nil
}

func validationError(field string, err error) error {
	return &apperr.InvalidInputError{Field: field, Message: fmt.Sprintf("%v", err)}
}
