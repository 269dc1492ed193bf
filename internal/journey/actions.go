package journey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/fingerprint"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

func (s *Service) registerBasic(ctx context.Context, userID uuid.UUID, adv store.Advance, in Inputs) (*Outcome, error) {
	if err := validateProfile(in.Profile); err != nil {
		return nil, err
	}
	state, err := s.store.SaveProfile(ctx, userID, in.Profile, &adv)
	if err != nil {
		return nil, apperr.Storage("save profile", err)
	}
	return &Outcome{Journey: state}, nil
}

func (s *Service) generateQuestions(ctx context.Context, userID uuid.UUID, spec stages.ActionSpec, adv store.Advance, state *types.JourneyState, in Inputs) (*Outcome, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint.Profile(profile)
	if err != nil {
		return nil, err
	}
	return s.obtain(ctx, userID, spec, spec.Artifact, adv, state, fp, in.RequestID, func(ctx context.Context) (json.RawMessage, error) {
		return s.gens.Questions(ctx, profile)
	})
}

func (s *Service) submitAnswers(ctx context.Context, userID uuid.UUID, spec stages.ActionSpec, adv store.Advance, state *types.JourneyState, in Inputs) (*Outcome, error) {
	answers := types.AnswerSet{Answers: in.Answers}
	if err := answers.Validate(); err != nil {
		return nil, validationError("answers", err)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	questionsArtifact, err := s.requireArtifact(ctx, userID, types.ArtifactQuestions)
	if err != nil {
		return nil, err
	}
	current, err := fingerprint.Profile(profile)
	if err != nil {
		return nil, err
	}
	if questionsArtifact.InputFingerprint != current {
		return nil, &apperr.ProfileIncompleteError{Missing: []string{"questions for the current profile"}}
	}
	questions, err := questionsArtifact.Questions()
	if err != nil {
		return nil, apperr.Storage("decode questions", err)
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	seen := make(map[string]bool, len(in.Answers))
	for _, a := range in.Answers {
		if !known[a.ID] {
			return nil, &apperr.InvalidInputError{Field: "answers", Message: fmt.Sprintf("unknown question id %q", a.ID)}
		}
		if seen[a.ID] {
			return nil, &apperr.InvalidInputError{Field: "answers", Message: fmt.Sprintf("question %q answered twice", a.ID)}
		}
		seen[a.ID] = true
	}

	fp, err := fingerprint.ProfileAnswers(profile, in.Answers)
	if err != nil {
		return nil, err
	}
	return s.obtain(ctx, userID, spec, spec.Artifact, adv, state, fp, in.RequestID, func(ctx context.Context) (json.RawMessage, error) {
		return s.gens.CareerPaths(ctx, profile, in.Answers)
	})
}

func (s *Service) selectCareerPath(ctx context.Context, userID uuid.UUID, adv store.Advance, in Inputs) (*Outcome, error) {
	if in.Path == nil || strings.TrimSpace(in.Path.Title) == "" {
		return nil, &apperr.InvalidInputError{Field: "path", Message: "career path title is required"}
	}
	artifact, err := s.requireArtifact(ctx, userID, types.ArtifactCareerPaths)
	if err != nil {
		return nil, err
	}
	paths, err := artifact.CareerPaths()
	if err != nil {
		return nil, apperr.Storage("decode career paths", err)
	}
	set := types.CareerPathSet{CareerPaths: paths}
	chosen, ok := set.Find(in.Path.Title)
	if !ok {
		return nil, &apperr.InvalidInputError{
			Field:   "path",
			Message: fmt.Sprintf("%q is not one of the generated career paths", in.Path.Title),
		}
	}
	adv.SelectedPath = chosen
	return s.advance(ctx, userID, adv)
}

func (s *Service) generateDetailedRoadmap(ctx context.Context, userID uuid.UUID, spec stages.ActionSpec, adv store.Advance, state *types.JourneyState, in Inputs) (*Outcome, error) {
	path := in.Path
	if path.IsZero() {
		path = state.SelectedPath
	}
	if path.IsZero() {
		return nil, &apperr.InvalidInputError{Field: "path", Message: "no career path selected"}
	}
	if err := path.Validate(); err != nil {
		return nil, validationError("path", err)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state.SelectedPath == nil || !strings.EqualFold(state.SelectedPath.Title, path.Title) {
		adv.SelectedPath = path
	}

	fp, err := fingerprint.ProfilePath(profile, path)
	if err != nil {
		return nil, err
	}
	return s.obtain(ctx, userID, spec, spec.Artifact, adv, state, fp, in.RequestID, func(ctx context.Context) (json.RawMessage, error) {
		return s.gens.DetailedRoadmap(ctx, profile, path)
	})
}

func (s *Service) activateRoadmap(ctx context.Context, userID uuid.UUID, adv store.Advance) (*Outcome, error) {
	roadmap, err := s.requireArtifact(ctx, userID, types.ArtifactDetailedRoadmap)
	if err != nil {
		return nil, err
	}
	out, err := s.advance(ctx, userID, adv)
	if err != nil {
		return nil, err
	}
	out.Artifact = roadmap
	out.Stale, err = s.stale(ctx, userID, roadmap)
	if err != nil {
		return nil, err
	}
	return out, nil
}
