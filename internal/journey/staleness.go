package journey

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/fingerprint"
	"github.com/jonathan/career-journey/internal/types"
)

// stale reports whether a stored artifact no longer matches the inputs it
// would be generated from now. Career paths depend on answers that are not
// stored, so they are judged by the questions they answered.
func (s *Service) stale(ctx context.Context, userID uuid.UUID, a *types.Artifact) (bool, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	if profile == nil {
		return true, nil
	}

	switch a.Type.Kind() {
	case types.ArtifactQuestions:
		return staleQuestions(profile, a)

	case types.ArtifactCareerPaths:
		questions, err := s.artifact(ctx, userID, types.ArtifactQuestions)
		if err != nil {
			return false, err
		}
		if questions == nil || questions.GeneratedAt.After(a.GeneratedAt) {
			return true, nil
		}
		return staleQuestions(profile, questions)

	case types.ArtifactDetailedRoadmap:
		state, err := s.State(ctx, userID)
		if err != nil {
			return false, err
		}
		if state.SelectedPath == nil {
			return true, nil
		}
		return differs(a, func() (string, error) { return fingerprint.ProfilePath(profile, state.SelectedPath) })

	case types.ArtifactTopicAssessment:
		roadmapArtifact, err := s.artifact(ctx, userID, types.ArtifactDetailedRoadmap)
		if err != nil {
			return false, err
		}
		if roadmapArtifact == nil {
			return true, nil
		}
		roadmap, err := roadmapArtifact.DetailedRoadmap()
		if err != nil {
			return false, apperr.Storage("decode detailed roadmap", err)
		}
		ref, ok := roadmap.FindTopic(a.Type.Topic())
		if !ok {
			return true, nil
		}
		return differs(a, func() (string, error) {
			return fingerprint.TopicAssessment(profile, roadmap.CareerTitle, &ref.Topic)
		})

	case types.ArtifactTopicEvaluation:
		assessment, err := s.artifact(ctx, userID, types.TopicAssessmentType(a.Type.Topic()))
		if err != nil {
			return false, err
		}
		if assessment == nil {
			return true, nil
		}
		eval, err := a.TopicEvaluation()
		if err != nil {
			return false, apperr.Storage("decode topic evaluation", err)
		}
		if eval.AssessmentID != assessment.ID {
			return true, nil
		}
		return s.stale(ctx, userID, assessment)
	}
	return false, nil
}

func staleQuestions(profile *types.Profile, questions *types.Artifact) (bool, error) {
	return differs(questions, func() (string, error) { return fingerprint.Profile(profile) })
}

func differs(a *types.Artifact, current func() (string, error)) (bool, error) {
	fp, err := current()
	if err != nil {
		return false, err
	}
	return fp != a.InputFingerprint, nil
}
