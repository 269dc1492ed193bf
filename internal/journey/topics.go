package journey

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/fingerprint"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

// Topic progress statuses.
const (
	TopicNotStarted      = "not_started"
	TopicAssessmentReady = "assessment_ready"
	TopicCompleted       = "completed"
)

// progressReaders bounds the concurrent artifact reads of RoadmapProgress.
const progressReaders = 8

// TopicProgress is the assessment state of one roadmap topic.
type TopicProgress struct {
	Topic             string     `json:"topic"`
	Phase             string     `json:"phase"`
	Status            string     `json:"status"`
	AssessmentVersion int        `json:"assessment_version,omitempty"`
	Score             *float64   `json:"score,omitempty"`
	Passed            bool       `json:"passed"`
	AssessedAt        *time.Time `json:"assessed_at,omitempty"`
}

// RoadmapProgress summarises the topic assessments of the current roadmap.
// Rates and the average are percentages rounded to two places; the average
// covers completed topics only.
type RoadmapProgress struct {
	CareerTitle    string          `json:"career_title"`
	Topics         []TopicProgress `json:"topics"`
	Total          int             `json:"total_topics"`
	Completed      int             `json:"completed_topics"`
	Passed         int             `json:"passed_topics"`
	CompletionRate float64         `json:"completion_rate"`
	PassRate       float64         `json:"pass_rate"`
	AverageScore   float64         `json:"average_score"`
}

// RoadmapProgress reports, per topic of the current roadmap, whether an
// assessment exists and how its latest evaluation scored. Evaluations of a
// superseded assessment do not count.
func (s *Service) RoadmapProgress(ctx context.Context, userID uuid.UUID) (*RoadmapProgress, error) {
	roadmap, err := s.currentRoadmap(ctx, userID)
	if err != nil {
		return nil, err
	}

	refs := roadmap.Topics()
	topics := make([]TopicProgress, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(progressReaders)
	for i, ref := range refs {
		g.Go(func() error {
			p, err := s.topicProgress(gctx, userID, ref)
			if err != nil {
				return err
			}
			topics[i] = *p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &RoadmapProgress{CareerTitle: roadmap.CareerTitle, Topics: topics, Total: len(topics)}
	var scoreSum float64
	for _, t := range topics {
		if t.Status != TopicCompleted {
			continue
		}
		out.Completed++
		scoreSum += *t.Score
		if t.Passed {
			out.Passed++
		}
	}
	if out.Total > 0 {
		out.CompletionRate = round2(float64(out.Completed) / float64(out.Total) * 100)
	}
	if out.Completed > 0 {
		out.PassRate = round2(float64(out.Passed) / float64(out.Completed) * 100)
		out.AverageScore = round2(scoreSum / float64(out.Completed))
	}
	return out, nil
}

func (s *Service) topicProgress(ctx context.Context, userID uuid.UUID, ref types.RoadmapTopicRef) (*TopicProgress, error) {
	p := &TopicProgress{Topic: ref.Topic.Topic, Phase: ref.Phase, Status: TopicNotStarted}

	assessment, err := s.artifact(ctx, userID, types.TopicAssessmentType(ref.Topic.Topic))
	if err != nil || assessment == nil {
		return p, err
	}
	p.Status = TopicAssessmentReady
	p.AssessmentVersion = assessment.Version

	evalArtifact, err := s.artifact(ctx, userID, types.TopicEvaluationType(ref.Topic.Topic))
	if err != nil || evalArtifact == nil {
		return p, err
	}
	eval, err := evalArtifact.TopicEvaluation()
	if err != nil {
		return nil, apperr.Storage("decode topic evaluation", err)
	}
	if eval.AssessmentID != assessment.ID {
		return p, nil
	}
	p.Status = TopicCompleted
	p.Score = &eval.Overall
	p.Passed = eval.Passed
	p.AssessedAt = &evalArtifact.GeneratedAt
	return p, nil
}

func (s *Service) generateTopicAssessment(ctx context.Context, userID uuid.UUID, spec stages.ActionSpec, adv store.Advance, state *types.JourneyState, in Inputs) (*Outcome, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	roadmap, ref, err := s.roadmapTopic(ctx, userID, in.Topic)
	if err != nil {
		return nil, err
	}
	topic := ref.Topic

	fp, err := fingerprint.TopicAssessment(profile, roadmap.CareerTitle, &topic)
	if err != nil {
		return nil, err
	}
	t := types.TopicAssessmentType(topic.Topic)
	return s.obtain(ctx, userID, spec, t, adv, state, fp, in.RequestID, func(ctx context.Context) (json.RawMessage, error) {
		return s.gens.TopicAssessment(ctx, profile, roadmap.CareerTitle, ref.Phase, &topic)
	})
}

func (s *Service) evaluateTopicAssessment(ctx context.Context, userID uuid.UUID, spec stages.ActionSpec, adv store.Advance, state *types.JourneyState, in Inputs) (*Outcome, error) {
	set := types.TopicAnswerSet{Answers: in.TopicAnswers}
	if err := set.Validate(); err != nil {
		return nil, validationError("answers", err)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	roadmap, ref, err := s.roadmapTopic(ctx, userID, in.Topic)
	if err != nil {
		return nil, err
	}

	assessmentArtifact, err := s.requireArtifact(ctx, userID, types.TopicAssessmentType(ref.Topic.Topic))
	if err != nil {
		return nil, err
	}
	current, err := fingerprint.TopicAssessment(profile, roadmap.CareerTitle, &ref.Topic)
	if err != nil {
		return nil, err
	}
	if assessmentArtifact.InputFingerprint != current {
		return nil, &apperr.ProfileIncompleteError{Missing: []string{"assessment for the current profile"}}
	}
	assessment, err := assessmentArtifact.TopicAssessment()
	if err != nil {
		return nil, apperr.Storage("decode topic assessment", err)
	}

	seen := make(map[string]bool, len(in.TopicAnswers))
	for _, a := range in.TopicAnswers {
		if _, ok := assessment.Question(a.QuestionID); !ok {
			return nil, &apperr.InvalidInputError{Field: "answers", Message: fmt.Sprintf("unknown question id %q", a.QuestionID)}
		}
		if seen[a.QuestionID] {
			return nil, &apperr.InvalidInputError{Field: "answers", Message: fmt.Sprintf("question %q answered twice", a.QuestionID)}
		}
		seen[a.QuestionID] = true
	}

	fp, err := fingerprint.TopicEvaluation(assessmentArtifact.ID, in.TopicAnswers)
	if err != nil {
		return nil, err
	}
	t := types.TopicEvaluationType(ref.Topic.Topic)
	return s.obtain(ctx, userID, spec, t, adv, state, fp, in.RequestID, func(ctx context.Context) (json.RawMessage, error) {
		payload, err := s.gens.EvaluateTopic(ctx, assessment, in.TopicAnswers)
		if err != nil {
			return nil, err
		}
		return stampEvaluation(payload, assessmentArtifact)
	})
}

// stampEvaluation ties a generated evaluation to the assessment it grades
// and applies the pass mark.
func stampEvaluation(payload json.RawMessage, assessment *types.Artifact) (json.RawMessage, error) {
	var eval types.TopicEvaluation
	if err := json.Unmarshal(payload, &eval); err != nil {
		return nil, fmt.Errorf("failed to decode topic evaluation: %w", err)
	}
	eval.AssessmentID = assessment.ID
	eval.AssessmentVersion = assessment.Version
	eval.Passed = eval.Overall >= types.PassingScore
	out, err := json.Marshal(eval)
	if err != nil {
		return nil, fmt.Errorf("failed to encode topic evaluation: %w", err)
	}
	return out, nil
}

func (s *Service) currentRoadmap(ctx context.Context, userID uuid.UUID) (*types.DetailedRoadmap, error) {
	a, err := s.requireArtifact(ctx, userID, types.ArtifactDetailedRoadmap)
	if err != nil {
		return nil, err
	}
	roadmap, err := a.DetailedRoadmap()
	if err != nil {
		return nil, apperr.Storage("decode detailed roadmap", err)
	}
	return roadmap, nil
}

func (s *Service) roadmapTopic(ctx context.Context, userID uuid.UUID, name string) (*types.DetailedRoadmap, *types.RoadmapTopicRef, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, &apperr.InvalidInputError{Field: "topic", Message: "topic is required"}
	}
	roadmap, err := s.currentRoadmap(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	ref, ok := roadmap.FindTopic(name)
	if !ok {
		return nil, nil, &apperr.InvalidInputError{Field: "topic", Message: fmt.Sprintf("%q is not a topic of the current roadmap", name)}
	}
	return roadmap, ref, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
