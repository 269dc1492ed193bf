//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// PassingScore is the overall percentage at which a topic assessment passes.
const PassingScore = 60.0

// Skill question formats.
const (
	SkillQuestionMCQ      = "mcq"
	SkillQuestionTheory   = "theory"
	SkillQuestionScenario = "scenario"
)

// SkillQuestion is one question of a topic assessment. Options are set for
// multiple choice questions only.
type SkillQuestion struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Format     string   `json:"format"`
	Difficulty string   `json:"difficulty"`
	Options    []string `json:"options,omitempty"`
}

// TopicAssessment is the payload of a topic assessment artifact.
type TopicAssessment struct {
	Topic       string          `json:"topic"`
	Phase       string          `json:"phase"`
	CareerTitle string          `json:"careerTitle"`
	Questions   []SkillQuestion `json:"questions"`
}

// Question returns the question with the given id.
func (a *TopicAssessment) Question(id string) (*SkillQuestion, bool) {
	for i := range a.Questions {
		if a.Questions[i].ID == id {
			return &a.Questions[i], true
		}
	}
	return nil, false
}

// TopicAnswer is a user's answer to one question of a topic assessment.
type TopicAnswer struct {
	QuestionID string `json:"question_id" validate:"required"`
	Answer     string `json:"answer" validate:"required"`
}

// TopicAnswerSet wraps a batch of topic answers for validation.
type TopicAnswerSet struct {
	Answers []TopicAnswer `json:"answers" validate:"required,min=1,dive"`
}

// Validate validates the answers using the validator.
func (s *TopicAnswerSet) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// TopicEvaluation is the payload of a topic evaluation artifact. Scores are
// percentages in [0, 100].
type TopicEvaluation struct {
	Topic             string    `json:"topic"`
	AssessmentID      uuid.UUID `json:"assessmentId"`
	AssessmentVersion int       `json:"assessmentVersion"`
	TotalQuestions    int       `json:"totalQuestions"`
	CorrectAnswers    int       `json:"correctAnswers"`
	IntermediateScore float64   `json:"intermediateScore"`
	AdvancedScore     float64   `json:"advancedScore"`
	TheoryScore       float64   `json:"theoryScore"`
	Overall           float64   `json:"overall"`
	Passed            bool      `json:"passed"`
	Summary           []string  `json:"summary"`
}

// TopicAssessment decodes the payload of a topic assessment artifact.
func (a *Artifact) TopicAssessment() (*TopicAssessment, error) {
	var out TopicAssessment
	if err := json.Unmarshal(a.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode topic assessment artifact: %w", err)
	}
	return &out, nil
}

// TopicEvaluation decodes the payload of a topic evaluation artifact.
func (a *Artifact) TopicEvaluation() (*TopicEvaluation, error) {
	var out TopicEvaluation
	if err := json.Unmarshal(a.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode topic evaluation artifact: %w", err)
	}
	return &out, nil
}

// RoadmapTopicRef locates a topic within a roadmap.
type RoadmapTopicRef struct {
	Phase string
	Topic RoadmapTopic
}

// Topics returns the roadmap's topics in order, keeping the first occurrence
// of topics that share a slug.
func (r *DetailedRoadmap) Topics() []RoadmapTopicRef {
	var out []RoadmapTopicRef
	seen := make(map[string]bool)
	for _, phase := range r.HighLevelRoadmap {
		for _, topic := range phase.Topics {
			slug := TopicSlug(topic.Topic)
			if slug == "" || seen[slug] {
				continue
			}
			seen[slug] = true
			out = append(out, RoadmapTopicRef{Phase: phase.Phase, Topic: topic})
		}
	}
	return out
}

// FindTopic returns the roadmap topic matching name by slug.
func (r *DetailedRoadmap) FindTopic(name string) (*RoadmapTopicRef, bool) {
	slug := TopicSlug(strings.TrimSpace(name))
	if slug == "" {
		return nil, false
	}
	for _, ref := range r.Topics() {
		if TopicSlug(ref.Topic.Topic) == slug {
			return &ref, true
		}
	}
	return nil, false
}
