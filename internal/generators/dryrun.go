package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/career-journey/internal/types"
)

// DryRun returns canned artifacts without calling any model. It backs the
// "dry_run" provider used for local runs and demos.
type DryRun struct{}

// Questions returns MaxQuestions placeholder questions.
func (DryRun) Questions(ctx context.Context, _ *types.Profile) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := types.QuestionSet{Questions: make([]types.Question, 0, MaxQuestions)}
	for i := 1; i <= MaxQuestions; i++ {
		set.Questions = append(set.Questions, types.Question{
			ID:   fmt.Sprintf("q%d", i),
			Text: fmt.Sprintf("Mock question %d for career exploration?", i),
		})
	}
	return encode(types.ArtifactQuestions, set)
}

// CareerPaths returns PathCount placeholder career paths.
func (DryRun) CareerPaths(ctx context.Context, _ *types.Profile, _ []types.Answer) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := types.CareerPathSet{CareerPaths: []types.CareerPath{
		{
			Title:             "Mock Career Path 1",
			Description:       "A mock career path for exercising the journey without a model.",
			TimeToAchieve:     "6-12 months",
			AverageSalary:     "$70,000-100,000 (USA)",
			KeySkillsRequired: []string{"Skill 1", "Skill 2", "Skill 3"},
			LearningRoadmap:   []string{"Learn basics", "Practice", "Build projects"},
			AIRecommendation:  map[string]any{"reason": "Mock recommendation."},
		},
		{
			Title:             "Mock Career Path 2",
			Description:       "Another mock career path.",
			TimeToAchieve:     "12-18 months",
			AverageSalary:     "$80,000-120,000 (USA)",
			KeySkillsRequired: []string{"Advanced Skill 1", "Advanced Skill 2"},
			LearningRoadmap:   []string{"Advanced learning", "Specialization"},
			AIRecommendation:  map[string]any{"reason": "Builds on existing skills."},
		},
		{
			Title:             "Mock Career Path 3",
			Description:       "Third mock career option.",
			TimeToAchieve:     "8-14 months",
			AverageSalary:     "$75,000-110,000 (USA)",
			KeySkillsRequired: []string{"Core Skill 1", "Core Skill 2"},
			LearningRoadmap:   []string{"Foundations", "Portfolio"},
			AIRecommendation:  map[string]any{"reason": "Balanced option."},
		},
	}}
	return encode(types.ArtifactCareerPaths, set)
}

// DetailedRoadmap returns a three-phase placeholder roadmap for the path.
func (DryRun) DetailedRoadmap(ctx context.Context, _ *types.Profile, path *types.CareerPath) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	title := "Mock Career Path"
	if path != nil && path.Title != "" {
		title = path.Title
	}
	roadmap := types.DetailedRoadmap{CareerTitle: title}
	for _, phase := range []string{"Beginner", "Intermediate", "Advanced"} {
		roadmap.HighLevelRoadmap = append(roadmap.HighLevelRoadmap, types.RoadmapPhase{
			Phase:    phase,
			Duration: "3 months",
			Topics: []types.RoadmapTopic{
				{Topic: phase + " topic 1", Subtopics: []string{"Subtopic A", "Subtopic B"}},
				{Topic: phase + " topic 2", Subtopics: []string{"Subtopic C", "Subtopic D"}},
			},
			Resources: []string{"Official docs: https://example.com/docs"},
			Outcomes:  []string{"Complete the " + phase + " phase"},
		})
	}
	roadmap.CapstoneProjects = []types.CapstoneProject{
		{Title: "Mock capstone", Duration: "4 weeks", Description: "Build an end-to-end project."},
	}
	return encode(types.ArtifactDetailedRoadmap, roadmap)
}

// TopicAssessment returns TopicQuestionCount placeholder questions: three
// multiple choice, one theory and one scenario.
func (DryRun) TopicAssessment(ctx context.Context, _ *types.Profile, careerTitle, phase string, topic *types.RoadmapTopic) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := []string{"A) Option A", "B) Option B", "C) Option C", "D) Option D"}
	assessment := types.TopicAssessment{
		Topic:       topic.Topic,
		Phase:       phase,
		CareerTitle: careerTitle,
		Questions: []types.SkillQuestion{
			{ID: "q1", Question: "Mock multiple choice question 1 on " + topic.Topic + "?", Format: types.SkillQuestionMCQ, Difficulty: DifficultyMedium, Options: options},
			{ID: "q2", Question: "Mock multiple choice question 2 on " + topic.Topic + "?", Format: types.SkillQuestionMCQ, Difficulty: DifficultyMedium, Options: options},
			{ID: "q3", Question: "Mock multiple choice question 3 on " + topic.Topic + "?", Format: types.SkillQuestionMCQ, Difficulty: DifficultyHard, Options: options},
			{ID: "q4", Question: "Explain the core idea behind " + topic.Topic + ".", Format: types.SkillQuestionTheory, Difficulty: DifficultyMedium},
			{ID: "q5", Question: "Describe how you would apply " + topic.Topic + " on a real project.", Format: types.SkillQuestionScenario, Difficulty: DifficultyHard},
		},
	}
	return encode(types.TopicAssessmentType(topic.Topic), assessment)
}

// EvaluateTopic grades deterministically: option A is the right choice and
// any non-blank written answer counts as correct.
func (DryRun) EvaluateTopic(ctx context.Context, assessment *types.TopicAssessment, answers []types.TopicAnswer) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	given := make(map[string]string, len(answers))
	for _, a := range answers {
		given[a.QuestionID] = strings.TrimSpace(a.Answer)
	}
	correct := make(map[string]bool, len(assessment.Questions))
	for _, q := range assessment.Questions {
		answer := given[q.ID]
		if q.Format == types.SkillQuestionMCQ {
			correct[q.ID] = strings.HasPrefix(strings.ToUpper(answer), "A")
		} else {
			correct[q.ID] = answer != ""
		}
	}
	return encode(types.TopicEvaluationType(assessment.Topic), scoreTopic(assessment, correct))
}
