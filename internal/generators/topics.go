package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jonathan/career-journey/internal/llm"
	"github.com/jonathan/career-journey/internal/prompts"
	"github.com/jonathan/career-journey/internal/types"
)

// TopicQuestionCount is the number of questions in a topic assessment.
const TopicQuestionCount = 5

// Question difficulties used by topic assessments.
const (
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

// TopicAssessment writes a short skill check for one roadmap topic.
func (g *LLM) TopicAssessment(ctx context.Context, profile *types.Profile, careerTitle, phase string, topic *types.RoadmapTopic) (json.RawMessage, error) {
	prompt, err := prompts.Render(prompts.TopicAssessmentFile, "generate-assessment", map[string]string{
		"CareerTitle":   careerTitle,
		"Phase":         phase,
		"Topic":         topic.Topic,
		"Subtopics":     strings.Join(topic.Subtopics, ", "),
		"QuestionCount": strconv.Itoa(TopicQuestionCount),
		"Profile":       profileJSON(profile),
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.call(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, err
	}
	var out struct {
		Questions []types.SkillQuestion `json:"questions"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ParseError{Artifact: types.ArtifactTopicAssessment, Message: "unexpected assessment shape", Cause: err}
	}
	questions := normalizeSkillQuestions(out.Questions)
	if len(questions) == 0 {
		return nil, &ParseError{Artifact: types.ArtifactTopicAssessment, Message: "model returned no questions"}
	}

	g.log.Info("generated topic assessment", "topic", topic.Topic, "count", len(questions))
	return encode(types.TopicAssessmentType(topic.Topic), types.TopicAssessment{
		Topic:       topic.Topic,
		Phase:       phase,
		CareerTitle: careerTitle,
		Questions:   questions,
	})
}

// EvaluateTopic grades answers to a topic assessment.
func (g *LLM) EvaluateTopic(ctx context.Context, assessment *types.TopicAssessment, answers []types.TopicAnswer) (json.RawMessage, error) {
	questions, err := json.MarshalIndent(assessment.Questions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode assessment questions: %w", err)
	}
	prompt, err := prompts.Render(prompts.TopicAssessmentFile, "evaluate-answers", map[string]string{
		"Topic":     assessment.Topic,
		"Questions": string(questions),
		"Answers":   topicAnswersText(answers),
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.call(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, err
	}
	var eval types.TopicEvaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		return nil, &ParseError{Artifact: types.ArtifactTopicEvaluation, Message: "unexpected evaluation shape", Cause: err}
	}

	eval.Topic = assessment.Topic
	eval.TotalQuestions = len(assessment.Questions)
	eval.CorrectAnswers = min(max(eval.CorrectAnswers, 0), eval.TotalQuestions)
	eval.IntermediateScore = clampScore(eval.IntermediateScore)
	eval.AdvancedScore = clampScore(eval.AdvancedScore)
	eval.TheoryScore = clampScore(eval.TheoryScore)
	eval.Overall = clampScore(eval.Overall)
	if eval.Summary == nil {
		eval.Summary = []string{}
	}

	g.log.Info("evaluated topic assessment", "topic", assessment.Topic, "overall", eval.Overall)
	return encode(types.TopicEvaluationType(assessment.Topic), eval)
}

// normalizeSkillQuestions drops blank questions, caps the list and assigns
// q1..qN ids where the model omitted or repeated them. Unknown formats are
// treated as multiple choice when options are present.
func normalizeSkillQuestions(in []types.SkillQuestion) []types.SkillQuestion {
	out := make([]types.SkillQuestion, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, q := range in {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			continue
		}
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" || seen[q.ID] {
			q.ID = "q" + strconv.Itoa(len(out)+1)
		}
		seen[q.ID] = true

		q.Format = strings.ToLower(strings.TrimSpace(q.Format))
		switch q.Format {
		case types.SkillQuestionMCQ, types.SkillQuestionTheory, types.SkillQuestionScenario:
		default:
			if len(q.Options) == 0 {
				q.Format = types.SkillQuestionTheory
			} else {
				q.Format = types.SkillQuestionMCQ
			}
		}
		if q.Format != types.SkillQuestionMCQ {
			q.Options = nil
		}
		if strings.TrimSpace(q.Difficulty) == "" {
			q.Difficulty = DifficultyMedium
		}

		out = append(out, q)
		if len(out) == TopicQuestionCount {
			break
		}
	}
	return out
}

// scoreTopic grades an assessment from per-question results.
func scoreTopic(assessment *types.TopicAssessment, correct map[string]bool) types.TopicEvaluation {
	eval := types.TopicEvaluation{
		Topic:          assessment.Topic,
		TotalQuestions: len(assessment.Questions),
		Summary:        []string{},
	}
	var medium, mediumRight, hard, hardRight, theory, theoryRight int
	for _, q := range assessment.Questions {
		right := correct[q.ID]
		if right {
			eval.CorrectAnswers++
		} else {
			eval.Summary = append(eval.Summary, fmt.Sprintf("Review %s: %s", q.ID, q.Question))
		}
		if strings.EqualFold(q.Difficulty, DifficultyHard) {
			hard++
			if right {
				hardRight++
			}
		} else {
			medium++
			if right {
				mediumRight++
			}
		}
		if q.Format == types.SkillQuestionTheory {
			theory++
			if right {
				theoryRight++
			}
		}
	}
	eval.IntermediateScore = percent(mediumRight, medium)
	eval.AdvancedScore = percent(hardRight, hard)
	eval.TheoryScore = percent(theoryRight, theory)
	eval.Overall = percent(eval.CorrectAnswers, eval.TotalQuestions)
	if eval.CorrectAnswers == eval.TotalQuestions {
		eval.Summary = append(eval.Summary, "All answers correct.")
	}
	return eval
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Round(min(max(v, 0), 100)*100) / 100
}

func topicAnswersText(answers []types.TopicAnswer) string {
	var b strings.Builder
	for _, a := range answers {
		fmt.Fprintf(&b, "- [%s] %s\n", a.QuestionID, a.Answer)
	}
	return b.String()
}
