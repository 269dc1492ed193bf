// Package generators turns journey inputs into artifact payloads by prompting
// an LLM and validating what comes back.
package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/career-journey/internal/llm"
	"github.com/jonathan/career-journey/internal/logging"
	"github.com/jonathan/career-journey/internal/prompts"
	"github.com/jonathan/career-journey/internal/schemas"
	"github.com/jonathan/career-journey/internal/types"
)

const (
	// MaxQuestions is the number of assessment questions requested and kept.
	MaxQuestions = 15
	// PathCount is the exact number of career paths a generation must yield.
	PathCount = 3
)

// LLM generates artifacts with an llm.Client.
type LLM struct {
	client llm.Client
	log    *logging.Logger
}

// New creates an LLM-backed generator set.
func New(client llm.Client, log *logging.Logger) *LLM {
	return &LLM{
		client: client,
		log:    logging.OrNop(log).With("component", "generators"),
	}
}

// Questions generates up to MaxQuestions assessment questions for the profile.
func (g *LLM) Questions(ctx context.Context, profile *types.Profile) (json.RawMessage, error) {
	prompt, err := prompts.Render(prompts.QuestionsFile, "generate-questions", map[string]string{
		"MaxQuestions": strconv.Itoa(MaxQuestions),
		"Profile":      profileJSON(profile),
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.call(ctx, prompt, llm.TierLite)
	if err != nil {
		return nil, err
	}

	var set types.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, &ParseError{Artifact: types.ArtifactQuestions, Message: "unexpected questions shape", Cause: err}
	}
	set.Questions = normalizeQuestions(set.Questions)
	if len(set.Questions) == 0 {
		return nil, &ParseError{Artifact: types.ArtifactQuestions, Message: "model returned no questions"}
	}

	g.log.Info("generated questions", "count", len(set.Questions))
	return encode(types.ArtifactQuestions, set)
}

// CareerPaths suggests exactly PathCount career paths. An unusable first
// answer is retried once with a stricter prompt.
func (g *LLM) CareerPaths(ctx context.Context, profile *types.Profile, answers []types.Answer) (json.RawMessage, error) {
	base, err := prompts.Render(prompts.CareerPathsFile, "generate-career-paths", map[string]string{
		"PathCount": strconv.Itoa(PathCount),
		"Profile":   profileJSON(profile),
		"Answers":   answersText(answers),
	})
	if err != nil {
		return nil, err
	}

	set, firstErr := g.careerPaths(ctx, base)
	if firstErr == nil {
		return encode(types.ArtifactCareerPaths, set)
	}
	if ctx.Err() != nil {
		return nil, firstErr
	}

	g.log.Warn("career path generation unusable, retrying in strict mode", "error", firstErr)
	suffix, err := prompts.Render(prompts.CareerPathsFile, "strict-suffix", map[string]string{
		"Problem": firstErr.Error(),
	})
	if err != nil {
		return nil, err
	}
	set, retryErr := g.careerPaths(ctx, base+suffix)
	if retryErr != nil {
		return nil, fmt.Errorf("career paths failed after retry (first: %v): %w", firstErr, retryErr)
	}
	return encode(types.ArtifactCareerPaths, set)
}

func (g *LLM) careerPaths(ctx context.Context, prompt string) (*types.CareerPathSet, error) {
	raw, err := g.call(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, err
	}
	if err := schemas.ValidateArtifact(types.ArtifactCareerPaths, raw); err != nil {
		return nil, &ParseError{Artifact: types.ArtifactCareerPaths, Message: "schema mismatch", Cause: err}
	}

	var set types.CareerPathSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, &ParseError{Artifact: types.ArtifactCareerPaths, Message: "unexpected career paths shape", Cause: err}
	}
	set.CareerPaths = dedupePaths(set.CareerPaths)
	if len(set.CareerPaths) < PathCount {
		return nil, &ParseError{
			Artifact: types.ArtifactCareerPaths,
			Message:  fmt.Sprintf("expected %d distinct career paths, got %d", PathCount, len(set.CareerPaths)),
		}
	}
	set.CareerPaths = set.CareerPaths[:PathCount]
	return &set, nil
}

// highLevelRoadmap is the first-pass roadmap, whose topics are plain names.
type highLevelRoadmap struct {
	CareerTitle      string `json:"careerTitle"`
	HighLevelRoadmap []struct {
		Phase     string   `json:"phase"`
		Duration  string   `json:"duration"`
		Topics    []string `json:"topics"`
		Resources []string `json:"resources"`
		Outcomes  []string `json:"outcomes"`
	} `json:"highLevelRoadmap"`
	CapstoneProjects []types.CapstoneProject `json:"capstoneProjects"`
}

type subtopicBreakdown struct {
	SubtopicsBreakdown []struct {
		Phase  string               `json:"phase"`
		Topics []types.RoadmapTopic `json:"topics"`
	} `json:"subtopicsBreakdown"`
}

// DetailedRoadmap builds a phased roadmap for the path in two passes: a
// high-level plan, then subtopics for every topic of that plan.
func (g *LLM) DetailedRoadmap(ctx context.Context, profile *types.Profile, path *types.CareerPath) (json.RawMessage, error) {
	pathJSON, err := json.MarshalIndent(path, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode career path: %w", err)
	}
	prompt, err := prompts.Render(prompts.DetailedRoadmapFile, "high-level-roadmap", map[string]string{
		"Path":    string(pathJSON),
		"Profile": profileJSON(profile),
	})
	if err != nil {
		return nil, err
	}

	rawPlan, err := g.call(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return nil, err
	}
	var plan highLevelRoadmap
	if err := json.Unmarshal(rawPlan, &plan); err != nil {
		return nil, &ParseError{Artifact: types.ArtifactDetailedRoadmap, Message: "unexpected high-level roadmap shape", Cause: err}
	}
	if len(plan.HighLevelRoadmap) == 0 {
		return nil, &ParseError{Artifact: types.ArtifactDetailedRoadmap, Message: "high-level roadmap has no phases"}
	}

	prompt, err = prompts.Render(prompts.DetailedRoadmapFile, "subtopics", map[string]string{
		"Roadmap": string(rawPlan),
	})
	if err != nil {
		return nil, err
	}
	rawSubtopics, err := g.call(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("subtopics pass: %w", err)
	}
	var breakdown subtopicBreakdown
	if err := json.Unmarshal(rawSubtopics, &breakdown); err != nil {
		return nil, &ParseError{Artifact: types.ArtifactDetailedRoadmap, Message: "unexpected subtopics shape", Cause: err}
	}

	roadmap := merge(&plan, &breakdown)
	if roadmap.CareerTitle == "" {
		roadmap.CareerTitle = path.Title
	}
	g.log.Info("generated detailed roadmap", "career", roadmap.CareerTitle, "phases", len(roadmap.HighLevelRoadmap))
	return encode(types.ArtifactDetailedRoadmap, roadmap)
}

// merge attaches subtopics to the plan's topics, matching phase and topic
// names case-insensitively. Topics without a breakdown keep no subtopics.
func merge(plan *highLevelRoadmap, breakdown *subtopicBreakdown) *types.DetailedRoadmap {
	subtopics := make(map[string]map[string][]string)
	for _, phase := range breakdown.SubtopicsBreakdown {
		key := normKey(phase.Phase)
		if subtopics[key] == nil {
			subtopics[key] = make(map[string][]string)
		}
		for _, topic := range phase.Topics {
			subtopics[key][normKey(topic.Topic)] = topic.Subtopics
		}
	}

	out := &types.DetailedRoadmap{
		CareerTitle:      strings.TrimSpace(plan.CareerTitle),
		HighLevelRoadmap: make([]types.RoadmapPhase, 0, len(plan.HighLevelRoadmap)),
		CapstoneProjects: plan.CapstoneProjects,
	}
	for _, phase := range plan.HighLevelRoadmap {
		topics := make([]types.RoadmapTopic, 0, len(phase.Topics))
		for _, name := range phase.Topics {
			topics = append(topics, types.RoadmapTopic{
				Topic:     name,
				Subtopics: subtopics[normKey(phase.Phase)][normKey(name)],
			})
		}
		out.HighLevelRoadmap = append(out.HighLevelRoadmap, types.RoadmapPhase{
			Phase:     phase.Phase,
			Duration:  phase.Duration,
			Topics:    topics,
			Resources: phase.Resources,
			Outcomes:  phase.Outcomes,
		})
	}
	return out
}

func (g *LLM) call(ctx context.Context, prompt string, tier llm.ModelTier) (json.RawMessage, error) {
	text, err := g.client.GenerateJSON(ctx, prompt, tier)
	if err != nil {
		return nil, &APICallError{Model: g.client.GetModel(tier), Message: "model call failed", Cause: err}
	}
	raw, err := llm.ExtractJSONObject(text)
	if err != nil {
		return nil, &ParseError{Message: "no usable JSON in model output", Cause: err}
	}
	return raw, nil
}

// normalizeQuestions drops blank questions, caps the list at MaxQuestions and
// assigns q1..qN ids where the model omitted or repeated them.
func normalizeQuestions(in []types.Question) []types.Question {
	out := make([]types.Question, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, q := range in {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			continue
		}
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" || seen[q.ID] {
			q.ID = "q" + strconv.Itoa(len(out)+1)
		}
		seen[q.ID] = true
		out = append(out, q)
		if len(out) == MaxQuestions {
			break
		}
	}
	return out
}

func dedupePaths(in []types.CareerPath) []types.CareerPath {
	out := make([]types.CareerPath, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, p := range in {
		key := normKey(p.Title)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func encode(t types.ArtifactType, v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", t, err)
	}
	if err := schemas.ValidateArtifact(t, payload); err != nil {
		return nil, &ParseError{Artifact: t, Message: "schema mismatch", Cause: err}
	}
	return payload, nil
}

func profileJSON(p *types.Profile) string {
	if p == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func answersText(answers []types.Answer) string {
	var b strings.Builder
	for _, a := range answers {
		fmt.Fprintf(&b, "- [%s] %s\n  Answer: %s\n", a.ID, a.Text, a.Answer)
	}
	return b.String()
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
