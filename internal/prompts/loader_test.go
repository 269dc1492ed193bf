package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get(QuestionsFile, "generate-questions")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Not Sure")
	assert.Contains(t, prompt, "{{.Profile}}")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get(QuestionsFile, "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
	assert.NotPanics(t, func() {
		MustGet(DetailedRoadmapFile, "subtopics")
	})
}

func TestFormat(t *testing.T) {
	out := Format("Hello {{.Name}}, {{.Name}} likes {{.Thing}}", map[string]string{"Name": "Ana", "Thing": "Go"})
	assert.Equal(t, "Hello Ana, Ana likes Go", out)
}

func TestRender(t *testing.T) {
	out, err := Render(CareerPathsFile, "generate-career-paths", map[string]string{
		"PathCount": "3",
		"Profile":   `{"career_goal":"data"}`,
		"Answers":   `[]`,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "exactly 3 suitable career paths")
	assert.NotContains(t, out, "{{.")

	_, err = Render(CareerPathsFile, "generate-career-paths", map[string]string{"Profile": "{}"})
	assert.ErrorContains(t, err, "{{.Answers}}")
}

func TestList(t *testing.T) {
	for file, want := range map[string][]string{
		QuestionsFile:       {"generate-questions"},
		CareerPathsFile:     {"generate-career-paths", "strict-suffix"},
		DetailedRoadmapFile: {"high-level-roadmap", "subtopics"},
		TopicAssessmentFile: {"evaluate-answers", "generate-assessment"},
	} {
		keys, err := List(file)
		require.NoError(t, err, file)
		assert.Equal(t, want, keys)
	}
}
