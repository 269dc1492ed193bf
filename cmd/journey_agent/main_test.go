package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/types"
)

// writeTestConfig writes a YAML config pointing at a fresh SQLite file with
// the dry run provider.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "store_backend: sqlite\n" +
		"sqlite_path: " + filepath.Join(dir, "journey.db") + "\n" +
		"llm_provider: dry_run\n" +
		"log_mode: development\n" +
		"log_level: error\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStagesCommand(t *testing.T) {
	out, err := execute(t, "stages")
	require.NoError(t, err)

	for _, st := range types.AllStages() {
		assert.Contains(t, out, st.String())
	}
	assert.Contains(t, out, string(stages.ActionGenerateDetailedRoadmap))
}

func TestCommands_RequireUser(t *testing.T) {
	cfg := writeTestConfig(t)
	for _, name := range []string{"status", "history", "invalidate", "act", "topics"} {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, name, "-c", cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "user")
		})
	}
}

func TestStatusCommand_InvalidUser(t *testing.T) {
	_, err := execute(t, "status", "-c", writeTestConfig(t), "-u", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user id")
}

func TestHistoryCommand_UnknownType(t *testing.T) {
	_, err := execute(t, "history", "-c", writeTestConfig(t), "-u", uuid.NewString(), "-t", "resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown artifact type")
}

func TestActCommand_UnknownAction(t *testing.T) {
	_, err := execute(t, "act", "-c", writeTestConfig(t), "-u", uuid.NewString(), "-a", "teleport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestMigrateCommand(t *testing.T) {
	out, err := execute(t, "migrate", "-c", writeTestConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Schema applied to sqlite store")
}

func TestMigrateCommand_MemoryStore(t *testing.T) {
	path := writeFile(t, "config.json", `{"store_backend": "memory", "llm_provider": "dry_run", "log_level": "error"}`)
	_, err := execute(t, "migrate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory store")
}

func TestServeCommand_RequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := writeFile(t, "config.yaml", "llm_provider: gemini\nlog_level: error\nlisten_addr: 127.0.0.1:0\n")
	_, err := execute(t, "serve", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestJourneyThroughCLI(t *testing.T) {
	cfg := writeTestConfig(t)
	user := uuid.NewString()

	profile := writeFile(t, "profile.yaml", `
profile:
  name: Ada
  user_type: Professional
  career_goal: Move into data engineering
  skills: [SQL, Python]
`)
	_, err := execute(t, "act", "-c", cfg, "-u", user, "-a", string(stages.ActionRegisterBasic), "-i", profile)
	require.NoError(t, err)

	out, err := execute(t, "act", "-c", cfg, "-u", user, "-a", string(stages.ActionGenerateQuestions), "--json")
	require.NoError(t, err)
	var outcome struct {
		Journey  types.JourneyState `json:"journey"`
		Artifact types.Artifact     `json:"artifact"`
		Source   string             `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, types.StageBasicRegistered, outcome.Journey.CurrentStage)
	assert.Equal(t, "generated", outcome.Source)
	assert.Equal(t, 1, outcome.Artifact.Version)

	// Served from the cache the second time.
	out, err = execute(t, "act", "-c", cfg, "-u", user, "-a", string(stages.ActionGenerateQuestions))
	require.NoError(t, err)
	assert.Contains(t, out, "Artifact source: cache")
	assert.Contains(t, out, "QUESTIONS")

	answers := writeFile(t, "answers.json", `{"answers": [
		{"id": "q1", "text": "Mock question 1 for career exploration?", "answer": "Building pipelines"}
	]}`)
	out, err = execute(t, "act", "-c", cfg, "-u", user, "-a", string(stages.ActionSubmitAnswers), "-i", answers)
	require.NoError(t, err)
	assert.Contains(t, out, "Mock Career Path 1")

	out, err = execute(t, "status", "-c", cfg, "-u", user)
	require.NoError(t, err)
	assert.Contains(t, out, "CAREER_PATHS_GENERATED")
	assert.Contains(t, out, "Step 4 of 8")

	out, err = execute(t, "history", "-c", cfg, "-u", user, "-t", "questions", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "current")
	assert.Contains(t, out, "Mock question 1")

	out, err = execute(t, "invalidate", "-c", cfg, "-u", user, "-t", "questions")
	require.NoError(t, err)
	assert.Contains(t, out, "Invalidated questions")

	out, err = execute(t, "history", "-c", cfg, "-u", user, "-t", "questions")
	require.NoError(t, err)
	assert.Contains(t, out, "invalidated")
}

func TestTopicsThroughCLI(t *testing.T) {
	cfg := writeTestConfig(t)
	user := uuid.NewString()
	act := func(action stages.Action, extra ...string) string {
		t.Helper()
		out, err := execute(t, append([]string{"act", "-c", cfg, "-u", user, "-a", string(action)}, extra...)...)
		require.NoError(t, err)
		return out
	}

	act(stages.ActionRegisterBasic, "-i", writeFile(t, "profile.yaml", "profile:\n  name: Ada\n  user_type: Professional\n  career_goal: Move into data engineering\n  skills: [SQL]\n"))
	act(stages.ActionGenerateQuestions)
	act(stages.ActionSubmitAnswers, "-i", writeFile(t, "answers.json", `{"answers": [
		{"id": "q1", "text": "Mock question 1 for career exploration?", "answer": "Yes"}
	]}`))
	act(stages.ActionGenerateDetailedRoadmap, "-i", writeFile(t, "path.yaml", "career_path:\n  title: Data Engineer\n  description: Pipelines\n  keySkillsRequired: [SQL]\n"))
	act(stages.ActionActivateRoadmap)

	out := act(stages.ActionGenerateTopicAssessment, "--topic", "Beginner topic 1")
	assert.Contains(t, out, "TOPIC ASSESSMENT  beginner-topic-1")

	out = act(stages.ActionEvaluateTopicAssessment, "-i", writeFile(t, "topic.yaml", `
topic: Beginner topic 1
topic_answers:
  - {question_id: q1, answer: A}
  - {question_id: q2, answer: A}
  - {question_id: q3, answer: A}
  - {question_id: q4, answer: An explanation}
  - {question_id: q5, answer: A plan}
`))
	assert.Contains(t, out, "Score: 100.00% (passed)")

	out, err := execute(t, "topics", "-c", cfg, "-u", user)
	require.NoError(t, err)
	assert.Contains(t, out, "Career: Data Engineer")
	assert.Contains(t, out, "100.00 passed")
	assert.Contains(t, out, "Completed 1 of 6")

	out, err = execute(t, "history", "-c", cfg, "-u", user, "-t", "topic_evaluation:beginner-topic-1", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "TOPIC EVALUATION  beginner-topic-1")
	assert.NotContains(t, out, staleNote)
}

func TestActCommand_StageViolation(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := execute(t, "act", "-c", cfg, "-u", uuid.NewString(), "-a", string(stages.ActionGenerateDetailedRoadmap))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate_detailed_roadmap")
}

func TestReadActInput(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		in, err := readActInput("")
		require.NoError(t, err)
		assert.Nil(t, in.Profile)
	})

	t.Run("yaml uses json field names", func(t *testing.T) {
		path := writeFile(t, "path.yaml", "career_path:\n  title: Data Engineer\n  description: Pipelines\n  keySkillsRequired: [SQL]\n")
		in, err := readActInput(path)
		require.NoError(t, err)
		require.NotNil(t, in.CareerPath)
		assert.Equal(t, "Data Engineer", in.CareerPath.Title)
		assert.Equal(t, []string{"SQL"}, in.CareerPath.KeySkillsRequired)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := readActInput(writeFile(t, "bad.json", "{"))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readActInput(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}
