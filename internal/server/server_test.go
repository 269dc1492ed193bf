package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-journey/internal/generators"
	"github.com/jonathan/career-journey/internal/genlock"
	"github.com/jonathan/career-journey/internal/journey"
	"github.com/jonathan/career-journey/internal/orchestrator"
	"github.com/jonathan/career-journey/internal/server/middleware"
	"github.com/jonathan/career-journey/internal/server/ratelimit"
	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

// failingRoadmaps serves dry-run questions and paths but fails roadmaps.
type failingRoadmaps struct {
	generators.DryRun
}

func (failingRoadmaps) DetailedRoadmap(context.Context, *types.Profile, *types.CareerPath) (json.RawMessage, error) {
	return nil, errors.New("model unavailable")
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind    string         `json:"kind"`
		Detail  string         `json:"detail"`
		Context map[string]any `json:"context"`
	} `json:"error"`
	Code int `json:"code"`
}

func newTestServer(t *testing.T, gens journey.Generators, rl *ratelimit.Config) *Server {
	t.Helper()
	if gens == nil {
		gens = generators.DryRun{}
	}
	if rl == nil {
		rl = &ratelimit.Config{Enabled: false}
	}
	mem := store.NewMemory()
	orch := orchestrator.New(mem, genlock.NewLocal(nil), orchestrator.Options{}, nil)
	s := New(Config{Addr: "127.0.0.1:0", RateLimit: rl}, journey.NewService(mem, orch, gens, nil), nil)
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func registerBody() *types.Profile {
	return &types.Profile{
		Name:       "Asha",
		Email:      "asha@example.com",
		UserType:   "Student",
		CareerGoal: "Become a data engineer",
		Skills:     []string{"SQL"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)

	w, resp := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestStagesEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)

	w, resp := do(t, s, http.MethodGet, "/stages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Stages  []StageInfo  `json:"stages"`
		Actions []ActionInfo `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Len(t, data.Stages, len(types.AllStages()))
	assert.Equal(t, types.StageAuthenticated, data.Stages[0].Stage)
	assert.NotEmpty(t, data.Actions)

	var roadmap *ActionInfo
	for i := range data.Actions {
		if data.Actions[i].Artifact == types.ArtifactDetailedRoadmap {
			roadmap = &data.Actions[i]
		}
	}
	require.NotNil(t, roadmap)
	assert.Equal(t, "always_fresh", roadmap.Policy)
}

func TestJourneyFlow(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/users/" + uuid.NewString()

	w, resp := do(t, s, http.MethodPost, base+"/journey/register", registerBody())
	require.Equal(t, http.StatusOK, w.Code, resp.Message)

	w, resp = do(t, s, http.MethodPost, base+"/journey/questions", nil)
	require.Equal(t, http.StatusOK, w.Code, resp.Error.Detail)
	var questions journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &questions))
	require.NotNil(t, questions.Artifact)
	assert.Equal(t, orchestrator.SourceGenerated, questions.Source)
	qs, err := questions.Artifact.Questions()
	require.NoError(t, err)
	require.Len(t, qs, generators.MaxQuestions)

	// Cached on the second call.
	_, resp = do(t, s, http.MethodPost, base+"/journey/questions", nil)
	var again journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &again))
	assert.Equal(t, orchestrator.SourceCache, again.Source)
	assert.Equal(t, questions.Artifact.ID, again.Artifact.ID)

	answers := make([]types.Answer, 0, len(qs))
	for _, q := range qs {
		answers = append(answers, types.Answer{ID: q.ID, Text: q.Text, Answer: "Yes"})
	}
	w, resp = do(t, s, http.MethodPost, base+"/journey/career-paths", AnswersRequest{Answers: answers})
	require.Equal(t, http.StatusOK, w.Code, resp.Error.Detail)
	var paths journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &paths))
	assert.Equal(t, types.StageCareerPathsGenerated, paths.Journey.CurrentStage)
	ps, err := paths.Artifact.CareerPaths()
	require.NoError(t, err)

	w, resp = do(t, s, http.MethodPost, base+"/journey/selection", CareerPathRequest{CareerPath: &ps[1]})
	require.Equal(t, http.StatusOK, w.Code, resp.Error.Detail)

	w, resp = do(t, s, http.MethodPost, base+"/journey/roadmap", nil)
	require.Equal(t, http.StatusOK, w.Code, resp.Error.Detail)
	var roadmap journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &roadmap))
	assert.Equal(t, types.StageRoadmapGenerated, roadmap.Journey.CurrentStage)
	assert.Contains(t, string(roadmap.Artifact.Payload), ps[1].Title)

	for _, step := range []string{"activate", "pause", "resume", "complete"} {
		w, resp = do(t, s, http.MethodPost, base+"/journey/"+step, nil)
		require.Equal(t, http.StatusOK, w.Code, step+": "+resp.Error.Detail)
	}

	w, resp = do(t, s, http.MethodGet, base+"/journey/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"progress_percentage":100`)

	w, resp = do(t, s, http.MethodGet, base+"/journey", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var overview JourneyOverview
	require.NoError(t, json.Unmarshal(resp.Data, &overview))
	assert.Equal(t, types.StageJourneyCompleted, overview.Journey.CurrentStage)
	assert.Equal(t, "Asha", overview.Profile.Name)
	assert.Len(t, overview.Artifacts, 3)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil, nil)
	user := "/users/" + uuid.NewString()

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantKind string
	}{
		{"stage precondition", http.MethodPost, user + "/journey/questions", nil, http.StatusConflict, "invalid_stage_transition"},
		{"bad user id", http.MethodGet, "/users/not-a-uuid/journey", nil, http.StatusBadRequest, "invalid_input"},
		{"bad artifact type", http.MethodGet, user + "/artifacts/resume", nil, http.StatusBadRequest, "invalid_input"},
		{"unknown body field", http.MethodPost, user + "/journey/register", map[string]any{"password": "x"}, http.StatusBadRequest, "invalid_input"},
		{"invalid email", http.MethodPost, user + "/journey/register", &types.Profile{Email: "nope"}, http.StatusBadRequest, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantKind, resp.Error.Kind)
		})
	}
}

func TestErrorMapping_TransitionContext(t *testing.T) {
	s := newTestServer(t, nil, nil)

	_, resp := do(t, s, http.MethodPost, "/users/"+uuid.NewString()+"/journey/roadmap", nil)
	assert.Equal(t, "AUTHENTICATED", resp.Error.Context["current_stage"])
}

func TestProfileIncomplete(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/users/" + uuid.NewString()

	profile := registerBody()
	profile.CareerGoal = ""
	w, _ := do(t, s, http.MethodPost, base+"/journey/register", profile)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := do(t, s, http.MethodPost, base+"/journey/questions", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "profile_incomplete", resp.Error.Kind)
}

func TestGenerationFailure(t *testing.T) {
	s := newTestServer(t, failingRoadmaps{}, nil)
	base := "/users/" + uuid.NewString()

	do(t, s, http.MethodPost, base+"/journey/register", registerBody())
	_, resp := do(t, s, http.MethodPost, base+"/journey/questions", nil)
	var questions journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &questions))
	qs, err := questions.Artifact.Questions()
	require.NoError(t, err)
	answers := []types.Answer{{ID: qs[0].ID, Text: qs[0].Text, Answer: "No"}}
	w, _ := do(t, s, http.MethodPost, base+"/journey/career-paths", AnswersRequest{Answers: answers})
	require.Equal(t, http.StatusOK, w.Code)

	path := &types.CareerPath{Title: "Mock Career Path 1", Description: "d", KeySkillsRequired: []string{"Skill 1"}}
	w, resp = do(t, s, http.MethodPost, base+"/journey/roadmap", CareerPathRequest{CareerPath: path})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "generation_failure", resp.Error.Kind)

	_, resp = do(t, s, http.MethodGet, base+"/journey/progress", nil)
	assert.Contains(t, string(resp.Data), `"current_stage":"CAREER_PATHS_GENERATED"`)
}

func TestArtifactEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/users/" + uuid.NewString()

	w, resp := do(t, s, http.MethodGet, base+"/artifacts/questions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp.Error.Kind)

	do(t, s, http.MethodPost, base+"/journey/register", registerBody())
	do(t, s, http.MethodPost, base+"/journey/questions", nil)

	w, _ = do(t, s, http.MethodGet, base+"/artifacts/questions", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, http.MethodDelete, base+"/artifacts/questions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, s, http.MethodGet, base+"/artifacts/questions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, resp = do(t, s, http.MethodPost, base+"/journey/questions", nil)
	var regenerated journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &regenerated))
	assert.Equal(t, orchestrator.SourceGenerated, regenerated.Source)
	assert.Equal(t, 2, regenerated.Artifact.Version)

	w, resp = do(t, s, http.MethodGet, base+"/artifacts/questions/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions struct {
		Versions []types.Artifact `json:"versions"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &versions))
	assert.Equal(t, 2, versions.Count)
	assert.Equal(t, 2, versions.Versions[0].Version)
	assert.NotNil(t, versions.Versions[1].InvalidatedAt)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/users/" + uuid.NewString()

	w, resp := do(t, s, http.MethodPut, base+"/profile", registerBody())
	assert.Equal(t, http.StatusConflict, w.Code, resp.Message)

	do(t, s, http.MethodPost, base+"/journey/register", registerBody())
	updated := registerBody()
	updated.CareerGoal = "Become an ML engineer"
	w, _ = do(t, s, http.MethodPut, base+"/profile", updated)
	require.Equal(t, http.StatusOK, w.Code)

	_, resp = do(t, s, http.MethodGet, base+"/journey", nil)
	assert.Contains(t, string(resp.Data), "Become an ML engineer")
}

func TestRateLimit(t *testing.T) {
	rl := ratelimit.DefaultConfig(1)
	rl.CleanupInterval = 0
	s := newTestServer(t, nil, rl)
	base := "/users/" + uuid.NewString()

	do(t, s, http.MethodPost, base+"/journey/register", registerBody())
	w, _ := do(t, s, http.MethodPost, base+"/journey/questions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w, resp := do(t, s, http.MethodPost, base+"/journey/questions", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/stages", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/health", ln.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestArtifactEndpoint_ReportsStale(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/users/" + uuid.NewString()

	do(t, s, http.MethodPost, base+"/journey/register", registerBody())
	_, resp := do(t, s, http.MethodPost, base+"/journey/questions", nil)
	var questions journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &questions))
	qs, err := questions.Artifact.Questions()
	require.NoError(t, err)

	w, resp := do(t, s, http.MethodGet, base+"/artifacts/questions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view journey.ArtifactView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.False(t, view.Stale)
	assert.Equal(t, questions.Artifact.ID, view.ID)

	updated := registerBody()
	updated.CareerGoal = "Become an ML engineer"
	w, _ = do(t, s, http.MethodPut, base+"/profile", updated)
	require.Equal(t, http.StatusOK, w.Code)

	_, resp = do(t, s, http.MethodGet, base+"/artifacts/questions", nil)
	assert.Contains(t, string(resp.Data), `"stale":true`)
	_, resp = do(t, s, http.MethodGet, base+"/journey", nil)
	assert.Contains(t, string(resp.Data), `"stale":true`)

	answers := []types.Answer{{ID: qs[0].ID, Text: qs[0].Text, Answer: "Yes"}}
	w, resp = do(t, s, http.MethodPost, base+"/journey/career-paths", AnswersRequest{Answers: answers})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "profile_incomplete", resp.Error.Kind)
}

func TestTopicEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/users/" + uuid.NewString()

	do(t, s, http.MethodPost, base+"/journey/register", registerBody())
	_, resp := do(t, s, http.MethodPost, base+"/journey/questions", nil)
	var questions journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &questions))
	qs, err := questions.Artifact.Questions()
	require.NoError(t, err)
	do(t, s, http.MethodPost, base+"/journey/career-paths", AnswersRequest{Answers: []types.Answer{{ID: qs[0].ID, Text: qs[0].Text, Answer: "Yes"}}})

	// not before the roadmap is active
	w, resp := do(t, s, http.MethodPost, base+"/journey/topics/assessment", TopicRequest{Topic: "Beginner topic 1"})
	assert.Equal(t, http.StatusConflict, w.Code, resp.Message)

	_, resp = do(t, s, http.MethodPost, base+"/journey/roadmap", CareerPathRequest{CareerPath: &types.CareerPath{
		Title: "Data Engineer", Description: "Pipelines", KeySkillsRequired: []string{"SQL"},
	}})
	require.True(t, resp.Success, resp.Error.Detail)
	w, _ = do(t, s, http.MethodPost, base+"/journey/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = do(t, s, http.MethodPost, base+"/journey/topics/assessment", TopicRequest{Topic: "Beginner topic 1"})
	require.Equal(t, http.StatusOK, w.Code, resp.Error.Detail)
	var assessed journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &assessed))
	assert.Equal(t, types.ArtifactType("topic_assessment:beginner-topic-1"), assessed.Artifact.Type)
	assessment, err := assessed.Artifact.TopicAssessment()
	require.NoError(t, err)

	answers := make([]types.TopicAnswer, 0, len(assessment.Questions))
	for _, q := range assessment.Questions {
		answers = append(answers, types.TopicAnswer{QuestionID: q.ID, Answer: "A"})
	}
	w, resp = do(t, s, http.MethodPost, base+"/journey/topics/evaluation", TopicRequest{Topic: "beginner topic 1", Answers: answers})
	require.Equal(t, http.StatusOK, w.Code, resp.Error.Detail)
	var evaluated journey.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &evaluated))
	eval, err := evaluated.Artifact.TopicEvaluation()
	require.NoError(t, err)
	assert.Equal(t, 100.0, eval.Overall)
	assert.True(t, eval.Passed)

	w, resp = do(t, s, http.MethodPost, base+"/journey/topics/evaluation", TopicRequest{Topic: "Cooking", Answers: answers})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", resp.Error.Kind)

	w, resp = do(t, s, http.MethodGet, base+"/journey/topics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progress journey.RoadmapProgress
	require.NoError(t, json.Unmarshal(resp.Data, &progress))
	assert.Equal(t, 6, progress.Total)
	assert.Equal(t, 1, progress.Completed)
	assert.Equal(t, 100.0, progress.AverageScore)

	w, resp = do(t, s, http.MethodGet, base+"/artifacts/topic_evaluation:beginner-topic-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"stale":false`)
}
