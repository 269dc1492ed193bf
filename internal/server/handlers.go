package server

import (
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/career-journey/internal/journey"
	"github.com/jonathan/career-journey/internal/server/middleware"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/types"
)

// AnswersRequest is the body of POST /users/{id}/journey/career-paths
type AnswersRequest struct {
	Answers []types.Answer `json:"answers"`
}

// CareerPathRequest is the body of the selection and roadmap endpoints.
// The roadmap endpoint accepts an empty body and uses the selected path.
type CareerPathRequest struct {
	CareerPath *types.CareerPath `json:"career_path"`
}

// TopicRequest is the body of POST /users/{id}/journey/topics/assessment
// and, with answers, of POST /users/{id}/journey/topics/evaluation
type TopicRequest struct {
	Topic   string              `json:"topic"`
	Answers []types.TopicAnswer `json:"answers,omitempty"`
}

// StageInfo describes one journey stage for GET /stages
type StageInfo struct {
	Stage       types.Stage   `json:"stage"`
	Order       int           `json:"order"`
	Description string        `json:"description"`
	Next        []types.Stage `json:"next"`
}

// ActionInfo describes one journey action for GET /stages
type ActionInfo struct {
	Action        stages.Action      `json:"action"`
	Preconditions []types.Stage      `json:"preconditions"`
	PostStage     *types.Stage       `json:"post_stage,omitempty"`
	Artifact      types.ArtifactType `json:"artifact,omitempty"`
	Policy        string             `json:"cache_policy,omitempty"`
}

// JourneyOverview is the body of GET /users/{id}/journey
type JourneyOverview struct {
	Journey   *types.JourneyState                    `json:"journey"`
	Progress  stages.Progress                        `json:"progress"`
	Profile   *types.Profile                         `json:"profile,omitempty"`
	Artifacts map[types.ArtifactType]*journey.ArtifactView `json:"artifacts"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, "ok", map[string]string{"status": "ok"})
}

// handleStages lists the stage graph and the action registry.
func (s *Server) handleStages(w http.ResponseWriter, _ *http.Request) {
	stageList := make([]StageInfo, 0, len(types.AllStages()))
	for _, st := range types.AllStages() {
		stageList = append(stageList, StageInfo{
			Stage:       st,
			Order:       stages.Order(st),
			Description: stages.Describe(st),
			Next:        stages.AllowedNext(st),
		})
	}

	actions := make([]ActionInfo, 0, len(stages.ActionRegistry))
	for _, spec := range stages.Actions() {
		info := ActionInfo{
			Action:        spec.Name,
			Preconditions: spec.Preconditions,
			Artifact:      spec.Artifact,
		}
		if spec.PostStage != 0 {
			post := spec.PostStage
			info.PostStage = &post
		}
		if spec.Generates() {
			info.Policy = spec.Policy.String()
		}
		actions = append(actions, info)
	}

	s.ok(w, "Journey stages", map[string]any{"stages": stageList, "actions": actions})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var profile types.Profile
	if err := decode(w, r, &profile); err != nil {
		s.fail(w, r, err)
		return
	}
	s.perform(w, r, stages.ActionRegisterBasic, journey.Inputs{Profile: &profile}, "User registered")
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var profile types.Profile
	if err := decode(w, r, &profile); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.journeys.UpdateProfile(r.Context(), id, &profile)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, "Profile updated", out)
}

func (s *Server) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	s.perform(w, r, stages.ActionGenerateQuestions, journey.Inputs{}, "Questions ready")
}

func (s *Server) handleSubmitAnswers(w http.ResponseWriter, r *http.Request) {
	var req AnswersRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.perform(w, r, stages.ActionSubmitAnswers, journey.Inputs{Answers: req.Answers}, "Career paths ready")
}

func (s *Server) handleSelectCareerPath(w http.ResponseWriter, r *http.Request) {
	var req CareerPathRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.perform(w, r, stages.ActionSelectCareerPath, journey.Inputs{Path: req.CareerPath}, "Career path selected")
}

func (s *Server) handleGenerateRoadmap(w http.ResponseWriter, r *http.Request) {
	var req CareerPathRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.perform(w, r, stages.ActionGenerateDetailedRoadmap, journey.Inputs{Path: req.CareerPath}, "Detailed roadmap ready")
}

func (s *Server) handleTopicAssessment(w http.ResponseWriter, r *http.Request) {
	var req TopicRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.perform(w, r, stages.ActionGenerateTopicAssessment, journey.Inputs{Topic: req.Topic}, "Topic assessment ready")
}

func (s *Server) handleTopicEvaluation(w http.ResponseWriter, r *http.Request) {
	var req TopicRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in := journey.Inputs{Topic: req.Topic, TopicAnswers: req.Answers}
	s.perform(w, r, stages.ActionEvaluateTopicAssessment, in, "Topic assessment evaluated")
}

// lifecycle handles the actions that take no body and only move the stage.
func (s *Server) lifecycle(action stages.Action, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.perform(w, r, action, journey.Inputs{}, message)
	}
}

func (s *Server) perform(w http.ResponseWriter, r *http.Request, action stages.Action, in journey.Inputs, message string) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in.RequestID = middleware.GetRequestID(r)
	out, err := s.journeys.Perform(r.Context(), id, action, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, message, out)
}

// handleGetJourney returns the journey with its progress, profile and current
// artifacts. The reads run concurrently.
func (s *Server) handleGetJourney(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	overview := JourneyOverview{Artifacts: make(map[types.ArtifactType]*journey.ArtifactView)}
	artifactTypes := types.AllArtifactTypes()
	artifacts := make([]*journey.ArtifactView, len(artifactTypes))

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		state, err := s.journeys.State(ctx, id)
		overview.Journey = state
		return err
	})
	g.Go(func() error {
		profile, err := s.journeys.Profile(ctx, id)
		overview.Profile = profile
		return err
	})
	for i, t := range artifactTypes {
		g.Go(func() error {
			a, err := s.journeys.Artifact(ctx, id, t)
			artifacts[i] = a
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.fail(w, r, err)
		return
	}

	for i, t := range artifactTypes {
		if artifacts[i] != nil {
			overview.Artifacts[t] = artifacts[i]
		}
	}
	overview.Progress = stages.ProgressOf(overview.Journey.CurrentStage)
	s.ok(w, "Journey retrieved", overview)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	progress, err := s.journeys.Progress(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, "Progress retrieved", progress)
}

func (s *Server) handleGetRoadmapProgress(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	progress, err := s.journeys.RoadmapProgress(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, "Roadmap progress retrieved", progress)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := artifactType(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.journeys.Artifact(r.Context(), id, t)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if a == nil {
		s.writeJSON(w, http.StatusNotFound, envelope{
			Message: "Artifact not found",
			Error:   map[string]any{"kind": "not_found", "artifact_type": t},
		})
		return
	}
	s.ok(w, "Artifact retrieved", a)
}

func (s *Server) handleListArtifactVersions(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := artifactType(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	versions, err := s.journeys.ArtifactHistory(r.Context(), id, t)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if versions == nil {
		versions = []types.Artifact{}
	}
	s.ok(w, "Artifact versions retrieved", map[string]any{"versions": versions, "count": len(versions)})
}

func (s *Server) handleInvalidateArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := artifactType(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.journeys.InvalidateArtifact(r.Context(), id, t); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, "Artifact invalidated", map[string]any{"artifact_type": t})
}
