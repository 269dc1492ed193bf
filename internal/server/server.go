// Package server provides the HTTP REST API for the career journey.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/career-journey/internal/journey"
	"github.com/jonathan/career-journey/internal/logging"
	"github.com/jonathan/career-journey/internal/server/middleware"
	"github.com/jonathan/career-journey/internal/server/ratelimit"
	"github.com/jonathan/career-journey/internal/stages"
)

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	journeys    *journey.Service
	rateLimiter *ratelimit.Limiter
	log         *logging.Logger
}

// Config holds server configuration
type Config struct {
	Addr string
	// RateLimit configures the limiter; nil uses ratelimit.DefaultConfig(10).
	RateLimit *ratelimit.Config
	// WriteTimeout must cover the slowest generation.
	WriteTimeout time.Duration
}

// New creates a new server instance
func New(cfg Config, journeys *journey.Service, log *logging.Logger) *Server {
	s := &Server{
		journeys:    journeys,
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
		log:         logging.OrNop(log).With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stages", s.handleStages)

	// Journey actions
	mux.HandleFunc("POST /users/{id}/journey/register", s.handleRegister)
	mux.HandleFunc("PUT /users/{id}/profile", s.handleUpdateProfile)
	mux.HandleFunc("POST /users/{id}/journey/questions", s.handleGenerateQuestions)
	mux.HandleFunc("POST /users/{id}/journey/career-paths", s.handleSubmitAnswers)
	mux.HandleFunc("POST /users/{id}/journey/selection", s.handleSelectCareerPath)
	mux.HandleFunc("POST /users/{id}/journey/roadmap", s.handleGenerateRoadmap)
	mux.HandleFunc("POST /users/{id}/journey/activate", s.lifecycle(stages.ActionActivateRoadmap, "Roadmap activated"))
	mux.HandleFunc("POST /users/{id}/journey/pause", s.lifecycle(stages.ActionPauseJourney, "Journey paused"))
	mux.HandleFunc("POST /users/{id}/journey/resume", s.lifecycle(stages.ActionResumeJourney, "Journey resumed"))
	mux.HandleFunc("POST /users/{id}/journey/complete", s.lifecycle(stages.ActionCompleteJourney, "Journey completed"))
	mux.HandleFunc("POST /users/{id}/journey/topics/assessment", s.handleTopicAssessment)
	mux.HandleFunc("POST /users/{id}/journey/topics/evaluation", s.handleTopicEvaluation)

	// Reads
	mux.HandleFunc("GET /users/{id}/journey", s.handleGetJourney)
	mux.HandleFunc("GET /users/{id}/journey/progress", s.handleGetProgress)
	mux.HandleFunc("GET /users/{id}/journey/topics", s.handleGetRoadmapProgress)
	mux.HandleFunc("GET /users/{id}/artifacts/{type}", s.handleGetArtifact)
	mux.HandleFunc("GET /users/{id}/artifacts/{type}/versions", s.handleListArtifactVersions)
	mux.HandleFunc("DELETE /users/{id}/artifacts/{type}", s.handleInvalidateArtifact)

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 6 * time.Minute
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      middleware.RequestID(s.withLogging(s.withRateLimit(s.withCORS(mux)))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.rateLimiter.Stop()
	s.log.Info("server stopped")
	return err
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects requests over the per-client limit with 429.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
		}
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(info.RetryAfter.Round(time.Second).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.log.Warn("rate limit exceeded",
			"path", r.URL.Path, "client", clientID(r), "request_id", middleware.GetRequestID(r))
		s.writeJSON(w, http.StatusTooManyRequests, envelope{
			Message: "Rate limit exceeded. Please try again later.",
			Error: map[string]any{
				"kind":        "rate_limit_exceeded",
				"limit":       info.Limit,
				"retry_after": retryAfter,
				"reset_at":    info.ResetTime.Format(time.RFC3339),
			},
		})
	})
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", middleware.GetRequestID(r),
		)
	})
}

// clientID uses the remote IP. X-Forwarded-For is ignored because no trusted
// proxy list is configured.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
