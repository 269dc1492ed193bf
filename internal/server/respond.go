package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/types"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Error   any    `json:"error"`
	Code    int    `json:"code"`
}

// errorDetail is the error member of a failed response.
type errorDetail struct {
	Kind    apperr.Kind    `json:"kind"`
	Detail  string         `json:"detail"`
	Context map[string]any `json:"context,omitempty"`
}

// HTTPStatus returns the HTTP status code for an error kind.
func HTTPStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidStageTransition:
		return http.StatusConflict
	case apperr.KindProfileIncomplete:
		return http.StatusUnprocessableEntity
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindGenerationFailure:
		return http.StatusBadGateway
	case apperr.KindGenerationTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errorMessages = map[apperr.Kind]string{
	apperr.KindInvalidStageTransition: "Action not allowed at the current stage",
	apperr.KindProfileIncomplete:      "Profile is incomplete",
	apperr.KindInvalidInput:           "Invalid request",
	apperr.KindGenerationFailure:      "Generation failed",
	apperr.KindGenerationTimeout:      "Generation timed out",
	apperr.KindStorageUnavailable:     "Storage unavailable",
	apperr.KindInternal:               "Internal server error",
}

// writeJSON writes an envelope with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	body.Success = status < http.StatusBadRequest
	body.Code = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, message string, data any) {
	s.writeJSON(w, http.StatusOK, envelope{Message: message, Data: data})
}

// fail maps err to its status and writes the error envelope. Internal errors
// are logged and their detail is withheld from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := HTTPStatus(kind)
	detail := errorDetail{Kind: kind, Detail: err.Error(), Context: errorContext(err)}
	if kind == apperr.KindInternal {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
		detail.Detail = "internal error"
		detail.Context = nil
	}
	s.writeJSON(w, status, envelope{Message: errorMessages[kind], Error: detail})
}

func errorContext(err error) map[string]any {
	var transition *apperr.InvalidStageTransitionError
	if errors.As(err, &transition) {
		return map[string]any{"current_stage": transition.Current, "allowed": transition.Allowed}
	}
	var input *apperr.InvalidInputError
	if errors.As(err, &input) && input.Field != "" {
		return map[string]any{"field": input.Field}
	}
	var timeout *apperr.GenerationTimeoutError
	if errors.As(err, &timeout) {
		return map[string]any{"artifact_type": timeout.Type, "timeout": timeout.Timeout.String()}
	}
	var incomplete *apperr.ProfileIncompleteError
	if errors.As(err, &incomplete) && len(incomplete.Missing) > 0 {
		return map[string]any{"missing": incomplete.Missing}
	}
	return nil
}

func userID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &apperr.InvalidInputError{Field: "id", Message: "user id must be a UUID"}
	}
	return id, nil
}

func artifactType(r *http.Request) (types.ArtifactType, error) {
	t, err := types.ParseArtifactType(r.PathValue("type"))
	if err != nil {
		return "", &apperr.InvalidInputError{Field: "type", Message: err.Error()}
	}
	return t, nil
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &apperr.InvalidInputError{Field: "body", Message: "invalid request body: " + err.Error()}
	}
	return nil
}
