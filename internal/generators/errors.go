package generators

import (
	"fmt"

	"github.com/jonathan/career-journey/internal/types"
)

// APICallError represents a failed call to the model provider
type APICallError struct {
	Model   string
	Message string
	Cause   error
}

func (e *APICallError) Error() string {
	prefix := "API call failed"
	if e.Model != "" {
		prefix = fmt.Sprintf("API call to %s failed", e.Model)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}

// ParseError represents model output that could not be turned into an artifact
type ParseError struct {
	Artifact types.ArtifactType
	Message  string
	Cause    error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Artifact != "" {
		msg = fmt.Sprintf("%s: %s", e.Artifact, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", msg, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", msg)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
