// Package apperr defines the error kinds surfaced by journey operations.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/career-journey/internal/types"
)

// Kind classifies an error for callers that translate it (HTTP, CLI, the
// generation lock wire format).
type Kind string

// Error kinds.
const (
	KindInvalidStageTransition Kind = "invalid_stage_transition"
	KindProfileIncomplete      Kind = "profile_incomplete"
	KindInvalidInput           Kind = "invalid_input"
	KindGenerationFailure      Kind = "generation_failure"
	KindGenerationTimeout      Kind = "generation_timeout"
	KindStorageUnavailable     Kind = "storage_unavailable"
	KindInternal               Kind = "internal"
)

// Sentinels for errors.Is. Every typed error below matches its sentinel, and
// a GenerationTimeoutError also matches ErrGenerationFailure.
var (
	ErrInvalidStageTransition = errors.New("invalid stage transition")
	ErrProfileIncomplete      = errors.New("profile incomplete")
	ErrInvalidInput           = errors.New("invalid input")
	ErrGenerationFailure      = errors.New("generation failed")
	ErrGenerationTimeout      = errors.New("generation timed out")
	ErrStorageUnavailable     = errors.New("storage unavailable")
)

// InvalidStageTransitionError is returned when an action is attempted from a
// stage that is not one of its preconditions.
type InvalidStageTransitionError struct {
	Action  string
	Current types.Stage
	Allowed []types.Stage
}

func (e *InvalidStageTransitionError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = s.String()
	}
	return fmt.Sprintf("invalid stage transition: %s not allowed from %s (requires one of [%s])",
		e.Action, e.Current, strings.Join(names, ", "))
}

func (e *InvalidStageTransitionError) Is(target error) bool {
	return target == ErrInvalidStageTransition
}

// ProfileIncompleteError is returned when required generation inputs are missing.
type ProfileIncompleteError struct {
	Missing []string
}

func (e *ProfileIncompleteError) Error() string {
	if len(e.Missing) == 0 {
		return "profile incomplete"
	}
	return fmt.Sprintf("profile incomplete: missing %s", strings.Join(e.Missing, ", "))
}

func (e *ProfileIncompleteError) Is(target error) bool {
	return target == ErrProfileIncomplete
}

// InvalidInputError is returned when caller-supplied data is malformed.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input in %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid input: %s", e.Message)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// GenerationFailureError wraps a generator error.
type GenerationFailureError struct {
	Type    types.ArtifactType
	Message string
	Cause   error
}

func (e *GenerationFailureError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "generator error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("generation of %s failed: %s: %v", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("generation of %s failed: %s", e.Type, msg)
}

func (e *GenerationFailureError) Unwrap() error {
	return e.Cause
}

func (e *GenerationFailureError) Is(target error) bool {
	return target == ErrGenerationFailure
}

// GenerationTimeoutError is returned when a generation exceeds its deadline.
type GenerationTimeoutError struct {
	Type    types.ArtifactType
	Timeout time.Duration
}

func (e *GenerationTimeoutError) Error() string {
	return fmt.Sprintf("generation of %s timed out after %s", e.Type, e.Timeout)
}

func (e *GenerationTimeoutError) Is(target error) bool {
	return target == ErrGenerationTimeout || target == ErrGenerationFailure
}

// StorageError is returned when the backing store cannot be read or written.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("storage unavailable: %s", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// Storage wraps err as a StorageError unless it already carries a kind.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	return &StorageError{Op: op, Cause: err}
}

// KindOf returns the most specific kind carried by err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidStageTransition):
		return KindInvalidStageTransition
	case errors.Is(err, ErrProfileIncomplete):
		return KindProfileIncomplete
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrGenerationTimeout):
		return KindGenerationTimeout
	case errors.Is(err, ErrGenerationFailure):
		return KindGenerationFailure
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	default:
		return KindInternal
	}
}

// FromKind rebuilds a typed error from its kind and message, for errors that
// crossed a process boundary.
func FromKind(kind Kind, artifactType types.ArtifactType, message string, timeout time.Duration) error {
	switch kind {
	case KindGenerationTimeout:
		return &GenerationTimeoutError{Type: artifactType, Timeout: timeout}
	case KindGenerationFailure:
		return &GenerationFailureError{Type: artifactType, Message: message}
	case KindStorageUnavailable:
		return &StorageError{Op: message}
	case KindInvalidStageTransition:
		return fmt.Errorf("%w: %s", ErrInvalidStageTransition, message)
	case KindProfileIncomplete:
		return &ProfileIncompleteError{Missing: []string{message}}
	case KindInvalidInput:
		return &InvalidInputError{Message: message}
	default:
		return &GenerationFailureError{Type: artifactType, Message: message}
	}
}
