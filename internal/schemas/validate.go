// Package schemas validates generated artifact payloads against the embedded
// JSON Schemas before they are stored.
package schemas

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jonathan/career-journey/internal/types"
)

//go:embed *.schema.json
var schemaFiles embed.FS

var artifactSchemas = map[types.ArtifactType]string{
	types.ArtifactQuestions:       "questions.schema.json",
	types.ArtifactCareerPaths:     "career_paths.schema.json",
	types.ArtifactDetailedRoadmap: "detailed_roadmap.schema.json",
	types.ArtifactTopicAssessment: "topic_assessment.schema.json",
	types.ArtifactTopicEvaluation: "topic_evaluation.schema.json",
}

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	parts := make([]string, 0, len(ve.Errors))
	for _, err := range ve.Errors {
		parts = append(parts, err.Field+": "+err.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Schema returns the JSON Schema for an artifact type. Topic-scoped types
// share the schema of their kind.
func Schema(t types.ArtifactType) (string, error) {
	name, ok := artifactSchemas[t.Kind()]
	if !ok {
		return "", &SchemaLoadError{Path: string(t), Message: "no schema for artifact type"}
	}
	data, err := schemaFiles.ReadFile(name)
	if err != nil {
		return "", &SchemaLoadError{Path: name, Message: "embedded schema missing", Cause: err}
	}
	return string(data), nil
}

// ValidateArtifact validates a payload against the schema of its artifact type.
func ValidateArtifact(t types.ArtifactType, payload []byte) error {
	schema, err := Schema(t)
	if err != nil {
		return err
	}
	return ValidateJSONString(schema, string(payload))
}

// ValidateJSONString validates JSON string content against schema string content
func ValidateJSONString(schemaContent, jsonContent string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaContent)
	documentLoader := gojsonschema.NewStringLoader(jsonContent)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &SchemaLoadError{
			Path:    "(string schema)",
			Message: "schema validation failed during load",
			Cause:   err,
		}
	}

	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
