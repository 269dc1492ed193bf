//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ArtifactType identifies one of the generated artifacts of a journey.
// Topic-scoped types carry the topic slug after a colon, for example
// "topic_assessment:sql-fundamentals", so every topic has its own versions
// and its own generation slot.
type ArtifactType string

// Artifact types produced by the generating stages.
const (
	ArtifactQuestions       ArtifactType = "questions"
	ArtifactCareerPaths     ArtifactType = "career_paths"
	ArtifactDetailedRoadmap ArtifactType = "detailed_roadmap"
	// ArtifactTopicAssessment and ArtifactTopicEvaluation are kinds; stored
	// artifacts use TopicAssessmentType and TopicEvaluationType.
	ArtifactTopicAssessment ArtifactType = "topic_assessment"
	ArtifactTopicEvaluation ArtifactType = "topic_evaluation"
)

const topicSeparator = ":"

// AllArtifactTypes returns the journey-level artifact types.
func AllArtifactTypes() []ArtifactType {
	return []ArtifactType{ArtifactQuestions, ArtifactCareerPaths, ArtifactDetailedRoadmap}
}

// TopicAssessmentType is the artifact type of the assessment for a roadmap topic.
func TopicAssessmentType(topic string) ArtifactType {
	return ArtifactTopicAssessment + topicSeparator + ArtifactType(TopicSlug(topic))
}

// TopicEvaluationType is the artifact type of the latest evaluation for a roadmap topic.
func TopicEvaluationType(topic string) ArtifactType {
	return ArtifactTopicEvaluation + topicSeparator + ArtifactType(TopicSlug(topic))
}

// Kind strips the topic from a topic-scoped type.
func (t ArtifactType) Kind() ArtifactType {
	kind, _, _ := strings.Cut(string(t), topicSeparator)
	return ArtifactType(kind)
}

// Topic returns the topic slug of a topic-scoped type, or "".
func (t ArtifactType) Topic() string {
	_, topic, _ := strings.Cut(string(t), topicSeparator)
	return topic
}

// Valid reports whether t is a known artifact type.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactQuestions, ArtifactCareerPaths, ArtifactDetailedRoadmap:
		return true
	}
	switch t.Kind() {
	case ArtifactTopicAssessment, ArtifactTopicEvaluation:
		topic := t.Topic()
		return topic != "" && TopicSlug(topic) == topic
	}
	return false
}

// ParseArtifactType validates a raw artifact type name.
func ParseArtifactType(s string) (ArtifactType, error) {
	t := ArtifactType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown artifact type %q", s)
	}
	return t, nil
}

// maxSlugLen keeps topic-scoped keys short enough for lock keys and indexes.
const maxSlugLen = 64

// TopicSlug reduces a topic name to lower case letters, digits and single
// dashes. Names differing only in case or punctuation share a slug.
func TopicSlug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	slug := b.String()
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(truncateRunes(slug, maxSlugLen), "-")
	}
	return slug
}

// truncateRunes cuts s to at most maxBytes without splitting a rune.
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}

// Artifact is one stored version of a generated payload.
// Version is monotonic per (UserID, Type) and is never reused.
type Artifact struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Type             ArtifactType    `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	InputFingerprint string          `json:"input_fingerprint"`
	GeneratedAt      time.Time       `json:"generated_at"`
	Version          int             `json:"version"`
	SupersededAt     *time.Time      `json:"superseded_at,omitempty"`
	InvalidatedAt    *time.Time      `json:"invalidated_at,omitempty"`
}

// Current reports whether this version is the one served from the cache.
func (a *Artifact) Current() bool {
	return a.SupersededAt == nil && a.InvalidatedAt == nil
}

// Questions decodes the payload of a questions artifact.
func (a *Artifact) Questions() ([]Question, error) {
	var out QuestionSet
	if err := json.Unmarshal(a.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode questions artifact: %w", err)
	}
	return out.Questions, nil
}

// CareerPaths decodes the payload of a career paths artifact.
func (a *Artifact) CareerPaths() ([]CareerPath, error) {
	var out CareerPathSet
	if err := json.Unmarshal(a.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode career paths artifact: %w", err)
	}
	return out.CareerPaths, nil
}

// DetailedRoadmap decodes the payload of a detailed roadmap artifact.
func (a *Artifact) DetailedRoadmap() (*DetailedRoadmap, error) {
	var out DetailedRoadmap
	if err := json.Unmarshal(a.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode detailed roadmap artifact: %w", err)
	}
	return &out, nil
}
