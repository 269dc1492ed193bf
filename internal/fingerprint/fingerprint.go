// Package fingerprint derives the input fingerprints that decide whether a
// stored artifact still matches the inputs it would be generated from.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/types"
)

// version is mixed into every fingerprint. Bump it when the canonical form
// changes so old artifacts stop matching.
const version = "v1"

// profileInputs are the profile fields that influence generation. Identity
// fields (name, email) are deliberately absent.
type profileInputs struct {
	UserType                  string   `json:"user_type"`
	CareerGoal                string   `json:"career_goal"`
	LookingFor                string   `json:"looking_for"`
	PreferredStudyDestination string   `json:"preferred_study_destination"`
	EducationLevel            string   `json:"education_level"`
	FieldOfStudy              string   `json:"field_of_study"`
	AcademicInterests         []string `json:"academic_interests"`
	CurrentJobTitle           string   `json:"current_job_title"`
	Industry                  string   `json:"industry"`
	YearsOfExperience         int      `json:"years_of_experience"`
	Skills                    []string `json:"skills"`
	LanguagePreference        string   `json:"language_preference"`
	Country                   string   `json:"country"`
	State                     string   `json:"state"`
	City                      string   `json:"city"`
}

func canonicalProfile(p *types.Profile) profileInputs {
	if p == nil {
		p = &types.Profile{}
	}
	return profileInputs{
		UserType:                  norm(p.UserType),
		CareerGoal:                norm(p.CareerGoal),
		LookingFor:                norm(p.LookingFor),
		PreferredStudyDestination: norm(p.PreferredStudyDestination),
		EducationLevel:            norm(p.EducationLevel),
		FieldOfStudy:              norm(p.FieldOfStudy),
		AcademicInterests:         normSet(p.AcademicInterests),
		CurrentJobTitle:           norm(p.CurrentJobTitle),
		Industry:                  norm(p.Industry),
		YearsOfExperience:         p.YearsOfExperience,
		Skills:                    normSet(p.Skills),
		LanguagePreference:        norm(p.LanguagePreference),
		Country:                   norm(p.Country),
		State:                     norm(p.State),
		City:                      norm(p.City),
	}
}

// Profile fingerprints the inputs of question generation.
func Profile(p *types.Profile) (string, error) {
	return digest(struct {
		Kind    string        `json:"kind"`
		Profile profileInputs `json:"profile"`
	}{"questions", canonicalProfile(p)})
}

// ProfileAnswers fingerprints the inputs of career path generation. Answer
// order does not matter.
func ProfileAnswers(p *types.Profile, answers []types.Answer) (string, error) {
	type answer struct {
		ID     string `json:"id"`
		Answer string `json:"answer"`
	}
	canon := make([]answer, 0, len(answers))
	for _, a := range answers {
		canon = append(canon, answer{ID: strings.TrimSpace(a.ID), Answer: norm(a.Answer)})
	}
	slices.SortFunc(canon, func(a, b answer) int { return strings.Compare(a.ID, b.ID) })

	return digest(struct {
		Kind    string        `json:"kind"`
		Profile profileInputs `json:"profile"`
		Answers []answer      `json:"answers"`
	}{"career_paths", canonicalProfile(p), canon})
}

// ProfilePath fingerprints the inputs of detailed roadmap generation.
func ProfilePath(p *types.Profile, path *types.CareerPath) (string, error) {
	type pathInputs struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Skills      []string `json:"skills"`
	}
	var canon pathInputs
	if path != nil {
		canon = pathInputs{
			Title:       norm(path.Title),
			Description: norm(path.Description),
			Skills:      normSet(path.KeySkillsRequired),
		}
	}
	return digest(struct {
		Kind    string        `json:"kind"`
		Profile profileInputs `json:"profile"`
		Path    pathInputs    `json:"path"`
	}{"detailed_roadmap", canonicalProfile(p), canon})
}

// TopicAssessment fingerprints the inputs of a topic assessment: the profile,
// the career the roadmap was built for and the topic itself.
func TopicAssessment(p *types.Profile, careerTitle string, topic *types.RoadmapTopic) (string, error) {
	type topicInputs struct {
		Topic     string   `json:"topic"`
		Subtopics []string `json:"subtopics"`
	}
	var canon topicInputs
	if topic != nil {
		canon = topicInputs{Topic: norm(topic.Topic), Subtopics: normSet(topic.Subtopics)}
	}
	return digest(struct {
		Kind    string        `json:"kind"`
		Profile profileInputs `json:"profile"`
		Career  string        `json:"career"`
		Topic   topicInputs   `json:"topic"`
	}{"topic_assessment", canonicalProfile(p), norm(careerTitle), canon})
}

// TopicEvaluation fingerprints a set of answers to one stored assessment.
// Answer order does not matter.
func TopicEvaluation(assessment uuid.UUID, answers []types.TopicAnswer) (string, error) {
	type answer struct {
		ID     string `json:"id"`
		Answer string `json:"answer"`
	}
	canon := make([]answer, 0, len(answers))
	for _, a := range answers {
		canon = append(canon, answer{ID: strings.TrimSpace(a.QuestionID), Answer: norm(a.Answer)})
	}
	slices.SortFunc(canon, func(a, b answer) int { return strings.Compare(a.ID, b.ID) })

	return digest(struct {
		Kind       string   `json:"kind"`
		Assessment string   `json:"assessment"`
		Answers    []answer `json:"answers"`
	}{"topic_evaluation", assessment.String(), canon})
}

func digest(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint inputs: %w", err)
	}
	sum := sha256.Sum256(append([]byte(version+":"), data...))
	return hex.EncodeToString(sum[:]), nil
}

func norm(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// normSet normalises a list whose order carries no meaning.
func normSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := norm(s); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
