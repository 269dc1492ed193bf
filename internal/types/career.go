//nolint:revive // types is a standard Go package name pattern
package types

import (
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Profile holds the registration data a user supplies. Only the career fields
// feed generation; Name and Email are identity data.
type Profile struct {
	Name                      string   `json:"name,omitempty" yaml:"name"`
	Email                     string   `json:"email,omitempty" validate:"omitempty,email" yaml:"email"`
	UserType                  string   `json:"user_type,omitempty" validate:"omitempty,oneof=Student Professional 'Career Changer' Freelancer Entrepreneur" yaml:"user_type"`
	CareerGoal                string   `json:"career_goal" yaml:"career_goal"`
	LookingFor                string   `json:"looking_for,omitempty" yaml:"looking_for"`
	PreferredStudyDestination string   `json:"preferred_study_destination,omitempty" yaml:"preferred_study_destination"`
	EducationLevel            string   `json:"current_education_level,omitempty" yaml:"current_education_level"`
	FieldOfStudy              string   `json:"field_of_study,omitempty" yaml:"field_of_study"`
	AcademicInterests         []string `json:"academic_interests,omitempty" yaml:"academic_interests"`
	CurrentJobTitle           string   `json:"current_job_title,omitempty" yaml:"current_job_title"`
	Industry                  string   `json:"industry,omitempty" yaml:"industry"`
	YearsOfExperience         int      `json:"years_of_experience,omitempty" validate:"gte=0,lte=70" yaml:"years_of_experience"`
	Skills                    []string `json:"skills,omitempty" yaml:"skills"`
	LanguagePreference        string   `json:"language_preference,omitempty" yaml:"language_preference"`
	Country                   string   `json:"country,omitempty" yaml:"country"`
	State                     string   `json:"state,omitempty" yaml:"state"`
	City                      string   `json:"city,omitempty" yaml:"city"`
}

// Validate checks the structural constraints of the profile. A missing
// career goal is not a structural error; see Complete.
func (p *Profile) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}

// Complete reports whether the profile carries enough information to drive
// question generation.
func (p *Profile) Complete() bool {
	return p != nil && strings.TrimSpace(p.CareerGoal) != ""
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.AcademicInterests = slices.Clone(p.AcademicInterests)
	out.Skills = slices.Clone(p.Skills)
	return &out
}

// Question is a single assessment question.
type Question struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// QuestionSet is the payload of a questions artifact.
type QuestionSet struct {
	Questions []Question `json:"questions"`
}

// Answer is a user's answer to one generated question.
type Answer struct {
	ID     string `json:"id" validate:"required"`
	Text   string `json:"text" validate:"required"`
	Answer string `json:"answer" validate:"required"`
}

// AnswerSet wraps a batch of answers for validation.
type AnswerSet struct {
	Answers []Answer `json:"answers" validate:"required,min=1,dive"`
}

// Validate validates the answers using the validator.
func (a *AnswerSet) Validate() error {
	validate := validator.New()
	return validate.Struct(a)
}

// CareerPath is one suggested career direction.
type CareerPath struct {
	Title             string         `json:"title" validate:"required"`
	Description       string         `json:"description" validate:"required"`
	TimeToAchieve     string         `json:"timeToAchieve,omitempty"`
	AverageSalary     string         `json:"averageSalary,omitempty"`
	KeySkillsRequired []string       `json:"keySkillsRequired" validate:"required,min=1"`
	LearningRoadmap   []string       `json:"learningRoadmap,omitempty"`
	AIRecommendation  map[string]any `json:"aiRecommendation,omitempty"`
}

// Validate validates the career path using the validator.
func (c *CareerPath) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// IsZero reports whether no part of the path was supplied.
func (c *CareerPath) IsZero() bool {
	return c == nil || (c.Title == "" && c.Description == "" && len(c.KeySkillsRequired) == 0)
}

// CareerPathSet is the payload of a career paths artifact.
type CareerPathSet struct {
	CareerPaths []CareerPath `json:"careerPaths"`
}

// Find returns the generated path with the given title, matched case-insensitively.
func (s *CareerPathSet) Find(title string) (*CareerPath, bool) {
	for i := range s.CareerPaths {
		if strings.EqualFold(strings.TrimSpace(s.CareerPaths[i].Title), strings.TrimSpace(title)) {
			return &s.CareerPaths[i], true
		}
	}
	return nil, false
}

// DetailedRoadmap is the payload of a detailed roadmap artifact.
type DetailedRoadmap struct {
	CareerTitle      string            `json:"careerTitle"`
	HighLevelRoadmap []RoadmapPhase    `json:"highLevelRoadmap"`
	CapstoneProjects []CapstoneProject `json:"capstoneProjects,omitempty"`
}

// RoadmapPhase is one phase of a detailed roadmap.
type RoadmapPhase struct {
	Phase     string         `json:"phase"`
	Duration  string         `json:"duration"`
	Topics    []RoadmapTopic `json:"topics"`
	Resources []string       `json:"resources,omitempty"`
	Outcomes  []string       `json:"outcomes,omitempty"`
}

// RoadmapTopic groups subtopics within a phase.
type RoadmapTopic struct {
	Topic     string   `json:"topic"`
	Subtopics []string `json:"subtopics,omitempty"`
}

// CapstoneProject is a hands-on project closing a roadmap.
type CapstoneProject struct {
	Title       string `json:"title"`
	Duration    string `json:"duration,omitempty"`
	Description string `json:"description"`
}
