package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/career-journey/internal/journey"
	"github.com/jonathan/career-journey/internal/observability"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/types"
)

// actInput is the file accepted by act. Only the fields the action uses are read.
type actInput struct {
	Profile      *types.Profile      `json:"profile"`
	Answers      []types.Answer      `json:"answers"`
	CareerPath   *types.CareerPath   `json:"career_path"`
	Topic        string              `json:"topic"`
	TopicAnswers []types.TopicAnswer `json:"topic_answers"`
}

func newActCmd(configPath *string) *cobra.Command {
	var (
		user      string
		action    string
		inputPath string
		topic     string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "act",
		Short: "Run one journey action for a user",
		Long: "Run a journey action against the configured store, as the API would. " +
			"Inputs (profile, answers, career_path, topic, topic_answers) are read from a JSON or YAML file.",
		Example: "  journey_agent act -u 6f1c... -a register_basic -i profile.yaml\n" +
			"  journey_agent act -u 6f1c... -a generate_questions\n" +
			"  journey_agent act -u 6f1c... -a generate_topic_assessment --topic 'SQL Basics'",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			if _, err := stages.Lookup(stages.Action(action)); err != nil {
				return err
			}
			in, err := readActInput(inputPath)
			if err != nil {
				return err
			}
			if topic != "" {
				in.Topic = topic
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(commandContext(cmd), cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out, err := a.service.Perform(commandContext(cmd), userID, stages.Action(action), journey.Inputs{
				Profile:      in.Profile,
				Answers:      in.Answers,
				Path:         in.CareerPath,
				Topic:        in.Topic,
				TopicAnswers: in.TopicAnswers,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			p := observability.NewPrinter(cmd.OutOrStdout())
			p.PrintJourney(out.Journey)
			if out.Artifact != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Artifact source: %s\n", out.Source)
				if out.Stale {
					fmt.Fprintln(cmd.OutOrStdout(), staleNote)
				}
				p.PrintArtifact(out.Artifact)
			}
			return nil
		},
	}
	addUserFlag(cmd, &user)
	cmd.Flags().StringVarP(&action, "action", "a", "", "Action name, see 'journey_agent stages' (required)")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to a JSON or YAML file with the action inputs")
	cmd.Flags().StringVar(&topic, "topic", "", "Roadmap topic for topic actions, overrides the input file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	if err := cmd.MarkFlagRequired("action"); err != nil {
		panic(fmt.Sprintf("failed to mark action flag as required: %v", err))
	}
	return cmd
}

// readActInput decodes the input file. YAML is converted to JSON first so the
// json field names apply to both formats.
func readActInput(path string) (*actInput, error) {
	in := &actInput{}
	if path == "" {
		return in, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file %s: %w", path, err)
	}

	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse input YAML: %w", err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("failed to convert input YAML: %w", err)
		}
	}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	return in, nil
}
