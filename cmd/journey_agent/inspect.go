package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/career-journey/internal/observability"
	"github.com/jonathan/career-journey/internal/types"
)

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "Print the journey stages and the actions between them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			observability.NewPrinter(cmd.OutOrStdout()).PrintStages()
			return nil
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	var (
		user   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's journey stage and progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			a, err := openReadOnly(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := commandContext(cmd)
			state, err := a.service.State(ctx, userID)
			if err != nil {
				return err
			}
			progress, err := a.service.Progress(ctx, userID)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"journey": state, "progress": progress})
			}
			p := observability.NewPrinter(cmd.OutOrStdout())
			p.PrintJourney(state)
			p.PrintProgress(progress)
			return nil
		},
	}
	addUserFlag(cmd, &user)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of formatted text")
	return cmd
}

func newHistoryCmd(configPath *string) *cobra.Command {
	var (
		user     string
		typeName string
		show     bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the stored versions of an artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			t, err := types.ParseArtifactType(typeName)
			if err != nil {
				return err
			}
			a, err := openReadOnly(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := commandContext(cmd)
			versions, err := a.service.ArtifactHistory(ctx, userID, t)
			if err != nil {
				return err
			}
			p := observability.NewPrinter(cmd.OutOrStdout())
			p.PrintArtifactVersions(versions)

			if show {
				current, err := a.service.Artifact(ctx, userID, t)
				if err != nil {
					return err
				}
				if current == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "No current %s artifact\n", t)
					return nil
				}
				if current.Stale {
					fmt.Fprintln(cmd.OutOrStdout(), staleNote)
				}
				p.PrintArtifact(current.Artifact)
			}
			return nil
		},
	}
	addUserFlag(cmd, &user)
	addTypeFlag(cmd, &typeName)
	cmd.Flags().BoolVar(&show, "show", false, "Also print the current version's payload")
	return cmd
}

// staleNote marks an artifact built from inputs that have since changed.
const staleNote = "Stale: generated from inputs that have changed since"

func newTopicsCmd(configPath *string) *cobra.Command {
	var (
		user   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Show assessment progress for each topic of a user's roadmap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			a, err := openReadOnly(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			progress, err := a.service.RoadmapProgress(commandContext(cmd), userID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), progress)
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintRoadmapProgress(progress)
			return nil
		},
	}
	addUserFlag(cmd, &user)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of formatted text")
	return cmd
}

func newInvalidateCmd(configPath *string) *cobra.Command {
	var (
		user     string
		typeName string
	)
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate the current version of an artifact",
		Long:  "Hide the current version of an artifact so the next request regenerates it. Stored versions are kept.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUser(user)
			if err != nil {
				return err
			}
			t, err := types.ParseArtifactType(typeName)
			if err != nil {
				return err
			}
			a, err := openReadOnly(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.service.InvalidateArtifact(commandContext(cmd), userID, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %s for user %s\n", t, userID)
			return nil
		},
	}
	addUserFlag(cmd, &user)
	addTypeFlag(cmd, &typeName)
	return cmd
}

// openReadOnly wires the store without generators.
func openReadOnly(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(commandContext(cmd), cfg, false)
}

func addUserFlag(cmd *cobra.Command, user *string) {
	cmd.Flags().StringVarP(user, "user", "u", "", "User ID (UUID, required)")
	if err := cmd.MarkFlagRequired("user"); err != nil {
		panic(fmt.Sprintf("failed to mark user flag as required: %v", err))
	}
}

func addTypeFlag(cmd *cobra.Command, typeName *string) {
	cmd.Flags().StringVarP(typeName, "type", "t", "", "Artifact type, e.g. questions, detailed_roadmap or topic_assessment:sql-basics (required)")
	if err := cmd.MarkFlagRequired("type"); err != nil {
		panic(fmt.Sprintf("failed to mark type flag as required: %v", err))
	}
}

func parseUser(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
