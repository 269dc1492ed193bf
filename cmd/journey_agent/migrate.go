package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/career-journey/internal/config"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the journey tables in the configured database",
		Long:  "Apply the schema to the configured PostgreSQL or SQLite store. Existing tables are left untouched.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.StoreBackend == config.StoreMemory {
				return fmt.Errorf("the memory store has no schema; set store_backend to postgres or sqlite")
			}

			// Opening the store applies the schema.
			s, err := openStore(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			if err := s.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema applied to %s store\n", cfg.StoreBackend)
			return nil
		},
	}
}
