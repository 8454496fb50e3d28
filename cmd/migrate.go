package cmd

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/instance-registry/internal/db"
	"github.com/EmpoweredVote/instance-registry/internal/registry"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Provision the registry schema, PostGIS and indexes",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close(conn)

	if err := registry.Migrate(context.Background(), conn); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	level.Info(logger).Log("msg", "schema ready", "schema", "registry")
	return nil
}
