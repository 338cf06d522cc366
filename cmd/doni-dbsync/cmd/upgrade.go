package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chameleoncloud/doni/internal/db"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, database, err := openEnv()
		if err != nil {
			return err
		}
		defer database.Close()
		defer logger.Sync()

		if err := db.Migrate(database, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		version, err := db.SchemaVersion(database)
		if err != nil {
			return err
		}
		fmt.Printf("Database schema is at version %d\n", version)
		return nil
	},
}

var dbVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current and latest schema versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, database, err := openEnv()
		if err != nil {
			return err
		}
		defer database.Close()
		defer logger.Sync()

		current, err := db.SchemaVersion(database)
		if err != nil {
			return err
		}
		fmt.Printf("%s\nSchema version: %d (latest: %d)\n", versionString(), current, db.LatestVersion())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(dbVersionCmd)
}
