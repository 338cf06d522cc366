package cmd

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/logging"
)

var (
	// Version information (set at build time via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "doni-dbsync",
	Short: "doni registry database administration",
	Long: `doni-dbsync manages the doni registry database.

It applies schema migrations, reports the current schema version, and
issues or revokes API tokens for the doni-api service.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the config file (default: ./doni.yaml, /etc/doni/doni.yaml)")
}

// openEnv loads configuration, builds a logger, and opens the database. The
// caller owns closing the returned handle.
func openEnv() (*conf.Config, *zap.Logger, *sql.DB, error) {
	cfg, err := conf.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	database, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, database, nil
}

// versionString returns formatted version information
func versionString() string {
	return fmt.Sprintf("doni-dbsync %s (commit: %s, built: %s)",
		Version, Commit, BuildDate)
}
