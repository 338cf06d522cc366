package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/models"
)

var (
	tokenProjectID string
	tokenRole      string
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token NAME",
	Short: "Issue a new API token",
	Long: `Issue a new API token for the doni-api service.

The plaintext token is printed once and cannot be recovered afterwards;
only its HMAC hash is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, database, err := openEnv()
		if err != nil {
			return err
		}
		defer database.Close()
		defer logger.Sync()

		if err := db.Migrate(database, logger); err != nil {
			return err
		}
		if cfg.API.AuthSecret == "" {
			return fmt.Errorf("api.auth_secret is required to issue tokens")
		}

		tokens := service.NewTokenService(database, logger, cfg.API.AuthSecret)
		plaintext, record, err := tokens.IssueToken(context.Background(), args[0], tokenProjectID, tokenRole)
		if err != nil {
			return err
		}

		fmt.Printf("Issued token %q (project %s, role %s)\n", record.Name, record.ProjectID, record.Role)
		fmt.Printf("Token: %s\n", plaintext)
		fmt.Println("Store it now; it cannot be shown again.")
		return nil
	},
}

var revokeTokenCmd = &cobra.Command{
	Use:   "revoke-token NAME",
	Short: "Revoke all live API tokens with the given name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, database, err := openEnv()
		if err != nil {
			return err
		}
		defer database.Close()
		defer logger.Sync()

		tokens := service.NewTokenService(database, logger, cfg.API.AuthSecret)
		if err := tokens.RevokeToken(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Revoked token %q\n", args[0])
		return nil
	},
}

var listTokensCmd = &cobra.Command{
	Use:   "list-tokens",
	Short: "List API tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, database, err := openEnv()
		if err != nil {
			return err
		}
		defer database.Close()
		defer logger.Sync()

		tokens := service.NewTokenService(database, logger, cfg.API.AuthSecret)
		records, err := tokens.ListTokens(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("%-24s %-20s %-8s %-10s %s\n", "NAME", "PROJECT", "ROLE", "STATUS", "CREATED")
		for _, t := range records {
			status := "active"
			if t.RevokedAt != nil {
				status = "revoked"
			}
			fmt.Printf("%-24s %-20s %-8s %-10s %s\n",
				t.Name, t.ProjectID, t.Role, status, t.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	issueTokenCmd.Flags().StringVar(&tokenProjectID, "project-id", "", "Project the token belongs to (required)")
	issueTokenCmd.Flags().StringVar(&tokenRole, "role", models.RoleMember,
		fmt.Sprintf("Token role (%q or %q)", models.RoleAdmin, models.RoleMember))
	issueTokenCmd.MarkFlagRequired("project-id")

	rootCmd.AddCommand(issueTokenCmd)
	rootCmd.AddCommand(revokeTokenCmd)
	rootCmd.AddCommand(listTokensCmd)
}
