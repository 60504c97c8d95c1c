package cmd

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/medhire/auth-service/app/repository"
	"github.com/medhire/auth-service/app/service"
	"github.com/medhire/auth-service/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired refresh and password reset tokens",
	Long:  `Best-effort cleanup of expired token rows. Expiry is already enforced on the request path; run this from cron to keep the tables small.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := sql.Open("mysql", cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()

		sweeper := service.NewSweeper(
			repository.NewRefreshTokenRepository(db),
			repository.NewPasswordResetRepository(db),
		)
		result, err := sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("refresh_tokens_deleted: %d\n", result.RefreshTokens)
		fmt.Printf("reset_tokens_deleted: %d\n", result.ResetTokens)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <user_id>",
	Short: "Revoke every session for a user",
	Long:  `Deletes all refresh tokens for the given user, forcing re-login on every device. Idempotent: revoking a user with no sessions succeeds.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID uint64
		if _, err := fmt.Sscanf(args[0], "%d", &userID); err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := sql.Open("mysql", cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()

		repo := repository.NewRefreshTokenRepository(db)
		if err := repo.DeleteByUserID(context.Background(), userID); err != nil {
			return err
		}

		fmt.Printf("sessions revoked for user %d\n", userID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(revokeCmd)
}
