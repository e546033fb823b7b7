package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/fleetgate/internal/auth"
	"github.com/BradenHooton/fleetgate/internal/config"
	"github.com/BradenHooton/fleetgate/internal/database"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "Operator tooling for the fleetgate registration gate",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(policyCmd)
}

// token

var (
	tokenUserID string
	tokenEmail  string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin access token for the security endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
		tm := auth.NewTokenManager(secret, tokenTTL, time.Hour)
		token, err := tm.GenerateAccessToken(tokenUserID, tokenEmail, models.RoleAdmin)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "operator ID recorded as the actor of block changes")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "operator email embedded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

// migrate

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()
		return db.Migrate(ctx)
	},
}

// policy

var policyCmd = &cobra.Command{
	Use:   "policy-check <file>",
	Short: "Validate a YAML pattern policy file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.LoadPolicy(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "policy ok: %d user agent patterns, %d name patterns, %d attack tools\n",
			len(p.BotUserAgentPatterns), len(p.SuspiciousNamePatterns), len(p.AttackToolNames))
		return nil
	},
}
