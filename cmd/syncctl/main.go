package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/repository"
	"github.com/noah-isme/candidate-sync/internal/service"
	"github.com/noah-isme/candidate-sync/pkg/config"
	"github.com/noah-isme/candidate-sync/pkg/logger"
)

var (
	timeoutFlag time.Duration
	rootCmd     = &cobra.Command{
		Use:           "syncctl",
		Short:         "Operator tooling for the candidate sync store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// withStore loads the configuration and opens the configured document store for one command.
func withStore(fn func(ctx context.Context, cfg *config.Config, store repository.DocumentStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()

	store, closeStore, err := repository.Open(ctx, cfg, repository.Options{Logger: logr.Named("store")})
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logr.Warn("close document store", zap.Error(err))
		}
	}()
	return fn(ctx, cfg, store)
}

func main() {
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 15*time.Second, "Deadline for store operations")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the shared quota status record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, _ *config.Config, store repository.DocumentStore) error {
				return runStatus(ctx, store, os.Stdout)
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "unlock",
		Short: "Publish an unlocked status with reset counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, _ *config.Config, store repository.DocumentStore) error {
				return runUnlock(ctx, store, os.Stdout)
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "seed-config",
		Short: "Write the default configuration when none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, store repository.DocumentStore) error {
				svc := service.NewConfigurationService(store, nil, nil, cfg.Summary.DefaultMention)
				return runSeed(ctx, svc, store, os.Stdout)
			})
		},
	})

	var req service.TokenRequest
	var expiry time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if expiry <= 0 {
				expiry = cfg.JWT.Expiration
			}
			auth := service.NewAuthService(nil, nil, service.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Expiry: expiry})
			return runToken(auth, req, os.Stdout)
		},
	}
	tokenCmd.Flags().StringVar(&req.UID, "uid", "", "Subject uid (required)")
	tokenCmd.Flags().StringVar(&req.Email, "email", "", "Email claim (required)")
	tokenCmd.Flags().StringVar(&req.Name, "name", "", "Display name claim")
	tokenCmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to JWT_EXPIRATION)")
	_ = tokenCmd.MarkFlagRequired("uid")
	_ = tokenCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
