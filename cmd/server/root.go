package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ecocert/internal/adapters/fhe"
	pg "ecocert/internal/adapters/postgres"
	"ecocert/internal/adapters/quorum"
	"ecocert/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ecocert",
		Short:        "Confidential energy-efficiency certification service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, oracle workers and expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})
	root.AddCommand(newMigrateCmd(), newKeygenCmd(), newFHEKeygenCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations to DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			log := newLogger(cfg)
			defer func() { _ = log.Sync() }()
			if err != nil {
				log.Warn("config incomplete", zap.Error(err))
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrate")
			}
			ctx := cmd.Context()
			db, err := pg.Connect(ctx, cfg.DatabaseURL, 2)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate oracle signer keys for SIGNER_KEYS / SIGNER_ADDRESSES",
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 1 {
				return fmt.Errorf("--signers must be positive")
			}
			c, err := quorum.GenerateCommittee(n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, k := range c.HexKeys() {
				fmt.Fprintf(out, "%s %s\n", c.Addresses()[i].Hex(), k)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "signers", "n", 3, "number of signer keys")
	return cmd
}

func newFHEKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "fhe-keygen",
		Short: "Write a BGV key file for FHE_KEY_FILE, shared with the decryption oracle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			keys, err := fhe.GenerateKeys(fhe.DefaultParameters)
			if err != nil {
				return err
			}
			if err := keys.Save(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "key file path")
	return cmd
}

func newLogger(cfg config.Config) *zap.Logger {
	var zc zap.Config
	if cfg.Env == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	log, err := zc.Build()
	if err != nil {
		return zap.NewExample()
	}
	return log.With(zap.String("service", "ecocert"))
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
