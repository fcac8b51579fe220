package main

import (
	"fmt"
	"time"

	"github.com/mdollan-source/payg/app"
	"github.com/mdollan-source/payg/internal/db"
	"github.com/mdollan-source/payg/types"
	"github.com/mdollan-source/payg/types/config"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

type workerFlags struct {
	concurrency  int
	pollInterval time.Duration
	jobTypes     []string
	quiet        bool
	migrate      bool
}

func newWorkerCmd() *cobra.Command {
	var f workerFlags
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim and run jobs until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := f.options(cmd)
			if err != nil {
				return err
			}
			c, err := newContainer(cmd, opts...)
			if err != nil {
				return err
			}
			defer c.Close()

			if f.migrate && c.Config.StorageDriver == config.Postgres {
				if err := db.Init(cmd.Context(), c.Config.PostgresConfig.ConnectionUrl, c.LockManager, c.Logger); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			return c.RunWorker(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "handlers in flight, overrides WORKER_CONCURRENCY")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", 0, "sleep after an empty claim, overrides WORKER_POLL_INTERVAL")
	cmd.Flags().StringSliceVar(&f.jobTypes, "types", nil, "job types to claim, overrides WORKER_JOB_TYPES")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "only log warnings and failures")
	cmd.Flags().BoolVar(&f.migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func (f workerFlags) options(cmd *cobra.Command) ([]config.ConfigOption, error) {
	var opts []config.ConfigOption
	if cmd.Flags().Changed("concurrency") {
		opts = append(opts, config.WithConcurrency(f.concurrency))
	}
	if cmd.Flags().Changed("poll-interval") {
		opts = append(opts, config.WithPollInterval(f.pollInterval))
	}
	if len(f.jobTypes) > 0 {
		jobTypes := make([]types.JobType, len(f.jobTypes))
		for i, s := range f.jobTypes {
			jobTypes[i] = types.JobType(s)
		}
		opts = append(opts, config.WithJobTypes(jobTypes...))
	}
	if f.quiet {
		opts = append(opts, config.WithVerbose(false))
	}
	return opts, nil
}

func newAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin",
		Short: "Serve only the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newContainer(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.RunAdmin(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newContainer(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if c.Config.StorageDriver != config.Postgres {
				return fmt.Errorf("migrations need postgres storage, got %s", c.Config.StorageDriver)
			}
			if err := db.Init(cmd.Context(), c.Config.PostgresConfig.ConnectionUrl, c.LockManager, c.Logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as ADMIN_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}

// newContainer loads the environment, applies flag overrides and wires the application.
func newContainer(cmd *cobra.Command, overrides ...config.ConfigOption) (*app.Container, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	opts, err := env.Options()
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewAppConfig(env.Instance, append(opts, overrides...)...)
	if err != nil {
		return nil, err
	}
	return app.NewContainer(cmd.Context(), cfg)
}
