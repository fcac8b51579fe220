package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "payg-worker",
		Short: "Website provisioning job queue worker",
		Long: `
Runs the background worker that builds tenant websites: spec generation,
content generation, content import, transactional email, custom domain DNS
checks and certificate checks.

Configuration is read from the environment:

  DATABASE_URL          postgres connection string
  STORAGE_DRIVER        postgres | memory
  NOTIFIER              none | redis | postgres
  REDIS_URL             redis connection string for the redis notifier
  RABBITMQ_URL          publish job lifecycle events to this broker
  WORKER_CONCURRENCY    handlers in flight (default 2)
  WORKER_POLL_INTERVAL  sleep after an empty claim (default 5s)
  WORKER_JOB_TYPES      comma separated job types to claim (default all)
  ADMIN_ADDR            admin API listen address (default :8090)
  ADMIN_TOKEN_HASH      bcrypt hash of the admin bearer token
  LLM_API_KEY           enables model generation, otherwise templates are used
  SMTP_HOST             enables email, otherwise send_email jobs are skipped
`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newWorkerCmd(),
		newAdminCmd(),
		newMigrateCmd(),
		newJobsCmd(),
		newHashTokenCmd(),
	)
	return root
}
