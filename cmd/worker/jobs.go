package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/internal/message_broaker"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/types"
	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage queued jobs",
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(
		jobsStatsCmd(),
		jobsListCmd(),
		jobsDeadCmd(),
		jobsRetryCmd(),
		jobsDeleteCmd(),
		jobsCleanupCmd(),
		jobsEnqueueCmd(),
		jobsEventsCmd(),
	)
	return cmd
}

// withQueue runs fn against a queue built from the environment.
func withQueue(cmd *cobra.Command, fn func(q *client.JobQueue) (any, error)) error {
	c, err := newContainer(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := fn(c.Queue)
	if err != nil || out == nil {
		return err
	}
	body, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}

func jobsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd, func(q *client.JobQueue) (any, error) {
				return q.GetQueueStats(cmd.Context())
			})
		},
	}
}

func jobsListCmd() *cobra.Command {
	var (
		status  string
		jobType string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list <tenant-id>",
		Short: "List a tenant's jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.JobListOptions{JobType: types.JobType(jobType), Limit: limit}
			if status != "" {
				st, ok := state.Parse(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				opts.Status = st
			}
			return withQueue(cmd, func(q *client.JobQueue) (any, error) {
				return q.GetJobsForTenant(cmd.Context(), args[0], opts)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status")
	cmd.Flags().StringVar(&jobType, "type", "", "only jobs of this type")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum jobs to list")
	return cmd
}

func jobsDeadCmd() *cobra.Command {
	var (
		tenantID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd, func(q *client.JobQueue) (any, error) {
				return q.GetDeadJobs(cmd.Context(), tenantID, limit)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "only this tenant's jobs")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum jobs to list")
	return cmd
}

func jobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a dead or failed job to pending with zero attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, func(q *client.JobQueue) (any, error) {
				return q.RetryDeadJob(cmd.Context(), args[0])
			})
		},
	}
}

func jobsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a completed or dead job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, func(q *client.JobQueue) (any, error) {
				return nil, q.DeleteJob(cmd.Context(), args[0])
			})
		},
	}
}

func jobsCleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed jobs older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd, func(q *client.JobQueue) (any, error) {
				n, err := q.CleanupOldJobs(cmd.Context(), olderThan)
				if err != nil {
					return nil, err
				}
				return map[string]int64{"deleted": n}, nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention period (default 720h)")
	return cmd
}

func jobsEnqueueCmd() *cobra.Command {
	var (
		payload string
		delay   time.Duration
		key     string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <tenant-id> <job-type>",
		Short: "Create a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []client.CreateOption
			if delay > 0 {
				opts = append(opts, client.Delay(delay))
			}
			if key != "" {
				opts = append(opts, client.IdempotencyKey(key))
			}
			var body any
			if payload != "" {
				if !sonic.ValidString(payload) {
					return fmt.Errorf("payload is not valid JSON: %s", strconv.Quote(payload))
				}
				body = []byte(payload)
			}
			return withQueue(cmd, func(q *client.JobQueue) (any, error) {
				return q.CreateJob(cmd.Context(), args[0], types.JobType(args[1]), body, opts...)
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "JSON object payload")
	cmd.Flags().DurationVar(&delay, "delay", 0, "run no earlier than this far in the future")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "return the existing job if this key was used before")
	return cmd
}

var errNoBroker = errors.New("job events need RABBITMQ_URL")

func jobsEventsCmd() *cobra.Command {
	var queue string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print job lifecycle events from RabbitMQ until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newContainer(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if c.Broker == nil {
				return errNoBroker
			}
			return tailEvents(cmd.Context(), c.Broker, queue, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "payg.events.tail", "queue to bind to the job event exchange")
	return cmd
}

// tailEvents writes one event body per line until ctx ends or the broker closes the stream.
func tailEvents(ctx context.Context, broker message_broaker.MessageBroker, queue string, out io.Writer) error {
	msgs, err := broker.Consume(ctx, queue)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case body, ok := <-msgs:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, string(body))
		}
	}
}
