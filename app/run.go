package app

import (
	"context"
	"time"

	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/internal/maintenance"
	"github.com/mdollan-source/payg/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DrainTimeout bounds how long shutdown waits for in-flight handlers.
const DrainTimeout = 5 * time.Minute

// NewWorker builds a worker over the container's queue. When a notifier is configured,
// idle polls are cut short by createJob notifications.
func (c *Container) NewWorker(ctx context.Context) (*client.Worker, error) {
	opts := []client.WorkerOption{
		client.WithWorkerLogger(c.Logger.Named("worker")),
		client.WithWorkerMetrics(c.Metrics),
	}
	wake, err := c.Notifier.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, client.WithWakeChannel(wake))
	return client.NewWorker(c.Queue, c.Handlers, c.Config.Worker, opts...), nil
}

// NewAdminServer builds the admin API. It reports false when no admin token is configured.
func (c *Container) NewAdminServer() (*web.Server, bool) {
	if c.Config.Admin.TokenHash == "" {
		return nil, false
	}
	return web.NewServer(c.Queue, c.Sites, c.Config.Admin,
		web.WithGatherer(c.Registry),
		web.WithHandlers(c.Handlers),
		web.WithServerLogger(c.Logger),
	), true
}

// RunWorker runs the worker, the maintenance scheduler and, when configured, the admin API
// until ctx ends. Shutdown stops claiming and waits for in-flight jobs.
func (c *Container) RunWorker(ctx context.Context) error {
	worker, err := c.NewWorker(ctx)
	if err != nil {
		return err
	}
	sched, err := maintenance.NewScheduler(c.Queue, c.LockManager, c.Config.Maintenance, c.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
		defer cancel()
		return sched.Stop(stopCtx)
	})
	if srv, ok := c.NewAdminServer(); ok {
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	err = g.Wait()
	c.Logger.Info("shutdown complete", zap.Error(err))
	return err
}

// RunAdmin serves only the admin API.
func (c *Container) RunAdmin(ctx context.Context) error {
	srv, ok := c.NewAdminServer()
	if !ok {
		return errAdminDisabled
	}
	return srv.ListenAndServe(ctx)
}
