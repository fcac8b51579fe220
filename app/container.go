package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/handlers"
	"github.com/mdollan-source/payg/internal/ai"
	"github.com/mdollan-source/payg/internal/importer"
	"github.com/mdollan-source/payg/internal/lock"
	"github.com/mdollan-source/payg/internal/logging"
	"github.com/mdollan-source/payg/internal/mail"
	"github.com/mdollan-source/payg/internal/message_broaker"
	"github.com/mdollan-source/payg/internal/metrics"
	"github.com/mdollan-source/payg/internal/notify"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/internal/store/memory"
	"github.com/mdollan-source/payg/internal/store/postgres"
	"github.com/mdollan-source/payg/types/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.AppConfig
	Logger *zap.Logger

	// Storage connections (created once, shared by all stores)
	DB    *sql.DB
	Redis *redis.Client

	Jobs  store.JobStore
	Sites store.SiteStore

	LockManager lock.DistributedLockManager
	Broker      message_broaker.MessageBroker
	Notifier    notify.Notifier
	Registry    *prometheus.Registry
	Metrics     *metrics.Collectors

	Queue    *client.JobQueue
	Handlers *config.JobHandler

	closers []func() error
}

// NewContainer creates and wires all dependencies. Call this once per application lifecycle.
// Pass WithDB or WithRedis to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.AppConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	c := &Container{Config: cfg, Logger: opt.logger}
	if c.Logger == nil {
		logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, err
		}
		c.Logger = logger
	}
	c.Logger = c.Logger.With(zap.String("instance", cfg.Instance))

	if err := c.initStorage(ctx, opt); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := c.initEvents(ctx, opt); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Registry = opt.registry
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	c.Metrics = metrics.New(c.Registry)

	queueOpts := []client.QueueOption{
		client.WithNotifier(c.Notifier),
		client.WithQueueMetrics(c.Metrics),
		client.WithQueueLogger(c.Logger),
	}
	if c.Broker != nil {
		queueOpts = append(queueOpts, client.WithEventPublisher(message_broaker.NewBrokerPublisher(c.Broker, cfg.Instance)))
	}
	c.Queue = client.NewJobQueue(c.Jobs, queueOpts...)

	c.Handlers = config.NewJobHandler()
	deps, err := c.handlerDeps(opt)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := handlers.Register(c.Handlers, deps); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	return c, nil
}

func (c *Container) initStorage(ctx context.Context, opt *containerConfig) error {
	switch c.Config.StorageDriver {
	case config.Postgres:
		db := opt.db
		if db == nil {
			var err error
			if db, err = openPostgresDB(ctx, c.Config.PostgresConfig.ConnectionUrl); err != nil {
				return err
			}
			c.closers = append(c.closers, db.Close)
		}
		c.DB = db
		c.Jobs = postgres.NewPostgresJobStore(db)
		c.Sites = postgres.NewPostgresSiteStore(db)
		c.LockManager = lock.NewPostgresDistributedLockManager(db)
	case config.Memory:
		c.Jobs = memory.NewJobStore()
		c.Sites = memory.NewSiteStore()
		c.LockManager = lock.NewLocalLockManager()
	default:
		return fmt.Errorf("unsupported storage driver: %v", c.Config.StorageDriver)
	}
	return nil
}

func (c *Container) initEvents(ctx context.Context, opt *containerConfig) error {
	switch c.Config.NotifierDriver {
	case config.RedisNotifier:
		rdb := opt.redis
		if rdb == nil {
			redisOpts, err := redis.ParseURL(c.Config.RedisConfig.URL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			rdb = redis.NewClient(redisOpts)
			c.closers = append(c.closers, rdb.Close)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		c.Redis = rdb
		c.Notifier = notify.NewRedisNotifier(rdb)
	case config.PostgresNotifier:
		c.Notifier = notify.NewPostgresNotifier(c.DB, c.Config.PostgresConfig.ConnectionUrl, c.Logger.Named("notify"))
	default:
		c.Notifier = notify.Nop{}
	}
	c.closers = append(c.closers, c.Notifier.Close)

	if c.Config.MQDriver == config.RabbitMQ {
		mq := c.Config.RabbitMQConfig
		broker, err := message_broaker.NewRabbitMQ(mq.URL, mq.Exchange, mq.ContentType)
		if err != nil {
			return fmt.Errorf("init rabbitmq: %w", err)
		}
		c.Broker = broker
		c.closers = append(c.closers, broker.Close)
	}
	return nil
}

// handlerDeps picks the LLM generator when an API key is configured and the template generator otherwise.
// Without SMTP settings the mailer stays nil and send_email jobs complete as skipped.
func (c *Container) handlerDeps(opt *containerConfig) (handlers.Deps, error) {
	deps := handlers.Deps{
		Queue:    c.Queue,
		Sites:    c.Sites,
		Importer: importer.New(c.Sites, c.Logger),
		DNS:      opt.dns,
		Certs:    opt.certs,
		Site:     c.Config.Site,
		Logger:   c.Logger,
	}

	if c.Config.LLM.Enabled() {
		gen := ai.NewLLMGenerator(ai.NewChatClient(c.Config.LLM, c.Logger), c.Logger)
		deps.Specs, deps.Seeds = gen, gen
	} else {
		gen := ai.NewTemplateGenerator(nil)
		deps.Specs, deps.Seeds = gen, gen
		c.Logger.Info("no model API key configured, using template generator")
	}

	switch {
	case opt.mailer != nil:
		deps.Mailer = opt.mailer
	case c.Config.SMTP.Enabled():
		sender, err := mail.NewSMTPSender(c.Config.SMTP)
		if err != nil {
			return deps, fmt.Errorf("init smtp: %w", err)
		}
		deps.Mailer = sender
	default:
		c.Logger.Info("smtp not configured, emails will be skipped")
	}
	return deps, nil
}

// Close releases every connection the container opened, in reverse order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
	return errors.Join(errs...)
}

func openPostgresDB(ctx context.Context, connectionURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var errAdminDisabled = errors.New("admin API needs ADMIN_TOKEN_HASH")
