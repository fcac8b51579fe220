package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mdollan-source/payg/types"
)

// EnvConfig mirrors the process environment. Options converts it into ConfigOption values.
type EnvConfig struct {
	Instance      string `env:"INSTANCE" envDefault:"payg-worker"`
	DatabaseURL   string `env:"DATABASE_URL"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	RedisURL      string `env:"REDIS_URL"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`
	RabbitMQExch  string `env:"RABBITMQ_EXCHANGE" envDefault:"payg.jobs"`
	Notifier      string `env:"NOTIFIER" envDefault:"none"`

	WorkerJobTypes     []string      `env:"WORKER_JOB_TYPES" envSeparator:","`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	WorkerBusyInterval time.Duration `env:"WORKER_BUSY_INTERVAL" envDefault:"100ms"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	WorkerVerbose      bool          `env:"WORKER_VERBOSE" envDefault:"true"`

	StaleJobThreshold time.Duration `env:"STALE_JOB_THRESHOLD" envDefault:"0s"`
	JobRetention      time.Duration `env:"JOB_RETENTION" envDefault:"720h"`
	CleanupSchedule   string        `env:"CLEANUP_SCHEDULE" envDefault:"0 3 * * *"`

	AdminAddr      string `env:"ADMIN_ADDR" envDefault:":8090"`
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	LLMProvider   string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	LLMAPIKey     string `env:"LLM_API_KEY"`
	LLMModel      string `env:"LLM_MODEL"`
	LLMBaseURL    string `env:"LLM_BASE_URL"`
	LLMRatePerMin int    `env:"LLM_RATE_PER_MINUTE" envDefault:"20"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM"`

	AppURL         string `env:"APP_URL" envDefault:"http://localhost:3000"`
	SiteBaseDomain string `env:"SITE_BASE_DOMAIN" envDefault:"paygsite.co.uk"`
	SiteServerIP   string `env:"SITE_SERVER_IP"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT"`
}

// LoadEnv parses the process environment.
func LoadEnv() (EnvConfig, error) {
	return env.ParseAs[EnvConfig]()
}

// LoadEnvFrom parses the given key/value pairs instead of the process environment.
func LoadEnvFrom(vars map[string]string) (EnvConfig, error) {
	return env.ParseAsWithOptions[EnvConfig](env.Options{Environment: vars})
}

// Options returns the ConfigOption list described by the environment.
// Sections whose required keys are unset are left at their defaults.
func (e EnvConfig) Options() ([]ConfigOption, error) {
	driver, err := ParseStorageDriver(e.StorageDriver)
	if err != nil {
		return nil, err
	}
	notifier, err := ParseNotifierDriver(e.Notifier)
	if err != nil {
		return nil, err
	}

	opts := []ConfigOption{
		WithStorageDriver(driver),
		WithNotifier(notifier),
		WithPollInterval(e.WorkerPollInterval),
		WithBusyInterval(e.WorkerBusyInterval),
		WithConcurrency(e.WorkerConcurrency),
		WithVerbose(e.WorkerVerbose),
		WithMaintenance(MaintenanceConfig{
			CleanupSchedule:   e.CleanupSchedule,
			JobRetention:      e.JobRetention,
			StaleJobThreshold: e.StaleJobThreshold,
		}),
		WithSiteConfig(SiteConfig{AppURL: e.AppURL, BaseDomain: e.SiteBaseDomain, ServerIP: e.SiteServerIP}),
		WithLogConfig(e.LogLevel, e.LogDevelopment),
	}

	if driver == Postgres && e.DatabaseURL != "" {
		opts = append(opts, WithPostgresConfig(PostgresConfig{ConnectionUrl: e.DatabaseURL}))
	}
	if e.RedisURL != "" {
		opts = append(opts, WithRedisConfig(RedisConfig{URL: e.RedisURL}))
	}
	if e.RabbitMQURL != "" {
		opts = append(opts, WithRabbitMQConfig(RabbitMQConfig{URL: e.RabbitMQURL, Exchange: e.RabbitMQExch}))
	}
	if len(e.WorkerJobTypes) > 0 {
		jobTypes := make([]types.JobType, 0, len(e.WorkerJobTypes))
		for _, s := range e.WorkerJobTypes {
			if s = strings.TrimSpace(s); s != "" {
				jobTypes = append(jobTypes, types.JobType(s))
			}
		}
		opts = append(opts, WithJobTypes(jobTypes...))
	}
	if e.AdminTokenHash != "" {
		opts = append(opts, WithAdminConfig(e.AdminAddr, e.AdminTokenHash))
	}
	if e.LLMAPIKey != "" {
		opts = append(opts, WithLLMConfig(LLMConfig{
			Provider:   e.LLMProvider,
			APIKey:     e.LLMAPIKey,
			Model:      e.LLMModel,
			BaseURL:    e.LLMBaseURL,
			RatePerMin: e.LLMRatePerMin,
		}))
	}
	if e.SMTPHost != "" {
		opts = append(opts, WithSMTPConfig(SMTPConfig{
			Host:     e.SMTPHost,
			Port:     e.SMTPPort,
			Username: e.SMTPUsername,
			Password: e.SMTPPassword,
			From:     e.EmailFrom,
		}))
	}
	return opts, nil
}

// FromEnv loads the environment and builds an AppConfig from it.
func FromEnv() (*AppConfig, error) {
	e, err := LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	opts, err := e.Options()
	if err != nil {
		return nil, err
	}
	return NewAppConfig(e.Instance, opts...)
}
