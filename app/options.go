package app

import (
	"database/sql"

	"github.com/mdollan-source/payg/handlers"
	"github.com/mdollan-source/payg/internal/mail"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	db       *sql.DB
	redis    *redis.Client
	logger   *zap.Logger
	registry *prometheus.Registry
	mailer   mail.Sender
	dns      handlers.DNSVerifier
	certs    handlers.CertChecker
}

// WithDB injects a database connection instead of opening one from config.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) { c.db = db }
}

// WithRedis injects a Redis client for the redis notifier.
func WithRedis(rdb *redis.Client) ContainerOption {
	return func(c *containerConfig) { c.redis = rdb }
}

func WithLogger(l *zap.Logger) ContainerOption {
	return func(c *containerConfig) { c.logger = l }
}

func WithRegistry(reg *prometheus.Registry) ContainerOption {
	return func(c *containerConfig) { c.registry = reg }
}

// WithMailer replaces the SMTP sender.
func WithMailer(m mail.Sender) ContainerOption {
	return func(c *containerConfig) { c.mailer = m }
}

// WithDomainChecks replaces the DNS verifier and certificate checker.
func WithDomainChecks(dns handlers.DNSVerifier, certs handlers.CertChecker) ContainerOption {
	return func(c *containerConfig) {
		c.dns = dns
		c.certs = certs
	}
}
