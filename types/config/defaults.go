package config

import "time"

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultBusyInterval    = 100 * time.Millisecond
	DefaultConcurrency     = 1
	DefaultStorageDriver   = Postgres
	DefaultCleanupSchedule = "0 3 * * *"
	DefaultAdminAddr       = ":8090"
	DefaultLLMRatePerMin   = 20
	DefaultLLMModel        = "claude-sonnet-4-20250514"
	DefaultSMTPPort        = 587
	DefaultSiteBaseDomain  = "paygsite.co.uk"
	DefaultRabbitExchange  = "payg.jobs"
)
