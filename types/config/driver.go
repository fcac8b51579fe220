package config

import "fmt"

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	Memory
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case Memory:
		return "memory"
	}
	return "unknown"
}

func ParseStorageDriver(s string) (StorageDriver, error) {
	switch s {
	case "", "postgres":
		return Postgres, nil
	case "memory":
		return Memory, nil
	}
	return 0, fmt.Errorf("unknown storage driver %q", s)
}

type MessageQueueDriver int

const (
	NoMessageQueue MessageQueueDriver = iota
	RabbitMQ
)

func (d MessageQueueDriver) String() string {
	switch d {
	case NoMessageQueue:
		return "none"
	case RabbitMQ:
		return "rabbitmq"
	default:
		return "unknown"
	}
}

// NotifierDriver selects how createJob wakes idle workers.
type NotifierDriver int

const (
	NoNotifier NotifierDriver = iota
	RedisNotifier
	PostgresNotifier
)

func (d NotifierDriver) String() string {
	switch d {
	case NoNotifier:
		return "none"
	case RedisNotifier:
		return "redis"
	case PostgresNotifier:
		return "postgres"
	}
	return "unknown"
}

func ParseNotifierDriver(s string) (NotifierDriver, error) {
	switch s {
	case "", "none":
		return NoNotifier, nil
	case "redis":
		return RedisNotifier, nil
	case "postgres":
		return PostgresNotifier, nil
	}
	return 0, fmt.Errorf("unknown notifier %q", s)
}
