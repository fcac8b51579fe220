package constants

import "time"

// Advisory lock ids. Values are shared by every process talking to the same database.
const (
	MigrationLock = iota + 7310
	CleanupLock
	ReaperLock
)

var Locks = []int{
	MigrationLock,
	CleanupLock,
	ReaperLock,
}

const (
	// MaxAttempts is the number of claims a job gets before it is dead-lettered.
	MaxAttempts = 4

	DefaultTenantJobsLimit = 50
	DefaultDeadJobsLimit   = 100

	DefaultJobRetention = 30 * 24 * time.Hour
)

// Backoff is indexed by attempt number minus one. Attempts past the end reuse the last entry.
var Backoff = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	8 * time.Minute,
	30 * time.Minute,
}

// BackoffFor returns the delay before the next attempt after the given number of attempts.
func BackoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(Backoff) {
		return Backoff[len(Backoff)-1]
	}
	return Backoff[attempts-1]
}
