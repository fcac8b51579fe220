package state

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusDead      JobStatus = "dead"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether a job in this status will never be claimed again without an admin action.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDead
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusDead,
}

// RetryableStatuses lists the statuses an admin retry may resurrect.
var RetryableStatuses = []JobStatus{StatusFailed, StatusDead}

// DeletableStatuses lists the statuses an admin may delete.
var DeletableStatuses = []JobStatus{StatusCompleted, StatusDead}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusRunning},
	{From: StatusRunning, To: StatusCompleted},
	{From: StatusRunning, To: StatusPending},
	{From: StatusRunning, To: StatusDead},
	// admin actions
	{From: StatusDead, To: StatusPending},
	{From: StatusFailed, To: StatusPending},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

func Parse(s string) (JobStatus, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}
