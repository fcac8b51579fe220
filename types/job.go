package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/internal/state"
)

type JobType string

const (
	JobAIGenerateSpec JobType = "ai_generate_spec"
	JobAIGenerateSeed JobType = "ai_generate_seed"
	JobImportSeed     JobType = "import_seed"
	JobSendEmail      JobType = "send_email"
	JobVerifyDNS      JobType = "verify_dns"
	JobProvisionSSL   JobType = "provision_ssl"
)

var AllJobTypes = []JobType{
	JobAIGenerateSpec,
	JobAIGenerateSeed,
	JobImportSeed,
	JobSendEmail,
	JobVerifyDNS,
	JobProvisionSSL,
}

func (t JobType) String() string {
	return string(t)
}

func (t JobType) IsValid() bool {
	for _, jt := range AllJobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// Job is one unit of asynchronous work.
type Job struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id,omitempty"`
	JobType        JobType         `json:"job_type"`
	Status         state.JobStatus `json:"status"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	RunAt          time.Time       `json:"run_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return sonic.Unmarshal([]byte("{}"), v)
	}
	return sonic.Unmarshal(j.Payload, v)
}

// HandlerFunc processes a claimed job. The returned value is stored as the job result.
// Handlers never complete or fail the job themselves.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// QueueStats counts jobs per status.
type QueueStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

func (s QueueStats) Total() int {
	return s.Pending + s.Running + s.Completed + s.Failed + s.Dead
}

// NewQueueStats builds stats from per-status counts. Missing statuses count as zero.
func NewQueueStats(counts map[state.JobStatus]int) QueueStats {
	return QueueStats{
		Pending:   counts[state.StatusPending],
		Running:   counts[state.StatusRunning],
		Completed: counts[state.StatusCompleted],
		Failed:    counts[state.StatusFailed],
		Dead:      counts[state.StatusDead],
	}
}
