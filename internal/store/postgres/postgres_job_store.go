package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mdollan-source/payg/internal/state"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
)

var jobColumnList = []string{
	"id", "tenant_id", "job_type", "status", "payload", "attempts", "run_at",
	"started_at", "completed_at", "last_error", "result", "idempotency_key",
	"created_at", "updated_at",
}

var jobColumns = strings.Join(jobColumnList, ", ")

type PostgresJobStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresJobStore) Insert(ctx context.Context, job store.NewJob, now time.Time) (*types.Job, bool, error) {
	query := `
		INSERT INTO jobs (id, tenant_id, job_type, status, payload, attempts, run_at, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + jobColumns

	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	row := r.db.QueryRowContext(ctx, query,
		uuid.NewString(),
		nullString(job.TenantID),
		string(job.JobType),
		string(state.StatusPending),
		string(payload),
		job.RunAt,
		nullString(job.IdempotencyKey),
		now,
	)

	saved, err := scanJob(row)
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || job.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("failed to insert job: %w", err)
	}

	existing, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, job.IdempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load job for idempotency key %q: %w", job.IdempotencyKey, err)
	}
	return existing, false, nil
}

func (r *PostgresJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job %s: %w", id, err)
	}
	return job, nil
}

// ClaimNext runs the select and the update as one statement. The inner SELECT locks the chosen
// row with SKIP LOCKED, so concurrent claimers move on to the next eligible row instead of waiting.
func (r *PostgresJobStore) ClaimNext(ctx context.Context, jobTypes []types.JobType, now time.Time) (*types.Job, error) {
	where := `status = $1 AND run_at <= $2`
	args := []any{string(state.StatusPending), now, string(state.StatusRunning)}
	if len(jobTypes) > 0 {
		where += ` AND job_type = ANY($4)`
		args = append(args, pq.Array(jobTypeStrings(jobTypes)))
	}

	query := `
		UPDATE jobs
		SET status = $3, started_at = $2, attempts = attempts + 1, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE ` + where + `
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobStore) MarkCompleted(ctx context.Context, id string, result []byte, now time.Time) (*types.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, completed_at = $3, result = $4, updated_at = $3
		WHERE id = $1 AND status = 'running'
		RETURNING ` + jobColumns

	return r.updateOne(ctx, id, query, id, string(state.StatusCompleted), now, nullJSON(result))
}

func (r *PostgresJobStore) Reschedule(ctx context.Context, id string, errMsg string, runAt time.Time, now time.Time) (*types.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, last_error = $3, run_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'running'
		RETURNING ` + jobColumns

	return r.updateOne(ctx, id, query, id, string(state.StatusPending), errMsg, runAt, now)
}

func (r *PostgresJobStore) MarkDead(ctx context.Context, id string, errMsg string, now time.Time) (*types.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, last_error = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'running'
		RETURNING ` + jobColumns

	return r.updateOne(ctx, id, query, id, string(state.StatusDead), errMsg, now)
}

func (r *PostgresJobStore) Requeue(ctx context.Context, id string, from []state.JobStatus, resetAttempts bool, now time.Time) (*types.Job, error) {
	set := `status = $2, run_at = $3, updated_at = $3`
	if resetAttempts {
		set += `, attempts = 0, last_error = NULL, started_at = NULL, completed_at = NULL`
	}
	query := `
		UPDATE jobs
		SET ` + set + `
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, string(state.StatusPending), now, pq.Array(statusStrings(from))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.conflictOrNotFound(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) RemoveByID(ctx context.Context, id string, from []state.JobStatus) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND status = ANY($2)`, id, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (r *PostgresJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, s := range state.AllStatuses {
		result[s] = 0
	}

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[state.JobStatus(status)] = count
	}
	return result, rows.Err()
}

func (r *PostgresJobStore) List(ctx context.Context, filter store.JobFilter) ([]types.Job, error) {
	q := r.sb.Select(jobColumnList...).From("jobs")
	if filter.TenantID != "" {
		q = q.Where(sq.Eq{"tenant_id": filter.TenantID})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.JobType != "" {
		q = q.Where(sq.Eq{"job_type": string(filter.JobType)})
	}
	q = q.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return r.queryJobs(ctx, q)
}

func (r *PostgresJobStore) ListDead(ctx context.Context, tenantID string, limit int) ([]types.Job, error) {
	q := r.sb.Select(jobColumnList...).From("jobs").Where(sq.Eq{"status": string(state.StatusDead)})
	if tenantID != "" {
		q = q.Where(sq.Eq{"tenant_id": tenantID})
	}
	q = q.OrderBy("completed_at DESC NULLS LAST")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return r.queryJobs(ctx, q)
}

func (r *PostgresJobStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = $1 AND completed_at < $2`,
		string(state.StatusCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed jobs: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresJobStore) RecoverStale(ctx context.Context, cutoff time.Time, maxAttempts int, now time.Time) (int64, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN attempts >= $2 THEN 'dead' ELSE 'pending' END,
			completed_at = CASE WHEN attempts >= $2 THEN $4 ELSE completed_at END,
			last_error = $3,
			run_at = $4,
			updated_at = $4
		WHERE status = 'running' AND started_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff, maxAttempts, "job lease expired", now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresJobStore) Close() error {
	return r.db.Close()
}

func (r *PostgresJobStore) updateOne(ctx context.Context, id, query string, args ...any) (*types.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.conflictOrNotFound(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) conflictOrNotFound(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return fmt.Errorf("job %s is %s: %w", id, status, store.ErrStatusConflict)
}

func (r *PostgresJobStore) queryJobs(ctx context.Context, q sq.SelectBuilder) ([]types.Job, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(s rowScanner) (*types.Job, error) {
	var (
		job                          types.Job
		tenantID, lastError, idemKey sql.NullString
		jobType, status              string
		payload, result              []byte
		startedAt, completedAt       sql.NullTime
	)

	err := s.Scan(
		&job.ID,
		&tenantID,
		&jobType,
		&status,
		&payload,
		&job.Attempts,
		&job.RunAt,
		&startedAt,
		&completedAt,
		&lastError,
		&result,
		&idemKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.TenantID = tenantID.String
	job.JobType = types.JobType(jobType)
	job.Status = state.JobStatus(status)
	job.Payload = payload
	if len(result) > 0 {
		job.Result = result
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if lastError.Valid {
		msg := lastError.String
		job.LastError = &msg
	}
	if idemKey.Valid {
		key := idemKey.String
		job.IdempotencyKey = &key
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullJSON passes JSON as text; lib/pq would otherwise encode a byte slice as bytea.
func nullJSON(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func jobTypeStrings(jobTypes []types.JobType) []string {
	out := make([]string, len(jobTypes))
	for i, jt := range jobTypes {
		out[i] = string(jt)
	}
	return out
}

func statusStrings(statuses []state.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
