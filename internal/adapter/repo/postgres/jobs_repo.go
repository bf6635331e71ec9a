package postgres

import (
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/socialops/oversight-agent/internal/domain"
)

// JobRepo is the store lane of the outbound queue: the fallback when Redis is
// down and the authoritative record of terminal states.
type JobRepo struct{ db *DB }

// NewJobRepo constructs a JobRepo over the resilient executor.
func NewJobRepo(db *DB) *JobRepo { return &JobRepo{db: db} }

const jobColumns = `job_id, action_type, priority, endpoint, payload, business_account_id,
	idempotency_key, source, created_at, retry_count, max_retries,
	COALESCE(last_error,''), COALESCE(error_category,''), COALESCE(dlq_reason,'')`

// CreatePending inserts a fallback row with status pending.
func (r *JobRepo) CreatePending(ctx domain.Context, j domain.Job) error {
	return r.db.run(ctx, "outbound_jobs", "create", func(ctx domain.Context) error {
		payload, _ := json.Marshal(j.Payload)
		q := `INSERT INTO outbound_jobs
			(job_id, action_type, priority, endpoint, payload, business_account_id,
			 idempotency_key, source, status, created_at, retry_count, max_retries)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9,$10,$11)`
		_, err := r.db.Pool.Exec(ctx, q, j.JobID, j.ActionType, j.Priority, j.Endpoint,
			payload, j.AccountID, j.IdempotencyKey, j.Source, j.CreatedAt.UTC(),
			j.RetryCount, j.MaxRetries)
		return err
	})
}

// UpdateStatus moves a job row through its lifecycle. extra carries optional
// columns (last_error, error_category, next_retry_at, retry_count, dlq_reason,
// completed_at).
func (r *JobRepo) UpdateStatus(ctx domain.Context, jobID string, status domain.JobStatus, extra map[string]any) error {
	return r.db.run(ctx, "outbound_jobs", "update_status", func(ctx domain.Context) error {
		q := `UPDATE outbound_jobs SET status=$2, updated_at=$3,
			last_error=COALESCE($4,last_error),
			error_category=COALESCE($5,error_category),
			next_retry_at=COALESCE($6,next_retry_at),
			retry_count=COALESCE($7,retry_count),
			dlq_reason=COALESCE($8,dlq_reason),
			completed_at=COALESCE($9,completed_at)
			WHERE job_id=$1`
		_, err := r.db.Pool.Exec(ctx, q, jobID, status, time.Now().UTC(),
			strField(extra, "last_error"), strField(extra, "error_category"),
			timeField(extra, "next_retry_at"), intField(extra, "retry_count"),
			strField(extra, "dlq_reason"), timeField(extra, "completed_at"))
		return err
	})
}

// FindActiveByIdempotencyKey returns the live job holding the key, if any.
// Completed and dead-lettered jobs release the key.
func (r *JobRepo) FindActiveByIdempotencyKey(ctx domain.Context, key string) (domain.Job, bool, error) {
	var j domain.Job
	found := false
	err := r.db.run(ctx, "outbound_jobs", "find_idem", func(ctx domain.Context) error {
		q := `SELECT ` + jobColumns + ` FROM outbound_jobs
			WHERE idempotency_key=$1 AND status NOT IN ('completed','dlq') LIMIT 1`
		row := r.db.Pool.QueryRow(ctx, q, key)
		job, err := scanJob(row)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}
		j = job
		found = true
		return nil
	})
	return j, found, err
}

// ListPending returns the oldest pending fallback rows.
func (r *JobRepo) ListPending(ctx domain.Context, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.run(ctx, "outbound_jobs", "list_pending", func(ctx domain.Context) error {
		q := `SELECT ` + jobColumns + ` FROM outbound_jobs
			WHERE status='pending' ORDER BY created_at ASC LIMIT $1`
		rows, err := r.db.Pool.Query(ctx, q, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs, err = scanJobs(rows)
		return err
	})
	return jobs, err
}

// ListDLQ returns dead-lettered jobs, newest failures first.
func (r *JobRepo) ListDLQ(ctx domain.Context, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.run(ctx, "outbound_jobs", "list_dlq", func(ctx domain.Context) error {
		q := `SELECT ` + jobColumns + ` FROM outbound_jobs
			WHERE status='dlq' ORDER BY updated_at DESC LIMIT $1`
		rows, err := r.db.Pool.Query(ctx, q, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs, err = scanJobs(rows)
		return err
	})
	return jobs, err
}

// Get loads a job row by id.
func (r *JobRepo) Get(ctx domain.Context, jobID string) (domain.Job, error) {
	var j domain.Job
	err := r.db.run(ctx, "outbound_jobs", "get", func(ctx domain.Context) error {
		q := `SELECT ` + jobColumns + ` FROM outbound_jobs WHERE job_id=$1`
		job, err := scanJob(r.db.Pool.QueryRow(ctx, q, jobID))
		if err != nil {
			if err == pgx.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}
		j = job
		return nil
	})
	return j, err
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var payload []byte
	err := row.Scan(&j.JobID, &j.ActionType, &j.Priority, &j.Endpoint, &payload,
		&j.AccountID, &j.IdempotencyKey, &j.Source, &j.CreatedAt,
		&j.RetryCount, &j.MaxRetries, &j.LastError, &j.ErrorCategory, &j.DLQReason)
	if err != nil {
		return domain.Job{}, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &j.Payload)
	}
	return j, nil
}

func scanJobs(rows pgx.Rows) ([]domain.Job, error) {
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func strField(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(string); ok {
		return &v
	}
	return nil
}

func intField(m map[string]any, key string) *int {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	}
	return nil
}

func timeField(m map[string]any, key string) *time.Time {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(time.Time); ok {
		u := v.UTC()
		return &u
	}
	return nil
}
