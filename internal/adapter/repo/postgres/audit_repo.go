package postgres

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/socialops/oversight-agent/internal/domain"
)

// AuditRepo is the append-only decision log. Pipelines write; the
// explainability tools read.
type AuditRepo struct{ db *DB }

func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Log appends one entry. Audit writes are best-effort for callers; they log
// the error and continue.
func (r *AuditRepo) Log(ctx domain.Context, e domain.AuditEntry) error {
	return r.db.run(ctx, "audit", "log", func(ctx domain.Context) error {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		details, _ := json.Marshal(e.Details)
		q := `INSERT INTO audit_log
			(id, event_type, action, resource_type, resource_id,
			 business_account_id, details, ip_address, success, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
		_, err := r.db.Pool.Exec(ctx, q, id, e.EventType, e.Action, e.ResourceType,
			e.ResourceID, e.AccountID, details, e.IP, e.Success, created.UTC())
		return err
	})
}

const auditColumns = `id, event_type, action, resource_type, resource_id,
	business_account_id, details, COALESCE(ip_address,''), success, created_at`

// Recent returns the latest entries for an account, newest first.
func (r *AuditRepo) Recent(ctx domain.Context, accountID string, limit int) ([]domain.AuditEntry, error) {
	return r.Query(ctx, domain.AuditFilter{AccountID: accountID, Limit: limit})
}

// Query narrows the log by the populated filter fields.
func (r *AuditRepo) Query(ctx domain.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := r.db.run(ctx, "audit", "query", func(ctx domain.Context) error {
		q := `SELECT ` + auditColumns + ` FROM audit_log WHERE 1=1`
		var args []any
		add := func(clause string, v any) {
			args = append(args, v)
			q += " AND " + clause + "$" + strconv.Itoa(len(args))
		}
		if f.AccountID != "" {
			add("business_account_id=", f.AccountID)
		}
		if f.EventType != "" {
			add("event_type=", f.EventType)
		}
		if f.ResourceType != "" {
			add("resource_type=", f.ResourceType)
		}
		if f.ResourceID != "" {
			add("resource_id=", f.ResourceID)
		}
		if !f.Since.IsZero() {
			add("created_at>=", f.Since.UTC())
		}
		if !f.Until.IsZero() {
			add("created_at<=", f.Until.UTC())
		}
		limit := f.Limit
		if limit <= 0 {
			limit = 50
		}
		args = append(args, limit)
		q += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

		rows, err := r.db.Pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e domain.AuditEntry
			var details []byte
			if err := rows.Scan(&e.ID, &e.EventType, &e.Action, &e.ResourceType,
				&e.ResourceID, &e.AccountID, &details, &e.IP, &e.Success, &e.CreatedAt); err != nil {
				return err
			}
			if len(details) > 0 {
				_ = json.Unmarshal(details, &e.Details)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// OutcomeRepo persists execution feedback reported by the backend.
type OutcomeRepo struct{ db *DB }

func NewOutcomeRepo(db *DB) *OutcomeRepo { return &OutcomeRepo{db: db} }

// Log inserts one outcome row.
func (r *OutcomeRepo) Log(ctx domain.Context, o domain.ExecutionOutcome) error {
	return r.db.run(ctx, "outcomes", "log", func(ctx domain.Context) error {
		id := o.ID
		if id == "" {
			id = uuid.New().String()
		}
		q := `INSERT INTO execution_outcomes
			(id, resource_id, business_account_id, action, success, detail, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`
		_, err := r.db.Pool.Exec(ctx, q, id, o.ResourceID, o.AccountID, o.Action,
			o.Success, o.Detail, time.Now().UTC())
		return err
	})
}
