package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/socialops/oversight-agent/internal/domain"
)

// AccountRepo reads the tracked business accounts.
type AccountRepo struct{ db *DB }

func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// ListActive returns all accounts with automation enabled.
func (r *AccountRepo) ListActive(ctx domain.Context) ([]domain.Account, error) {
	var out []domain.Account
	err := r.db.run(ctx, "accounts", "list_active", func(ctx domain.Context) error {
		q := `SELECT id, username, account_type, COALESCE(monitored_hashtags,'{}'), active
			FROM business_accounts WHERE active = true ORDER BY username`
		rows, err := r.db.Pool.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a domain.Account
			if err := rows.Scan(&a.ID, &a.Username, &a.AccountType, &a.Hashtags, &a.Active); err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// Get loads one account by id.
func (r *AccountRepo) Get(ctx domain.Context, id string) (domain.Account, error) {
	var a domain.Account
	err := r.db.run(ctx, "accounts", "get", func(ctx domain.Context) error {
		q := `SELECT id, username, account_type, COALESCE(monitored_hashtags,'{}'), active
			FROM business_accounts WHERE id=$1`
		err := r.db.Pool.QueryRow(ctx, q, id).
			Scan(&a.ID, &a.Username, &a.AccountType, &a.Hashtags, &a.Active)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return err
	})
	return a, err
}
