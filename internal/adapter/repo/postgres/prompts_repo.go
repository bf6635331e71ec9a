package postgres

import (
	"github.com/socialops/oversight-agent/internal/domain"
)

// PromptRepo loads active prompt templates. Missing rows fall back to the
// embedded defaults, so an empty table is not an error.
type PromptRepo struct{ db *DB }

func NewPromptRepo(db *DB) *PromptRepo { return &PromptRepo{db: db} }

// ListActive returns the highest active version of every template key.
func (r *PromptRepo) ListActive(ctx domain.Context) ([]domain.PromptTemplate, error) {
	var out []domain.PromptTemplate
	err := r.db.run(ctx, "prompts", "list_active", func(ctx domain.Context) error {
		q := `SELECT DISTINCT ON (key) key, version, template
			FROM prompt_templates WHERE active=true
			ORDER BY key, version DESC`
		rows, err := r.db.Pool.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p domain.PromptTemplate
			if err := rows.Scan(&p.Key, &p.Version, &p.Template); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}
