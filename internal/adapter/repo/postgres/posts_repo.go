package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/socialops/oversight-agent/internal/domain"
)

// PostRepo persists scheduled posts and their settlement. GetStatus is the
// read side of the publish idempotency guard.
type PostRepo struct{ db *DB }

func NewPostRepo(db *DB) *PostRepo { return &PostRepo{db: db} }

// Create inserts a scheduled post and returns its id.
func (r *PostRepo) Create(ctx domain.Context, p domain.ScheduledPost) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	err := r.db.run(ctx, "scheduled_posts", "create", func(ctx domain.Context) error {
		factors, _ := json.Marshal(p.SelectionFactors)
		q := `INSERT INTO scheduled_posts
			(id, business_account_id, run_id, asset_id, asset_url, media_type,
			 caption, hashtags, selection_score, selection_factors, quality_score,
			 approved, reasoning, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
		_, err := r.db.Pool.Exec(ctx, q, id, p.AccountID, p.RunID, p.AssetID,
			p.AssetURL, p.MediaType, p.Caption, p.Hashtags, p.SelectionScore,
			factors, p.QualityScore, p.Approved, p.Reasoning, p.Status, time.Now().UTC())
		return err
	})
	return id, err
}

// GetStatus reads the current lifecycle status of a post.
func (r *PostRepo) GetStatus(ctx domain.Context, id string) (domain.PostStatus, error) {
	var status domain.PostStatus
	err := r.db.run(ctx, "scheduled_posts", "get_status", func(ctx domain.Context) error {
		q := `SELECT status FROM scheduled_posts WHERE id=$1`
		err := r.db.Pool.QueryRow(ctx, q, id).Scan(&status)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return err
	})
	return status, err
}

// UpdateStatus settles a post. extra carries instagram_media_id, publish_error,
// or published_at.
func (r *PostRepo) UpdateStatus(ctx domain.Context, id string, status domain.PostStatus, extra map[string]any) error {
	return r.db.run(ctx, "scheduled_posts", "update_status", func(ctx domain.Context) error {
		q := `UPDATE scheduled_posts SET status=$2,
			instagram_media_id=COALESCE($3,instagram_media_id),
			publish_error=COALESCE($4,publish_error),
			published_at=COALESCE($5,published_at)
			WHERE id=$1`
		_, err := r.db.Pool.Exec(ctx, q, id, status,
			strField(extra, "instagram_media_id"), strField(extra, "publish_error"),
			timeField(extra, "published_at"))
		return err
	})
}

// CountToday counts posts created since UTC midnight for the daily cap.
func (r *PostRepo) CountToday(ctx domain.Context, accountID string) (int, error) {
	var n int
	err := r.db.run(ctx, "scheduled_posts", "count_today", func(ctx domain.Context) error {
		q := `SELECT COUNT(*) FROM scheduled_posts
			WHERE business_account_id=$1
			AND created_at >= date_trunc('day', now() AT TIME ZONE 'utc')
			AND status IN ('publishing','published')`
		return r.db.Pool.QueryRow(ctx, q, accountID).Scan(&n)
	})
	return n, err
}
