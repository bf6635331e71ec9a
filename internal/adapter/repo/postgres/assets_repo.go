package postgres

import (
	"time"

	"github.com/socialops/oversight-agent/internal/domain"
)

// AssetRepo serves the content scheduler's selection step.
type AssetRepo struct{ db *DB }

func NewAssetRepo(db *DB) *AssetRepo { return &AssetRepo{db: db} }

// ListEligible returns assets that may be posted: active, not posted within
// the reuse cooldown, and not over the lifetime reuse cap.
func (r *AssetRepo) ListEligible(ctx domain.Context, accountID string) ([]domain.Asset, error) {
	var out []domain.Asset
	err := r.db.run(ctx, "assets", "list_eligible", func(ctx domain.Context) error {
		q := `SELECT id, business_account_id, title, storage_path, media_type,
				COALESCE(tags,'{}'), times_posted,
				COALESCE(last_posted_at,'epoch'::timestamptz),
				COALESCE(avg_engagement,0), created_at
			FROM content_assets
			WHERE business_account_id=$1 AND active=true
			AND (last_posted_at IS NULL OR last_posted_at < now() - interval '14 days')
			AND times_posted < 3
			ORDER BY created_at DESC`
		rows, err := r.db.Pool.Query(ctx, q, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a domain.Asset
			var lastPosted time.Time
			if err := rows.Scan(&a.ID, &a.AccountID, &a.Title, &a.StoragePath,
				&a.MediaType, &a.Tags, &a.TimesPosted, &lastPosted,
				&a.AvgEngagement, &a.CreatedAt); err != nil {
				return err
			}
			if lastPosted.Unix() > 0 {
				a.LastPostedAt = lastPosted
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// RecentPostTags returns the tag sets of the latest published posts, used by
// the diversity factor.
func (r *AssetRepo) RecentPostTags(ctx domain.Context, accountID string, limit int) ([][]string, error) {
	var out [][]string
	err := r.db.run(ctx, "assets", "recent_post_tags", func(ctx domain.Context) error {
		q := `SELECT COALESCE(a.tags,'{}')
			FROM scheduled_posts p JOIN content_assets a ON a.id = p.asset_id
			WHERE p.business_account_id=$1 AND p.status='published'
			ORDER BY p.published_at DESC LIMIT $2`
		rows, err := r.db.Pool.Query(ctx, q, accountID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var tags []string
			if err := rows.Scan(&tags); err != nil {
				return err
			}
			out = append(out, tags)
		}
		return rows.Err()
	})
	return out, err
}

// MarkPosted bumps the reuse counters after a successful publish.
func (r *AssetRepo) MarkPosted(ctx domain.Context, assetID string) error {
	return r.db.run(ctx, "assets", "mark_posted", func(ctx domain.Context) error {
		q := `UPDATE content_assets
			SET times_posted = times_posted + 1, last_posted_at = $2
			WHERE id=$1`
		_, err := r.db.Pool.Exec(ctx, q, assetID, time.Now().UTC())
		return err
	})
}
