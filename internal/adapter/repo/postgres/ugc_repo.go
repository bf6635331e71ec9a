package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/socialops/oversight-agent/internal/domain"
)

// UGCRepo persists discovered third-party content and the repost-permission
// lifecycle.
type UGCRepo struct{ db *DB }

func NewUGCRepo(db *DB) *UGCRepo { return &UGCRepo{db: db} }

// Upsert inserts a discovered post or refreshes its engagement counts and
// quality verdict on conflict. Permission state is never overwritten here.
func (r *UGCRepo) Upsert(ctx domain.Context, rec domain.UGCRecord) error {
	return r.db.run(ctx, "ugc", "upsert", func(ctx domain.Context) error {
		factors, _ := json.Marshal(rec.QualityFactors)
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		q := `INSERT INTO ugc_content
			(id, business_account_id, instagram_media_id, author_username,
			 media_type, media_url, permalink, caption, like_count, comments_count,
			 hashtag, quality_score, quality_factors, tier, permission_state, discovered_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'none',$15)
			ON CONFLICT (business_account_id, instagram_media_id) DO UPDATE SET
			 like_count=EXCLUDED.like_count,
			 comments_count=EXCLUDED.comments_count,
			 quality_score=EXCLUDED.quality_score,
			 quality_factors=EXCLUDED.quality_factors,
			 tier=EXCLUDED.tier`
		_, err := r.db.Pool.Exec(ctx, q, id, rec.AccountID, rec.InstagramMediaID,
			rec.AuthorUsername, rec.MediaType, rec.MediaURL, rec.Permalink,
			rec.Caption, rec.LikeCount, rec.CommentsCount, rec.Hashtag,
			rec.QualityScore, factors, rec.Tier, time.Now().UTC())
		return err
	})
}

// ExistingMediaIDs returns the set of already-discovered media ids for an
// account, used to dedupe hashtag search results.
func (r *UGCRepo) ExistingMediaIDs(ctx domain.Context, accountID string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	err := r.db.run(ctx, "ugc", "existing_ids", func(ctx domain.Context) error {
		q := `SELECT instagram_media_id FROM ugc_content WHERE business_account_id=$1`
		rows, err := r.db.Pool.Query(ctx, q, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out[id] = struct{}{}
		}
		return rows.Err()
	})
	return out, err
}

// CreatePermission opens a pending permission request for a high-tier post.
func (r *UGCRepo) CreatePermission(ctx domain.Context, accountID, mediaID, authorUsername string) error {
	return r.db.run(ctx, "ugc", "create_permission", func(ctx domain.Context) error {
		q := `UPDATE ugc_content
			SET permission_state='pending', permission_requested_at=$3
			WHERE business_account_id=$1 AND instagram_media_id=$2
			AND permission_state='none'`
		_, err := r.db.Pool.Exec(ctx, q, accountID, mediaID, time.Now().UTC())
		return err
	})
}

// GrantedPermissions lists records whose authors approved a repost and that
// have not been reposted yet.
func (r *UGCRepo) GrantedPermissions(ctx domain.Context, accountID string) ([]domain.UGCRecord, error) {
	var out []domain.UGCRecord
	err := r.db.run(ctx, "ugc", "granted", func(ctx domain.Context) error {
		q := `SELECT id, business_account_id, instagram_media_id, author_username,
				media_type, media_url, permalink, caption, like_count,
				comments_count, hashtag, quality_score, tier, permission_state, discovered_at
			FROM ugc_content
			WHERE business_account_id=$1 AND permission_state='granted'
			ORDER BY quality_score DESC`
		rows, err := r.db.Pool.Query(ctx, q, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec domain.UGCRecord
			if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.InstagramMediaID,
				&rec.AuthorUsername, &rec.MediaType, &rec.MediaURL, &rec.Permalink,
				&rec.Caption, &rec.LikeCount, &rec.CommentsCount, &rec.Hashtag,
				&rec.QualityScore, &rec.Tier, &rec.Permission, &rec.DiscoveredAt); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// UpdatePermission transitions the permission state of one record.
func (r *UGCRepo) UpdatePermission(ctx domain.Context, accountID, mediaID string, state domain.PermissionState) error {
	return r.db.run(ctx, "ugc", "update_permission", func(ctx domain.Context) error {
		q := `UPDATE ugc_content SET permission_state=$3, permission_updated_at=$4
			WHERE business_account_id=$1 AND instagram_media_id=$2`
		_, err := r.db.Pool.Exec(ctx, q, accountID, mediaID, state, time.Now().UTC())
		return err
	})
}
