package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/socialops/oversight-agent/internal/domain"
)

// ReportRepo persists analytics reports. Latest backs the week-over-week
// trend compare.
type ReportRepo struct{ db *DB }

func NewReportRepo(db *DB) *ReportRepo { return &ReportRepo{db: db} }

// Upsert writes a report, replacing any prior report of the same type and
// period start.
func (r *ReportRepo) Upsert(ctx domain.Context, rep domain.AnalyticsReport) error {
	return r.db.run(ctx, "reports", "upsert", func(ctx domain.Context) error {
		id := rep.ID
		if id == "" {
			id = uuid.New().String()
		}
		byType, _ := json.Marshal(rep.ByMediaType)
		recs, _ := json.Marshal(rep.Recommendations)
		q := `INSERT INTO analytics_reports
			(id, business_account_id, report_type, period_start, period_end,
			 reach, impressions, engagement_rate, by_media_type,
			 best_post_id, worst_post_id, percent_change, trend,
			 recommendations, narrative, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (business_account_id, report_type, period_start) DO UPDATE SET
			 reach=EXCLUDED.reach, impressions=EXCLUDED.impressions,
			 engagement_rate=EXCLUDED.engagement_rate,
			 by_media_type=EXCLUDED.by_media_type,
			 best_post_id=EXCLUDED.best_post_id, worst_post_id=EXCLUDED.worst_post_id,
			 percent_change=EXCLUDED.percent_change, trend=EXCLUDED.trend,
			 recommendations=EXCLUDED.recommendations, narrative=EXCLUDED.narrative`
		_, err := r.db.Pool.Exec(ctx, q, id, rep.AccountID, rep.ReportType,
			rep.PeriodStart.UTC(), rep.PeriodEnd.UTC(), rep.Reach, rep.Impressions,
			rep.EngagementRate, byType, rep.BestPostID, rep.WorstPostID,
			rep.PercentChange, rep.Trend, recs, rep.Narrative, time.Now().UTC())
		return err
	})
}

// Latest returns the newest report of a type for an account, if any.
func (r *ReportRepo) Latest(ctx domain.Context, accountID, reportType string) (domain.AnalyticsReport, bool, error) {
	var rep domain.AnalyticsReport
	found := false
	err := r.db.run(ctx, "reports", "latest", func(ctx domain.Context) error {
		q := `SELECT id, business_account_id, report_type, period_start, period_end,
				reach, impressions, engagement_rate, by_media_type,
				COALESCE(best_post_id,''), COALESCE(worst_post_id,''),
				percent_change, trend, recommendations, COALESCE(narrative,''), created_at
			FROM analytics_reports
			WHERE business_account_id=$1 AND report_type=$2
			ORDER BY period_start DESC LIMIT 1`
		var byType, recs []byte
		err := r.db.Pool.QueryRow(ctx, q, accountID, reportType).Scan(
			&rep.ID, &rep.AccountID, &rep.ReportType, &rep.PeriodStart, &rep.PeriodEnd,
			&rep.Reach, &rep.Impressions, &rep.EngagementRate, &byType,
			&rep.BestPostID, &rep.WorstPostID, &rep.PercentChange, &rep.Trend,
			&recs, &rep.Narrative, &rep.CreatedAt)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		_ = json.Unmarshal(byType, &rep.ByMediaType)
		_ = json.Unmarshal(recs, &rep.Recommendations)
		found = true
		return nil
	})
	return rep, found, err
}

// RecentPosts returns published posts since the cutoff with their cached
// engagement context, feeding the report aggregation.
func (r *ReportRepo) RecentPosts(ctx domain.Context, accountID string, since time.Time) ([]domain.PostContext, error) {
	var out []domain.PostContext
	err := r.db.run(ctx, "reports", "recent_posts", func(ctx domain.Context) error {
		q := `SELECT instagram_media_id, COALESCE(caption,''), media_type,
				COALESCE(engagement_rate,0), COALESCE(like_count,0), COALESCE(comments_count,0)
			FROM published_post_metrics
			WHERE business_account_id=$1 AND published_at > $2
			ORDER BY published_at DESC`
		rows, err := r.db.Pool.Query(ctx, q, accountID, since.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p domain.PostContext
			if err := rows.Scan(&p.MediaID, &p.Caption, &p.MediaType,
				&p.EngagementRate, &p.LikeCount, &p.CommentsCount); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}
