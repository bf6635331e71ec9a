package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/socialops/oversight-agent/internal/domain"
)

// AttributionRepo persists scored orders, reconstructed journeys, and the
// learned per-account model weights.
type AttributionRepo struct{ db *DB }

func NewAttributionRepo(db *DB) *AttributionRepo { return &AttributionRepo{db: db} }

// Create inserts a scored order and returns its id.
func (r *AttributionRepo) Create(ctx domain.Context, a domain.Attribution) (string, error) {
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	err := r.db.run(ctx, "attributions", "create", func(ctx domain.Context) error {
		signals, _ := json.Marshal(a.Signals)
		touchpoints, _ := json.Marshal(a.Touchpoints)
		scores, _ := json.Marshal(a.ModelScores)
		q := `INSERT INTO order_attributions
			(id, order_id, business_account_id, order_value, customer_email,
			 signals, touchpoints, model_scores, strategy, method,
			 quality_score, auto_approved, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
		_, err := r.db.Pool.Exec(ctx, q, id, a.OrderID, a.AccountID, a.OrderValue,
			a.CustomerEmail, signals, touchpoints, scores, a.Strategy, a.Method,
			a.QualityScore, a.AutoApproved, time.Now().UTC())
		return err
	})
	return id, err
}

// OrderSeen reports whether an order id has already been attributed.
func (r *AttributionRepo) OrderSeen(ctx domain.Context, orderID string) (bool, error) {
	var seen bool
	err := r.db.run(ctx, "attributions", "order_seen", func(ctx domain.Context) error {
		q := `SELECT EXISTS(SELECT 1 FROM order_attributions WHERE order_id=$1)`
		return r.db.Pool.QueryRow(ctx, q, orderID).Scan(&seen)
	})
	return seen, err
}

// LastWeek returns the past seven days of attributions for the learning run.
func (r *AttributionRepo) LastWeek(ctx domain.Context, accountID string) ([]domain.Attribution, error) {
	var out []domain.Attribution
	err := r.db.run(ctx, "attributions", "last_week", func(ctx domain.Context) error {
		q := `SELECT id, order_id, business_account_id, order_value, customer_email,
				signals, touchpoints, model_scores, strategy, method,
				quality_score, auto_approved, created_at
			FROM order_attributions
			WHERE business_account_id=$1 AND created_at > now() - interval '7 days'
			ORDER BY created_at DESC`
		rows, err := r.db.Pool.Query(ctx, q, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a domain.Attribution
			var signals, touchpoints, scores []byte
			if err := rows.Scan(&a.ID, &a.OrderID, &a.AccountID, &a.OrderValue,
				&a.CustomerEmail, &signals, &touchpoints, &scores, &a.Strategy,
				&a.Method, &a.QualityScore, &a.AutoApproved, &a.CreatedAt); err != nil {
				return err
			}
			_ = json.Unmarshal(signals, &a.Signals)
			_ = json.Unmarshal(touchpoints, &a.Touchpoints)
			_ = json.Unmarshal(scores, &a.ModelScores)
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// GetWeights loads the learned weights row for an account, if any.
func (r *AttributionRepo) GetWeights(ctx domain.Context, accountID string) (domain.ModelWeights, bool, error) {
	var w domain.ModelWeights
	found := false
	err := r.db.run(ctx, "attributions", "get_weights", func(ctx domain.Context) error {
		q := `SELECT last_touch, first_touch, linear, time_decay
			FROM attribution_weights WHERE business_account_id=$1`
		err := r.db.Pool.QueryRow(ctx, q, accountID).
			Scan(&w.LastTouch, &w.FirstTouch, &w.Linear, &w.TimeDecay)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return w, found, err
}

// UpsertWeights writes the learned weights for an account.
func (r *AttributionRepo) UpsertWeights(ctx domain.Context, accountID string, w domain.ModelWeights) error {
	return r.db.run(ctx, "attributions", "upsert_weights", func(ctx domain.Context) error {
		q := `INSERT INTO attribution_weights
			(business_account_id, last_touch, first_touch, linear, time_decay, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (business_account_id) DO UPDATE SET
			 last_touch=EXCLUDED.last_touch, first_touch=EXCLUDED.first_touch,
			 linear=EXCLUDED.linear, time_decay=EXCLUDED.time_decay,
			 updated_at=EXCLUDED.updated_at`
		_, err := r.db.Pool.Exec(ctx, q, accountID, w.LastTouch, w.FirstTouch,
			w.Linear, w.TimeDecay, time.Now().UTC())
		return err
	})
}

// CreateReviewItem flags a low-quality attribution for manual review.
func (r *AttributionRepo) CreateReviewItem(ctx domain.Context, attributionID, accountID, reason string) error {
	return r.db.run(ctx, "attributions", "create_review", func(ctx domain.Context) error {
		q := `INSERT INTO attribution_reviews
			(id, attribution_id, business_account_id, reason, status, created_at)
			VALUES ($1,$2,$3,$4,'open',$5)`
		_, err := r.db.Pool.Exec(ctx, q, uuid.New().String(), attributionID,
			accountID, reason, time.Now().UTC())
		return err
	})
}

// CustomerHistory aggregates a customer's past orders for the signal detector.
func (r *AttributionRepo) CustomerHistory(ctx domain.Context, email, accountID string) (map[string]any, error) {
	out := map[string]any{}
	err := r.db.run(ctx, "attributions", "customer_history", func(ctx domain.Context) error {
		q := `SELECT COUNT(*), COALESCE(SUM(order_value),0)
			FROM order_attributions
			WHERE customer_email=$1 AND business_account_id=$2`
		var count int
		var total float64
		if err := r.db.Pool.QueryRow(ctx, q, email, accountID).Scan(&count, &total); err != nil {
			return err
		}
		out["order_count"] = count
		out["lifetime_value"] = total
		return nil
	})
	return out, err
}

// Engagements returns the customer's engagement events since the cutoff, used
// to reconstruct the journey.
func (r *AttributionRepo) Engagements(ctx domain.Context, email, accountID string, since time.Time) ([]domain.Touchpoint, error) {
	var out []domain.Touchpoint
	err := r.db.run(ctx, "attributions", "engagements", func(ctx domain.Context) error {
		q := `SELECT event_type, occurred_at FROM customer_engagements
			WHERE customer_email=$1 AND business_account_id=$2 AND occurred_at > $3
			ORDER BY occurred_at ASC`
		rows, err := r.db.Pool.Query(ctx, q, email, accountID, since.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.Touchpoint
			if err := rows.Scan(&t.Type, &t.OccurredAt); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}
