package scheduler

import (
	"context"

	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/attribution"
	"github.com/socialops/oversight-agent/internal/domain"
)

// WeeklyLearning re-derives each account's attribution model weights from the
// trailing week and invalidates the weights cache so webhook scoring picks up
// the new tuple.
type WeeklyLearning struct {
	accounts     domain.AccountRepository
	attributions domain.AttributionRepository
	weightsCache *cache.TwoTier[domain.ModelWeights]
	audit        domain.AuditRepository
	concurrency  int64
}

// NewWeeklyLearning wires the pipeline.
func NewWeeklyLearning(
	accounts domain.AccountRepository,
	attributions domain.AttributionRepository,
	weightsCache *cache.TwoTier[domain.ModelWeights],
	audit domain.AuditRepository,
	concurrency int64,
) *WeeklyLearning {
	return &WeeklyLearning{
		accounts: accounts, attributions: attributions,
		weightsCache: weightsCache, audit: audit, concurrency: concurrency,
	}
}

// Run is one learning cycle.
func (l *WeeklyLearning) Run(ctx context.Context) error {
	_, err := runPerAccount(ctx, "weekly_learning", l.accounts, l.audit, l.concurrency,
		func(ctx context.Context, runID string, acct domain.Account) (int, error) {
			return l.learnAccount(ctx, runID, acct)
		})
	return err
}

func (l *WeeklyLearning) learnAccount(ctx context.Context, runID string, acct domain.Account) (int, error) {
	window, err := l.attributions.LastWeek(ctx, acct.ID)
	if err != nil {
		return 0, err
	}

	prior, found, err := l.attributions.GetWeights(ctx, acct.ID)
	if err != nil || !found {
		prior = domain.DefaultModelWeights()
	}

	next := attribution.LearnWeights(prior, window)
	if err := l.attributions.UpsertWeights(ctx, acct.ID, next); err != nil {
		return 0, err
	}
	l.weightsCache.Invalidate(ctx, acct.ID)

	_ = l.audit.Log(ctx, domain.AuditEntry{
		EventType:    "attribution_weights_updated",
		Action:       "learned",
		ResourceType: "attribution_weights",
		ResourceID:   acct.ID,
		AccountID:    acct.ID,
		Details: map[string]any{
			"run_id":              runID,
			"window_size":         len(window),
			"method_distribution": attribution.MethodDistribution(window),
			"weights": map[string]float64{
				"last_touch":  next.LastTouch,
				"first_touch": next.FirstTouch,
				"linear":      next.Linear,
				"time_decay":  next.TimeDecay,
			},
		},
		Success: true,
	})
	return len(window), nil
}
