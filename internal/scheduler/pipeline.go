package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/domain"
)

// accountResult is one account's contribution to a batch summary.
type accountResult struct {
	accountID string
	items     int
	err       error
}

// runPerAccount is the fan-out shape shared by every batch pipeline: list
// active accounts, process each under the semaphore, isolate per-account
// failures, and close with one batch summary audit entry. Returns the run id.
func runPerAccount(
	ctx context.Context,
	pipeline string,
	accounts domain.AccountRepository,
	audit domain.AuditRepository,
	concurrency int64,
	work func(ctx context.Context, runID string, acct domain.Account) (int, error),
) (string, error) {
	runID := uuid.New().String()
	log := slog.With(slog.String("pipeline", pipeline), slog.String("run_id", runID))

	list, err := accounts.ListActive(ctx)
	if err != nil {
		// Degraded store: record the aborted run and move on.
		auditBatch(ctx, audit, pipeline, runID, 0, 0, 0, false)
		return runID, fmt.Errorf("op=scheduler.%s: list accounts: %w", pipeline, err)
	}
	if len(list) == 0 {
		log.Info("no active accounts")
		return runID, nil
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	sem := semaphore.NewWeighted(concurrency)
	results := make([]accountResult, len(list))
	var wg sync.WaitGroup
	for i, acct := range list {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = accountResult{accountID: acct.ID, err: err}
			break
		}
		wg.Add(1)
		go func(i int, acct domain.Account) {
			defer wg.Done()
			defer sem.Release(1)
			items, err := work(ctx, runID, acct)
			results[i] = accountResult{accountID: acct.ID, items: items, err: err}
			if err != nil {
				log.Error("account failed", slog.String("account_id", acct.ID), slog.Any("error", err))
				auditError(ctx, audit, pipeline, runID, acct.ID, err)
			}
		}(i, acct)
	}
	wg.Wait()

	totalItems, failed := 0, 0
	for _, r := range results {
		totalItems += r.items
		if r.err != nil {
			failed++
		}
	}
	observability.PipelineItems.WithLabelValues(pipeline).Add(float64(totalItems))
	auditBatch(ctx, audit, pipeline, runID, len(list), totalItems, failed, failed == 0)
	log.Info("batch finished",
		slog.Int("accounts", len(list)),
		slog.Int("items", totalItems),
		slog.Int("failed_accounts", failed))
	return runID, nil
}

func auditBatch(ctx context.Context, audit domain.AuditRepository, pipeline, runID string, accounts, items, failed int, success bool) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, domain.AuditEntry{
		EventType:    "pipeline_batch",
		Action:       pipeline,
		ResourceType: "pipeline_run",
		ResourceID:   runID,
		Details: map[string]any{
			"accounts":        accounts,
			"items":           items,
			"failed_accounts": failed,
		},
		Success: success,
	}); err != nil {
		slog.Warn("batch audit write failed", slog.String("pipeline", pipeline), slog.Any("error", err))
	}
}

func auditError(ctx context.Context, audit domain.AuditRepository, pipeline, runID, accountID string, cause error) {
	if audit == nil {
		return
	}
	_ = audit.Log(ctx, domain.AuditEntry{
		EventType:    "pipeline_error",
		Action:       pipeline,
		ResourceType: "pipeline_run",
		ResourceID:   runID,
		AccountID:    accountID,
		Details:      map[string]any{"error": cause.Error()},
		Success:      false,
	})
}
