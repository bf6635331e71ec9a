package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/prompts"
)

// AnalyticsConfig tunes the report pipelines.
type AnalyticsConfig struct {
	UseLLMNarrative    bool
	AccountConcurrency int64
}

// AnalyticsReports aggregates per-account metrics into daily or weekly
// reports: proxy insights first, store fallback second, trend compare against
// the prior report, rule-based recommendations, optional model narrative.
type AnalyticsReports struct {
	cfg      AnalyticsConfig
	period   string // "daily" | "weekly"
	accounts domain.AccountRepository
	reports  domain.ReportRepository
	backend  domain.Backend
	llm      domain.LLM
	prompts  *prompts.Service
	audit    domain.AuditRepository
	now      func() time.Time
}

// NewAnalyticsReports wires one report cadence.
func NewAnalyticsReports(
	cfg AnalyticsConfig,
	period string,
	accounts domain.AccountRepository,
	reports domain.ReportRepository,
	proxy domain.Backend,
	llm domain.LLM,
	prompts *prompts.Service,
	audit domain.AuditRepository,
) *AnalyticsReports {
	return &AnalyticsReports{
		cfg: cfg, period: period, accounts: accounts, reports: reports,
		backend: proxy, llm: llm, prompts: prompts, audit: audit, now: time.Now,
	}
}

// Run is one report cycle.
func (a *AnalyticsReports) Run(ctx context.Context) error {
	_, err := runPerAccount(ctx, "analytics_"+a.period, a.accounts, a.audit, a.cfg.AccountConcurrency,
		func(ctx context.Context, runID string, acct domain.Account) (int, error) {
			return a.reportAccount(ctx, runID, acct)
		})
	return err
}

func (a *AnalyticsReports) reportAccount(ctx context.Context, runID string, acct domain.Account) (int, error) {
	end := a.now().UTC()
	start := end.AddDate(0, 0, -1)
	if a.period == "weekly" {
		start = end.AddDate(0, 0, -7)
	}

	rep := domain.AnalyticsReport{
		AccountID:   acct.ID,
		ReportType:  a.period,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	// Proxy insights first; the store's published-post metrics fill the gaps.
	insights, err := a.backend.Post(ctx, backend.EndpointAccountInsights, map[string]any{
		"business_account_id": acct.ID,
		"since":               start.Format(time.RFC3339),
		"until":               end.Format(time.RFC3339),
	})
	if err == nil {
		if v, ok := insights["reach"].(float64); ok {
			rep.Reach = int64(v)
		}
		if v, ok := insights["impressions"].(float64); ok {
			rep.Impressions = int64(v)
		}
	}

	posts, err := a.reports.RecentPosts(ctx, acct.ID, start)
	if err != nil {
		return 0, err
	}
	aggregate(&rep, posts)

	if prev, found, err := a.reports.Latest(ctx, acct.ID, a.period); err == nil && found {
		rep.PercentChange, rep.Trend = compare(rep.EngagementRate, prev.EngagementRate)
	} else {
		rep.Trend = "flat"
	}
	rep.Recommendations = recommend(rep, posts)

	if a.cfg.UseLLMNarrative {
		a.narrate(ctx, &rep)
	}

	if err := a.reports.Upsert(ctx, rep); err != nil {
		return 0, err
	}
	_ = a.audit.Log(ctx, domain.AuditEntry{
		EventType:    "analytics_report",
		Action:       "generated",
		ResourceType: "analytics_report",
		ResourceID:   acct.ID + ":" + a.period,
		AccountID:    acct.ID,
		Details: map[string]any{
			"run_id":          runID,
			"posts":           len(posts),
			"engagement_rate": rep.EngagementRate,
			"trend":           rep.Trend,
		},
		Success: true,
	})
	return 1, nil
}

func aggregate(rep *domain.AnalyticsReport, posts []domain.PostContext) {
	if len(posts) == 0 {
		return
	}
	byType := map[string][]float64{}
	total := 0.0
	best, worst := posts[0], posts[0]
	for _, p := range posts {
		total += p.EngagementRate
		byType[p.MediaType] = append(byType[p.MediaType], p.EngagementRate)
		if p.EngagementRate > best.EngagementRate {
			best = p
		}
		if p.EngagementRate < worst.EngagementRate {
			worst = p
		}
	}
	rep.EngagementRate = total / float64(len(posts))
	rep.BestPostID = best.MediaID
	rep.WorstPostID = worst.MediaID
	rep.ByMediaType = map[string]float64{}
	for t, rates := range byType {
		sum := 0.0
		for _, r := range rates {
			sum += r
		}
		rep.ByMediaType[t] = sum / float64(len(rates))
	}
}

func compare(current, previous float64) (percent float64, trend string) {
	if previous == 0 {
		return 0, "flat"
	}
	percent = (current - previous) / previous * 100
	switch {
	case percent > 5:
		return percent, "up"
	case percent < -5:
		return percent, "down"
	default:
		return percent, "flat"
	}
}

// recommend applies the fixed rule set; the optional model narrative layers
// on top, never replaces these.
func recommend(rep domain.AnalyticsReport, posts []domain.PostContext) []string {
	var out []string
	if len(posts) == 0 {
		return []string{"No posts published this period; schedule content to gather engagement data."}
	}
	if rep.Trend == "down" {
		out = append(out, fmt.Sprintf("Engagement fell %.1f%% vs the previous period; review the worst performing post.", -rep.PercentChange))
	}
	bestType, bestRate := "", 0.0
	for t, r := range rep.ByMediaType {
		if r > bestRate {
			bestType, bestRate = t, r
		}
	}
	if bestType != "" && len(rep.ByMediaType) > 1 {
		out = append(out, fmt.Sprintf("%s posts outperform other media types; weight the schedule toward them.", bestType))
	}
	if rep.EngagementRate < 0.01 {
		out = append(out, "Engagement rate is below 1%; revisit caption style and posting times.")
	}
	return out
}

func (a *AnalyticsReports) narrate(ctx context.Context, rep *domain.AnalyticsReport) {
	metrics, _ := json.Marshal(map[string]any{
		"reach":           rep.Reach,
		"impressions":     rep.Impressions,
		"engagement_rate": rep.EngagementRate,
		"by_media_type":   rep.ByMediaType,
	})
	prompt, _, err := a.prompts.Render("analytics_narrative", map[string]string{
		"metrics":        string(metrics),
		"trend":          rep.Trend,
		"percent_change": fmt.Sprintf("%.1f", rep.PercentChange),
	})
	if err != nil {
		return
	}
	res, err := a.llm.Analyze(ctx, prompt)
	if err != nil || res.ParseFailed {
		return
	}
	rep.Narrative = res.Str("narrative")
	if recs, ok := res.Output["recommendations"].([]any); ok {
		for _, r := range recs {
			if s, ok := r.(string); ok {
				rep.Recommendations = append(rep.Recommendations, s)
			}
		}
	}
}
