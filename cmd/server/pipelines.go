package main

import (
	"log/slog"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/adapter/queue/outbound"
	"github.com/socialops/oversight-agent/internal/config"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/prompts"
	"github.com/socialops/oversight-agent/internal/scheduler"
)

type pipelineDeps struct {
	accounts     domain.AccountRepository
	comments     domain.CommentRepository
	posts        domain.PostRepository
	assets       domain.AssetRepository
	ugc          domain.UGCRepository
	attributions domain.AttributionRepository
	audit        domain.AuditRepository
	reports      domain.ReportRepository
	queue        *outbound.Queue
	proxy        domain.Backend
	llm          domain.LLM
	prompts      *prompts.Service
	redis        *cache.Redis
	postCtxCache *cache.TwoTier[domain.PostContext]
	weightsCache *cache.TwoTier[domain.ModelWeights]
	health       *observability.Health
}

// registerPipelines binds every enabled pipeline to its trigger. Disabled
// pipelines are simply not registered; their control endpoints report
// not-found.
func registerPipelines(cfg config.Config, sched *scheduler.Scheduler, d pipelineDeps) {
	if cfg.EngagementMonitorEnabled {
		monitor := scheduler.NewEngagementMonitor(scheduler.EngagementConfig{
			MaxCommentsPerRun:   cfg.EngagementMaxCommentsPerRun,
			MaxConcurrent:       cfg.EngagementMaxConcurrent,
			Lookback:            cfg.EngagementLookback,
			AutoReplyEnabled:    cfg.EngagementAutoReply,
			ConfidenceThreshold: cfg.EngagementConfidence,
			AccountConcurrency:  cfg.AccountConcurrency,
		}, d.accounts, d.comments,
			scheduler.NewDedupSet(d.redis, "engagement_monitor:processed_ids"),
			d.postCtxCache, d.llm, d.prompts, d.queue, d.audit)
		sched.Register("engagement_monitor", scheduler.Every(cfg.EngagementMonitorInterval), monitor.Run)
	}

	if cfg.ContentSchedulerEnabled {
		contentSched := scheduler.NewContentScheduler(scheduler.ContentConfig{
			AutoPublish:        cfg.ContentAutoPublish,
			MaxPostsPerDay:     cfg.ContentMaxPostsPerDay,
			QualityThreshold:   cfg.PostApprovalThreshold,
			MaxCaptionLength:   cfg.MaxCaptionLength,
			MaxHashtagCount:    cfg.MaxHashtagCount,
			AccountConcurrency: cfg.AccountConcurrency,
		}, d.accounts, d.assets, d.posts, d.llm, d.prompts, d.queue, d.audit)
		sched.Register("content_scheduler", scheduler.DailyAt(cfg.ContentSchedulerTimes...), contentSched.Run)
	}

	if cfg.UGCEnabled {
		discovery := scheduler.NewUGCDiscovery(scheduler.UGCConfig{
			HighThreshold:      cfg.UGCHighThreshold,
			ModerateThreshold:  cfg.UGCModerateThreshold,
			ProductKeywords:    cfg.UGCProductKeywords,
			AutoRequest:        cfg.UGCAutoRequest,
			AutoRepost:         cfg.UGCAutoRepost,
			MaxMediaPerHashtag: cfg.UGCMaxMediaPerHashtag,
			AccountConcurrency: cfg.AccountConcurrency,
		}, d.accounts, d.ugc, d.proxy, d.queue, d.audit,
			scheduler.NewDedupSet(d.redis, "ugc_discovery:processed_ids"))
		sched.Register("ugc_discovery", scheduler.Every(cfg.UGCInterval), discovery.Run)
	}

	if cfg.LearningEnabled {
		learning := scheduler.NewWeeklyLearning(d.accounts, d.attributions, d.weightsCache, d.audit, cfg.AccountConcurrency)
		sched.Register("weekly_learning", weeklyTrigger(cfg.LearningWeeklyAt), learning.Run)
	}

	if cfg.AnalyticsEnabled {
		acfg := scheduler.AnalyticsConfig{
			UseLLMNarrative:    cfg.AnalyticsUseLLM,
			AccountConcurrency: cfg.AccountConcurrency,
		}
		daily := scheduler.NewAnalyticsReports(acfg, "daily", d.accounts, d.reports, d.proxy, d.llm, d.prompts, d.audit)
		weekly := scheduler.NewAnalyticsReports(acfg, "weekly", d.accounts, d.reports, d.proxy, d.llm, d.prompts, d.audit)
		sched.Register("analytics_daily", scheduler.DailyAt(cfg.AnalyticsDailyAt), daily.Run)
		sched.Register("analytics_weekly", weeklyTrigger(cfg.AnalyticsWeeklyAt), weekly.Run)
	}

	heartbeat := scheduler.NewHeartbeat(d.proxy, d.queue, d.health)
	sched.Register("heartbeat", scheduler.Every(cfg.HeartbeatInterval), heartbeat.Run)
}

// weeklyTrigger parses "Mon 08:00" style expressions, falling back to Monday
// morning on a bad value.
func weeklyTrigger(expr string) scheduler.Trigger {
	t, err := scheduler.ParseWeekly(expr)
	if err != nil {
		slog.Warn("bad weekly trigger, using default", slog.String("expr", expr), slog.Any("error", err))
		return scheduler.WeeklyAt(time.Monday, "08:00")
	}
	return t
}
