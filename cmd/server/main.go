// Command server starts the Instagram oversight agent: HTTP surface, queue
// worker, and scheduled pipelines in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/socialops/oversight-agent/internal/adapter/ai"
	"github.com/socialops/oversight-agent/internal/adapter/ai/tools"
	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/adapter/httpserver"
	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/adapter/queue/outbound"
	"github.com/socialops/oversight-agent/internal/adapter/repo/postgres"
	"github.com/socialops/oversight-agent/internal/app"
	"github.com/socialops/oversight-agent/internal/config"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/prompts"
	"github.com/socialops/oversight-agent/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store (source of truth)
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	db := postgres.NewDB(pool)

	accounts := postgres.NewAccountRepo(db)
	comments := postgres.NewCommentRepo(db)
	dms := postgres.NewDMRepo(db)
	jobs := postgres.NewJobRepo(db)
	posts := postgres.NewPostRepo(db)
	assets := postgres.NewAssetRepo(db)
	ugcRepo := postgres.NewUGCRepo(db)
	attributions := postgres.NewAttributionRepo(db)
	auditRepo := postgres.NewAuditRepo(db)
	outcomes := postgres.NewOutcomeRepo(db)
	reports := postgres.NewReportRepo(db)
	promptRepo := postgres.NewPromptRepo(db)

	// Distributed cache + queue backing
	rdb := cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()}))
	if !rdb.Available(ctx) {
		slog.Warn("redis unavailable at startup, store fallback active",
			slog.String("addr", cfg.RedisAddr()))
	}

	postCtxCache := cache.NewTwoTier[domain.PostContext](rdb, "post_ctx", 100, 30*time.Second)
	accountCache := cache.NewTwoTier[domain.Account](rdb, "account", 100, 60*time.Second)
	weightsCache := cache.NewTwoTier[domain.ModelWeights](rdb, "model_weights", 100, 5*time.Minute)
	answerCache := cache.NewTwoTier[httpserver.OversightAnswer](rdb, "oversight_answer", 100, 5*time.Minute)

	// Backend proxy and outbound queue
	proxy := backend.New(cfg.BackendAPIURL, cfg.BackendAPIKey, cfg.BackendTimeout)
	queue := outbound.New(rdb, jobs, cfg.QueueMaxRetries)

	// Inference gateway with its tool catalogue
	ollama := ai.NewOllamaClient(cfg.OllamaHost, cfg.OllamaModel, 60*time.Second)
	catalogue := tools.Catalogue(tools.Deps{
		Accounts:     accounts,
		Comments:     comments,
		DMs:          dms,
		Audit:        auditRepo,
		Reports:      reports,
		Queue:        queue,
		Backend:      proxy,
		PostCtxCache: postCtxCache,
		AccountCache: accountCache,
	})
	llm := ai.NewGateway(ollama, cfg.MaxConcurrentLLM, cfg.ToolTimeout, catalogue)

	promptSvc := prompts.Load(ctx, promptRepo)
	health := observability.NewHealth()

	// Queue worker
	worker := outbound.NewWorker(queue, proxy, posts, assets, auditRepo, outbound.WorkerOptions{
		PollInterval:  cfg.QueuePollInterval,
		DrainInterval: cfg.QueueDrainInterval,
		ShutdownGrace: cfg.QueueShutdownGrace,
	})
	worker.Start(ctx)

	// Scheduled pipelines
	sched := scheduler.New()
	registerPipelines(cfg, sched, pipelineDeps{
		accounts:     accounts,
		comments:     comments,
		posts:        posts,
		assets:       assets,
		ugc:          ugcRepo,
		attributions: attributions,
		audit:        auditRepo,
		reports:      reports,
		queue:        queue,
		proxy:        proxy,
		llm:          llm,
		prompts:      promptSvc,
		redis:        rdb,
		postCtxCache: postCtxCache,
		weightsCache: weightsCache,
		health:       health,
	})
	sched.Start(ctx)

	// HTTP surface
	srv := httpserver.New(httpserver.Deps{
		Config:       cfg,
		Queue:        queue,
		LLM:          llm,
		Prompts:      promptSvc,
		Sched:        sched,
		Health:       health,
		Redis:        rdb,
		Accounts:     accounts,
		Comments:     comments,
		DMs:          dms,
		Posts:        posts,
		Attributions: attributions,
		Audit:        auditRepo,
		Outcomes:     outcomes,
		StoreState:   db.Breaker.State,
		PostCtxCache: postCtxCache,
		WeightsCache: weightsCache,
		AnswerCache:  answerCache,
	})
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	sched.Stop()
	worker.Stop()
}
