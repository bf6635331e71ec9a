package httpserver

import (
	"github.com/go-playground/validator/v10"

	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/adapter/queue/outbound"
	"github.com/socialops/oversight-agent/internal/config"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/prompts"
	"github.com/socialops/oversight-agent/internal/scheduler"
)

// Server bundles every dependency the handlers touch. Construction happens
// once in the wiring layer; handlers hang off this value.
type Server struct {
	cfg      config.Config
	validate *validator.Validate

	queue   *outbound.Queue
	llm     domain.LLM
	prompts *prompts.Service
	sched   *scheduler.Scheduler
	health  *observability.Health
	redis   *cache.Redis

	accounts     domain.AccountRepository
	comments     domain.CommentRepository
	dms          domain.DMRepository
	posts        domain.PostRepository
	attributions domain.AttributionRepository
	audit        domain.AuditRepository
	outcomes     domain.OutcomeRepository

	storeState func() string // circuit breaker state label for /health

	postCtxCache *cache.TwoTier[domain.PostContext]
	weightsCache *cache.TwoTier[domain.ModelWeights]
	answerCache  *cache.TwoTier[OversightAnswer]
}

// Deps is the constructor argument bundle.
type Deps struct {
	Config  config.Config
	Queue   *outbound.Queue
	LLM     domain.LLM
	Prompts *prompts.Service
	Sched   *scheduler.Scheduler
	Health  *observability.Health
	Redis   *cache.Redis

	Accounts     domain.AccountRepository
	Comments     domain.CommentRepository
	DMs          domain.DMRepository
	Posts        domain.PostRepository
	Attributions domain.AttributionRepository
	Audit        domain.AuditRepository
	Outcomes     domain.OutcomeRepository

	StoreState func() string

	PostCtxCache *cache.TwoTier[domain.PostContext]
	WeightsCache *cache.TwoTier[domain.ModelWeights]
	AnswerCache  *cache.TwoTier[OversightAnswer]
}

// Health exposes the request counters for the middleware stack.
func (s *Server) Health() *observability.Health { return s.health }

// New builds the handler set.
func New(d Deps) *Server {
	return &Server{
		cfg:          d.Config,
		validate:     validator.New(),
		queue:        d.Queue,
		llm:          d.LLM,
		prompts:      d.Prompts,
		sched:        d.Sched,
		health:       d.Health,
		redis:        d.Redis,
		accounts:     d.Accounts,
		comments:     d.Comments,
		dms:          d.DMs,
		posts:        d.Posts,
		attributions: d.Attributions,
		audit:        d.Audit,
		outcomes:     d.Outcomes,
		storeState:   d.StoreState,
		postCtxCache: d.PostCtxCache,
		weightsCache: d.WeightsCache,
		answerCache:  d.AnswerCache,
	}
}
