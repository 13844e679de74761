package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"legalguide-agent/internal/domain"
)

const (
	defaultMaxIssueLen = 2000
	defaultMaxHistory  = 20
	defaultRateLimit   = 10
	defaultRateWindow  = time.Hour

	rateEndpointAdvice = "legal-advice"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// PlacesClient is the two-stage lookup consumed by the recommendation finder.
type PlacesClient interface {
	TextSearch(ctx context.Context, query string) ([]string, error)
	Details(ctx context.Context, placeID string) (domain.Recommendation, error)
}

// RateLimitStore reserves one request slot in the caller's rolling window,
// returning false when the live window is already full.
type RateLimitStore interface {
	ReserveRateSlot(ctx context.Context, ownerID, endpoint string, limit int, window time.Duration) (bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Config carries the pipeline's tunables so the service never reads process
// state after construction.
type Config struct {
	ParamPrefix string
	MaxIssueLen int
	MaxHistory  int
	RateLimit   int
	RateWindow  time.Duration
}

// AdviseService runs the advisory pipeline: gate, rate limit, advice
// generation, marker parsing, recommendation lookup, response assembly.
type AdviseService struct {
	params   ParamGetter
	identity IdentityResolver
	llm      LLMClient
	limiter  RateLimitStore
	places   PlacesClient // nil when the places credential is not configured
	cfg      Config

	cacheMu     sync.RWMutex
	cacheLoaded bool
	openaiModel string
}

type AdviseInput struct {
	AccessToken string
	Issue       string
	History     []domain.ChatMessage
	Location    string
}

type AdviseOutput struct {
	Advice          string
	Recommendations []domain.Recommendation
}

func NewAdviseService(p ParamGetter, identity IdentityResolver, llm LLMClient, limiter RateLimitStore, places PlacesClient, cfg Config) (*AdviseService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if identity == nil {
		return nil, errors.New("usecase: identity resolver must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if limiter == nil {
		return nil, errors.New("usecase: rate limit store must not be nil")
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.MaxIssueLen <= 0 {
		cfg.MaxIssueLen = defaultMaxIssueLen
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaultRateWindow
	}
	return &AdviseService{
		params:   p,
		identity: identity,
		llm:      llm,
		limiter:  limiter,
		places:   places,
		cfg:      cfg,
	}, nil
}

// Advise executes the pipeline strictly in sequence. Any generation failure
// is terminal; recommendation lookup failures degrade to a shorter or empty
// list and never surface to the caller.
func (s *AdviseService) Advise(ctx context.Context, in AdviseInput) (AdviseOutput, error) {
	userID, err := resolveIdentity(ctx, s.identity, in.AccessToken)
	if err != nil {
		return AdviseOutput{}, err
	}

	issue := strings.TrimSpace(in.Issue)
	if issue == "" {
		return AdviseOutput{}, newError(ErrorInvalidInput, "empty_issue", nil)
	}
	if len(in.Issue) > s.cfg.MaxIssueLen {
		return AdviseOutput{}, newError(ErrorInvalidInput, "issue_too_long", nil)
	}
	if len(in.History) > s.cfg.MaxHistory {
		return AdviseOutput{}, newError(ErrorInvalidInput, "history_too_long", nil)
	}

	if err := s.ensureConfig(ctx); err != nil {
		return AdviseOutput{}, newError(ErrorConfiguration, "ssm_load_error", err)
	}

	allowed, err := s.limiter.ReserveRateSlot(ctx, userID, rateEndpointAdvice, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		return AdviseOutput{}, newError(ErrorInternal, "rate_window_error", err)
	}
	if !allowed {
		return AdviseOutput{}, newError(ErrorRateLimited, "hourly_limit_reached", nil)
	}

	raw, err := s.llm.Chat(ctx, s.openaiModel, buildAdviceMessages(issue, in.History, strings.TrimSpace(in.Location)))
	if err != nil {
		switch status, ok := upstreamStatusCode(err); {
		case ok && status == 429:
			return AdviseOutput{}, newError(ErrorUpstreamRateLimited, "openai_rate_limited", err)
		case ok && status == 402:
			return AdviseOutput{}, newError(ErrorUpstreamUnavailable, "openai_quota_exceeded", err)
		default:
			return AdviseOutput{}, newError(ErrorUpstream, "openai_error", err)
		}
	}

	advice, query := extractSearchQuery(raw)
	recs := s.findRecommendations(ctx, query)

	return AdviseOutput{
		Advice:          advice,
		Recommendations: recs,
	}, nil
}

func (s *AdviseService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.params.GetParameter(ctx, s.cfg.ParamPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}

	s.openaiModel = model
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
