// Package ask answers a question asked in a channel: it gates the request on
// the workspace's feature flag and daily quota, refreshes the channel index,
// plans and runs retrieval, and renders the generated answer.
package ask

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"zapask/internal/cache"
	"zapask/internal/logging"
	"zapask/internal/metrics"
	"zapask/internal/planner"
	"zapask/internal/quota"
	"zapask/internal/retrieval"
	"zapask/internal/storage"
	"zapask/internal/syncer"
	"zapask/internal/tenants"
)

type Kind string

const (
	KindAnswer          Kind = "answer"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindFeatureDisabled Kind = "feature_disabled"
	KindError           Kind = "error"
)

type Response struct {
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
	Cached bool   `json:"cached,omitempty"`
}

type Request struct {
	TeamID    string
	ChannelID string
	UserID    string
	Query     string
}

// Client is the per-workspace chat platform client.
type Client interface {
	syncer.SlackAPI
	quota.TimezoneLookup
}

type ClientFor func(botToken string) Client

type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

type Tenants interface {
	Lookup(ctx context.Context, teamID string) (storage.Installation, error)
	SmartContextEnabled(ctx context.Context, teamID string) (bool, error)
}

type Quota interface {
	CheckAndConsume(ctx context.Context, teamID string, loc *time.Location) (quota.Decision, error)
}

type Timezones interface {
	Resolve(ctx context.Context, lookup quota.TimezoneLookup, userID string) *time.Location
}

type Syncer interface {
	Sync(ctx context.Context, t syncer.Target) (syncer.Report, error)
}

type Planner interface {
	Plan(ctx context.Context, query string) planner.Decision
}

type Retriever interface {
	Execute(ctx context.Context, req retrieval.Request) retrieval.Result
}

type Answerer interface {
	Generate(ctx context.Context, in GenerateInput) (string, error)
}

type Deps struct {
	Cache     ResponseCache
	Tenants   Tenants
	Quota     Quota
	Timezones Timezones
	Debouncer syncer.Debouncer
	Syncer    Syncer
	Planner   Planner
	Retriever Retriever
	Answerer  Answerer
	ClientFor ClientFor
}

type Service struct {
	deps Deps
	now  func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps, now: time.Now}
}

// HandleAsk never returns an error; failures become a KindError response
// and policy refusals get their own kinds.
func (s *Service) HandleAsk(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := s.handle(ctx, req)
	metrics.AskDuration.Observe(time.Since(start).Seconds())
	return resp
}

func (s *Service) handle(ctx context.Context, req Request) Response {
	logger := logging.LoggerFromContext(ctx).With("tenant", req.TeamID, "channel", req.ChannelID)
	query := strings.TrimSpace(req.Query)

	key := cache.Key(req.TeamID, req.ChannelID, query)
	if text, ok := s.deps.Cache.Get(ctx, key); ok {
		metrics.AskRequests.WithLabelValues("cached").Inc()
		return Response{Kind: KindAnswer, Text: text, Cached: true}
	}

	inst, err := s.deps.Tenants.Lookup(ctx, req.TeamID)
	if errors.Is(err, tenants.ErrUnknownTeam) {
		logger.Info("Ask from unknown workspace")
		metrics.AskRequests.WithLabelValues("not_installed").Inc()
		return Response{Kind: KindError, Text: notInstalledText}
	}
	if err != nil {
		return s.fail(logger, "Failed to look up installation", err)
	}

	enabled, err := s.deps.Tenants.SmartContextEnabled(ctx, req.TeamID)
	if err != nil {
		return s.fail(logger, "Failed to read smart context flag", err)
	}
	if !enabled {
		logger.Info("Ask refused, smart context disabled")
		metrics.AskRequests.WithLabelValues("feature_disabled").Inc()
		return Response{Kind: KindFeatureDisabled, Text: smartContextDisabledText}
	}

	client := s.deps.ClientFor(inst.BotToken)

	usage, allowed := s.consumeQuota(ctx, client, req, logger)
	if !allowed {
		logger.Info("Ask refused, daily quota exhausted", "used", usage.Used, "limit", usage.Limit)
		metrics.AskRequests.WithLabelValues("quota_exceeded").Inc()
		return Response{Kind: KindQuotaExceeded, Text: quotaExceededText(*usage, s.now())}
	}

	s.syncIfDue(ctx, syncer.Target{
		TeamID:    req.TeamID,
		ChannelID: req.ChannelID,
		BotUserID: inst.BotUserID,
		API:       client,
	}, logger)

	decision := s.deps.Planner.Plan(ctx, query)
	if decision.Conversational {
		metrics.AskRequests.WithLabelValues("conversational").Inc()
		return Response{Kind: KindAnswer, Text: decision.Reply}
	}

	result := s.deps.Retriever.Execute(ctx, retrieval.Request{
		TeamID:    req.TeamID,
		ChannelID: req.ChannelID,
		Plan:      decision.Plan,
	})
	if result.Err != nil {
		logger.Warn("Retrieval failed, answering without context",
			"function", result.Function,
			"error", result.Err)
	}

	answer, err := s.deps.Answerer.Generate(ctx, GenerateInput{
		Query:      query,
		Result:     result,
		TeamDomain: inst.TeamDomain,
		ChannelID:  req.ChannelID,
	})
	if err != nil {
		return s.fail(logger, "Failed to generate answer", err)
	}

	text := render(answer, footer{Query: query, Note: result.Note, Usage: usage, Now: s.now()})
	s.deps.Cache.Set(ctx, key, text)

	logger.Info("Ask answered",
		"function", result.Function,
		"fallback", result.Fallback,
		"plan", decision.Plan.Source,
		"entries", len(result.Data))
	metrics.AskRequests.WithLabelValues("answered").Inc()
	return Response{Kind: KindAnswer, Text: text}
}

// consumeQuota charges the request once. When the counter is unreachable the
// request is let through with no usage to report.
func (s *Service) consumeQuota(ctx context.Context, client Client, req Request, logger *slog.Logger) (*quota.Decision, bool) {
	loc := s.deps.Timezones.Resolve(ctx, client, req.UserID)
	d, err := s.deps.Quota.CheckAndConsume(ctx, req.TeamID, loc)
	if err != nil {
		logger.Warn("Quota check failed, allowing request", "error", err)
		return nil, true
	}
	return &d, d.Allowed
}

func (s *Service) syncIfDue(ctx context.Context, t syncer.Target, logger *slog.Logger) {
	due, err := s.deps.Debouncer.Admit(ctx, t.TeamID, t.ChannelID)
	if err != nil {
		logger.Warn("Sync debounce check failed, syncing anyway", "error", err)
		due = true
	}
	if !due {
		return
	}

	report, err := s.deps.Syncer.Sync(ctx, t)
	if err != nil {
		logger.Warn("Channel sync failed, answering from the existing index", "error", err)
		return
	}
	if report.Skipped {
		logger.Debug("Channel sync already running")
	}
}

func (s *Service) fail(logger *slog.Logger, msg string, err error) Response {
	logger.Error(msg, "error", err)
	metrics.AskRequests.WithLabelValues("error").Inc()
	return Response{Kind: KindError, Text: genericErrorText}
}
