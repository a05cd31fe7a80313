// Package planner turns a question into a retrieval plan.
package planner

import (
	"context"
	"log/slog"
	"time"

	"zapask/internal/metrics"
)

type Reasoner interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Decision is either a canned conversational reply or a plan to execute.
type Decision struct {
	Conversational bool
	Reply          string
	Plan           Plan
}

type Planner struct {
	reasoner Reasoner
	logger   *slog.Logger
	now      func() time.Time
}

func New(reasoner Reasoner, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{reasoner: reasoner, logger: logger, now: time.Now}
}

// Plan classifies the query and, unless it is small talk, asks the reasoning
// model for a plan. Any failure of the model or its output yields the
// default plan.
func (p *Planner) Plan(ctx context.Context, query string) Decision {
	if reply, ok := Conversational(query); ok {
		metrics.PlannerOutcomes.WithLabelValues("conversational").Inc()
		return Decision{Conversational: true, Reply: reply}
	}

	reply, err := p.reasoner.Complete(ctx, systemPrompt(p.now()), userPrompt(query))
	if err != nil {
		p.logger.Warn("Planning call failed, using default plan", "error", err)
		metrics.PlannerOutcomes.WithLabelValues("default").Inc()
		return Decision{Plan: DefaultPlan(query)}
	}

	plan, err := ParsePlan(query, reply)
	if err != nil {
		p.logger.Warn("Planning reply unusable, using default plan", "error", err)
		metrics.PlannerOutcomes.WithLabelValues("default").Inc()
		return Decision{Plan: DefaultPlan(query)}
	}

	p.logger.Debug("Query planned",
		"primary", plan.Primary.Call.Name(),
		"confidence", plan.Primary.Confidence,
		"fallbacks", len(plan.Fallbacks),
		"keyword_query", plan.Analysis.KeywordQuery)
	metrics.PlannerOutcomes.WithLabelValues("planned").Inc()
	return Decision{Plan: plan}
}
