// Package advancer promotes orders through the fulfilment pipeline once
// they are old enough.
package advancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/telemetry"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-canteen-orders/internal/advancer")

// Rule promotes orders in From to To once they are older than After.
type Rule struct {
	From  orders.Status
	To    orders.Status
	After time.Duration
}

// DefaultRules in pipeline order.
var DefaultRules = Thresholds(2*time.Minute, 15*time.Minute, 30*time.Minute)

// Thresholds builds the pipeline rules from the age each stage waits for.
func Thresholds(preparing, ready, completed time.Duration) []Rule {
	return []Rule{
		{From: orders.StatusPending, To: orders.StatusPreparing, After: preparing},
		{From: orders.StatusPreparing, To: orders.StatusReadyForPickup, After: ready},
		{From: orders.StatusReadyForPickup, To: orders.StatusCompleted, After: completed},
	}
}

type Store interface {
	PromoteAged(ctx context.Context, from, to orders.Status, anchor orders.Anchor, cutoff, at time.Time) ([]orders.Order, error)
}

type Advancer struct {
	store   Store
	rules   []Rule
	anchor  orders.Anchor
	pub     feed.Publisher
	metrics *telemetry.Instruments
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Advancer)

func WithRules(rules []Rule) Option         { return func(a *Advancer) { a.rules = rules } }
func WithAnchor(anc orders.Anchor) Option   { return func(a *Advancer) { a.anchor = anc } }
func WithClock(now func() time.Time) Option { return func(a *Advancer) { a.now = now } }

func New(store Store, pub feed.Publisher, metrics *telemetry.Instruments, logger *slog.Logger, opts ...Option) *Advancer {
	a := &Advancer{
		store:   store,
		rules:   DefaultRules,
		anchor:  orders.AnchorCreated,
		pub:     pub,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RuleResult is the outcome of one rule in a sweep.
type RuleResult struct {
	From     orders.Status `json:"from"`
	To       orders.Status `json:"to"`
	Promoted []string      `json:"promoted"`
	Error    string        `json:"error,omitempty"`
	err      error
}

type Report struct {
	StartedAt time.Time    `json:"started_at"`
	Rules     []RuleResult `json:"rules"`
}

// Advanced counts promoted orders across all rules.
func (r Report) Advanced() int {
	n := 0
	for _, rr := range r.Rules {
		n += len(rr.Promoted)
	}
	return n
}

// Err joins the failures of every rule, or nil.
func (r Report) Err() error {
	var errs []error
	for _, rr := range r.Rules {
		if rr.err != nil {
			errs = append(errs, rr.err)
		}
	}
	return errors.Join(errs...)
}

// Sweep applies every rule once. Rules run from the end of the pipeline
// backwards so an order moves at most one step per sweep. A failing rule
// does not stop the others.
func (a *Advancer) Sweep(ctx context.Context) Report {
	ctx, span := tracer.Start(ctx, "advancer.Sweep")
	defer span.End()

	now := a.now().UTC()
	rep := Report{StartedAt: now}
	for i := len(a.rules) - 1; i >= 0; i-- {
		rule := a.rules[i]
		res := RuleResult{From: rule.From, To: rule.To, Promoted: []string{}}

		promoted, err := a.store.PromoteAged(ctx, rule.From, rule.To, a.anchor, now.Add(-rule.After), now)
		if err != nil {
			res.err = fmt.Errorf("promote %s -> %s: %w", rule.From, rule.To, err)
			res.Error = res.err.Error()
			a.metrics.SweepFailed(ctx, string(rule.From))
			a.logger.Error("sweep rule failed", "error", err, "from", rule.From, "to", rule.To)
			rep.Rules = append(rep.Rules, res)
			continue
		}
		for _, o := range promoted {
			res.Promoted = append(res.Promoted, o.ID)
			orders.Emit(ctx, a.pub, a.logger, orders.StatusEvent(o, rule.From, now))
		}
		a.metrics.Promoted(ctx, string(rule.From), string(rule.To), len(promoted))
		if len(promoted) > 0 {
			a.logger.Info("orders advanced", "from", rule.From, "to", rule.To, "count", len(promoted))
		}
		rep.Rules = append(rep.Rules, res)
	}
	span.SetAttributes(attribute.Int("sweep.advanced", rep.Advanced()))
	return rep
}

// Run sweeps immediately and then on every tick until ctx ends. A slow
// sweep delays the next tick rather than overlapping it.
func (a *Advancer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rep := a.Sweep(ctx)
		if err := rep.Err(); err != nil {
			a.logger.Warn("sweep finished with errors", "error", err, "advanced", rep.Advanced())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
