package app

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// DefaultWorkers bounds concurrent aggregations per draft request.
const DefaultWorkers = 8

// DraftRequest selects the customer and an optional narrower window.
type DraftRequest struct {
	OrganizationID string
	CustomerID     string
	WindowStart    *time.Time
	WindowEnd      *time.Time
}

// Validate rejects requests that cannot select anything.
func (r DraftRequest) Validate() error {
	if r.OrganizationID == "" {
		return fmt.Errorf("%w: organization id is required", ErrInvalidRequest)
	}
	if r.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidRequest)
	}
	if r.WindowStart != nil && r.WindowEnd != nil && !r.WindowStart.Before(*r.WindowEnd) {
		return fmt.Errorf("%w: window start must be before window end", ErrInvalidRequest)
	}
	return nil
}

// DraftDeps holds DraftService dependencies.
type DraftDeps struct {
	Events        ports.EventStore
	Subscriptions ports.SubscriptionStore
	Plans         *PlanLoader
	Clock         ports.Clock
	Metrics       ports.MetricsRecorder // optional
	Logger        zerolog.Logger
	Workers       int           // 0 = DefaultWorkers
	Timeout       time.Duration // 0 = caller's context only
	Policy        billing.Policy
}

// DraftService computes draft invoice lines. It never writes to a store and
// holds no per-request state, so calls may run concurrently.
type DraftService struct {
	subscriptions ports.SubscriptionStore
	plans         *PlanLoader
	aggregator    *MetricAggregator
	clock         ports.Clock
	metrics       ports.MetricsRecorder
	logger        zerolog.Logger
	timeout       time.Duration
	policy        billing.Policy

	workers atomic.Int32
}

// NewDraftService creates a draft service.
func NewDraftService(deps DraftDeps) *DraftService {
	recorder := deps.Metrics
	if recorder == nil {
		recorder = NopMetrics{}
	}
	s := &DraftService{
		subscriptions: deps.Subscriptions,
		plans:         deps.Plans,
		aggregator:    NewMetricAggregator(deps.Events, recorder),
		clock:         deps.Clock,
		metrics:       recorder,
		logger:        deps.Logger,
		timeout:       deps.Timeout,
		policy:        deps.Policy,
	}
	s.SetWorkers(deps.Workers)
	return s
}

// SetWorkers changes the aggregation concurrency for subsequent requests.
func (s *DraftService) SetWorkers(n int) {
	if n <= 0 {
		n = DefaultWorkers
	}
	s.workers.Store(int32(n))
}

// Workers returns the current aggregation concurrency.
func (s *DraftService) Workers() int {
	return int(s.workers.Load())
}

// GetDraftInvoice returns one draft line per active subscription of the
// customer, ordered by subscription start date then ID. It fails with
// billing.ErrNoActiveSubscription when there is nothing to bill and with a
// *PricingError when a metric or component is misconfigured.
func (s *DraftService) GetDraftInvoice(ctx context.Context, req DraftRequest) ([]billing.DraftLine, error) {
	started := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	lines, err := s.draft(ctx, req)

	elapsed := time.Since(started)
	result := ResultOf(err)
	s.metrics.DraftCompleted(result, elapsed)

	if err != nil {
		ev := s.logger.Warn()
		if result == ResultError || result == ResultStoreUnavailable {
			ev = s.logger.Error()
		}
		ev.Err(err).
			Str("org", req.OrganizationID).
			Str("customer", req.CustomerID).
			Str("result", result).
			Dur("duration", elapsed).
			Msg("draft invoice failed")
		return nil, err
	}

	s.logger.Debug().
		Str("org", req.OrganizationID).
		Str("customer", req.CustomerID).
		Int("lines", len(lines)).
		Str("total_due", billing.FormatAmount(billing.TotalDue(lines))).
		Dur("duration", elapsed).
		Msg("draft invoice computed")
	return lines, nil
}

// subscriptionPlan pairs a subscription with its loaded plan and window.
type subscriptionPlan struct {
	sub     billing.Subscription
	version plan.Version
	window  usage.Window
}

// aggregation is one (subscription, metric) unit of work.
type aggregation struct {
	sub         int // index into subscriptionPlan slice
	componentID string
	metric      usage.Metric
}

func (s *DraftService) draft(ctx context.Context, req DraftRequest) ([]billing.DraftLine, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	subs, err := s.activeSubscriptions(ctx, req)
	if err != nil {
		return nil, err
	}

	plans, err := s.loadPlans(ctx, subs, now, req)
	if err != nil {
		return nil, err
	}

	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	quantities, err := s.aggregate(ctx, req, plans)
	if err != nil {
		return nil, err
	}

	lines := make([]billing.DraftLine, len(plans))
	priced := 0
	for i, sp := range plans {
		quote, err := plan.Subtotal(sp.version, quantities[i])
		if err != nil {
			return nil, &PricingError{SubscriptionID: sp.sub.ID, Err: err}
		}
		priced += len(quote.Charges)
		lines[i] = billing.DraftLine{
			SubscriptionID: sp.sub.ID,
			CustomerID:     sp.sub.CustomerID,
			PlanVersionID:  sp.version.ID,
			PeriodStart:    sp.window.Start,
			PeriodEnd:      sp.window.End,
			Components:     quote.Lines(),
			Subtotal:       quote.Subtotal,
			Adjustment:     sp.version.Adjustment,
			CostDue:        billing.CostDue(quote.Subtotal, sp.version.Adjustment, s.policy),
		}
	}
	s.metrics.ComponentsPriced(priced)
	return lines, nil
}

func (s *DraftService) activeSubscriptions(ctx context.Context, req DraftRequest) ([]billing.Subscription, error) {
	subs, err := s.subscriptions.FindActiveSubscriptions(ctx, req.OrganizationID, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("find active subscriptions: %w", err)
	}

	subs = lo.Filter(subs, func(sub billing.Subscription, _ int) bool {
		return sub.IsActive() && sub.OrganizationID == req.OrganizationID && sub.CustomerID == req.CustomerID
	})
	if len(subs) == 0 {
		return nil, fmt.Errorf("customer %s: %w", req.CustomerID, billing.ErrNoActiveSubscription)
	}

	sort.SliceStable(subs, func(i, j int) bool {
		if !subs[i].StartDate.Equal(subs[j].StartDate) {
			return subs[i].StartDate.Before(subs[j].StartDate)
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

func (s *DraftService) loadPlans(ctx context.Context, subs []billing.Subscription, now time.Time, req DraftRequest) ([]subscriptionPlan, error) {
	plans := make([]subscriptionPlan, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers())
	for i, sub := range subs {
		g.Go(func() error {
			v, err := s.plans.Load(gctx, sub.PlanVersionID)
			if err != nil {
				return fmt.Errorf("subscription %s: %w", sub.ID, err)
			}
			plans[i] = subscriptionPlan{
				sub:     sub,
				version: v,
				window:  sub.BillingWindow(now, req.WindowStart, req.WindowEnd),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}

// validatePlans checks every component before any event is read, so a
// misconfigured plan fails fast with its subscription and component IDs.
func validatePlans(plans []subscriptionPlan) error {
	for _, sp := range plans {
		if err := sp.version.Adjustment.Validate(); err != nil {
			return &PricingError{SubscriptionID: sp.sub.ID, Err: err}
		}
		for _, c := range plan.SortedComponents(sp.version.Components) {
			if err := c.Validate(); err != nil {
				return &PricingError{SubscriptionID: sp.sub.ID, ComponentID: c.ID, Err: err}
			}
			if err := c.Metric.Validate(); err != nil {
				return &PricingError{SubscriptionID: sp.sub.ID, ComponentID: c.ID, Err: err}
			}
		}
	}
	return nil
}

// aggregate runs every (subscription, metric) aggregation on a bounded pool
// and returns per-subscription quantities keyed by metric ID. The first
// failure cancels the remaining work.
func (s *DraftService) aggregate(ctx context.Context, req DraftRequest, plans []subscriptionPlan) ([]map[string]decimal.Decimal, error) {
	var work []aggregation
	for i, sp := range plans {
		components := lo.UniqBy(plan.SortedComponents(sp.version.Components), func(c plan.Component) string {
			return c.Metric.ID
		})
		for _, c := range components {
			work = append(work, aggregation{sub: i, componentID: c.ID, metric: c.Metric})
		}
	}

	results := make([]usage.Result, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers())
	for i, w := range work {
		g.Go(func() error {
			sp := plans[w.sub]
			res, err := s.aggregator.Aggregate(gctx, w.metric, req.OrganizationID, req.CustomerID, sp.window)
			if err != nil {
				return &PricingError{SubscriptionID: sp.sub.ID, ComponentID: w.componentID, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	quantities := make([]map[string]decimal.Decimal, len(plans))
	for i := range quantities {
		quantities[i] = make(map[string]decimal.Decimal)
	}
	for i, w := range work {
		quantities[w.sub][w.metric.ID] = results[i].Quantity
		if skipped := results[i].Missing + results[i].NonNumeric; skipped > 0 {
			s.logger.Debug().
				Str("subscription", plans[w.sub].sub.ID).
				Str("metric", w.metric.ID).
				Int("missing", results[i].Missing).
				Int("non_numeric", results[i].NonNumeric).
				Msg("events skipped during aggregation")
		}
	}
	return quantities, nil
}
