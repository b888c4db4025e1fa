package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/usagebill/adapters/clock"
	"github.com/artpar/usagebill/adapters/memory"
	"github.com/artpar/usagebill/adapters/storetest"
	"github.com/artpar/usagebill/app"
	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

var now = storetest.Base.Add(24 * time.Hour)

type fixture struct {
	store  *memory.Store
	clock  *clock.Fake
	loader *app.PlanLoader
	plans  *app.PlanService
	draft  *app.DraftService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	storetest.Seed(t, store)
	storetest.SeedEvents(t, store)

	clk := clock.NewFake(now)
	loader := app.NewPlanLoader(store, memory.NewPlanCache(time.Minute, clk), nil, zerolog.Nop())
	return &fixture{
		store:  store,
		clock:  clk,
		loader: loader,
		plans:  app.NewPlanService(store, loader, zerolog.Nop()),
		draft: app.NewDraftService(app.DraftDeps{
			Events:        store,
			Subscriptions: store,
			Plans:         loader,
			Clock:         clk,
			Logger:        zerolog.Nop(),
		}),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func request() app.DraftRequest {
	return app.DraftRequest{OrganizationID: "org_1", CustomerID: "cus_1"}
}

func TestDraftService_Subtotal(t *testing.T) {
	f := newFixture(t)

	lines, err := f.draft.GetDraftInvoice(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, lines, 1)

	line := lines[0]
	assert.Equal(t, "sub_1", line.SubscriptionID)
	assert.Equal(t, "pv_1", line.PlanVersionID)
	assert.Equal(t, storetest.Base, line.PeriodStart)
	assert.Equal(t, now, line.PeriodEnd)
	assert.True(t, line.Subtotal.Equal(dec("61.40")), "subtotal = %s", line.Subtotal)
	assert.Equal(t, "61.40", billing.FormatAmount(line.CostDue))

	require.Len(t, line.Components, 3)
	want := []struct {
		component, usage, cost string
	}{
		{"pc_1", "1018", "50"},
		{"pc_2", "148", "7.40"},
		{"pc_3", "3", "4"},
	}
	for i, w := range want {
		c := line.Components[i]
		assert.Equal(t, w.component, c.ComponentID)
		assert.True(t, c.Usage.Equal(dec(w.usage)), "%s usage = %s", w.component, c.Usage)
		assert.True(t, c.Cost.Equal(dec(w.cost)), "%s cost = %s", w.component, c.Cost)
	}
}

func TestDraftService_Adjustments(t *testing.T) {
	tests := []struct {
		name string
		adj  billing.PriceAdjustment
		want string
	}{
		{"none", billing.NoAdjustment(), "61.40"},
		{"percentage discount", billing.Percentage(dec("-1")), "60.79"},
		{"fixed discount", billing.Fixed(dec("-1")), "60.40"},
		{"override", billing.Override(dec("20")), "20.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			// Warm the cache so the adjustment must invalidate it.
			_, err := f.draft.GetDraftInvoice(ctx, request())
			require.NoError(t, err)

			require.NoError(t, f.plans.SetAdjustment(ctx, "pv_1", tt.adj))

			lines, err := f.draft.GetDraftInvoice(ctx, request())
			require.NoError(t, err)
			require.Len(t, lines, 1)
			assert.Equal(t, tt.want, billing.FormatAmount(lines[0].CostDue))
			assert.True(t, lines[0].Subtotal.Equal(dec("61.40")))
			assert.Equal(t, tt.adj.Type, lines[0].Adjustment.Type)
		})
	}
}

func TestDraftService_AdjustmentReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.plans.SetAdjustment(ctx, "pv_1", billing.Override(dec("20"))))
	require.NoError(t, f.plans.SetAdjustment(ctx, "pv_1", billing.Fixed(dec("-1"))))

	lines, err := f.draft.GetDraftInvoice(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, "60.40", billing.FormatAmount(lines[0].CostDue))
}

func TestDraftService_AdjustmentSetThroughAnotherLoader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lines, err := f.draft.GetDraftInvoice(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, "61.40", billing.FormatAmount(lines[0].CostDue))

	// Another process: same store, its own cache.
	other := app.NewPlanLoader(f.store, memory.NewPlanCache(time.Minute, f.clock), nil, zerolog.Nop())
	admin := app.NewPlanService(f.store, other, zerolog.Nop())
	require.NoError(t, admin.SetAdjustment(ctx, "pv_1", billing.Override(dec("20"))))

	lines, err = f.draft.GetDraftInvoice(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, "20.00", billing.FormatAmount(lines[0].CostDue))
}

func TestDraftService_InvalidAdjustmentRejected(t *testing.T) {
	f := newFixture(t)
	err := f.plans.SetAdjustment(context.Background(), "pv_1", billing.PriceAdjustment{Type: "BOGUS", Amount: dec("1")})
	assert.ErrorIs(t, err, billing.ErrInvalidAdjustment)
}

func TestDraftService_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.draft.GetDraftInvoice(ctx, request())
	require.NoError(t, err)
	second, err := f.draft.GetDraftInvoice(ctx, request())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, f.store.EventCount())
}

func TestDraftService_WindowNarrowing(t *testing.T) {
	f := newFixture(t)

	// Only evt_2 (+2h) falls in [+90m, +150m).
	start := storetest.Base.Add(90 * time.Minute)
	end := storetest.Base.Add(150 * time.Minute)
	req := request()
	req.WindowStart, req.WindowEnd = &start, &end

	lines, err := f.draft.GetDraftInvoice(context.Background(), req)
	require.NoError(t, err)

	// chars 125-50 = 75 -> 1 batch = 5; peak 148 * 0.05 = 7.40; count 1 free -> 0.
	assert.Equal(t, "12.40", billing.FormatAmount(lines[0].CostDue))
	assert.Equal(t, start, lines[0].PeriodStart)
	assert.Equal(t, end, lines[0].PeriodEnd)
}

func TestDraftService_EventsBeforeStartIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := usage.Event{
		ID: "evt_early", OrganizationID: "org_1", CustomerID: "cus_1", Name: "email_sent",
		TimeCreated: storetest.Base.Add(-time.Minute),
		Properties:  map[string]usage.Value{"num_characters": usage.NumberFromInt(10000), "peak_bandwith": usage.NumberFromInt(1000)},
	}
	later := early
	later.ID = "evt_future"
	later.TimeCreated = now

	require.NoError(t, f.store.RecordEvents(ctx, []usage.Event{early, later}))

	lines, err := f.draft.GetDraftInvoice(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, "61.40", billing.FormatAmount(lines[0].CostDue))
}

func TestDraftService_NoActiveSubscription(t *testing.T) {
	f := newFixture(t)

	req := request()
	req.CustomerID = "cus_unknown"
	_, err := f.draft.GetDraftInvoice(context.Background(), req)
	assert.ErrorIs(t, err, billing.ErrNoActiveSubscription)
	assert.Equal(t, app.ResultNoActiveSubscription, app.ResultOf(err))
}

func TestDraftService_EndedSubscriptionIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ended := storetest.Base.Add(time.Hour)
	require.NoError(t, f.store.CreateSubscription(ctx, billing.Subscription{
		ID: "sub_old", OrganizationID: "org_1", CustomerID: "cus_2", PlanVersionID: "pv_1",
		StartDate: storetest.Base, EndDate: &ended, Status: billing.SubscriptionStatusEnded,
	}))

	req := request()
	req.CustomerID = "cus_2"
	_, err := f.draft.GetDraftInvoice(ctx, req)
	assert.ErrorIs(t, err, billing.ErrNoActiveSubscription)
}

func TestDraftService_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	start := now
	end := now.Add(-time.Hour)

	tests := []struct {
		name string
		req  app.DraftRequest
	}{
		{"missing organization", app.DraftRequest{CustomerID: "cus_1"}},
		{"missing customer", app.DraftRequest{OrganizationID: "org_1"}},
		{"inverted window", app.DraftRequest{OrganizationID: "org_1", CustomerID: "cus_1", WindowStart: &start, WindowEnd: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.draft.GetDraftInvoice(context.Background(), tt.req)
			assert.ErrorIs(t, err, app.ErrInvalidRequest)
		})
	}
}

func TestDraftService_MultipleSubscriptionsOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Same start as sub_1, so ID breaks the tie; sub_0 sorts first.
	require.NoError(t, f.store.CreateSubscription(ctx, billing.Subscription{
		ID: "sub_0", OrganizationID: "org_1", CustomerID: "cus_1", PlanVersionID: "pv_1",
		StartDate: storetest.Base, Status: billing.SubscriptionStatusActive,
	}))
	// Started later: only evt_3 (+3h) is in its window.
	require.NoError(t, f.store.CreateSubscription(ctx, billing.Subscription{
		ID: "sub_late", OrganizationID: "org_1", CustomerID: "cus_1", PlanVersionID: "pv_1",
		StartDate: storetest.Base.Add(150 * time.Minute), Status: billing.SubscriptionStatusActive,
	}))

	lines, err := f.draft.GetDraftInvoice(ctx, request())
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, "sub_0", lines[0].SubscriptionID)
	assert.Equal(t, "sub_1", lines[1].SubscriptionID)
	assert.Equal(t, "sub_late", lines[2].SubscriptionID)

	// 543-50 = 493 -> 5 batches = 25; 16 * 0.05 = 0.80; 1 event, 1 free.
	assert.Equal(t, "25.80", billing.FormatAmount(lines[2].CostDue))
	assert.Equal(t, "148.60", billing.FormatAmount(billing.TotalDue(lines)))
}

func TestDraftService_SharedMetricAggregatedOnce(t *testing.T) {
	store := memory.NewStore()
	storetest.Seed(t, store)
	storetest.SeedEvents(t, store)
	ctx := context.Background()

	require.NoError(t, store.CreatePlanVersion(ctx, plan.Version{
		ID: "pv_shared", OrganizationID: "org_1", PlanName: "Shared", Version: 1, CreatedAt: storetest.Base,
		Components: []plan.Component{
			{ID: "pc_a", Metric: usage.Metric{ID: "m_count"}, FreeUnits: dec("0"), CostPerBatch: dec("1"), UnitsPerBatch: dec("1"), CreatedAt: storetest.Base},
			{ID: "pc_b", Metric: usage.Metric{ID: "m_count"}, FreeUnits: dec("2"), CostPerBatch: dec("10"), UnitsPerBatch: dec("1"), CreatedAt: storetest.Base.Add(time.Second)},
		},
	}))
	require.NoError(t, store.CreateSubscription(ctx, billing.Subscription{
		ID: "sub_s", OrganizationID: "org_1", CustomerID: "cus_1", PlanVersionID: "pv_shared",
		StartDate: storetest.Base.Add(time.Second), Status: billing.SubscriptionStatusActive,
	}))

	counting := &countingEvents{EventStore: store}
	clk := clock.NewFake(now)
	svc := app.NewDraftService(app.DraftDeps{
		Events:        counting,
		Subscriptions: store,
		Plans:         app.NewPlanLoader(store, nil, nil, zerolog.Nop()),
		Clock:         clk,
		Logger:        zerolog.Nop(),
	})

	lines, err := svc.GetDraftInvoice(ctx, request())
	require.NoError(t, err)
	require.Len(t, lines, 2)

	// 3 metrics for sub_1 plus 1 shared metric for sub_s.
	assert.Equal(t, 4, counting.calls())
	// pc_a: 3 * 1 = 3; pc_b: (3-2) * 10 = 10.
	assert.Equal(t, "13.00", billing.FormatAmount(lines[1].CostDue))
}

func TestDraftService_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		component     plan.Component
		metric        usage.Metric
		wantComponent string
		wantErr       error
	}{
		{
			name:          "zero units per batch",
			metric:        usage.Metric{ID: "m_x", OrganizationID: "org_1", EventName: "email_sent", Aggregation: usage.AggregationCount},
			component:     plan.Component{ID: "pc_bad", FreeUnits: dec("0"), CostPerBatch: dec("1"), UnitsPerBatch: dec("0")},
			wantComponent: "pc_bad",
			wantErr:       plan.ErrInvalidComponentConfig,
		},
		{
			name:          "sum without property",
			metric:        usage.Metric{ID: "m_x", OrganizationID: "org_1", EventName: "email_sent", Aggregation: usage.AggregationSum},
			component:     plan.Component{ID: "pc_noprop", FreeUnits: dec("0"), CostPerBatch: dec("1"), UnitsPerBatch: dec("1")},
			wantComponent: "pc_noprop",
			wantErr:       usage.ErrInvalidMetricConfig,
		},
		{
			name:          "unknown aggregation",
			metric:        usage.Metric{ID: "m_x", OrganizationID: "org_1", EventName: "email_sent", Aggregation: "median"},
			component:     plan.Component{ID: "pc_median", FreeUnits: dec("0"), CostPerBatch: dec("1"), UnitsPerBatch: dec("1")},
			wantComponent: "pc_median",
			wantErr:       usage.ErrInvalidMetricConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			storetest.Seed(t, store)
			ctx := context.Background()

			require.NoError(t, store.CreateMetric(ctx, tt.metric))
			tt.component.Metric = usage.Metric{ID: tt.metric.ID}
			require.NoError(t, store.CreatePlanVersion(ctx, plan.Version{
				ID: "pv_bad", OrganizationID: "org_1", PlanName: "Bad", Version: 1,
				Components: []plan.Component{tt.component},
			}))
			require.NoError(t, store.CreateSubscription(ctx, billing.Subscription{
				ID: "sub_bad", OrganizationID: "org_1", CustomerID: "cus_9", PlanVersionID: "pv_bad",
				StartDate: storetest.Base, Status: billing.SubscriptionStatusActive,
			}))

			svc := app.NewDraftService(app.DraftDeps{
				Events:        store,
				Subscriptions: store,
				Plans:         app.NewPlanLoader(store, nil, nil, zerolog.Nop()),
				Clock:         clock.NewFake(now),
				Logger:        zerolog.Nop(),
			})
			_, err := svc.GetDraftInvoice(ctx, app.DraftRequest{OrganizationID: "org_1", CustomerID: "cus_9"})
			require.Error(t, err)

			var perr *app.PricingError
			require.True(t, errors.As(err, &perr), "want *PricingError, got %T", err)
			assert.Equal(t, "sub_bad", perr.SubscriptionID)
			assert.Equal(t, tt.wantComponent, perr.ComponentID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, app.IsConfigError(err))
		})
	}
}

func TestDraftService_StoreUnavailable(t *testing.T) {
	store := memory.NewStore()
	storetest.Seed(t, store)
	metrics := &recordingMetrics{}

	svc := app.NewDraftService(app.DraftDeps{
		Events:        failingEvents{},
		Subscriptions: store,
		Plans:         app.NewPlanLoader(store, nil, nil, zerolog.Nop()),
		Clock:         clock.NewFake(now),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})

	_, err := svc.GetDraftInvoice(context.Background(), request())
	assert.ErrorIs(t, err, ports.ErrStoreUnavailable)
	assert.Equal(t, app.ResultStoreUnavailable, app.ResultOf(err))
	assert.Equal(t, []string{app.ResultStoreUnavailable}, metrics.results())
}

func TestDraftService_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.draft.GetDraftInvoice(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, app.ResultCancelled, app.ResultOf(err))
}

func TestDraftService_Timeout(t *testing.T) {
	store := memory.NewStore()
	storetest.Seed(t, store)

	svc := app.NewDraftService(app.DraftDeps{
		Events:        blockingEvents{},
		Subscriptions: store,
		Plans:         app.NewPlanLoader(store, nil, nil, zerolog.Nop()),
		Clock:         clock.NewFake(now),
		Logger:        zerolog.Nop(),
		Timeout:       20 * time.Millisecond,
	})

	_, err := svc.GetDraftInvoice(context.Background(), request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDraftService_ConcurrentCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const customers = 20
	for i := 0; i < customers; i++ {
		cus := fmt.Sprintf("cus_c%02d", i)
		require.NoError(t, f.store.CreateSubscription(ctx, billing.Subscription{
			ID: "sub_" + cus, OrganizationID: "org_1", CustomerID: cus, PlanVersionID: "pv_1",
			StartDate: storetest.Base, Status: billing.SubscriptionStatusActive,
		}))
		events := make([]usage.Event, i+1)
		for j := range events {
			events[j] = usage.Event{
				ID: fmt.Sprintf("evt_%s_%d", cus, j), OrganizationID: "org_1", CustomerID: cus, Name: "email_sent",
				TimeCreated: storetest.Base.Add(time.Duration(j+1) * time.Minute),
				Properties:  map[string]usage.Value{"num_characters": usage.NumberFromInt(100), "peak_bandwith": usage.NumberFromInt(10)},
			}
		}
		require.NoError(t, f.store.RecordEvents(ctx, events))
	}

	f.draft.SetWorkers(2)
	var wg sync.WaitGroup
	errs := make([]error, customers)
	due := make([]string, customers)
	for i := 0; i < customers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lines, err := f.draft.GetDraftInvoice(ctx, app.DraftRequest{OrganizationID: "org_1", CustomerID: fmt.Sprintf("cus_c%02d", i)})
			errs[i] = err
			if err == nil {
				due[i] = billing.FormatAmount(lines[0].CostDue)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < customers; i++ {
		require.NoError(t, errs[i])
		n := int64(i + 1)
		// chars: ceil((100n-50)/100) * 5; peak: 10 * 0.05; count: (n-1) * 2.
		batches := (100*n - 50 + 99) / 100
		want := decimal.NewFromInt(batches*5 + (n-1)*2).Add(dec("0.50"))
		assert.Equal(t, billing.FormatAmount(want), due[i], "customer %d", i)
	}
}

func TestDraftService_SetWorkers(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, app.DefaultWorkers, f.draft.Workers())
	f.draft.SetWorkers(3)
	assert.Equal(t, 3, f.draft.Workers())
	f.draft.SetWorkers(0)
	assert.Equal(t, app.DefaultWorkers, f.draft.Workers())
}

func TestDraftService_RecordsMetrics(t *testing.T) {
	store := memory.NewStore()
	storetest.Seed(t, store)
	storetest.SeedEvents(t, store)
	metrics := &recordingMetrics{}

	svc := app.NewDraftService(app.DraftDeps{
		Events:        store,
		Subscriptions: store,
		Plans:         app.NewPlanLoader(store, nil, metrics, zerolog.Nop()),
		Clock:         clock.NewFake(now),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})

	_, err := svc.GetDraftInvoice(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, []string{app.ResultOK}, metrics.results())
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 3, metrics.priced)
	assert.Equal(t, 9, metrics.events) // three metrics over three events
}

// Test doubles

type countingEvents struct {
	ports.EventStore
	mu sync.Mutex
	n  int
}

func (c *countingEvents) FindEvents(ctx context.Context, q ports.EventQuery, visit func(usage.Event) error) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.EventStore.FindEvents(ctx, q, visit)
}

func (c *countingEvents) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type failingEvents struct{}

func (failingEvents) FindEvents(context.Context, ports.EventQuery, func(usage.Event) error) error {
	return fmt.Errorf("query events: %w", ports.ErrStoreUnavailable)
}

type blockingEvents struct{}

func (blockingEvents) FindEvents(ctx context.Context, _ ports.EventQuery, _ func(usage.Event) error) error {
	<-ctx.Done()
	return ctx.Err()
}

type recordingMetrics struct {
	mu     sync.Mutex
	drafts []string
	priced int
	events int
	hits   int
	misses int
}

func (r *recordingMetrics) DraftCompleted(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, result)
}

func (r *recordingMetrics) ComponentsPriced(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priced += n
}

func (r *recordingMetrics) EventsAggregated(_ usage.Aggregation, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events += n
}

func (r *recordingMetrics) PlanCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *recordingMetrics) results() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.drafts...)
}
