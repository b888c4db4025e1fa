// Package storetest holds behavior tests shared by every ports.Store adapter.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/key"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// Base is the reference time used by fixtures.
var Base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ports.Store

// Run executes the shared store behavior tests.
func Run(t *testing.T, newStore Factory) {
	t.Run("FindEvents", func(t *testing.T) { testFindEvents(t, newStore(t)) })
	t.Run("FindEventsStopsOnVisitorError", func(t *testing.T) { testVisitorError(t, newStore(t)) })
	t.Run("PlanVersion", func(t *testing.T) { testPlanVersion(t, newStore(t)) })
	t.Run("PlanVersionNotFound", func(t *testing.T) { testPlanVersionNotFound(t, newStore(t)) })
	t.Run("ActiveSubscriptions", func(t *testing.T) { testActiveSubscriptions(t, newStore(t)) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, newStore(t)) })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Seed writes one organization, three metrics, a plan version and an active
// subscription for customer "cus_1".
func Seed(t *testing.T, s ports.Store) plan.Version {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateOrganization(ctx, ports.Organization{ID: "org_1", Name: "Acme", CreatedAt: Base}); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	metrics := []usage.Metric{
		{ID: "m_chars", OrganizationID: "org_1", Name: "Characters", EventName: "email_sent", PropertyName: "num_characters", Aggregation: usage.AggregationSum},
		{ID: "m_peak", OrganizationID: "org_1", Name: "Peak", EventName: "email_sent", PropertyName: "peak_bandwith", Aggregation: usage.AggregationMax},
		{ID: "m_count", OrganizationID: "org_1", Name: "Emails", EventName: "email_sent", Aggregation: usage.AggregationCount},
	}
	for _, m := range metrics {
		if err := s.CreateMetric(ctx, m); err != nil {
			t.Fatalf("CreateMetric(%s): %v", m.ID, err)
		}
	}

	v := plan.Version{
		ID:             "pv_1",
		OrganizationID: "org_1",
		PlanName:       "Starter",
		Version:        1,
		CreatedAt:      Base,
		Components: []plan.Component{
			{ID: "pc_1", Metric: usage.Metric{ID: "m_chars"}, FreeUnits: dec("50"), CostPerBatch: dec("5"), UnitsPerBatch: dec("100"), CreatedAt: Base},
			{ID: "pc_2", Metric: usage.Metric{ID: "m_peak"}, FreeUnits: dec("0"), CostPerBatch: dec("0.05"), UnitsPerBatch: dec("1"), CreatedAt: Base.Add(time.Second)},
			{ID: "pc_3", Metric: usage.Metric{ID: "m_count"}, FreeUnits: dec("1"), CostPerBatch: dec("2"), UnitsPerBatch: dec("1"), CreatedAt: Base.Add(2 * time.Second)},
		},
	}
	if err := s.CreatePlanVersion(ctx, v); err != nil {
		t.Fatalf("CreatePlanVersion: %v", err)
	}

	sub := billing.Subscription{ID: "sub_1", OrganizationID: "org_1", CustomerID: "cus_1", PlanVersionID: "pv_1", StartDate: Base, Status: billing.SubscriptionStatusActive, CreatedAt: Base}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	return v
}

// SeedEvents records the three reference events one hour apart for "cus_1".
func SeedEvents(t *testing.T, s ports.Store) {
	t.Helper()
	props := func(chars, peak int64) map[string]usage.Value {
		return map[string]usage.Value{
			"num_characters": usage.NumberFromInt(chars),
			"peak_bandwith":  usage.NumberFromInt(peak),
		}
	}
	events := []usage.Event{
		{ID: "evt_1", OrganizationID: "org_1", CustomerID: "cus_1", Name: "email_sent", TimeCreated: Base.Add(time.Hour), Properties: props(350, 65)},
		{ID: "evt_2", OrganizationID: "org_1", CustomerID: "cus_1", Name: "email_sent", TimeCreated: Base.Add(2 * time.Hour), Properties: props(125, 148)},
		{ID: "evt_3", OrganizationID: "org_1", CustomerID: "cus_1", Name: "email_sent", TimeCreated: Base.Add(3 * time.Hour), Properties: props(543, 16)},
	}
	if err := s.RecordEvents(context.Background(), events); err != nil {
		t.Fatalf("RecordEvents: %v", err)
	}
}

func testFindEvents(t *testing.T, s ports.Store) {
	defer s.Close()
	ctx := context.Background()
	Seed(t, s)
	SeedEvents(t, s)

	other := []usage.Event{
		{ID: "evt_x1", OrganizationID: "org_1", CustomerID: "cus_2", Name: "email_sent", TimeCreated: Base.Add(time.Hour)},
		{ID: "evt_x2", OrganizationID: "org_1", CustomerID: "cus_1", Name: "sms_sent", TimeCreated: Base.Add(time.Hour)},
		{ID: "evt_x3", OrganizationID: "org_1", CustomerID: "cus_1", Name: "email_sent", TimeCreated: Base.Add(-time.Hour)},
		{ID: "evt_x4", OrganizationID: "org_1", CustomerID: "cus_1", Name: "email_sent", TimeCreated: Base.Add(4 * time.Hour),
			Properties: map[string]usage.Value{"region": usage.String("eu"), "bytes": usage.Number(dec("1.25"))}},
	}
	if err := s.RecordEvents(ctx, other); err != nil {
		t.Fatalf("RecordEvents: %v", err)
	}

	q := ports.EventQuery{
		OrganizationID: "org_1",
		CustomerID:     "cus_1",
		EventName:      "email_sent",
		Window:         usage.Window{Start: Base, End: Base.Add(4 * time.Hour)},
	}
	var got []usage.Event
	if err := s.FindEvents(ctx, q, func(e usage.Event) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("FindEvents: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("FindEvents returned %d events, want 3", len(got))
	}
	for i, want := range []string{"evt_1", "evt_2", "evt_3"} {
		if got[i].ID != want {
			t.Errorf("event[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
	if v, ok := got[1].Property("peak_bandwith"); !ok || v.String() != "148" {
		t.Errorf("peak_bandwith = %v, want 148", v)
	}
	if !got[0].TimeCreated.Equal(Base.Add(time.Hour)) {
		t.Errorf("TimeCreated = %v, want %v", got[0].TimeCreated, Base.Add(time.Hour))
	}

	q.Window.End = Base.Add(5 * time.Hour)
	var last usage.Event
	_ = s.FindEvents(ctx, q, func(e usage.Event) error { last = e; return nil })
	if v, ok := last.Property("region"); !ok || v.Kind() != usage.KindString {
		t.Errorf("region property = %v, want string", v)
	}
	if v, ok := last.Property("bytes"); !ok || v.String() != "1.25" {
		t.Errorf("bytes property = %v, want 1.25", v)
	}
}

func testVisitorError(t *testing.T, s ports.Store) {
	defer s.Close()
	Seed(t, s)
	SeedEvents(t, s)

	stop := errors.New("stop")
	calls := 0
	err := s.FindEvents(context.Background(), ports.EventQuery{
		OrganizationID: "org_1", CustomerID: "cus_1", EventName: "email_sent",
		Window: usage.Window{Start: Base, End: Base.Add(24 * time.Hour)},
	}, func(usage.Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("FindEvents error = %v, want visitor error", err)
	}
	if calls != 1 {
		t.Errorf("visitor called %d times, want 1", calls)
	}
}

func testPlanVersion(t *testing.T, s ports.Store) {
	defer s.Close()
	ctx := context.Background()
	Seed(t, s)

	v, err := s.GetPlanVersion(ctx, "pv_1")
	if err != nil {
		t.Fatalf("GetPlanVersion: %v", err)
	}
	if v.PlanName != "Starter" || v.Version != 1 || v.OrganizationID != "org_1" {
		t.Errorf("version = %+v", v)
	}
	if len(v.Components) != 3 {
		t.Fatalf("components = %d, want 3", len(v.Components))
	}
	sorted := plan.SortedComponents(v.Components)
	if sorted[0].Metric.PropertyName != "num_characters" || sorted[0].Metric.Aggregation != usage.AggregationSum {
		t.Errorf("component metric not resolved: %+v", sorted[0].Metric)
	}
	if !sorted[1].CostPerBatch.Equal(dec("0.05")) {
		t.Errorf("CostPerBatch = %s, want 0.05", sorted[1].CostPerBatch)
	}
	if !v.Adjustment.IsNone() {
		t.Errorf("Adjustment = %+v, want none", v.Adjustment)
	}
	before, err := s.PlanVersionRevision(ctx, "pv_1")
	if err != nil {
		t.Fatalf("PlanVersionRevision: %v", err)
	}
	if before != v.Revision {
		t.Errorf("PlanVersionRevision = %d, want %d", before, v.Revision)
	}

	adj := billing.Percentage(dec("-1"))
	adj.Name = "loyalty"
	if err := s.SetPriceAdjustment(ctx, "pv_1", adj); err != nil {
		t.Fatalf("SetPriceAdjustment: %v", err)
	}
	if err := s.SetPriceAdjustment(ctx, "pv_1", billing.Override(dec("20"))); err != nil {
		t.Fatalf("SetPriceAdjustment: %v", err)
	}
	v, _ = s.GetPlanVersion(ctx, "pv_1")
	if v.Adjustment.Type != billing.AdjustmentOverride || !v.Adjustment.Amount.Equal(dec("20")) {
		t.Errorf("Adjustment = %+v, want override 20", v.Adjustment)
	}
	if v.Adjustment.Name != "" {
		t.Errorf("Adjustment.Name = %q, want replaced", v.Adjustment.Name)
	}
	if v.Revision != before+2 {
		t.Errorf("Revision = %d, want %d", v.Revision, before+2)
	}
	if rev, _ := s.PlanVersionRevision(ctx, "pv_1"); rev != v.Revision {
		t.Errorf("PlanVersionRevision = %d, want %d", rev, v.Revision)
	}
	if _, err := s.PlanVersionRevision(ctx, "pv_missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("PlanVersionRevision(missing) = %v, want ErrNotFound", err)
	}

	if err := s.SetPriceAdjustment(ctx, "pv_missing", adj); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("SetPriceAdjustment(missing) = %v, want ErrNotFound", err)
	}
}

func testPlanVersionNotFound(t *testing.T, s ports.Store) {
	defer s.Close()
	_, err := s.GetPlanVersion(context.Background(), "nope")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("GetPlanVersion error = %v, want ErrNotFound", err)
	}
}

func testActiveSubscriptions(t *testing.T, s ports.Store) {
	defer s.Close()
	ctx := context.Background()
	Seed(t, s)

	end := Base.Add(48 * time.Hour)
	more := []billing.Subscription{
		{ID: "sub_0", OrganizationID: "org_1", CustomerID: "cus_1", PlanVersionID: "pv_1", StartDate: Base, EndDate: &end, Status: billing.SubscriptionStatusActive},
		{ID: "sub_old", OrganizationID: "org_1", CustomerID: "cus_1", PlanVersionID: "pv_1", StartDate: Base.Add(-time.Hour), Status: billing.SubscriptionStatusEnded},
		{ID: "sub_other", OrganizationID: "org_1", CustomerID: "cus_2", PlanVersionID: "pv_1", StartDate: Base, Status: billing.SubscriptionStatusActive},
	}
	for _, sub := range more {
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription(%s): %v", sub.ID, err)
		}
	}

	subs, err := s.FindActiveSubscriptions(ctx, "org_1", "cus_1")
	if err != nil {
		t.Fatalf("FindActiveSubscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("active subscriptions = %d, want 2", len(subs))
	}
	if subs[0].ID != "sub_0" || subs[1].ID != "sub_1" {
		t.Errorf("order = [%s %s], want [sub_0 sub_1]", subs[0].ID, subs[1].ID)
	}
	if subs[0].EndDate == nil || !subs[0].EndDate.Equal(end) {
		t.Errorf("EndDate = %v, want %v", subs[0].EndDate, end)
	}
	if !subs[1].StartDate.Equal(Base) {
		t.Errorf("StartDate = %v, want %v", subs[1].StartDate, Base)
	}

	none, err := s.FindActiveSubscriptions(ctx, "org_2", "cus_1")
	if err != nil {
		t.Fatalf("FindActiveSubscriptions: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("other organization returned %d subscriptions", len(none))
	}
}

func testKeys(t *testing.T, s ports.Store) {
	defer s.Close()
	ctx := context.Background()
	Seed(t, s)

	k := key.Key{ID: "key_1", OrganizationID: "org_1", Name: "ci", Hash: []byte("h"), Prefix: "ub_abcdefghi", CreatedAt: Base}
	if err := s.Create(ctx, k); err != nil {
		t.Fatalf("Create: %v", err)
	}

	keys, err := s.Get(ctx, "ub_abcdefghi")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(keys) != 1 || keys[0].OrganizationID != "org_1" || string(keys[0].Hash) != "h" {
		t.Fatalf("Get = %+v", keys)
	}

	at := Base.Add(time.Hour)
	if err := s.Revoke(ctx, "key_1", at); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	list, err := s.ListByOrganization(ctx, "org_1")
	if err != nil {
		t.Fatalf("ListByOrganization: %v", err)
	}
	if len(list) != 1 || list[0].RevokedAt == nil || !list[0].RevokedAt.Equal(at) {
		t.Errorf("ListByOrganization = %+v", list)
	}
}
