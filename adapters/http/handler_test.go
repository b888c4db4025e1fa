package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/artpar/usagebill/adapters/clock"
	"github.com/artpar/usagebill/adapters/hasher"
	apihttp "github.com/artpar/usagebill/adapters/http"
	"github.com/artpar/usagebill/adapters/memory"
	"github.com/artpar/usagebill/adapters/metrics"
	"github.com/artpar/usagebill/adapters/storetest"
	"github.com/artpar/usagebill/app"
	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/pkg/jsonapi"
	"github.com/artpar/usagebill/ports"
)

const (
	rawKey      = "ub_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	otherOrgKey = "ub_fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
)

var now = storetest.Base.Add(24 * time.Hour)

type testServer struct {
	router  http.Handler
	store   *memory.Store
	metrics *metrics.Collector
	reg     *prometheus.Registry
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	return setupTestServerWith(t, nil)
}

// setupTestServerWith builds the full router over a seeded memory store.
// A non-nil draft replaces the real draft service.
func setupTestServerWith(t *testing.T, draft apihttp.DraftService) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	store := memory.NewStore()
	storetest.Seed(t, store)
	storetest.SeedEvents(t, store)
	if err := store.CreateOrganization(ctx, ports.Organization{ID: "org_2", Name: "Other"}); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	clk := clock.NewFake(now)
	keys := app.NewKeyService(store, store, hasher.Fake{}, clk, "ub_", logger)
	if _, err := keys.Import(ctx, "org_1", "test", rawKey); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := keys.Import(ctx, "org_2", "other", otherOrgKey); err != nil {
		t.Fatalf("Import: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	loader := app.NewPlanLoader(store, memory.NewPlanCache(time.Minute, clk), m, logger)
	if draft == nil {
		draft = app.NewDraftService(app.DraftDeps{
			Events:        store,
			Subscriptions: store,
			Plans:         loader,
			Clock:         clk,
			Metrics:       m,
			Logger:        logger,
		})
	}

	router := apihttp.NewRouter(apihttp.RouterConfig{
		Draft:         apihttp.NewDraftHandler(draft, logger),
		Plans:         apihttp.NewPlanHandler(loader, app.NewPlanService(store, loader, logger), logger),
		Health:        apihttp.NewHealthHandler(nil),
		Auth:          keys,
		Metrics:       m,
		EnableOpenAPI: true,
		Version:       "1.2.3",
	}, logger)

	return &testServer{router: router, store: store, metrics: m, reg: reg}
}

func (s *testServer) do(method, target, apiKey, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type draftDocument struct {
	Data []struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			SubscriptionID string `json:"subscription_id"`
			Subtotal       string `json:"subtotal"`
			CostDue        string `json:"cost_due"`
			PeriodStart    string `json:"period_start"`
			Components     []struct {
				ComponentID   string `json:"component_id"`
				BillableUnits string `json:"billable_units"`
				Cost          string `json:"cost"`
			} `json:"components"`
			Adjustment *struct {
				Type   string `json:"type"`
				Amount string `json:"amount"`
			} `json:"adjustment"`
		} `json:"attributes"`
	} `json:"data"`
	Meta map[string]any `json:"meta"`
}

func decodeDraft(t *testing.T, rec *httptest.ResponseRecorder) draftDocument {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	var doc draftDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return doc
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var doc jsonapi.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode error document: %v (%s)", err, rec.Body.String())
	}
	if len(doc.Errors) == 0 {
		t.Fatalf("no errors in body: %s", rec.Body.String())
	}
	return doc.Errors[0].Code
}

func TestDraftInvoice_OK(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1", rawKey, "")
	doc := decodeDraft(t, rec)

	if ct := rec.Header().Get("Content-Type"); ct != jsonapi.ContentType {
		t.Errorf("Content-Type = %q, want %q", ct, jsonapi.ContentType)
	}
	if len(doc.Data) != 1 {
		t.Fatalf("lines = %d, want 1", len(doc.Data))
	}
	line := doc.Data[0]
	if line.Type != "draft_invoice_lines" || line.ID != "sub_1" {
		t.Errorf("resource = %s/%s", line.Type, line.ID)
	}
	if line.Attributes.CostDue != "61.40" {
		t.Errorf("cost_due = %s, want 61.40", line.Attributes.CostDue)
	}
	if line.Attributes.Adjustment != nil {
		t.Errorf("adjustment = %+v, want none", line.Attributes.Adjustment)
	}
	if len(line.Attributes.Components) != 3 {
		t.Fatalf("components = %d, want 3", len(line.Attributes.Components))
	}
	if c := line.Attributes.Components[0]; c.ComponentID != "pc_1" || c.BillableUnits != "968" || c.Cost != "50" {
		t.Errorf("component[0] = %+v", c)
	}
	if doc.Meta["total_due"] != "61.40" {
		t.Errorf("total_due = %v, want 61.40", doc.Meta["total_due"])
	}
}

func TestDraftInvoice_BearerAndQueryKey(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/draft_invoice?customer_id=cus_1", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer: status = %d, want 200", rec.Code)
	}

	rec = s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1&api_key="+rawKey, "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("query: status = %d, want 200", rec.Code)
	}
}

func TestDraftInvoice_Window(t *testing.T) {
	s := setupTestServer(t)

	start := storetest.Base.Add(90 * time.Minute).Format(time.RFC3339)
	end := storetest.Base.Add(150 * time.Minute).Format(time.RFC3339)
	rec := s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1&window_start="+start+"&window_end="+end, rawKey, "")
	doc := decodeDraft(t, rec)

	if got := doc.Data[0].Attributes.CostDue; got != "12.40" {
		t.Errorf("cost_due = %s, want 12.40", got)
	}
	if got := doc.Data[0].Attributes.PeriodStart; got != start {
		t.Errorf("period_start = %s, want %s", got, start)
	}
}

func TestDraftInvoice_Errors(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name       string
		target     string
		apiKey     string
		wantStatus int
		wantCode   string
	}{
		{"missing key", "/api/v1/draft_invoice?customer_id=cus_1", "", 401, "missing_api_key"},
		{"unknown key", "/api/v1/draft_invoice?customer_id=cus_1", "ub_" + strings.Repeat("0", 64), 401, "key_not_found"},
		{"malformed key", "/api/v1/draft_invoice?customer_id=cus_1", "nope", 401, "invalid_format"},
		{"missing customer", "/api/v1/draft_invoice", rawKey, 400, "invalid_parameter"},
		{"bad window", "/api/v1/draft_invoice?customer_id=cus_1&window_start=yesterday", rawKey, 400, "invalid_parameter"},
		{"inverted window", "/api/v1/draft_invoice?customer_id=cus_1&window_start=2024-01-02T00:00:00Z&window_end=2024-01-01T00:00:00Z", rawKey, 400, "bad_request"},
		{"no subscription", "/api/v1/draft_invoice?customer_id=cus_x", rawKey, 404, "no_active_subscription"},
		{"other organization", "/api/v1/draft_invoice?customer_id=cus_1", otherOrgKey, 404, "no_active_subscription"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do("GET", tt.target, tt.apiKey, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestDraftInvoice_InvalidConfiguration(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	if err := s.store.CreatePlanVersion(ctx, plan.Version{
		ID: "pv_bad", OrganizationID: "org_1", PlanName: "Bad", Version: 1,
		Components: []plan.Component{{
			ID: "pc_bad", Metric: usage.Metric{ID: "m_count"},
			FreeUnits: decimal.Zero, CostPerBatch: decimal.NewFromInt(1), UnitsPerBatch: decimal.Zero,
		}},
	}); err != nil {
		t.Fatalf("CreatePlanVersion: %v", err)
	}
	if err := s.store.CreateSubscription(ctx, billing.Subscription{
		ID: "sub_bad", OrganizationID: "org_1", CustomerID: "cus_9", PlanVersionID: "pv_bad",
		StartDate: storetest.Base, Status: billing.SubscriptionStatusActive,
	}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	rec := s.do("GET", "/api/v1/draft_invoice?customer_id=cus_9", rawKey, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body: %s", rec.Code, rec.Body.String())
	}

	var doc jsonapi.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	e := doc.Errors[0]
	if e.Code != "invalid_component_config" {
		t.Errorf("code = %s, want invalid_component_config", e.Code)
	}
	if e.Meta["subscription_id"] != "sub_bad" || e.Meta["component_id"] != "pc_bad" {
		t.Errorf("meta = %v", e.Meta)
	}
}

type stubDraft struct {
	err error
}

func (s stubDraft) GetDraftInvoice(context.Context, app.DraftRequest) ([]billing.DraftLine, error) {
	return nil, s.err
}

func TestDraftInvoice_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"store unavailable", fmt.Errorf("query: %w", ports.ErrStoreUnavailable), 503},
		{"deadline", context.DeadlineExceeded, 504},
		{"plan version missing", fmt.Errorf("load plan version pv_9: %w", ports.ErrNotFound), 404},
		{"unexpected", fmt.Errorf("boom"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServerWith(t, stubDraft{err: tt.err})
			rec := s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1", rawKey, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestPlanAdjustment(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"percentage", `{"type":"PERCENTAGE","amount":"-1"}`, "60.79"},
		{"fixed", `{"type":"FIXED","amount":-1}`, "60.40"},
		{"override", `{"type":"override","amount":"20","name":"Flat deal"}`, "20.00"},
		{"none", `{"type":"NONE"}`, "61.40"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t)

			// Prime the plan cache first so the update must invalidate it.
			decodeDraft(t, s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1", rawKey, ""))

			rec := s.do("PUT", "/api/v1/plan_versions/pv_1/adjustment", rawKey, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
			}

			doc := decodeDraft(t, s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1", rawKey, ""))
			if got := doc.Data[0].Attributes.CostDue; got != tt.want {
				t.Errorf("cost_due = %s, want %s", got, tt.want)
			}
			if got := doc.Data[0].Attributes.Subtotal; got != "61.4" {
				t.Errorf("subtotal = %s, want 61.4", got)
			}
		})
	}
}

func TestPlanAdjustment_Errors(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name       string
		target     string
		apiKey     string
		body       string
		wantStatus int
	}{
		{"unknown type", "/api/v1/plan_versions/pv_1/adjustment", rawKey, `{"type":"BOGUS","amount":"1"}`, 422},
		{"bad json", "/api/v1/plan_versions/pv_1/adjustment", rawKey, `{`, 400},
		{"missing version", "/api/v1/plan_versions/pv_missing/adjustment", rawKey, `{"type":"FIXED","amount":"1"}`, 404},
		{"other organization", "/api/v1/plan_versions/pv_1/adjustment", otherOrgKey, `{"type":"FIXED","amount":"1"}`, 404},
		{"no key", "/api/v1/plan_versions/pv_1/adjustment", "", `{"type":"FIXED","amount":"1"}`, 401},
		{"missing amount", "/api/v1/plan_versions/pv_1/adjustment", rawKey, `{"type":"PRICE_OVERRIDE"}`, 422},
		{"null amount", "/api/v1/plan_versions/pv_1/adjustment", rawKey, `{"type":"FIXED","amount":null}`, 422},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do("PUT", tt.target, tt.apiKey, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	// None of the rejected updates may have touched the plan.
	doc := decodeDraft(t, s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1", rawKey, ""))
	if got := doc.Data[0].Attributes.CostDue; got != "61.40" {
		t.Errorf("cost_due = %s, want 61.40", got)
	}
}

func TestPlanVersion_Get(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do("GET", "/api/v1/plan_versions/pv_1", rawKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				PlanName   string `json:"plan_name"`
				Components []struct {
					ID          string `json:"id"`
					Aggregation string `json:"aggregation"`
				} `json:"components"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Data.ID != "pv_1" || doc.Data.Attributes.PlanName != "Starter" {
		t.Errorf("data = %+v", doc.Data)
	}
	if len(doc.Data.Attributes.Components) != 3 || doc.Data.Attributes.Components[0].Aggregation != "sum" {
		t.Errorf("components = %+v", doc.Data.Attributes.Components)
	}
}

func TestHealthAndVersion(t *testing.T) {
	s := setupTestServer(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		if rec := s.do("GET", path, "", ""); rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}

	rec := s.do("GET", "/version", "", "")
	var v apihttp.VersionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Version != "1.2.3" || v.Service != "usagebill" {
		t.Errorf("version = %+v", v)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return ports.ErrStoreUnavailable }

func TestHealth_NotReady(t *testing.T) {
	h := apihttp.NewHealthHandler(failingPinger{})
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := setupTestServer(t)

	if rec := s.do("GET", "/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := s.do("DELETE", "/version", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	s := setupTestServer(t)

	decodeDraft(t, s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1", rawKey, ""))
	s.do("GET", "/api/v1/draft_invoice?customer_id=cus_1", "", "")
	s.do("GET", "/health", "", "")

	families, err := s.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	requests := byName["usagebill_http_requests_total"]
	if requests == nil {
		t.Fatal("usagebill_http_requests_total not found")
	}
	got := make(map[string]float64)
	for _, m := range requests.GetMetric() {
		labels := make(map[string]string)
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["route"] != "/api/v1/draft_invoice" {
			t.Errorf("unexpected route label %q", labels["route"])
		}
		got[labels["status"]] += m.GetCounter().GetValue()
	}
	if got["200"] != 1 || got["401"] != 1 {
		t.Errorf("requests by status = %v, want 200:1 401:1", got)
	}

	if f := byName["usagebill_auth_failures_total"]; f == nil || f.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Errorf("auth failures = %v, want 1", f)
	}
	if f := byName["usagebill_draft_requests_total"]; f == nil {
		t.Error("usagebill_draft_requests_total not recorded")
	}
}

func TestOpenAPI(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do("GET", "/.well-known/openapi.json", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/api/v1/draft_invoice"]; !ok {
		t.Error("draft_invoice path missing from document")
	}

	rec = s.do("GET", "/swagger/index.html", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("swagger UI status = %d, want 200", rec.Code)
	}

	rec = s.do("GET", "/swagger/doc.json", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("doc.json status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/api/v1/draft_invoice") {
		t.Error("doc.json does not serve the registered document")
	}
}
