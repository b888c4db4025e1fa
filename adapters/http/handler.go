// Package http exposes draft invoices and plan administration over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/usagebill/app"
	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/pkg/jsonapi"
	"github.com/artpar/usagebill/ports"
)

// DraftService computes draft invoice lines.
type DraftService interface {
	GetDraftInvoice(ctx context.Context, req app.DraftRequest) ([]billing.DraftLine, error)
}

// DraftHandler serves GET /api/v1/draft_invoice.
type DraftHandler struct {
	service DraftService
	logger  zerolog.Logger
}

// NewDraftHandler creates a draft invoice handler.
func NewDraftHandler(service DraftService, logger zerolog.Logger) *DraftHandler {
	return &DraftHandler{service: service, logger: logger}
}

// ServeHTTP computes the calling organization's draft invoice for one customer.
//
//	@Summary		Draft invoice
//	@Description	Computes, without persisting, one draft line per active subscription of the customer
//	@Tags			Billing
//	@Produce		json
//	@Param			customer_id		query		string	true	"Customer ID"
//	@Param			window_start	query		string	false	"RFC3339 lower bound (inclusive)"
//	@Param			window_end		query		string	false	"RFC3339 upper bound (exclusive)"
//	@Success		200				{object}	jsonapi.Document
//	@Failure		400				{object}	jsonapi.Document	"Invalid query parameter"
//	@Failure		401				{object}	jsonapi.Document	"Missing or invalid API key"
//	@Failure		404				{object}	jsonapi.Document	"No active subscription"
//	@Failure		422				{object}	jsonapi.Document	"Misconfigured metric or component"
//	@Failure		503				{object}	jsonapi.Document	"Store unavailable"
//	@Security		ApiKeyAuth
//	@Router			/api/v1/draft_invoice [get]
func (h *DraftHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k, ok := KeyFromContext(r.Context())
	if !ok {
		jsonapi.WriteError(w, jsonapi.ErrUnauthorized("missing_api_key", ""))
		return
	}

	q := r.URL.Query()
	req := app.DraftRequest{
		OrganizationID: k.OrganizationID,
		CustomerID:     q.Get("customer_id"),
	}
	if req.CustomerID == "" {
		jsonapi.WriteError(w, jsonapi.ErrInvalidParameter("customer_id", "is required"))
		return
	}

	var err error
	if req.WindowStart, err = parseTimeParam(q, "window_start"); err != nil {
		jsonapi.WriteError(w, jsonapi.ErrInvalidParameter("window_start", "must be an RFC3339 timestamp"))
		return
	}
	if req.WindowEnd, err = parseTimeParam(q, "window_end"); err != nil {
		jsonapi.WriteError(w, jsonapi.ErrInvalidParameter("window_end", "must be an RFC3339 timestamp"))
		return
	}

	lines, err := h.service.GetDraftInvoice(r.Context(), req)
	if err != nil {
		h.logger.Debug().Err(err).
			Str("org", req.OrganizationID).
			Str("customer", req.CustomerID).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("draft invoice request failed")
		writeDraftError(w, err)
		return
	}

	resources := make([]jsonapi.Resource, len(lines))
	for i, l := range lines {
		resources[i] = draftLineResource(l)
	}
	doc := jsonapi.NewDocument().
		DataCollection(resources).
		Meta("customer_id", req.CustomerID).
		Meta("total_due", billing.FormatAmount(billing.TotalDue(lines))).
		Self(r.URL.RequestURI()).
		JSONAPI().
		Build()
	jsonapi.WriteDocument(w, http.StatusOK, doc)
}

func parseTimeParam(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// ComponentResponse is one priced component in a draft line.
type ComponentResponse struct {
	ComponentID   string `json:"component_id"`
	MetricID      string `json:"metric_id"`
	Usage         string `json:"usage"`
	BillableUnits string `json:"billable_units"`
	Cost          string `json:"cost"`
}

// AdjustmentResponse describes the adjustment applied to a line.
type AdjustmentResponse struct {
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func draftLineResource(l billing.DraftLine) jsonapi.Resource {
	components := make([]ComponentResponse, len(l.Components))
	for i, c := range l.Components {
		components[i] = ComponentResponse{
			ComponentID:   c.ComponentID,
			MetricID:      c.MetricID,
			Usage:         c.Usage.String(),
			BillableUnits: c.BillableUnits.String(),
			Cost:          c.Cost.String(),
		}
	}

	b := jsonapi.NewResource("draft_invoice_lines", l.SubscriptionID).
		Attr("subscription_id", l.SubscriptionID).
		Attr("customer_id", l.CustomerID).
		Attr("period_start", l.PeriodStart.Format(time.RFC3339Nano)).
		Attr("period_end", l.PeriodEnd.Format(time.RFC3339Nano)).
		Attr("subtotal", l.Subtotal.String()).
		Attr("cost_due", billing.FormatAmount(l.CostDue)).
		Attr("components", components).
		BelongsTo("subscription", "subscriptions", l.SubscriptionID).
		BelongsTo("plan_version", "plan_versions", l.PlanVersionID)
	if !l.Adjustment.IsNone() {
		b.Attr("adjustment", adjustmentResponse(l.Adjustment))
	}
	return b.Build()
}

func adjustmentResponse(a billing.PriceAdjustment) AdjustmentResponse {
	return AdjustmentResponse{
		Type:        string(a.Type),
		Amount:      a.Amount.String(),
		Name:        a.Name,
		Description: a.Description,
	}
}

// writeDraftError maps the draft error taxonomy onto HTTP statuses.
func writeDraftError(w http.ResponseWriter, err error) {
	var perr *app.PricingError
	switch {
	case errors.Is(err, app.ErrInvalidRequest):
		jsonapi.WriteError(w, jsonapi.ErrBadRequest(err.Error()))
	case errors.Is(err, billing.ErrNoActiveSubscription):
		jsonapi.WriteError(w, jsonapi.ErrNotFound("no_active_subscription", err.Error()))
	case errors.As(err, &perr) && app.IsConfigError(err):
		b := jsonapi.NewError(http.StatusUnprocessableEntity, configCode(err), "Unprocessable Entity").
			Detail(err.Error()).
			Meta("subscription_id", perr.SubscriptionID)
		if perr.ComponentID != "" {
			b.Meta("component_id", perr.ComponentID)
		}
		jsonapi.WriteError(w, b.Build())
	case app.IsConfigError(err):
		jsonapi.WriteError(w, jsonapi.ErrUnprocessable(configCode(err), err.Error()))
	case errors.Is(err, ports.ErrNotFound):
		jsonapi.WriteError(w, jsonapi.ErrNotFound("not_found", err.Error()))
	case errors.Is(err, ports.ErrStoreUnavailable):
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("billing store unavailable"))
	case errors.Is(err, context.DeadlineExceeded):
		jsonapi.WriteError(w, jsonapi.ErrTimeout("draft computation timed out"))
	case errors.Is(err, context.Canceled):
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("request cancelled"))
	default:
		jsonapi.WriteError(w, jsonapi.ErrInternal(""))
	}
}

func configCode(err error) string {
	switch {
	case errors.Is(err, usage.ErrInvalidMetricConfig):
		return "invalid_metric_config"
	case errors.Is(err, plan.ErrInvalidComponentConfig):
		return "invalid_component_config"
	default:
		return "invalid_adjustment"
	}
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store HealthChecker
}

// HealthChecker reports whether a dependency can serve traffic.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler creates a new health handler. store may be nil.
func NewHealthHandler(store HealthChecker) *HealthHandler {
	return &HealthHandler{store: store}
}

// Liveness returns a simple liveness check.
//
//	@Summary		Liveness check
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	map[string]string	"status: ok"
//	@Router			/health [get]
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readiness checks that the store answers.
//
//	@Summary		Readiness check
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	map[string]string	"status: ok"
//	@Failure		503	{object}	map[string]string	"status: unhealthy"
//	@Router			/health/ready [get]
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
	Service string `json:"service" example:"usagebill"`
}

// VersionHandler returns the build version.
//
//	@Summary		Get service version
//	@Tags			System
//	@Produce		json
//	@Success		200	{object}	VersionResponse
//	@Router			/version [get]
func VersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(VersionResponse{Version: version, Service: "usagebill"})
	}
}
