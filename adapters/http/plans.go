package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/pkg/jsonapi"
	"github.com/artpar/usagebill/ports"
)

// PlanReader loads plan versions.
type PlanReader interface {
	Load(ctx context.Context, id string) (plan.Version, error)
}

// AdjustmentSetter replaces a plan version's price adjustment.
type AdjustmentSetter interface {
	SetAdjustment(ctx context.Context, versionID string, adj billing.PriceAdjustment) error
}

// PlanHandler serves plan version endpoints scoped to the caller's organization.
type PlanHandler struct {
	plans  PlanReader
	admin  AdjustmentSetter
	logger zerolog.Logger
}

// NewPlanHandler creates a plan handler.
func NewPlanHandler(plans PlanReader, admin AdjustmentSetter, logger zerolog.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, admin: admin, logger: logger}
}

// SetAdjustmentRequest replaces a plan version's adjustment. Amount accepts a
// JSON number or a decimal string and is required unless Type is NONE.
type SetAdjustmentRequest struct {
	Type        string              `json:"type" example:"PERCENTAGE"`
	Amount      decimal.NullDecimal `json:"amount" swaggertype:"string" example:"-1"`
	Name        string              `json:"name,omitempty"`
	Description string              `json:"description,omitempty"`
}

// Get returns a plan version with its components.
//
//	@Summary		Get plan version
//	@Tags			Plans
//	@Produce		json
//	@Param			id	path		string	true	"Plan version ID"
//	@Success		200	{object}	jsonapi.Document
//	@Failure		404	{object}	jsonapi.Document
//	@Security		ApiKeyAuth
//	@Router			/api/v1/plan_versions/{id} [get]
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.ownedVersion(w, r)
	if !ok {
		return
	}
	jsonapi.WriteResource(w, http.StatusOK, planVersionResource(v))
}

// SetAdjustment replaces the price adjustment of a plan version.
//
//	@Summary		Set price adjustment
//	@Description	Replaces any previous adjustment. Type is one of NONE, PERCENTAGE, FIXED, PRICE_OVERRIDE
//	@Tags			Plans
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Plan version ID"
//	@Param			request	body		SetAdjustmentRequest	true	"Adjustment"
//	@Success		200		{object}	jsonapi.Document
//	@Failure		400		{object}	jsonapi.Document
//	@Failure		404		{object}	jsonapi.Document
//	@Failure		422		{object}	jsonapi.Document
//	@Security		ApiKeyAuth
//	@Router			/api/v1/plan_versions/{id}/adjustment [put]
func (h *PlanHandler) SetAdjustment(w http.ResponseWriter, r *http.Request) {
	v, ok := h.ownedVersion(w, r)
	if !ok {
		return
	}

	var req SetAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteError(w, jsonapi.ErrBadRequest("Invalid JSON body"))
		return
	}

	t, err := billing.ParseAdjustmentType(req.Type)
	if err != nil {
		jsonapi.WriteError(w, jsonapi.ErrUnprocessable("invalid_adjustment", err.Error()))
		return
	}
	if t != billing.AdjustmentNone && !req.Amount.Valid {
		jsonapi.WriteError(w, jsonapi.ErrUnprocessable("invalid_adjustment", "amount is required for "+string(t)))
		return
	}
	adj := billing.PriceAdjustment{Type: t, Amount: req.Amount.Decimal, Name: req.Name, Description: req.Description}

	if err := h.admin.SetAdjustment(r.Context(), v.ID, adj); err != nil {
		h.writeError(w, err)
		return
	}

	v.Adjustment = adj
	jsonapi.WriteResource(w, http.StatusOK, planVersionResource(v))
}

// ownedVersion loads the {id} plan version and hides versions of other
// organizations behind a 404.
func (h *PlanHandler) ownedVersion(w http.ResponseWriter, r *http.Request) (plan.Version, bool) {
	k, ok := KeyFromContext(r.Context())
	if !ok {
		jsonapi.WriteError(w, jsonapi.ErrUnauthorized("missing_api_key", ""))
		return plan.Version{}, false
	}

	id := chi.URLParam(r, "id")
	v, err := h.plans.Load(r.Context(), id)
	if err == nil && v.OrganizationID != k.OrganizationID {
		err = ports.ErrNotFound
	}
	if err != nil {
		h.writeError(w, err)
		return plan.Version{}, false
	}
	return v, true
}

func (h *PlanHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		jsonapi.WriteError(w, jsonapi.ErrNotFound("not_found", "Plan version not found"))
	case errors.Is(err, billing.ErrInvalidAdjustment):
		jsonapi.WriteError(w, jsonapi.ErrUnprocessable("invalid_adjustment", err.Error()))
	case errors.Is(err, ports.ErrStoreUnavailable):
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("billing store unavailable"))
	default:
		h.logger.Error().Err(err).Msg("plan request failed")
		jsonapi.WriteError(w, jsonapi.ErrInternal(""))
	}
}

// ComponentConfigResponse is a plan component's pricing schedule.
type ComponentConfigResponse struct {
	ID            string `json:"id"`
	MetricID      string `json:"metric_id"`
	Aggregation   string `json:"aggregation"`
	FreeUnits     string `json:"free_units"`
	CostPerBatch  string `json:"cost_per_batch"`
	UnitsPerBatch string `json:"units_per_batch"`
}

func planVersionResource(v plan.Version) jsonapi.Resource {
	components := make([]ComponentConfigResponse, 0, len(v.Components))
	for _, c := range plan.SortedComponents(v.Components) {
		components = append(components, ComponentConfigResponse{
			ID:            c.ID,
			MetricID:      c.Metric.ID,
			Aggregation:   string(c.Metric.Aggregation),
			FreeUnits:     c.FreeUnits.String(),
			CostPerBatch:  c.CostPerBatch.String(),
			UnitsPerBatch: c.UnitsPerBatch.String(),
		})
	}

	b := jsonapi.NewResource("plan_versions", v.ID).
		Attr("plan_name", v.PlanName).
		Attr("version", v.Version).
		Attr("components", components)
	if !v.Adjustment.IsNone() {
		b.Attr("adjustment", adjustmentResponse(v.Adjustment))
	}
	return b.Build()
}
