package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/estimate"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/preflight"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/telemetry"
)

// Handlers owns the estimator dependencies every HTTP endpoint needs.
type Handlers struct {
	Tables       *reftables.Tables
	Estimator    *estimate.Estimator
	BaseParams   config.Params
	Metrics      *telemetry.Metrics
	RequestTimeout time.Duration
}

// NewHandlers builds a Handlers bound to a single, already-loaded Tables
// snapshot and a fixed set of impact categories.
func NewHandlers(tables *reftables.Tables, impactNames []string, baseParams config.Params, metrics *telemetry.Metrics) *Handlers {
	return &Handlers{
		Tables:         tables,
		Estimator:      estimate.New(tables, impactNames),
		BaseParams:     baseParams,
		Metrics:        metrics,
		RequestTimeout: 2 * time.Minute,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	if requestID == "" {
		requestID = "unknown"
	}
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// Estimate handles POST /estimate: runs the full preflight + Monte-Carlo
// pipeline for the submitted product and returns the per-impact-category
// result.
func (h *Handlers) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if req.ProductID == "" {
		h.writeError(w, r, http.StatusBadRequest, "missing_product_id", "product_id is required")
		return
	}
	if len(req.Ingredients) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "missing_ingredients", "ingredients must not be empty")
		return
	}

	params := req.Params.Apply(h.BaseParams)
	if err := params.Validate(); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.RequestTimeout)
	defer cancel()

	start := time.Now()
	product := req.ToProduct()

	out, err := preflight.Run(product, h.Tables, params)
	if err != nil {
		h.handlePipelineError(w, r, err, start)
		return
	}
	for _, warning := range out.Warnings {
		log.Warn().Str("product_id", req.ProductID).Str("code", warning.Code).Msg(warning.Message)
	}

	result, err := h.Estimator.Estimate(ctx, out, params, params.Seed)
	if err != nil {
		h.handlePipelineError(w, r, err, start)
		return
	}

	if h.Metrics != nil {
		h.Metrics.ObserveEstimate(firstCategoryTag(req.CategoriesTags), "ok", time.Since(start))
	}
	h.writeJSON(w, http.StatusOK, FromResult(result))
}

func (h *Handlers) handlePipelineError(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	if h.Metrics != nil {
		h.Metrics.ObserveEstimate("unknown", "error", time.Since(start))
	}
	var noKnown *preflight.NoKnownIngredientsError
	var noCharacterized *preflight.NoCharacterizedIngredientsError
	switch {
	case errors.As(err, &noKnown):
		h.writeError(w, r, http.StatusUnprocessableEntity, "no_known_ingredients", err.Error())
	case errors.As(err, &noCharacterized):
		h.writeError(w, r, http.StatusUnprocessableEntity, "no_characterized_ingredients", err.Error())
	default:
		log.Error().Err(err).Msg("estimate failed")
		h.writeError(w, r, http.StatusInternalServerError, "estimate_failed", "the estimate could not be completed")
	}
}

func firstCategoryTag(tags []string) string {
	if len(tags) == 0 {
		return "unknown"
	}
	return tags[0]
}

// NotFound handles unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}
