package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/estimate"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/preflight"
)

// upgrader mirrors the teacher's websocket hubs: origin checking delegated
// to the same localhost allowlist the HTTP middleware chain applies.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || corsAllowed(origin)
	},
}

// ProgressFrame is one frame pushed over the estimate stream: either a
// progress update (after a completed Monte-Carlo run) or the final result.
type ProgressFrame struct {
	Type  string                 `json:"type"` // "progress" or "result" or "error"
	Run   int                    `json:"run,omitempty"`
	Means map[string]float64     `json:"means,omitempty"`
	Result *EstimateResponse     `json:"result,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// Stream handles GET /estimate/stream: the client sends one EstimateRequest
// JSON message over the upgraded connection, then receives one "progress"
// frame per completed Monte-Carlo run, followed by a terminal "result" or
// "error" frame. This is the network-facing analogue of internal/log's
// terminal RunProgress indicator.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var req EstimateRequest
	if err := conn.ReadJSON(&req); err != nil {
		conn.WriteJSON(ProgressFrame{Type: "error", Error: "invalid request: " + err.Error()})
		return
	}
	if req.ProductID == "" || len(req.Ingredients) == 0 {
		conn.WriteJSON(ProgressFrame{Type: "error", Error: "product_id and ingredients are required"})
		return
	}

	params := req.Params.Apply(h.BaseParams)
	if err := params.Validate(); err != nil {
		conn.WriteJSON(ProgressFrame{Type: "error", Error: err.Error()})
		return
	}

	ctx := r.Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}

	product := req.ToProduct()
	out, err := preflight.Run(product, h.Tables, params)
	if err != nil {
		conn.WriteJSON(ProgressFrame{Type: "error", Error: err.Error()})
		return
	}

	streaming := estimate.New(h.Tables, h.Estimator.ImpactNames)
	streaming.OnRun = func(run int, means map[string]float64) {
		conn.WriteJSON(ProgressFrame{Type: "progress", Run: run, Means: means})
	}

	result, err := streaming.Estimate(ctx, out, params, params.Seed)
	if err != nil {
		conn.WriteJSON(ProgressFrame{Type: "error", Error: err.Error()})
		return
	}

	resp := FromResult(result)
	conn.WriteJSON(ProgressFrame{Type: "result", Result: &resp})
}

func corsAllowed(origin string) bool {
	return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
}
