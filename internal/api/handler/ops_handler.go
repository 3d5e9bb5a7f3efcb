package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/consumer"
)

// OpsHandler exposes the consumer's runtime state: worker pool depths, the
// overload verdict, and the queue-limit override used for load shedding
// during incidents.
type OpsHandler struct {
	c      *consumer.Consumer
	logger *zap.Logger
}

func NewOpsHandler(c *consumer.Consumer, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{c: c, logger: logger}
}

// GetPools handles GET /api/v1/pools
func (h *OpsHandler) GetPools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"pending_deliveries": h.c.PendingDeliveries(),
		"pending_retries":    h.c.PendingRetries(),
		"overloaded":         h.c.IsOverloaded(),
	})
}

type limitOverrideRequest struct {
	Limit int `json:"limit"`
}

// SetLimitOverride handles PUT /api/v1/limits
func (h *OpsHandler) SetLimitOverride(w http.ResponseWriter, r *http.Request) {
	var req limitOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Limit <= 0 {
		respondError(w, http.StatusUnprocessableEntity, "limit must be positive")
		return
	}
	h.c.SetQueueLimitOverride(req.Limit)
	h.logger.Warn("queue limit override set", zap.Int("limit", req.Limit))
	respondJSON(w, http.StatusOK, map[string]int{"limit": req.Limit})
}

// ClearLimitOverride handles DELETE /api/v1/limits
func (h *OpsHandler) ClearLimitOverride(w http.ResponseWriter, r *http.Request) {
	h.c.ClearQueueLimitOverride()
	h.logger.Info("queue limit override cleared")
	w.WriteHeader(http.StatusNoContent)
}
