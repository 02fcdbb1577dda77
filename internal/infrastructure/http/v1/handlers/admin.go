package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"stockpick/internal/core/apperror"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/reservation"
	"stockpick/internal/infrastructure/http/v1/dto"
)

// AdminHandler exposes supervisor maintenance operations.
type AdminHandler struct {
	*BaseHandler
	sweeper *allocation.Sweeper
	history reservation.HistoryReader
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// NewAdminHandler creates an admin handler. history may be nil.
func NewAdminHandler(base *BaseHandler, sweeper *allocation.Sweeper, history reservation.HistoryReader) *AdminHandler {
	return &AdminHandler{BaseHandler: base, sweeper: sweeper, history: history}
}

// HasHistory reports whether an audit trail is available.
func (h *AdminHandler) HasHistory() bool {
	return h.history != nil
}

// CancelAll cancels every active reservation.
// POST /api/v1/admin/reservations/cancel-all
func (h *AdminHandler) CancelAll(c *gin.Context) {
	n, err := h.sweeper.EmergencyResetAll(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.CountResponse{Count: n})
}

// Sweep expires reservations due at the given instant (default now).
// POST /api/v1/admin/reservations/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	var req dto.SweepRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	now := h.sweeper.Now()
	if req.Now != nil {
		now = req.Now.UTC()
	}

	n, err := h.sweeper.Sweep(c.Request.Context(), now)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.CountResponse{Count: n})
}

// History returns the audited transitions of one reservation.
// GET /api/v1/admin/reservations/:id/history?limit=N
func (h *AdminHandler) History(c *gin.Context) {
	reservationID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			h.Error(c, apperror.NewInvalidInput("limit must be between 1 and 500").WithDetail("limit", raw))
			return
		}
		limit = n
	}

	entries, err := h.history.History(c.Request.Context(), reservationID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewListResponse(entries))
}
