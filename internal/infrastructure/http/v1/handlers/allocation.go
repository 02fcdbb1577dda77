package handlers

import (
	"github.com/gin-gonic/gin"

	"stockpick/internal/domain/allocation"
	"stockpick/internal/infrastructure/http/v1/dto"
)

// AllocationHandler serves the picking workflow: allocation, picks,
// cancellations, order release and availability.
type AllocationHandler struct {
	*BaseHandler
	service *allocation.Service
}

// NewAllocationHandler creates an allocation handler.
func NewAllocationHandler(base *BaseHandler, service *allocation.Service) *AllocationHandler {
	return &AllocationHandler{BaseHandler: base, service: service}
}

// Allocate places an order's demands on storage locations.
// POST /api/v1/allocations
func (h *AllocationHandler) Allocate(c *gin.Context) {
	var req dto.AllocateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	results, err := h.service.Allocate(c.Request.Context(), req.OrderID, req.ToDemands())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromResults(req.OrderID, results))
}

// ListOrderReservations returns every reservation of an order.
// GET /api/v1/orders/:orderId/reservations
func (h *AllocationHandler) ListOrderReservations(c *gin.Context) {
	rs, err := h.service.ListOrderReservations(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewListResponse(dto.FromReservations(rs)))
}

// ReleaseOrder returns the order's picked stock to the fallback location.
// POST /api/v1/orders/:orderId/release
func (h *AllocationHandler) ReleaseOrder(c *gin.Context) {
	released, err := h.service.ReleaseOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewListResponse(dto.FromCommitments(released)))
}

// CompletePick confirms units physically picked.
// POST /api/v1/picks
func (h *AllocationHandler) CompletePick(c *gin.Context) {
	var req dto.PickRequest
	if !h.BindJSON(c, &req) {
		return
	}

	confirmation, err := req.ToConfirmation()
	if err != nil {
		h.Error(c, err)
		return
	}

	r, err := h.service.CompletePick(c.Request.Context(), confirmation)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromReservation(r))
}

// CancelReservation cancels one active reservation.
// POST /api/v1/reservations/:id/cancel
func (h *AllocationHandler) CancelReservation(c *gin.Context) {
	rid, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	r, err := h.service.CancelReservation(c.Request.Context(), rid)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromReservation(r))
}

// Availability reports per-location availability of a SKU.
// GET /api/v1/availability/:sku
func (h *AllocationHandler) Availability(c *gin.Context) {
	report, err := h.service.Availability(c.Request.Context(), c.Param("sku"))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}
