package dto

import (
	"time"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/reservation"
)

// DemandRequest is one order line.
type DemandRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity"`
}

// AllocateRequest asks the engine to place an order's demands.
type AllocateRequest struct {
	OrderID string          `json:"orderId" binding:"required"`
	Demands []DemandRequest `json:"demands" binding:"required"`
}

// ToDemands converts the request lines.
func (r AllocateRequest) ToDemands() []allocation.Demand {
	out := make([]allocation.Demand, len(r.Demands))
	for i, d := range r.Demands {
		out[i] = allocation.Demand{SKU: d.SKU, Quantity: d.Quantity}
	}
	return out
}

// AllocationResponse is one slice of a demand.
type AllocationResponse struct {
	Location      string `json:"location"`
	Quantity      int    `json:"quantity"`
	ReservationID string `json:"reservationId"`
}

// DemandResultResponse is the outcome of one demand.
type DemandResultResponse struct {
	SKU             string               `json:"sku"`
	RequestedQty    int                  `json:"requestedQty"`
	AllocatedQty    int                  `json:"allocatedQty"`
	RemainingQty    int                  `json:"remainingQty"`
	FullyAllocated  bool                 `json:"fullyAllocated"`
	AlreadyReserved bool                 `json:"alreadyReserved"`
	Outcome         string               `json:"outcome"`
	Allocations     []AllocationResponse `json:"allocations"`
}

// AllocateResponse answers AllocateRequest.
type AllocateResponse struct {
	OrderID        string                 `json:"orderId"`
	FullyAllocated bool                   `json:"fullyAllocated"`
	Results        []DemandResultResponse `json:"results"`
}

// FromResults maps allocator output.
func FromResults(orderID string, results []allocation.Result) AllocateResponse {
	resp := AllocateResponse{
		OrderID:        orderID,
		FullyAllocated: true,
		Results:        make([]DemandResultResponse, 0, len(results)),
	}
	for _, r := range results {
		allocs := make([]AllocationResponse, 0, len(r.Allocations))
		for _, a := range r.Allocations {
			allocs = append(allocs, AllocationResponse{
				Location:      a.Location,
				Quantity:      a.Quantity,
				ReservationID: a.ReservationID.String(),
			})
		}
		resp.Results = append(resp.Results, DemandResultResponse{
			SKU:             r.SKU,
			RequestedQty:    r.RequestedQty,
			AllocatedQty:    r.AllocatedQty,
			RemainingQty:    r.RemainingQty,
			FullyAllocated:  r.FullyAllocated,
			AlreadyReserved: r.AlreadyReserved,
			Outcome:         string(r.Outcome()),
			Allocations:     allocs,
		})
		if !r.FullyAllocated {
			resp.FullyAllocated = false
		}
	}
	return resp
}

// ReservationResponse is the public view of a reservation.
type ReservationResponse struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"orderId"`
	SKU            string    `json:"sku"`
	Location       string    `json:"location"`
	Quantity       int       `json:"quantity"`
	PickedQuantity int       `json:"pickedQuantity"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FromReservation maps a domain reservation.
func FromReservation(r *reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:             r.ID.String(),
		OrderID:        r.OrderID,
		SKU:            r.SKU,
		Location:       r.Location,
		Quantity:       r.Quantity,
		PickedQuantity: r.PickedQuantity,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// FromReservations maps a list of reservations.
func FromReservations(rs []*reservation.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromReservation(r))
	}
	return out
}

// PickRequest confirms a pick. Either ReservationID or the
// (OrderID, SKU, Location) triple must be set.
type PickRequest struct {
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
	SKU           string `json:"sku"`
	Location      string `json:"location"`
	Quantity      int    `json:"quantity"`
}

// ToConfirmation validates the identification and converts the request.
func (r PickRequest) ToConfirmation() (allocation.PickConfirmation, error) {
	p := allocation.PickConfirmation{
		OrderID:  r.OrderID,
		SKU:      r.SKU,
		Location: r.Location,
		Quantity: r.Quantity,
	}
	if r.ReservationID != "" {
		rid, err := id.Parse(r.ReservationID)
		if err != nil {
			return p, apperror.NewInvalidInput("invalid reservationId").
				WithDetail("reservationId", r.ReservationID)
		}
		p.ReservationID = &rid
		return p, nil
	}
	if r.OrderID == "" || r.SKU == "" || r.Location == "" {
		return p, apperror.NewInvalidInput("reservationId or orderId, sku and location are required")
	}
	return p, nil
}

// CommitmentResponse is stock restored by an order release.
type CommitmentResponse struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"orderId"`
	SKU        string     `json:"sku"`
	Location   string     `json:"location"`
	Quantity   int        `json:"quantity"`
	ReleasedTo string     `json:"releasedTo,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
}

// FromCommitments maps released commitments.
func FromCommitments(cs []*allocation.Commitment) []CommitmentResponse {
	out := make([]CommitmentResponse, 0, len(cs))
	for _, c := range cs {
		resp := CommitmentResponse{
			ID:         c.ID.String(),
			OrderID:    c.OrderID,
			SKU:        c.SKU,
			Location:   c.Location,
			Quantity:   c.Quantity,
			ReleasedAt: c.ReleasedAt,
		}
		if c.ReleasedTo != nil {
			resp.ReleasedTo = *c.ReleasedTo
		}
		out = append(out, resp)
	}
	return out
}

// SweepRequest optionally overrides the sweep instant.
type SweepRequest struct {
	Now *time.Time `json:"now"`
}
