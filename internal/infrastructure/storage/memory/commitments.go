package memory

import (
	"bytes"
	"context"
	"slices"
	"time"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/allocation"
)

var _ allocation.CommitmentStore = (*Commitments)(nil)

// Commitments is the outgoing commitment view of Store.
type Commitments struct {
	s *Store
}

func (c *Commitments) AddCommitment(ctx context.Context, cm *allocation.Commitment) error {
	defer c.s.lock(ctx)()
	c.s.st.commitments[cm.ID] = cloneCommitment(cm)
	return nil
}

func (c *Commitments) OpenCommitments(ctx context.Context, orderID string) ([]*allocation.Commitment, error) {
	defer c.s.lock(ctx)()

	var out []*allocation.Commitment
	for _, cm := range c.s.st.commitments {
		if cm.OrderID == orderID && cm.ReleasedAt == nil {
			out = append(out, cloneCommitment(cm))
		}
	}
	slices.SortFunc(out, func(a, b *allocation.Commitment) int {
		if d := a.CreatedAt.Compare(b.CreatedAt); d != 0 {
			return d
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (c *Commitments) MarkReleased(ctx context.Context, commitmentID id.ID, to string, at time.Time) error {
	defer c.s.lock(ctx)()

	cm, ok := c.s.st.commitments[commitmentID]
	if !ok {
		return apperror.NewNotFound("commitment", commitmentID)
	}
	if cm.ReleasedAt != nil {
		return apperror.NewInvalidState("commitment", commitmentID, "released", "released")
	}
	cm.ReleasedAt = &at
	cm.ReleasedTo = &to
	return nil
}
