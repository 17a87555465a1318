// Package bidstate owns the bid lifecycle. Transitions are applied as
// compare-and-set on the current status so two actors racing on the same
// bid cannot both win.
package bidstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gigline/internal/domain"
)

var transitions = map[domain.BidStatus][]domain.BidStatus{
	domain.BidPending:   {domain.BidHired, domain.BidRejected, domain.BidCountered},
	domain.BidCountered: {domain.BidHired, domain.BidRejected, domain.BidPending},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to domain.BidStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate checks the edge and the payload the target variant must carry.
func Validate(from domain.BidStatus, next domain.BidState) error {
	if next == nil {
		return &domain.TransitionError{From: from}
	}
	if !CanTransition(from, next.Status()) {
		return &domain.TransitionError{From: from, To: next.Status()}
	}
	switch st := next.(type) {
	case domain.Countered:
		if st.Offer.Price <= 0 {
			return &domain.ValidationError{Field: "price", Message: "counter-offer price must be positive"}
		}
	case domain.Hired:
		if st.By == "" {
			return &domain.ValidationError{Field: "hired_by", Message: "hiring actor required"}
		}
	}
	return nil
}

type Store interface {
	TransitionBid(ctx context.Context, id string, from domain.BidStatus, next domain.BidState, adoptCounter bool, now string) (domain.Bid, bool, error)
	HireReserved(ctx context.Context, reservationID, id string, from domain.BidStatus, next domain.BidState, adoptCounter bool, now string) (domain.Bid, bool, error)
	RejectBids(ctx context.Context, gigID string, statuses []domain.BidStatus, rej domain.Rejected, now string) ([]domain.Bid, error)
	GetBid(ctx context.Context, id string) (domain.Bid, error)
}

type Machine struct {
	Store Store
	Now   func() time.Time
}

func (m Machine) stamp() string {
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	return now.UTC().Format(time.RFC3339)
}

// TryTransition moves the bid from the expected status to next. When the
// bid is no longer in from, the result is a ConflictError carrying the
// status that won. Leaving countered for hired or pending adopts the
// counter-offer price.
func (m Machine) TryTransition(ctx context.Context, bidID string, from domain.BidStatus, next domain.BidState) (domain.Bid, error) {
	return m.apply(ctx, bidID, from, next, func(adopt bool, now string) (domain.Bid, bool, error) {
		return m.Store.TransitionBid(ctx, bidID, from, next, adopt, now)
	})
}

// TryHire moves the bid to hired and consumes the reservation in the same
// write. If the reservation was released first, the bid is untouched and
// the error wraps ErrReservationReleased.
func (m Machine) TryHire(ctx context.Context, res domain.Reservation, from domain.BidStatus, hired domain.Hired) (domain.Bid, error) {
	return m.apply(ctx, res.BidID, from, hired, func(adopt bool, now string) (domain.Bid, bool, error) {
		return m.Store.HireReserved(ctx, res.ID, res.BidID, from, hired, adopt, now)
	})
}

func (m Machine) apply(ctx context.Context, bidID string, from domain.BidStatus, next domain.BidState, write func(adopt bool, now string) (domain.Bid, bool, error)) (domain.Bid, error) {
	if err := Validate(from, next); err != nil {
		return domain.Bid{}, err
	}
	adopt := from == domain.BidCountered && next.Status() != domain.BidRejected
	b, ok, err := write(adopt, m.stamp())
	if err != nil {
		return b, err
	}
	if ok {
		return b, nil
	}
	current, err := m.Store.GetBid(ctx, bidID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Bid{}, fmt.Errorf("bid %s: %w", bidID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Bid{}, err
	}
	return current, &domain.ConflictError{BidID: bidID, Current: current.Status(), Reason: "bid already processed"}
}

// RejectAll rejects every bid of the gig still in one of the given
// statuses. Bids that already left those statuses are skipped, so a
// repeated call only picks up what the previous one missed.
func (m Machine) RejectAll(ctx context.Context, gigID string, statuses []domain.BidStatus, rej domain.Rejected) ([]domain.Bid, error) {
	now := m.stamp()
	if rej.At == "" {
		rej.At = now
	}
	return m.Store.RejectBids(ctx, gigID, statuses, rej, now)
}
