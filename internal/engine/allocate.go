package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/observability"
)

// HireResult is what a successful allocation committed.
type HireResult struct {
	Bid                domain.Bid
	Counters           domain.Counters
	RemainingPositions int
	// Filled is true when the gig ended up filled after this hire.
	Filled       bool
	RejectedBids []domain.Bid
	// SettleErr is set when the hire committed but updating the gig's
	// status or rejecting its pending bids failed. ReconcileCapacity
	// finishes the work.
	SettleErr error
}

func (r HireResult) RejectedBidders() []string {
	out := make([]string, 0, len(r.RejectedBids))
	for _, b := range r.RejectedBids {
		out = append(out, b.BidderID)
	}
	return out
}

// Hire allocates a position on the bid's gig to a pending bid. Only the
// gig owner and its admins may hire.
//
// The position is reserved first. If the bid then cannot move from
// pending to hired, the reservation is released before returning.
func (e Engine) Hire(ctx context.Context, bidID, actorID string) (res HireResult, err error) {
	started := time.Now()
	defer func() { e.Metrics.RecordAttempt(ctx, outcomeOf(err), time.Since(started)) }()

	bid, gig, err := e.loadBid(ctx, bidID)
	if err != nil {
		return HireResult{}, err
	}
	if err := e.Auth.Authorize(gig, &bid, actorID, auth.PermBidHire); err != nil {
		return HireResult{}, err
	}
	if rej, ok := bid.State.(domain.Rejected); ok && rej.Reason == domain.ReasonPositionsFilled {
		return HireResult{}, fmt.Errorf("gig %s: %w", gig.ID, domain.ErrCapacityExhausted)
	}
	if bid.Status() != domain.BidPending {
		return HireResult{}, &domain.ConflictError{BidID: bid.ID, Current: bid.Status(), Reason: "bid already processed"}
	}
	return e.allocate(ctx, gig, bid, domain.BidPending, actorID, actorID)
}

// AcceptCounter lets the bidder take the counter-offer on a countered bid.
// Under the hire policy the bid is hired at the countered price through the
// same reserve, transition, compensate sequence as Hire. Under the revert
// policy the bid goes back to pending at the countered price.
func (e Engine) AcceptCounter(ctx context.Context, bidID, actorID string) (res HireResult, err error) {
	bid, gig, err := e.loadBid(ctx, bidID)
	if err != nil {
		return HireResult{}, err
	}
	if err := e.Auth.Authorize(gig, &bid, actorID, auth.PermBidAcceptCounter); err != nil {
		return HireResult{}, err
	}
	offer, ok := bid.CounterOffer()
	if !ok {
		return HireResult{}, &domain.TransitionError{From: bid.Status(), To: domain.BidHired}
	}
	payload := events.EventPayload{"price": offer.Price}

	if e.Config.CounterAcceptPolicy() == config.CounterAcceptRevert {
		updated, err := e.Bids.TryTransition(ctx, bid.ID, domain.BidCountered, domain.Pending{})
		if err != nil {
			return HireResult{}, err
		}
		counters, err := e.Ledger.Counters(ctx, gig.ID)
		if err != nil {
			return HireResult{}, err
		}
		e.publish(ctx, bidEvent(events.BidCounterAccepted, gig, updated, actorID, payload))
		return HireResult{Bid: updated, Counters: counters, RemainingPositions: counters.Remaining()}, nil
	}

	started := time.Now()
	defer func() { e.Metrics.RecordAttempt(ctx, outcomeOf(err), time.Since(started)) }()
	hirer := offer.By
	if hirer == "" {
		hirer = gig.OwnerID
	}
	res, err = e.allocate(ctx, gig, bid, domain.BidCountered, hirer, actorID)
	if err != nil {
		return res, err
	}
	e.publish(ctx, bidEvent(events.BidCounterAccepted, gig, res.Bid, actorID, payload))
	return res, nil
}

func (e Engine) allocate(ctx context.Context, gig domain.Gig, bid domain.Bid, from domain.BidStatus, hirer, actorID string) (HireResult, error) {
	log := e.logger().With("gig_id", gig.ID, "bid_id", bid.ID, "actor_id", actorID)

	rsv, reserved, err := e.Ledger.TryReserve(ctx, gig.ID, bid.ID)
	if err != nil {
		return HireResult{}, err
	}

	// From here the reservation is ours; cancellation must not strand it.
	ctx = context.WithoutCancel(ctx)
	hired, err := e.Bids.TryHire(ctx, rsv, from, domain.Hired{By: hirer, At: e.stamp()})
	if errors.Is(err, domain.ErrReservationReleased) {
		log.Warn("reservation was reclaimed before the hire committed", "reservation_id", rsv.ID)
		return HireResult{}, &domain.ConflictError{BidID: bid.ID, Reason: "reservation released before hire"}
	}
	if err != nil {
		restored, relErr := e.Ledger.Release(ctx, rsv)
		if errors.Is(relErr, domain.ErrReservationReleased) {
			log.Info("hire lost race; reservation already reclaimed", "reservation_id", rsv.ID, "error", err)
			return HireResult{}, err
		}
		if relErr != nil {
			e.Metrics.RecordInvariantViolation(ctx, "release")
			log.Error("compensating release failed; capacity counters need operator attention",
				"alert", true, "reservation_id", rsv.ID, "cause", err, "error", relErr)
			return HireResult{}, relErr
		}
		e.Metrics.RecordRollback(ctx)
		log.Info("hire lost race; reservation released",
			"positions_filled", restored.PositionsFilled, "positions_available", restored.PositionsAvailable, "error", err)
		return HireResult{}, err
	}

	counters, cascaded, settleErr := e.settle(ctx, gig.ID)
	if settleErr != nil {
		log.Error("settling gig after hire failed; gig reconcile will finish it", "error", settleErr)
		if counters.PositionsAvailable == 0 {
			counters = reserved
		}
	}
	res := HireResult{
		Bid:                hired,
		Counters:           counters,
		RemainingPositions: counters.Remaining(),
		Filled:             counters.Status == domain.GigFilled,
		RejectedBids:       cascaded,
		SettleErr:          settleErr,
	}

	evts := []events.Event{
		bidEvent(events.BidHired, gig, hired, actorID, events.EventPayload{
			"hirer_id":         hirer,
			"price":            hired.Price,
			"rejected_bidders": res.RejectedBidders(),
		}),
		counterEvent(gig, counters, actorID),
	}
	for _, b := range cascaded {
		evts = append(evts, bidEvent(events.BidRejected, gig, b, actorID, events.EventPayload{"reason": domain.ReasonPositionsFilled}))
	}
	e.publish(ctx, evts...)
	return res, nil
}

// settle moves the gig to assigned or filled to match its hires and, once
// it is filled, rejects the bids still pending. Every step is idempotent,
// so a settle that stopped part way is completed by the next one.
func (e Engine) settle(ctx context.Context, gigID string) (domain.Counters, []domain.Bid, error) {
	if _, err := e.Ledger.MarkFullIfExhausted(ctx, gigID); err != nil {
		return domain.Counters{}, nil, err
	}
	c, err := e.Ledger.Counters(ctx, gigID)
	if err != nil || c.Status != domain.GigFilled {
		return c, nil, err
	}
	cascaded, err := e.ResolveFullCapacity(ctx, gigID)
	return c, cascaded, err
}

// ResolveFullCapacity rejects every bid still pending on the gig. Countered
// bids stay as they are. Repeating the call changes nothing.
func (e Engine) ResolveFullCapacity(ctx context.Context, gigID string) ([]domain.Bid, error) {
	rejected, err := e.Bids.RejectAll(ctx, gigID, []domain.BidStatus{domain.BidPending},
		domain.Rejected{Reason: domain.ReasonPositionsFilled, At: e.stamp()})
	if err != nil {
		return nil, err
	}
	e.Metrics.RecordCascade(ctx, len(rejected))
	return rejected, nil
}

func outcomeOf(err error) string {
	var forbidden auth.ForbiddenError
	switch {
	case err == nil:
		return observability.OutcomeHired
	case errors.As(err, &forbidden):
		return observability.OutcomeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return observability.OutcomeNotFound
	case errors.Is(err, domain.ErrCapacityExhausted):
		return observability.OutcomeExhausted
	case errors.Is(err, domain.ErrConflict):
		return observability.OutcomeConflict
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrGigClosed):
		return observability.OutcomeInvalid
	}
	return observability.OutcomeError
}
