package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// BidSubmitOptions are parameters for submitting a bid.
type BidSubmitOptions struct {
	GigID    string `json:"gig_id" validate:"required"`
	BidderID string `json:"bidder_id" validate:"required"`
	Message  string `json:"message" validate:"required,max=2000"`
	Price    int64  `json:"price" validate:"gt=0"`
}

// SubmitBid places a pending bid. The one-active-bid rule is enforced by
// the store, so concurrent submissions by one bidder cannot both land.
func (e Engine) SubmitBid(ctx context.Context, opts BidSubmitOptions) (domain.Bid, error) {
	opts.Message = strings.TrimSpace(opts.Message)
	if err := validateStruct(opts); err != nil {
		return domain.Bid{}, err
	}
	gig, err := e.Repo.GetGig(ctx, opts.GigID)
	if err != nil {
		return domain.Bid{}, err
	}
	if gig.OwnerID == opts.BidderID {
		return domain.Bid{}, domain.ErrSelfBid
	}
	if !gig.Status.AcceptsHires() {
		return domain.Bid{}, fmt.Errorf("gig %s is %s: %w", gig.ID, gig.Status, domain.ErrGigClosed)
	}
	if gig.Counters().IsFull() {
		return domain.Bid{}, fmt.Errorf("gig %s: %w", gig.ID, domain.ErrCapacityExhausted)
	}
	now := e.stamp()
	bid := domain.Bid{
		ID:        uuid.NewString(),
		GigID:     gig.ID,
		BidderID:  opts.BidderID,
		Message:   opts.Message,
		Price:     opts.Price,
		State:     domain.Pending{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertBid(ctx, bid); err != nil {
		return domain.Bid{}, err
	}
	// A cascade that ran between the status check and the insert missed
	// this bid; settle it the same way.
	if c, err := e.Ledger.Counters(ctx, gig.ID); err == nil && !c.Status.AcceptsHires() {
		return domain.Bid{}, e.settleLateBid(ctx, gig, bid, c)
	}
	e.publish(ctx, bidEvent(events.BidSubmitted, gig, bid, opts.BidderID, events.EventPayload{"price": bid.Price}))
	return bid, nil
}

func (e Engine) settleLateBid(ctx context.Context, gig domain.Gig, bid domain.Bid, c domain.Counters) error {
	reason, cause := domain.ReasonPositionsFilled, domain.ErrCapacityExhausted
	if c.Status == domain.GigCompleted {
		reason, cause = domain.ReasonGigCompleted, domain.ErrGigClosed
	}
	if _, err := e.Bids.TryTransition(ctx, bid.ID, domain.BidPending, domain.Rejected{Reason: reason, At: e.stamp()}); err != nil {
		e.logger().Warn("settling late bid failed", "gig_id", gig.ID, "bid_id", bid.ID, "error", err)
	}
	return fmt.Errorf("gig %s is %s: %w", gig.ID, c.Status, cause)
}

// GetBid returns a bid to its bidder or to the gig's owner and admins.
func (e Engine) GetBid(ctx context.Context, bidID, actorID string) (domain.Bid, error) {
	bid, gig, err := e.loadBid(ctx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if bid.BidderID == actorID {
		return bid, nil
	}
	if err := e.Auth.Authorize(gig, &bid, actorID, auth.PermBidList); err != nil {
		return domain.Bid{}, err
	}
	return bid, nil
}

// RejectBid rejects a pending or countered bid.
func (e Engine) RejectBid(ctx context.Context, bidID, actorID, reason string) (domain.Bid, error) {
	bid, gig, err := e.loadBid(ctx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if err := e.Auth.Authorize(gig, &bid, actorID, auth.PermBidReject); err != nil {
		return domain.Bid{}, err
	}
	if bid.Status().Terminal() {
		return bid, &domain.TransitionError{From: bid.Status(), To: domain.BidRejected}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "rejected by gig owner"
	}
	updated, err := e.Bids.TryTransition(ctx, bid.ID, bid.Status(), domain.Rejected{Reason: reason, By: actorID, At: e.stamp()})
	if err != nil {
		return domain.Bid{}, err
	}
	e.publish(ctx, bidEvent(events.BidRejected, gig, updated, actorID, events.EventPayload{"reason": reason}))
	return updated, nil
}

// CounterOfferOptions are parameters for countering a bid.
type CounterOfferOptions struct {
	BidID   string `json:"bid_id" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
	Price   int64  `json:"price" validate:"gt=0"`
	Message string `json:"message" validate:"max=2000"`
}

func (e Engine) CounterOffer(ctx context.Context, opts CounterOfferOptions) (domain.Bid, error) {
	if err := validateStruct(opts); err != nil {
		return domain.Bid{}, err
	}
	bid, gig, err := e.loadBid(ctx, opts.BidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if err := e.Auth.Authorize(gig, &bid, opts.ActorID, auth.PermBidCounter); err != nil {
		return domain.Bid{}, err
	}
	if bid.Status() != domain.BidPending {
		return bid, &domain.TransitionError{From: bid.Status(), To: domain.BidCountered}
	}
	offer := domain.CounterOffer{
		Price:     opts.Price,
		Message:   strings.TrimSpace(opts.Message),
		By:        opts.ActorID,
		CreatedAt: e.stamp(),
	}
	updated, err := e.Bids.TryTransition(ctx, bid.ID, domain.BidPending, domain.Countered{Offer: offer})
	if err != nil {
		return domain.Bid{}, err
	}
	e.publish(ctx, bidEvent(events.BidCountered, gig, updated, opts.ActorID, events.EventPayload{
		"price":   offer.Price,
		"message": offer.Message,
	}))
	return updated, nil
}

// ListBidsForGig returns a gig's bids, newest first, to its owner and admins.
func (e Engine) ListBidsForGig(ctx context.Context, gigID, actorID string) ([]domain.Bid, error) {
	gig, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return nil, err
	}
	if err := e.Auth.Authorize(gig, nil, actorID, auth.PermBidList); err != nil {
		return nil, err
	}
	return e.Repo.ListBids(ctx, repo.BidFilters{GigID: gigID})
}

func (e Engine) ListBidsByBidder(ctx context.Context, bidderID string) ([]domain.Bid, error) {
	if bidderID == "" {
		return nil, auth.ForbiddenError{Permission: auth.PermBidList}
	}
	return e.Repo.ListBids(ctx, repo.BidFilters{BidderID: bidderID})
}
