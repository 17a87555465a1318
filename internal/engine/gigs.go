package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// GigCreateOptions are parameters for creating a gig.
type GigCreateOptions struct {
	Title              string   `json:"title" validate:"required,max=200"`
	Description        string   `json:"description" validate:"max=5000"`
	Budget             int64    `json:"budget" validate:"gte=0"`
	Skills             []string `json:"skills" validate:"omitempty,max=50,dive,required,max=64"`
	PositionsAvailable int      `json:"positions_available" validate:"gte=1"`
	OwnerID            string   `json:"owner_id" validate:"required"`
}

func (e Engine) CreateGig(ctx context.Context, opts GigCreateOptions) (domain.Gig, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.PositionsAvailable == 0 {
		opts.PositionsAvailable = 1
	}
	if err := validateStruct(opts); err != nil {
		return domain.Gig{}, err
	}
	if e.Config != nil && e.Config.Policies.MaxPositions > 0 && opts.PositionsAvailable > e.Config.Policies.MaxPositions {
		return domain.Gig{}, &domain.ValidationError{
			Field:   "positions_available",
			Message: fmt.Sprintf("must be at most %d", e.Config.Policies.MaxPositions),
		}
	}
	now := e.stamp()
	g := domain.Gig{
		ID:                 uuid.NewString(),
		Title:              opts.Title,
		Description:        strings.TrimSpace(opts.Description),
		Budget:             opts.Budget,
		Skills:             opts.Skills,
		OwnerID:            opts.OwnerID,
		Status:             domain.GigOpen,
		PositionsAvailable: opts.PositionsAvailable,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertGig(ctx, g); err != nil {
		return domain.Gig{}, fmt.Errorf("insert gig: %w", err)
	}
	c := g.Counters()
	e.publish(ctx, events.Event{
		Type:     events.GigCreated,
		GigID:    g.ID,
		OwnerID:  g.OwnerID,
		ActorID:  g.OwnerID,
		Counters: &c,
		Payload:  events.EventPayload{"title": g.Title},
	})
	return g, nil
}

func (e Engine) GetGig(ctx context.Context, gigID string) (domain.Gig, error) {
	return e.Repo.GetGig(ctx, gigID)
}

// ListOpenGigs returns gigs still taking bids, newest first.
func (e Engine) ListOpenGigs(ctx context.Context, search string, limit int) ([]domain.Gig, error) {
	return e.Repo.ListGigs(ctx, repo.GigFilters{
		Statuses: []domain.GigStatus{domain.GigOpen, domain.GigAssigned},
		Search:   search,
		Limit:    limit,
	})
}

func (e Engine) ListGigs(ctx context.Context, f repo.GigFilters) ([]domain.Gig, error) {
	return e.Repo.ListGigs(ctx, f)
}

func (e Engine) AssignAdmin(ctx context.Context, gigID, actorID, adminID string) (domain.Gig, error) {
	gig, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return domain.Gig{}, err
	}
	if err := e.Auth.Authorize(gig, nil, actorID, auth.PermGigAdmins); err != nil {
		return domain.Gig{}, err
	}
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return domain.Gig{}, &domain.ValidationError{Field: "admin_id", Message: "is required"}
	}
	if adminID == gig.OwnerID {
		return domain.Gig{}, &domain.ValidationError{Field: "admin_id", Message: "owner is already in charge of the gig"}
	}
	added, err := e.Repo.AddAdmin(ctx, gigID, adminID, e.stamp())
	if err != nil {
		return domain.Gig{}, err
	}
	gig, err = e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return domain.Gig{}, err
	}
	if added {
		e.publish(ctx, events.Event{
			Type: events.GigAdminAssigned, GigID: gigID, OwnerID: gig.OwnerID, ActorID: actorID,
			Payload: events.EventPayload{"admin_id": adminID},
		})
	}
	return gig, nil
}

func (e Engine) RemoveAdmin(ctx context.Context, gigID, actorID, adminID string) (domain.Gig, error) {
	gig, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return domain.Gig{}, err
	}
	if err := e.Auth.Authorize(gig, nil, actorID, auth.PermGigAdmins); err != nil {
		return domain.Gig{}, err
	}
	removed, err := e.Repo.RemoveAdmin(ctx, gigID, adminID)
	if err != nil {
		return domain.Gig{}, err
	}
	if !removed {
		return domain.Gig{}, fmt.Errorf("admin %s on gig %s: %w", adminID, gigID, domain.ErrNotFound)
	}
	gig, err = e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return domain.Gig{}, err
	}
	e.publish(ctx, events.Event{
		Type: events.GigAdminRemoved, GigID: gigID, OwnerID: gig.OwnerID, ActorID: actorID,
		Payload: events.EventPayload{"admin_id": adminID},
	})
	return gig, nil
}

// CompleteGig closes a gig that has hires. Bids still pending or countered
// are rejected.
func (e Engine) CompleteGig(ctx context.Context, gigID, actorID string) (domain.Gig, []domain.Bid, error) {
	gig, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return domain.Gig{}, nil, err
	}
	if err := e.Auth.Authorize(gig, nil, actorID, auth.PermGigComplete); err != nil {
		return domain.Gig{}, nil, err
	}
	now := e.stamp()
	ok, err := e.Repo.CompleteGig(ctx, gigID, now)
	if err != nil {
		return domain.Gig{}, nil, err
	}
	if !ok {
		current, err := e.Repo.GetGig(ctx, gigID)
		if err != nil {
			return domain.Gig{}, nil, err
		}
		if current.Status == domain.GigCompleted {
			return current, nil, fmt.Errorf("gig %s already completed: %w", gigID, domain.ErrGigClosed)
		}
		return current, nil, fmt.Errorf("gig %s is %s with no hires: %w", gigID, current.Status, domain.ErrInvalidTransition)
	}
	rejected, err := e.Bids.RejectAll(ctx, gigID, []domain.BidStatus{domain.BidPending, domain.BidCountered},
		domain.Rejected{Reason: domain.ReasonGigCompleted, By: actorID, At: now})
	if err != nil {
		e.logger().Error("rejecting open bids of completed gig failed; gig reconcile will finish it",
			"gig_id", gigID, "actor_id", actorID, "error", err)
	}
	gig, err = e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return domain.Gig{}, nil, err
	}
	c := gig.Counters()
	evts := []events.Event{{
		Type: events.GigCompleted, GigID: gigID, OwnerID: gig.OwnerID, ActorID: actorID, Counters: &c,
	}}
	for _, b := range rejected {
		evts = append(evts, bidEvent(events.BidRejected, gig, b, actorID, events.EventPayload{"reason": domain.ReasonGigCompleted}))
	}
	e.publish(ctx, evts...)
	return gig, rejected, nil
}

// DeleteGig removes a gig and its bids. A gig with hired bids is only
// deleted when confirm is set.
func (e Engine) DeleteGig(ctx context.Context, gigID, actorID string, confirm bool) error {
	gig, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return err
	}
	if err := e.Auth.Authorize(gig, nil, actorID, auth.PermGigDelete); err != nil {
		return err
	}
	hired, err := e.Repo.CountHiredBids(ctx, gigID)
	if err != nil {
		return err
	}
	if hired > 0 && !confirm {
		return fmt.Errorf("gig %s has %d hired bids: %w", gigID, hired, domain.ErrConfirmationRequired)
	}
	if err := e.Repo.DeleteGig(ctx, gigID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("gig %s: %w", gigID, err)
		}
		return err
	}
	e.publish(ctx, events.Event{
		Type: events.GigDeleted, GigID: gigID, OwnerID: gig.OwnerID, ActorID: actorID,
		Payload: events.EventPayload{"hired_bids": hired},
	})
	return nil
}

// ReconcileResult reports what ReconcileCapacity changed.
type ReconcileResult struct {
	Counters domain.Counters
	Released []domain.Reservation
	Rejected []domain.Bid
	// Drift is positions filled that neither a hired bid nor a live
	// reservation accounts for.
	Drift int
}

// ReconcileCapacity releases reservations older than the configured grace
// period, which only a hire that died between reserving and transitioning
// leaves behind. Younger reservations belong to hires in flight and are
// kept. It then finishes settling the gig: status, the cascade of a filled
// gig and the sweep of a completed one.
func (e Engine) ReconcileCapacity(ctx context.Context, gigID, actorID string) (ReconcileResult, error) {
	gig, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if err := e.Auth.Authorize(gig, nil, actorID, auth.PermGigComplete); err != nil {
		return ReconcileResult{}, err
	}
	log := e.logger().With("gig_id", gigID, "actor_id", actorID)

	var out ReconcileResult
	out.Released, err = e.Ledger.ReleaseStale(ctx, gigID, e.Config.ReservationGrace())
	if len(out.Released) > 0 {
		log.Warn("released stale reservations", "released", len(out.Released))
	}
	if err != nil {
		return out, err
	}

	c, rejected, err := e.settle(ctx, gigID)
	if err != nil {
		return out, err
	}
	if c.Status == domain.GigCompleted {
		swept, err := e.Bids.RejectAll(ctx, gigID, []domain.BidStatus{domain.BidPending, domain.BidCountered},
			domain.Rejected{Reason: domain.ReasonGigCompleted, By: actorID})
		if err != nil {
			return out, err
		}
		rejected = append(rejected, swept...)
	}
	out.Counters, out.Rejected = c, rejected

	if out.Drift, err = e.Repo.CapacityDrift(ctx, gigID); err != nil {
		return out, err
	}
	if out.Drift != 0 {
		e.Metrics.RecordInvariantViolation(ctx, "reconcile")
		log.Error("filled positions not backed by hires or reservations", "alert", true, "drift", out.Drift,
			"positions_filled", c.PositionsFilled)
	}

	if len(out.Released) > 0 || len(rejected) > 0 {
		evts := []events.Event{counterEvent(gig, c, actorID)}
		for _, b := range rejected {
			reason := ""
			if rej, ok := b.State.(domain.Rejected); ok {
				reason = rej.Reason
			}
			evts = append(evts, bidEvent(events.BidRejected, gig, b, actorID, events.EventPayload{"reason": reason}))
		}
		e.publish(ctx, evts...)
	}
	return out, nil
}
