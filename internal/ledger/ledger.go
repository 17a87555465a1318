// Package ledger tracks positions per gig. Every operation is one
// conditional update against the store; callers never read counters and
// write them back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigline/internal/domain"
)

type Store interface {
	ReserveSlot(ctx context.Context, res domain.Reservation) (domain.Counters, bool, error)
	ReleaseSlot(ctx context.Context, res domain.Reservation, now string) (domain.Counters, bool, error)
	StaleReservations(ctx context.Context, gigID, before string) ([]domain.Reservation, error)
	MarkFilled(ctx context.Context, gigID, now string) (bool, error)
	MarkAssigned(ctx context.Context, gigID, now string) (bool, error)
	GetCounters(ctx context.Context, gigID string) (domain.Counters, error)
}

type Ledger struct {
	Store Store
	Now   func() time.Time
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Ledger) stamp() string {
	return l.now().UTC().Format(time.RFC3339)
}

// TryReserve takes one position for the bid. It fails with
// ErrCapacityExhausted when no slot is free and with ErrGigClosed when the
// gig is completed.
func (l Ledger) TryReserve(ctx context.Context, gigID, bidID string) (domain.Reservation, domain.Counters, error) {
	res := domain.Reservation{ID: uuid.NewString(), GigID: gigID, BidID: bidID, ReservedAt: l.stamp()}
	c, ok, err := l.Store.ReserveSlot(ctx, res)
	if err != nil {
		return domain.Reservation{}, c, err
	}
	if ok {
		return res, c, nil
	}
	current, err := l.Store.GetCounters(ctx, gigID)
	if err != nil {
		return domain.Reservation{}, current, err
	}
	if current.Status == domain.GigCompleted {
		return domain.Reservation{}, current, fmt.Errorf("gig %s: %w", gigID, domain.ErrGigClosed)
	}
	return domain.Reservation{}, current, fmt.Errorf("gig %s has %d/%d positions filled: %w",
		gigID, current.PositionsFilled, current.PositionsAvailable, domain.ErrCapacityExhausted)
}

// Release gives back the position held by res. A reservation that was
// already consumed or released is left alone and the error wraps
// ErrReservationReleased. A release that cannot be written, or that would
// take filled below the confirmed hires, is an InvariantError.
func (l Ledger) Release(ctx context.Context, res domain.Reservation) (domain.Counters, error) {
	c, ok, err := l.Store.ReleaseSlot(ctx, res, l.stamp())
	if errors.Is(err, domain.ErrReservationReleased) {
		return c, err
	}
	if err != nil {
		return c, &domain.InvariantError{GigID: res.GigID, Op: "release", Err: err}
	}
	if !ok {
		return c, &domain.InvariantError{GigID: res.GigID, Op: "release", Err: errors.New("no reserved position to release")}
	}
	return c, nil
}

// ReleaseStale releases the gig's reservations taken at least grace ago
// and returns the ones it gave back. A reservation its hire consumed in
// the meantime is skipped.
func (l Ledger) ReleaseStale(ctx context.Context, gigID string, grace time.Duration) ([]domain.Reservation, error) {
	cutoff := l.now().Add(-grace).UTC().Format(time.RFC3339)
	stale, err := l.Store.StaleReservations(ctx, gigID, cutoff)
	if err != nil {
		return nil, err
	}
	var released []domain.Reservation
	for _, res := range stale {
		if _, err := l.Release(ctx, res); err != nil {
			if errors.Is(err, domain.ErrReservationReleased) {
				continue
			}
			return released, err
		}
		released = append(released, res)
	}
	return released, nil
}

// MarkFullIfExhausted flips the gig to filled when every position is held
// by a hired bid and reports whether this call did it. Otherwise an open
// gig with any filled position becomes assigned.
func (l Ledger) MarkFullIfExhausted(ctx context.Context, gigID string) (bool, error) {
	now := l.stamp()
	filled, err := l.Store.MarkFilled(ctx, gigID, now)
	if err != nil || filled {
		return filled, err
	}
	if _, err := l.Store.MarkAssigned(ctx, gigID, now); err != nil {
		return false, err
	}
	return false, nil
}

func (l Ledger) Counters(ctx context.Context, gigID string) (domain.Counters, error) {
	return l.Store.GetCounters(ctx, gigID)
}
