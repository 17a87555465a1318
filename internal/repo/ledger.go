package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gigline/internal/domain"
)

const hiredCount = `(SELECT COUNT(*) FROM bids WHERE bids.gig_id = gigs.id AND bids.status = 'hired')`

func scanCounters(gigID string, row *sql.Row) (domain.Counters, bool, error) {
	c := domain.Counters{GigID: gigID}
	err := row.Scan(&c.PositionsFilled, &c.PositionsAvailable, &c.Status)
	if err == sql.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	return c, true, nil
}

// ReserveSlot increments positions_filled when a slot is free and the gig
// is still hiring, and records the reservation in the same transaction.
// ok is false when the guard did not match.
func (r Repo) ReserveSlot(ctx context.Context, res domain.Reservation) (domain.Counters, bool, error) {
	const op = "repo.ReserveSlot"
	c := domain.Counters{GigID: res.GigID}
	ok, err := r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		var matched bool
		var err error
		c, matched, err = scanCounters(res.GigID, tx.QueryRowContext(ctx, r.q(`UPDATE gigs SET positions_filled = positions_filled + 1, updated_at = ?
WHERE id = ? AND positions_filled < positions_available AND status IN ('open','assigned')
RETURNING positions_filled, positions_available, status`), res.ReservedAt, res.GigID))
		if err != nil || !matched {
			return false, err
		}
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO reservations(id,gig_id,bid_id,reserved_at) VALUES (?,?,?,?)`),
			res.ID, res.GigID, res.BidID, res.ReservedAt)
		return err == nil, err
	})
	if err != nil {
		return c, false, fmt.Errorf("%s: %w", op, err)
	}
	return c, ok, nil
}

// ReleaseSlot drops the reservation and gives its position back. When the
// reservation was already consumed the error wraps ErrReservationReleased
// and nothing changes. ok is false when the decrement would take filled
// below the confirmed hires.
func (r Repo) ReleaseSlot(ctx context.Context, res domain.Reservation, now string) (domain.Counters, bool, error) {
	const op = "repo.ReleaseSlot"
	c := domain.Counters{GigID: res.GigID}
	ok, err := r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		if err := r.deleteReservation(ctx, tx, res.ID); err != nil {
			return false, err
		}
		var matched bool
		var err error
		c, matched, err = scanCounters(res.GigID, tx.QueryRowContext(ctx, r.q(`UPDATE gigs SET positions_filled = positions_filled - 1, updated_at = ?
WHERE id = ? AND positions_filled > `+hiredCount+`
RETURNING positions_filled, positions_available, status`), now, res.GigID))
		return matched, err
	})
	if err != nil {
		return c, false, fmt.Errorf("%s: %w", op, err)
	}
	return c, ok, nil
}

func (r Repo) deleteReservation(ctx context.Context, q querier, id string) error {
	out, err := q.ExecContext(ctx, r.q(`DELETE FROM reservations WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if affected, _ := out.RowsAffected(); affected == 0 {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrReservationReleased)
	}
	return nil
}

// StaleReservations lists the gig's reservations taken at or before the
// given timestamp, oldest first.
func (r Repo) StaleReservations(ctx context.Context, gigID, before string) ([]domain.Reservation, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,gig_id,bid_id,reserved_at FROM reservations
WHERE gig_id = ? AND reserved_at <= ? ORDER BY reserved_at, id`), gigID, before)
	if err != nil {
		return nil, fmt.Errorf("repo.StaleReservations: %w", err)
	}
	defer rows.Close()
	var res []domain.Reservation
	for rows.Next() {
		var rv domain.Reservation
		if err := rows.Scan(&rv.ID, &rv.GigID, &rv.BidID, &rv.ReservedAt); err != nil {
			return nil, fmt.Errorf("repo.StaleReservations: %w", err)
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

// CapacityDrift returns positions_filled minus hired bids minus live
// reservations, read in one statement. Anything but zero means the counter
// no longer matches what holds it.
func (r Repo) CapacityDrift(ctx context.Context, gigID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT positions_filled - `+hiredCount+` - (SELECT COUNT(*) FROM reservations WHERE reservations.gig_id = gigs.id)
FROM gigs WHERE id = ?`), gigID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, err
}

func (r Repo) CountReservations(ctx context.Context, gigID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM reservations WHERE gig_id = ?`), gigID).Scan(&n)
	return n, err
}

// MarkFilled flips the gig to filled once every position is backed by a
// hired bid. In-flight reservations keep it from firing.
func (r Repo) MarkFilled(ctx context.Context, gigID, now string) (bool, error) {
	const op = "repo.MarkFilled"
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE gigs SET status = 'filled', updated_at = ?
WHERE id = ? AND status IN ('open','assigned') AND positions_filled >= positions_available AND `+hiredCount+` >= positions_available`), now, gigID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// MarkAssigned moves an open gig with at least one slot taken to assigned.
func (r Repo) MarkAssigned(ctx context.Context, gigID, now string) (bool, error) {
	const op = "repo.MarkAssigned"
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE gigs SET status = 'assigned', updated_at = ? WHERE id = ? AND status = 'open' AND positions_filled > 0`), now, gigID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) GetCounters(ctx context.Context, gigID string) (domain.Counters, error) {
	c, ok, err := scanCounters(gigID, r.DB.QueryRowContext(ctx, r.q(`SELECT positions_filled, positions_available, status FROM gigs WHERE id = ?`), gigID))
	if err != nil {
		return c, err
	}
	if !ok {
		return c, ErrNotFound
	}
	return c, nil
}

func (r Repo) CountHiredBids(ctx context.Context, gigID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM bids WHERE gig_id = ? AND status = 'hired'`), gigID).Scan(&n)
	return n, err
}
