package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gigline/internal/db"
	"gigline/internal/domain"
)

const bidColumns = `id,gig_id,bidder_id,message,price,status,counter_price,COALESCE(counter_message,'') AS counter_message,COALESCE(counter_by,'') AS counter_by,COALESCE(counter_created_at,'') AS counter_created_at,COALESCE(hired_by,'') AS hired_by,COALESCE(hired_at,'') AS hired_at,COALESCE(reject_reason,'') AS reject_reason,COALESCE(rejected_by,'') AS rejected_by,COALESCE(rejected_at,'') AS rejected_at,created_at,updated_at`

func scanBid(row scanner) (domain.Bid, error) {
	var b domain.Bid
	var f domain.StateFields
	var counterPrice sql.NullInt64
	err := row.Scan(&b.ID, &b.GigID, &b.BidderID, &b.Message, &b.Price, &f.Status, &counterPrice,
		&f.CounterMessage, &f.CounterBy, &f.CounterCreatedAt, &f.HiredBy, &f.HiredAt, &f.RejectReason, &f.RejectedBy, &f.RejectedAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if counterPrice.Valid {
		f.CounterPrice = &counterPrice.Int64
	}
	state, err := f.State()
	if err != nil {
		return b, fmt.Errorf("bid %s: %w", b.ID, err)
	}
	b.State = state
	return b, nil
}

// InsertBid stores a new pending bid. A second active bid by the same
// bidder on the same gig trips the partial unique index.
func (r Repo) InsertBid(ctx context.Context, b domain.Bid) error {
	f := domain.FieldsOf(b.State)
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO bids(id,gig_id,bidder_id,message,price,status,counter_price,counter_message,counter_by,counter_created_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		b.ID, b.GigID, b.BidderID, b.Message, b.Price, f.Status, nullableInt64Ptr(f.CounterPrice),
		nullable(f.CounterMessage), nullable(f.CounterBy), nullable(f.CounterCreatedAt), b.CreatedAt, b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return domain.ErrActiveBidExists
	}
	return err
}

func (r Repo) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	return scanBid(r.DB.QueryRowContext(ctx, r.q(`SELECT `+bidColumns+` FROM bids WHERE id=?`), id))
}

// TransitionBid moves a bid from one status to the next state in a single
// conditional update. ok is false when the bid was not in the from status.
// With adoptCounter the counter-offer price becomes the bid price.
func (r Repo) TransitionBid(ctx context.Context, id string, from domain.BidStatus, next domain.BidState, adoptCounter bool, now string) (domain.Bid, bool, error) {
	b, ok, err := r.transitionBid(ctx, r.DB, id, from, next, adoptCounter, now)
	if err != nil {
		return b, false, fmt.Errorf("repo.TransitionBid: %w", err)
	}
	return b, ok, nil
}

// HireReserved applies the transition and consumes the reservation that
// paid for it in one transaction. When the reservation is already gone the
// bid is left alone and the error wraps ErrReservationReleased. When the
// bid is no longer in from, ok is false and the reservation stays for the
// caller to release.
func (r Repo) HireReserved(ctx context.Context, reservationID, id string, from domain.BidStatus, next domain.BidState, adoptCounter bool, now string) (domain.Bid, bool, error) {
	var b domain.Bid
	ok, err := r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		if err := r.deleteReservation(ctx, tx, reservationID); err != nil {
			return false, err
		}
		var moved bool
		var err error
		b, moved, err = r.transitionBid(ctx, tx, id, from, next, adoptCounter, now)
		return moved, err
	})
	if err != nil {
		return b, false, fmt.Errorf("repo.HireReserved: %w", err)
	}
	return b, ok, nil
}

func (r Repo) transitionBid(ctx context.Context, q querier, id string, from domain.BidStatus, next domain.BidState, adoptCounter bool, now string) (domain.Bid, bool, error) {
	f := domain.FieldsOf(next)
	price := "price"
	if adoptCounter {
		price = "COALESCE(counter_price, price)"
	}
	row := q.QueryRowContext(ctx, r.q(`UPDATE bids SET price=`+price+`, status=?, counter_price=?, counter_message=?, counter_by=?, counter_created_at=?,
hired_by=?, hired_at=?, reject_reason=?, rejected_by=?, rejected_at=?, updated_at=?
WHERE id=? AND status=?
RETURNING `+bidColumns),
		f.Status, nullableInt64Ptr(f.CounterPrice), nullable(f.CounterMessage), nullable(f.CounterBy), nullable(f.CounterCreatedAt),
		nullable(f.HiredBy), nullable(f.HiredAt), nullable(f.RejectReason), nullable(f.RejectedBy), nullable(f.RejectedAt), now,
		id, from)
	b, err := scanBid(row)
	if err == ErrNotFound {
		return b, false, nil
	}
	if err != nil {
		return b, false, err
	}
	return b, true, nil
}

// RejectBids rejects every bid of the gig currently in one of the given
// statuses and returns the bids it changed. Bids in other statuses are
// untouched, so repeating the call is harmless.
func (r Repo) RejectBids(ctx context.Context, gigID string, statuses []domain.BidStatus, rej domain.Rejected, now string) ([]domain.Bid, error) {
	const op = "repo.RejectBids"
	if len(statuses) == 0 {
		return nil, nil
	}
	marks := make([]string, len(statuses))
	args := []any{rej.Reason, nullable(rej.By), rej.At, now, gigID}
	for i, s := range statuses {
		marks[i] = "?"
		args = append(args, s)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`UPDATE bids SET status='rejected', reject_reason=?, rejected_by=?, rejected_at=?, updated_at=?,
counter_price=NULL, counter_message=NULL, counter_by=NULL, counter_created_at=NULL
WHERE gig_id=? AND status IN (`+strings.Join(marks, ",")+`)
RETURNING `+bidColumns), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

type BidFilters struct {
	GigID    string
	BidderID string
	Statuses []domain.BidStatus
	Limit    int
}

// ListBids returns bids newest first.
func (r Repo) ListBids(ctx context.Context, f BidFilters) ([]domain.Bid, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.GigID != "" {
		clauses = append(clauses, "gig_id=?")
		args = append(args, f.GigID)
	}
	if f.BidderID != "" {
		clauses = append(clauses, "bidder_id=?")
		args = append(args, f.BidderID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	query := `SELECT ` + bidColumns + ` FROM bids WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
