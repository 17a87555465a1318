package repo

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/db"
	"gigline/internal/domain"
)

func newMockRepo(t *testing.T) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return Repo{DB: conn, Dialect: db.Postgres}, mock
}

func TestPostgresReserveSlot(t *testing.T) {
	r, mock := newMockRepo(t)
	ctx := context.Background()
	res := domain.Reservation{ID: "res-1", GigID: "gig-1", BidID: "bid-1", ReservedAt: "2026-01-01T00:00:00Z"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE gigs SET positions_filled = positions_filled + 1, updated_at = $1`)).
		WithArgs("2026-01-01T00:00:00Z", "gig-1").
		WillReturnRows(sqlmock.NewRows([]string{"positions_filled", "positions_available", "status"}).AddRow(2, 3, "assigned"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO reservations(id,gig_id,bid_id,reserved_at) VALUES ($1,$2,$3,$4)`)).
		WithArgs("res-1", "gig-1", "bid-1", "2026-01-01T00:00:00Z").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, ok, err := r.ReserveSlot(ctx, res)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.Counters{GigID: "gig-1", PositionsFilled: 2, PositionsAvailable: 3, Status: domain.GigAssigned}, c)
	assert.Equal(t, 1, c.Remaining())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $2 AND positions_filled < positions_available`)).
		WithArgs(sqlmock.AnyArg(), "gig-1").
		WillReturnRows(sqlmock.NewRows([]string{"positions_filled", "positions_available", "status"}))
	mock.ExpectRollback()

	res.ID = "res-2"
	_, ok, err = r.ReserveSlot(ctx, res)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReleaseSlotGuardsAgainstHiredCount(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reservations WHERE id = $1`)).
		WithArgs("res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $2 AND positions_filled > (SELECT COUNT(*) FROM bids WHERE bids.gig_id = gigs.id AND bids.status = 'hired')`)).
		WithArgs(sqlmock.AnyArg(), "gig-1").
		WillReturnRows(sqlmock.NewRows([]string{"positions_filled", "positions_available", "status"}))
	mock.ExpectRollback()

	_, ok, err := r.ReleaseSlot(context.Background(), domain.Reservation{ID: "res-1", GigID: "gig-1"}, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHireReservedStopsWithoutReservation(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reservations WHERE id = $1`)).
		WithArgs("res-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, ok, err := r.HireReserved(context.Background(), "res-1", "bid-1", domain.BidPending,
		domain.Hired{By: "owner", At: "2026-01-01T00:00:00Z"}, false, "2026-01-01T00:00:00Z")
	assert.ErrorIs(t, err, domain.ErrReservationReleased)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertBidMapsUniqueViolation(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bids(`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := r.InsertBid(context.Background(), domain.Bid{
		ID: "bid-1", GigID: "gig-1", BidderID: "ann", Message: "hi", Price: 100, State: domain.Pending{},
	})
	assert.ErrorIs(t, err, domain.ErrActiveBidExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionBidIsConditional(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id=$12 AND status=$13`)).
		WithArgs("hired", nil, nil, nil, nil, "owner", "2026-01-01T00:00:00Z", nil, nil, nil, sqlmock.AnyArg(), "bid-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := r.TransitionBid(context.Background(), "bid-1", domain.BidPending,
		domain.Hired{By: "owner", At: "2026-01-01T00:00:00Z"}, false, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkFilledRequiresConfirmedHires(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE gigs SET status = 'filled'`)).
		WithArgs(sqlmock.AnyArg(), "gig-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.MarkFilled(context.Background(), "gig-1", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
