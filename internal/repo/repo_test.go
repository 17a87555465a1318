package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/migrate"
)

const ts = "2026-01-01T00:00:00Z"

func newSQLiteRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	return Repo{DB: conn, Dialect: db.SQLite}
}

func seedGig(t *testing.T, r Repo, id string, positions int) {
	t.Helper()
	require.NoError(t, r.InsertGig(context.Background(), domain.Gig{
		ID: id, Title: "Paint fence", OwnerID: "owner", Status: domain.GigOpen,
		PositionsAvailable: positions, Skills: []string{"painting"}, CreatedAt: ts, UpdatedAt: ts,
	}))
}

func seedBid(t *testing.T, r Repo, id, gigID, bidder string) {
	t.Helper()
	require.NoError(t, r.InsertBid(context.Background(), domain.Bid{
		ID: id, GigID: gigID, BidderID: bidder, Message: "me", Price: 100, State: domain.Pending{}, CreatedAt: ts, UpdatedAt: ts,
	}))
}

func TestOneActiveBidPerBidder(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", 1)
	seedBid(t, r, "b1", "g1", "ann")

	err := r.InsertBid(ctx, domain.Bid{ID: "b2", GigID: "g1", BidderID: "ann", Message: "again", Price: 90, State: domain.Pending{}, CreatedAt: ts, UpdatedAt: ts})
	assert.ErrorIs(t, err, domain.ErrActiveBidExists)

	_, ok, err := r.TransitionBid(ctx, "b1", domain.BidPending, domain.Rejected{Reason: "no", By: "owner", At: ts}, false, ts)
	require.NoError(t, err)
	require.True(t, ok)

	err = r.InsertBid(ctx, domain.Bid{ID: "b2", GigID: "g1", BidderID: "ann", Message: "again", Price: 90, State: domain.Pending{}, CreatedAt: ts, UpdatedAt: ts})
	assert.NoError(t, err)
}

func TestTransitionBidAdoptsCounterPrice(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", 1)
	seedBid(t, r, "b1", "g1", "ann")

	offer := domain.CounterOffer{Price: 80, Message: "lower?", CreatedAt: ts}
	b, ok, err := r.TransitionBid(ctx, "b1", domain.BidPending, domain.Countered{Offer: offer}, false, ts)
	require.NoError(t, err)
	require.True(t, ok)
	got, isCountered := b.CounterOffer()
	require.True(t, isCountered)
	assert.Equal(t, offer, got)
	assert.Equal(t, int64(100), b.Price)

	_, ok, err = r.TransitionBid(ctx, "b1", domain.BidPending, domain.Hired{By: "owner", At: ts}, false, ts)
	require.NoError(t, err)
	assert.False(t, ok, "stale from status must not match")

	b, ok, err = r.TransitionBid(ctx, "b1", domain.BidCountered, domain.Pending{}, true, ts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.BidPending, b.Status())
	assert.Equal(t, int64(80), b.Price)
	_, isCountered = b.CounterOffer()
	assert.False(t, isCountered)
}

func TestRejectBidsOnlyTouchesMatchingStatuses(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", 1)
	seedBid(t, r, "b1", "g1", "ann")
	seedBid(t, r, "b2", "g1", "bob")
	seedBid(t, r, "b3", "g1", "cat")
	_, _, err := r.TransitionBid(ctx, "b1", domain.BidPending, domain.Hired{By: "owner", At: ts}, false, ts)
	require.NoError(t, err)
	_, _, err = r.TransitionBid(ctx, "b3", domain.BidPending, domain.Countered{Offer: domain.CounterOffer{Price: 5, CreatedAt: ts}}, false, ts)
	require.NoError(t, err)

	rej := domain.Rejected{Reason: domain.ReasonPositionsFilled, At: ts}
	changed, err := r.RejectBids(ctx, "g1", []domain.BidStatus{domain.BidPending}, rej, ts)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "b2", changed[0].ID)

	again, err := r.RejectBids(ctx, "g1", []domain.BidStatus{domain.BidPending}, rej, ts)
	require.NoError(t, err)
	assert.Empty(t, again)

	b1, err := r.GetBid(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BidHired, b1.Status())
	b3, err := r.GetBid(ctx, "b3")
	require.NoError(t, err)
	assert.Equal(t, domain.BidCountered, b3.Status())
}

func reservation(id, gigID, bidID string) domain.Reservation {
	return domain.Reservation{ID: id, GigID: gigID, BidID: bidID, ReservedAt: ts}
}

func TestCapacityStatements(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", 2)
	seedBid(t, r, "b1", "g1", "ann")

	_, _, err := r.ReleaseSlot(ctx, reservation("r0", "g1", "b1"), ts)
	assert.ErrorIs(t, err, domain.ErrReservationReleased, "nothing reserved yet")

	c, ok, err := r.ReserveSlot(ctx, reservation("r1", "g1", "b1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, c.PositionsFilled)
	n, err := r.CountReservations(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = r.HireReserved(ctx, "r1", "b1", domain.BidPending, domain.Hired{By: "owner", At: ts}, false, ts)
	require.NoError(t, err)
	require.True(t, ok)
	n, err = r.CountReservations(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the hire consumes its reservation")

	assigned, err := r.MarkAssigned(ctx, "g1", ts)
	require.NoError(t, err)
	assert.True(t, assigned)

	_, ok, err = r.ReserveSlot(ctx, reservation("r2", "g1", "b2"))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = r.ReserveSlot(ctx, reservation("r3", "g1", "b3"))
	require.NoError(t, err)
	assert.False(t, ok, "capacity exhausted")
	n, err = r.CountReservations(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a refused reservation leaves no row")

	filled, err := r.MarkFilled(ctx, "g1", ts)
	require.NoError(t, err)
	assert.False(t, filled, "second slot is reserved but not hired")

	c, err = r.GetCounters(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{GigID: "g1", PositionsFilled: 2, PositionsAvailable: 2, Status: domain.GigAssigned}, c)

	stale, err := r.StaleReservations(ctx, "g1", ts)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "r2", stale[0].ID)

	c, ok, err = r.ReleaseSlot(ctx, stale[0], ts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, c.PositionsFilled)

	_, err = r.GetCounters(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHireReservedNeedsItsReservation(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", 1)
	seedBid(t, r, "b1", "g1", "ann")
	seedBid(t, r, "b2", "g1", "bob")

	_, ok, err := r.ReserveSlot(ctx, reservation("r1", "g1", "b1"))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = r.ReleaseSlot(ctx, reservation("r1", "g1", "b1"), ts)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = r.HireReserved(ctx, "r1", "b1", domain.BidPending, domain.Hired{By: "owner", At: ts}, false, ts)
	assert.ErrorIs(t, err, domain.ErrReservationReleased)
	b1, err := r.GetBid(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BidPending, b1.Status(), "bid must stay pending once its reservation is gone")

	_, ok, err = r.ReserveSlot(ctx, reservation("r2", "g1", "b2"))
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = r.TransitionBid(ctx, "b2", domain.BidPending, domain.Rejected{Reason: "no", At: ts}, false, ts)
	require.NoError(t, err)
	_, ok, err = r.HireReserved(ctx, "r2", "b2", domain.BidPending, domain.Hired{By: "owner", At: ts}, false, ts)
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := r.CountReservations(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a lost transition keeps the reservation for the release")
}

func TestGigAdminsAndSearch(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", 1)

	added, err := r.AddAdmin(ctx, "g1", "ada", ts)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = r.AddAdmin(ctx, "g1", "ada", ts)
	require.NoError(t, err)
	assert.False(t, added)

	g, err := r.GetGig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, g.Admins)
	assert.Equal(t, []string{"painting"}, g.Skills)

	found, err := r.ListGigs(ctx, GigFilters{Statuses: []domain.GigStatus{domain.GigOpen}, Search: "FENCE"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	none, err := r.ListGigs(ctx, GigFilters{Search: "plumbing"})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, r.DeleteGig(ctx, "g1"))
	admins, err := r.ListAdmins(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, admins)
	assert.ErrorIs(t, r.DeleteGig(ctx, "g1"), ErrNotFound)
}
