package bidstate

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/domain"
)

type memStore struct {
	bids         map[string]domain.Bid
	reservations map[string]bool
}

func (s *memStore) TransitionBid(_ context.Context, id string, from domain.BidStatus, next domain.BidState, adopt bool, now string) (domain.Bid, bool, error) {
	b, ok := s.bids[id]
	if !ok || b.Status() != from {
		return domain.Bid{}, false, nil
	}
	if offer, isCountered := b.CounterOffer(); isCountered && adopt {
		b.Price = offer.Price
	}
	b.State = next
	b.UpdatedAt = now
	s.bids[id] = b
	return b, true, nil
}

func (s *memStore) HireReserved(ctx context.Context, reservationID, id string, from domain.BidStatus, next domain.BidState, adopt bool, now string) (domain.Bid, bool, error) {
	if !s.reservations[reservationID] {
		return domain.Bid{}, false, domain.ErrReservationReleased
	}
	b, ok, err := s.TransitionBid(ctx, id, from, next, adopt, now)
	if ok {
		delete(s.reservations, reservationID)
	}
	return b, ok, err
}

func (s *memStore) RejectBids(_ context.Context, gigID string, statuses []domain.BidStatus, rej domain.Rejected, now string) ([]domain.Bid, error) {
	var out []domain.Bid
	for id, b := range s.bids {
		if b.GigID != gigID {
			continue
		}
		for _, st := range statuses {
			if b.Status() == st {
				b.State = rej
				b.UpdatedAt = now
				s.bids[id] = b
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) GetBid(_ context.Context, id string) (domain.Bid, error) {
	b, ok := s.bids[id]
	if !ok {
		return b, domain.ErrNotFound
	}
	return b, nil
}

func statusOf(name string) domain.BidState {
	switch domain.BidStatus(name) {
	case domain.BidCountered:
		return domain.Countered{Offer: domain.CounterOffer{Price: 10}}
	case domain.BidHired:
		return domain.Hired{By: "owner"}
	case domain.BidRejected:
		return domain.Rejected{Reason: "no"}
	}
	return domain.Pending{}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	all := gen.OneConstOf("pending", "countered", "hired", "rejected")

	properties.Property("terminal statuses accept no transition", prop.ForAll(
		func(from, to string) bool {
			f := domain.BidStatus(from)
			if f.Terminal() {
				return Validate(f, statusOf(to)) != nil
			}
			return true
		},
		all, all,
	))

	properties.Property("self transitions are never legal", prop.ForAll(
		func(s string) bool {
			return !CanTransition(domain.BidStatus(s), domain.BidStatus(s))
		},
		all,
	))

	properties.TestingRun(t)
}

func TestValidateRequiresVariantPayload(t *testing.T) {
	err := Validate(domain.BidPending, domain.Countered{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "price", verr.Field)

	err = Validate(domain.BidPending, domain.Hired{})
	require.ErrorAs(t, err, &verr)

	err = Validate(domain.BidHired, domain.Rejected{Reason: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTryTransitionReportsTheWinner(t *testing.T) {
	store := &memStore{bids: map[string]domain.Bid{
		"b1": {ID: "b1", Price: 100, State: domain.Pending{}},
	}}
	m := Machine{Store: store}
	ctx := context.Background()

	b, err := m.TryTransition(ctx, "b1", domain.BidPending, domain.Hired{By: "owner"})
	require.NoError(t, err)
	assert.Equal(t, domain.BidHired, b.Status())

	_, err = m.TryTransition(ctx, "b1", domain.BidPending, domain.Rejected{Reason: "no"})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.BidHired, conflict.Current)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = m.TryTransition(ctx, "missing", domain.BidPending, domain.Hired{By: "owner"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcceptingCounterAdoptsPrice(t *testing.T) {
	store := &memStore{bids: map[string]domain.Bid{
		"b1": {ID: "b1", Price: 100, State: domain.Countered{Offer: domain.CounterOffer{Price: 75}}},
	}}
	m := Machine{Store: store}

	b, err := m.TryTransition(context.Background(), "b1", domain.BidCountered, domain.Pending{})
	require.NoError(t, err)
	assert.Equal(t, int64(75), b.Price)
	assert.Equal(t, domain.BidPending, b.Status())
}

func TestTryHireConsumesReservation(t *testing.T) {
	store := &memStore{
		bids: map[string]domain.Bid{
			"b1": {ID: "b1", GigID: "g1", Price: 100, State: domain.Pending{}},
			"b2": {ID: "b2", GigID: "g1", Price: 100, State: domain.Pending{}},
		},
		reservations: map[string]bool{"r1": true},
	}
	m := Machine{Store: store}
	ctx := context.Background()

	b, err := m.TryHire(ctx, domain.Reservation{ID: "r1", GigID: "g1", BidID: "b1"}, domain.BidPending, domain.Hired{By: "owner"})
	require.NoError(t, err)
	assert.Equal(t, domain.BidHired, b.Status())
	assert.Empty(t, store.reservations)

	_, err = m.TryHire(ctx, domain.Reservation{ID: "r2", GigID: "g1", BidID: "b2"}, domain.BidPending, domain.Hired{By: "owner"})
	assert.ErrorIs(t, err, domain.ErrReservationReleased)
	assert.Equal(t, domain.BidPending, store.bids["b2"].Status(), "bid must not move without its reservation")
}

func TestRejectAllIsRepeatable(t *testing.T) {
	store := &memStore{bids: map[string]domain.Bid{
		"b1": {ID: "b1", GigID: "g1", Price: 100, State: domain.Pending{}},
		"b2": {ID: "b2", GigID: "g1", Price: 100, State: domain.Countered{Offer: domain.CounterOffer{Price: 90}}},
		"b3": {ID: "b3", GigID: "g2", Price: 100, State: domain.Pending{}},
	}}
	m := Machine{Store: store}
	ctx := context.Background()

	rejected, err := m.RejectAll(ctx, "g1", []domain.BidStatus{domain.BidPending}, domain.Rejected{Reason: domain.ReasonPositionsFilled})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "b1", rejected[0].ID)
	assert.NotEmpty(t, rejected[0].State.(domain.Rejected).At)

	again, err := m.RejectAll(ctx, "g1", []domain.BidStatus{domain.BidPending}, domain.Rejected{Reason: domain.ReasonPositionsFilled})
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, domain.BidCountered, store.bids["b2"].Status())
	assert.Equal(t, domain.BidPending, store.bids["b3"].Status())
}
