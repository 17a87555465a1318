package domain

import "slices"

type GigStatus string

const (
	GigOpen      GigStatus = "open"
	GigAssigned  GigStatus = "assigned"
	GigFilled    GigStatus = "filled"
	GigCompleted GigStatus = "completed"
)

// AcceptsHires reports whether the gig may still take reservations.
func (s GigStatus) AcceptsHires() bool {
	return s == GigOpen || s == GigAssigned
}

type Gig struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Budget             int64     `json:"budget"`
	Skills             []string  `json:"skills,omitempty"`
	OwnerID            string    `json:"owner_id"`
	Admins             []string  `json:"admins,omitempty"`
	Status             GigStatus `json:"status" enum:"open,assigned,filled,completed"`
	PositionsAvailable int       `json:"positions_available"`
	PositionsFilled    int       `json:"positions_filled"`
	CreatedAt          string    `json:"created_at" format:"date-time"`
	UpdatedAt          string    `json:"updated_at" format:"date-time"`
	CompletedAt        *string   `json:"completed_at,omitempty" format:"date-time"`
}

func (g Gig) IsAdmin(actorID string) bool {
	return slices.Contains(g.Admins, actorID)
}

func (g Gig) Counters() Counters {
	return Counters{
		GigID:              g.ID,
		PositionsFilled:    g.PositionsFilled,
		PositionsAvailable: g.PositionsAvailable,
		Status:             g.Status,
	}
}

// Counters is the capacity view of a gig as seen by one atomic read or update.
type Counters struct {
	GigID              string    `json:"gig_id"`
	PositionsFilled    int       `json:"positions_filled"`
	PositionsAvailable int       `json:"positions_available"`
	Status             GigStatus `json:"status"`
}

func (c Counters) Remaining() int {
	if r := c.PositionsAvailable - c.PositionsFilled; r > 0 {
		return r
	}
	return 0
}

func (c Counters) IsFull() bool {
	return c.PositionsFilled >= c.PositionsAvailable
}

// Reservation is one position taken by a hire that has not yet moved its
// bid to hired. It exists from the increment until the bid transition or
// the compensating release consumes it.
type Reservation struct {
	ID         string `json:"id"`
	GigID      string `json:"gig_id"`
	BidID      string `json:"bid_id"`
	ReservedAt string `json:"reserved_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GigID      string `json:"gig_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
