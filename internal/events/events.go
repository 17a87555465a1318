// Package events carries committed state changes out of the engine. The
// engine hands each event to a Publisher after the change is durable and
// never waits on delivery.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gigline/internal/domain"
)

type Type string

const (
	BidSubmitted       Type = "bid:submitted"
	BidHired           Type = "bid:hired"
	BidRejected        Type = "bid:rejected"
	BidCountered       Type = "bid:countered"
	BidCounterAccepted Type = "bid:counter-accepted"
	GigCreated         Type = "gig:created"
	GigPositionsUpdate Type = "gig:positionsUpdate"
	GigAdminAssigned   Type = "gig:adminAssigned"
	GigAdminRemoved    Type = "gig:adminRemoved"
	GigCompleted       Type = "gig:completed"
	GigDeleted         Type = "gig:deleted"
)

type EventPayload map[string]any

type Event struct {
	Type     Type
	GigID    string
	BidID    string
	BidderID string
	OwnerID  string
	ActorID  string
	Counters *domain.Counters
	Payload  EventPayload
	At       time.Time
}

func (e Event) EntityKind() string {
	if e.BidID != "" {
		return "bid"
	}
	return "gig"
}

func (e Event) EntityID() string {
	if e.BidID != "" {
		return e.BidID
	}
	return e.GigID
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Envelope is the wire form shared by the event log and the Redis channel.
type Envelope struct {
	Type               Type         `json:"type"`
	GigID              string       `json:"gig_id,omitempty"`
	BidID              string       `json:"bid_id,omitempty"`
	BidderID           string       `json:"bidder_id,omitempty"`
	OwnerID            string       `json:"owner_id,omitempty"`
	ActorID            string       `json:"actor_id,omitempty"`
	PositionsFilled    *int         `json:"positions_filled,omitempty"`
	PositionsAvailable *int         `json:"positions_available,omitempty"`
	RemainingPositions *int         `json:"remaining_positions,omitempty"`
	Status             string       `json:"status,omitempty"`
	Payload            EventPayload `json:"payload,omitempty"`
	TS                 string       `json:"ts"`
}

func NewEnvelope(e Event) Envelope {
	env := Envelope{
		Type:     e.Type,
		GigID:    e.GigID,
		BidID:    e.BidID,
		BidderID: e.BidderID,
		OwnerID:  e.OwnerID,
		ActorID:  e.ActorID,
		Payload:  e.Payload,
	}
	if e.Counters != nil {
		filled, available, remaining := e.Counters.PositionsFilled, e.Counters.PositionsAvailable, e.Counters.Remaining()
		env.PositionsFilled = &filled
		env.PositionsAvailable = &available
		env.RemainingPositions = &remaining
		env.Status = string(e.Counters.Status)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	env.TS = at.UTC().Format(time.RFC3339)
	return env
}

func Encode(e Event) ([]byte, error) {
	return json.Marshal(NewEnvelope(e))
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type in publish order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
