package server

import (
	"encoding/json"

	"gigline/internal/domain"
	"gigline/internal/engine"
)

// Request payloads

type CreateGigRequest struct {
	Title              string   `json:"title" minLength:"1" maxLength:"200"`
	Description        string   `json:"description,omitempty"`
	Budget             int64    `json:"budget" minimum:"0"`
	Skills             []string `json:"skills,omitempty"`
	PositionsAvailable int      `json:"positions_available,omitempty" minimum:"1" default:"1"`
}

type AssignAdminRequest struct {
	AdminID string `json:"admin_id" minLength:"1"`
}

type SubmitBidRequest struct {
	Message string `json:"message" minLength:"1"`
	Price   int64  `json:"price" minimum:"1"`
}

type RejectBidRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CounterOfferRequest struct {
	Price   int64  `json:"price" minimum:"1"`
	Message string `json:"message,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	TTL     int    `json:"ttl_seconds,omitempty"`
}

// Response payloads

type GigResponse struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Budget             int64    `json:"budget"`
	Skills             []string `json:"skills"`
	OwnerID            string   `json:"owner_id"`
	Admins             []string `json:"admins"`
	Status             string   `json:"status" enum:"open,assigned,filled,completed"`
	PositionsAvailable int      `json:"positions_available"`
	PositionsFilled    int      `json:"positions_filled"`
	RemainingPositions int      `json:"remaining_positions"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
	CompletedAt        *string  `json:"completed_at,omitempty" format:"date-time"`
}

type CounterOfferResponse struct {
	Price     int64  `json:"price"`
	Message   string `json:"message,omitempty"`
	By        string `json:"by,omitempty"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

type BidResponse struct {
	ID           string                `json:"id"`
	GigID        string                `json:"gig_id"`
	BidderID     string                `json:"bidder_id"`
	Message      string                `json:"message"`
	Price        int64                 `json:"price"`
	Status       string                `json:"status" enum:"pending,countered,hired,rejected"`
	CounterOffer *CounterOfferResponse `json:"counter_offer,omitempty"`
	HiredBy      string                `json:"hired_by,omitempty"`
	HiredAt      string                `json:"hired_at,omitempty"`
	RejectReason string                `json:"reject_reason,omitempty"`
	RejectedBy   string                `json:"rejected_by,omitempty"`
	CreatedAt    string                `json:"created_at" format:"date-time"`
	UpdatedAt    string                `json:"updated_at" format:"date-time"`
}

type CountersResponse struct {
	PositionsAvailable int    `json:"positions_available"`
	PositionsFilled    int    `json:"positions_filled"`
	RemainingPositions int    `json:"remaining_positions"`
	Status             string `json:"status"`
}

type HireResponse struct {
	Bid             BidResponse      `json:"bid"`
	Counters        CountersResponse `json:"counters"`
	Filled          bool             `json:"filled"`
	RejectedBidders []string         `json:"rejected_bidders"`
	SettleError     string           `json:"settle_error,omitempty" doc:"Set when the hire committed but the gig status or cascade did not; POST /gigs/{gig_id}/reconcile finishes it"`
}

type CompleteGigResponse struct {
	Gig          GigResponse   `json:"gig"`
	RejectedBids []BidResponse `json:"rejected_bids"`
}

type ReconcileResponse struct {
	Counters     CountersResponse `json:"counters"`
	Released     int              `json:"released"`
	RejectedBids []BidResponse    `json:"rejected_bids"`
	Drift        int              `json:"drift"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	GigID      string         `json:"gig_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func gigResponse(g domain.Gig) GigResponse {
	return GigResponse{
		ID:                 g.ID,
		Title:              g.Title,
		Description:        g.Description,
		Budget:             g.Budget,
		Skills:             nonNilSlice(g.Skills),
		OwnerID:            g.OwnerID,
		Admins:             nonNilSlice(g.Admins),
		Status:             string(g.Status),
		PositionsAvailable: g.PositionsAvailable,
		PositionsFilled:    g.PositionsFilled,
		RemainingPositions: g.Counters().Remaining(),
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
		CompletedAt:        g.CompletedAt,
	}
}

func bidResponse(b domain.Bid) BidResponse {
	f := domain.FieldsOf(b.State)
	res := BidResponse{
		ID:           b.ID,
		GigID:        b.GigID,
		BidderID:     b.BidderID,
		Message:      b.Message,
		Price:        b.Price,
		Status:       string(b.Status()),
		HiredBy:      f.HiredBy,
		HiredAt:      f.HiredAt,
		RejectReason: f.RejectReason,
		RejectedBy:   f.RejectedBy,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if offer, ok := b.CounterOffer(); ok {
		res.CounterOffer = &CounterOfferResponse{
			Price:     offer.Price,
			Message:   offer.Message,
			By:        offer.By,
			CreatedAt: offer.CreatedAt,
		}
	}
	return res
}

func countersResponse(c domain.Counters) CountersResponse {
	return CountersResponse{
		PositionsAvailable: c.PositionsAvailable,
		PositionsFilled:    c.PositionsFilled,
		RemainingPositions: c.Remaining(),
		Status:             string(c.Status),
	}
}

func hireResponse(r engine.HireResult) HireResponse {
	out := HireResponse{
		Bid:             bidResponse(r.Bid),
		Counters:        countersResponse(r.Counters),
		Filled:          r.Filled,
		RejectedBidders: nonNilSlice(r.RejectedBidders()),
	}
	if r.SettleErr != nil {
		out.SettleError = r.SettleErr.Error()
	}
	return out
}

func reconcileResponse(r engine.ReconcileResult) ReconcileResponse {
	return ReconcileResponse{
		Counters:     countersResponse(r.Counters),
		Released:     len(r.Released),
		RejectedBids: mapBids(r.Rejected),
		Drift:        r.Drift,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		GigID:      e.GigID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapGigs(items []domain.Gig) []GigResponse {
	out := make([]GigResponse, 0, len(items))
	for _, g := range items {
		out = append(out, gigResponse(g))
	}
	return out
}

func mapBids(items []domain.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(items))
	for _, b := range items {
		out = append(out, bidResponse(b))
	}
	return out
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

type paginatedGigs struct {
	Items      []GigResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
