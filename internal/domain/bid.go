package domain

import (
	"encoding/json"
	"fmt"
)

type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidCountered BidStatus = "countered"
	BidHired     BidStatus = "hired"
	BidRejected  BidStatus = "rejected"
)

func (s BidStatus) Terminal() bool {
	return s == BidHired || s == BidRejected
}

// Active bids count toward the one-active-bid-per-bidder rule.
func (s BidStatus) Active() bool {
	return s == BidPending || s == BidCountered
}

func (s BidStatus) Valid() bool {
	switch s {
	case BidPending, BidCountered, BidHired, BidRejected:
		return true
	}
	return false
}

const (
	ReasonPositionsFilled = "all positions filled"
	ReasonGigCompleted    = "gig completed"
)

type CounterOffer struct {
	Price     int64  `json:"price"`
	Message   string `json:"message"`
	By        string `json:"by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// BidState is one of Pending, Countered, Hired or Rejected. Each variant
// carries only the data that exists in that state.
type BidState interface {
	Status() BidStatus
	isBidState()
}

type Pending struct{}

type Countered struct {
	Offer CounterOffer
}

type Hired struct {
	By string
	At string
}

type Rejected struct {
	Reason string
	By     string
	At     string
}

func (Pending) Status() BidStatus   { return BidPending }
func (Countered) Status() BidStatus { return BidCountered }
func (Hired) Status() BidStatus     { return BidHired }
func (Rejected) Status() BidStatus  { return BidRejected }

func (Pending) isBidState()   {}
func (Countered) isBidState() {}
func (Hired) isBidState()     {}
func (Rejected) isBidState()  {}

// StateFields is the flat column form of a BidState.
type StateFields struct {
	Status           BidStatus
	CounterPrice     *int64
	CounterMessage   string
	CounterBy        string
	CounterCreatedAt string
	HiredBy          string
	HiredAt          string
	RejectReason     string
	RejectedBy       string
	RejectedAt       string
}

func FieldsOf(s BidState) StateFields {
	switch st := s.(type) {
	case Countered:
		price := st.Offer.Price
		return StateFields{
			Status:           BidCountered,
			CounterPrice:     &price,
			CounterMessage:   st.Offer.Message,
			CounterBy:        st.Offer.By,
			CounterCreatedAt: st.Offer.CreatedAt,
		}
	case Hired:
		return StateFields{Status: BidHired, HiredBy: st.By, HiredAt: st.At}
	case Rejected:
		return StateFields{Status: BidRejected, RejectReason: st.Reason, RejectedBy: st.By, RejectedAt: st.At}
	default:
		return StateFields{Status: BidPending}
	}
}

// State rebuilds the variant. A countered row without an offer price is corrupt.
func (f StateFields) State() (BidState, error) {
	switch f.Status {
	case BidPending:
		return Pending{}, nil
	case BidCountered:
		if f.CounterPrice == nil {
			return nil, fmt.Errorf("countered bid without counter offer")
		}
		return Countered{Offer: CounterOffer{
			Price:     *f.CounterPrice,
			Message:   f.CounterMessage,
			By:        f.CounterBy,
			CreatedAt: f.CounterCreatedAt,
		}}, nil
	case BidHired:
		return Hired{By: f.HiredBy, At: f.HiredAt}, nil
	case BidRejected:
		return Rejected{Reason: f.RejectReason, By: f.RejectedBy, At: f.RejectedAt}, nil
	}
	return nil, fmt.Errorf("unknown bid status %q", f.Status)
}

type Bid struct {
	ID        string
	GigID     string
	BidderID  string
	Message   string
	Price     int64
	State     BidState
	CreatedAt string
	UpdatedAt string
}

func (b Bid) Status() BidStatus {
	if b.State == nil {
		return BidPending
	}
	return b.State.Status()
}

func (b Bid) CounterOffer() (CounterOffer, bool) {
	if c, ok := b.State.(Countered); ok {
		return c.Offer, true
	}
	return CounterOffer{}, false
}

type bidJSON struct {
	ID           string        `json:"id"`
	GigID        string        `json:"gig_id"`
	BidderID     string        `json:"bidder_id"`
	Message      string        `json:"message"`
	Price        int64         `json:"price"`
	Status       BidStatus     `json:"status"`
	CounterOffer *CounterOffer `json:"counter_offer,omitempty"`
	HiredBy      string        `json:"hired_by,omitempty"`
	HiredAt      string        `json:"hired_at,omitempty"`
	RejectReason string        `json:"reject_reason,omitempty"`
	RejectedBy   string        `json:"rejected_by,omitempty"`
	RejectedAt   string        `json:"rejected_at,omitempty"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
}

func (b Bid) MarshalJSON() ([]byte, error) {
	f := FieldsOf(b.State)
	out := bidJSON{
		ID:           b.ID,
		GigID:        b.GigID,
		BidderID:     b.BidderID,
		Message:      b.Message,
		Price:        b.Price,
		Status:       b.Status(),
		HiredBy:      f.HiredBy,
		HiredAt:      f.HiredAt,
		RejectReason: f.RejectReason,
		RejectedBy:   f.RejectedBy,
		RejectedAt:   f.RejectedAt,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if offer, ok := b.CounterOffer(); ok {
		out.CounterOffer = &offer
	}
	return json.Marshal(out)
}

func (b *Bid) UnmarshalJSON(data []byte) error {
	var in bidJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f := StateFields{
		Status:       in.Status,
		HiredBy:      in.HiredBy,
		HiredAt:      in.HiredAt,
		RejectReason: in.RejectReason,
		RejectedBy:   in.RejectedBy,
		RejectedAt:   in.RejectedAt,
	}
	if in.CounterOffer != nil {
		price := in.CounterOffer.Price
		f.CounterPrice = &price
		f.CounterMessage = in.CounterOffer.Message
		f.CounterBy = in.CounterOffer.By
		f.CounterCreatedAt = in.CounterOffer.CreatedAt
	}
	state, err := f.State()
	if err != nil {
		return err
	}
	*b = Bid{
		ID:        in.ID,
		GigID:     in.GigID,
		BidderID:  in.BidderID,
		Message:   in.Message,
		Price:     in.Price,
		State:     state,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}
	return nil
}
