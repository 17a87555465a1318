package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrCapacityExhausted    = errors.New("no positions available")
	ErrConflict             = errors.New("conflict")
	ErrInvariant            = errors.New("capacity invariant violated")
	ErrInvalidTransition    = errors.New("invalid bid transition")
	ErrGigClosed            = errors.New("gig is not accepting bids")
	ErrActiveBidExists      = errors.New("bidder already has an active bid on this gig")
	ErrSelfBid              = errors.New("gig owner cannot bid on own gig")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrReservationReleased  = errors.New("reservation already released")
)

// ConflictError reports that a conditional update lost a race; the bid
// was no longer in the expected state.
type ConflictError struct {
	BidID   string
	Current BidStatus
	Reason  string
}

func (e *ConflictError) Error() string {
	if e.Current != "" {
		return fmt.Sprintf("%s: bid %s is %s", e.Reason, e.BidID, e.Current)
	}
	return e.Reason
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InvariantError is raised when a compensating release finds nothing to
// release. The capacity counters can no longer be trusted for this gig.
type InvariantError struct {
	GigID string
	Op    string
	Err   error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s on gig %s: %v: %v", e.Op, e.GigID, ErrInvariant, e.Err)
	}
	return fmt.Sprintf("%s on gig %s: %v", e.Op, e.GigID, ErrInvariant)
}

func (e *InvariantError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvariant, e.Err}
	}
	return []error{ErrInvariant}
}

type TransitionError struct {
	From BidStatus
	To   BidStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }
