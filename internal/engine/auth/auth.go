package auth

import (
	"fmt"
	"slices"

	"gigline/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	ActorID    string
}

func (e ForbiddenError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("permission %s requires an authenticated actor", e.Permission)
	}
	return fmt.Sprintf("actor %s lacks permission %s", e.ActorID, e.Permission)
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleBidder Role = "bidder"
)

const (
	PermBidHire          = "bid.hire"
	PermBidReject        = "bid.reject"
	PermBidCounter       = "bid.counter"
	PermBidAcceptCounter = "bid.accept_counter"
	PermBidList          = "bid.list"
	PermGigAdmins        = "gig.admins"
	PermGigComplete      = "gig.complete"
	PermGigDelete        = "gig.delete"
)

// DefaultPolicy maps each permission to the roles that hold it. Owners and
// gig admins manage bids; only owners manage the gig itself.
var DefaultPolicy = map[string][]Role{
	PermBidHire:          {RoleOwner, RoleAdmin},
	PermBidReject:        {RoleOwner, RoleAdmin},
	PermBidCounter:       {RoleOwner, RoleAdmin},
	PermBidList:          {RoleOwner, RoleAdmin},
	PermBidAcceptCounter: {RoleBidder},
	PermGigAdmins:        {RoleOwner},
	PermGigComplete:      {RoleOwner},
	PermGigDelete:        {RoleOwner},
}

// notOnOwnBid lists permissions an actor never holds on a bid they placed,
// whatever other role they have on the gig.
var notOnOwnBid = map[string]bool{
	PermBidHire:    true,
	PermBidCounter: true,
}

// Service resolves an actor's roles on a gig from the gig record itself.
type Service struct {
	Policy map[string][]Role
}

// Roles lists the actor's roles on the gig, and on the bid when given.
func (s Service) Roles(gig domain.Gig, bid *domain.Bid, actorID string) []Role {
	if actorID == "" {
		return nil
	}
	var roles []Role
	if gig.OwnerID == actorID {
		roles = append(roles, RoleOwner)
	}
	if gig.IsAdmin(actorID) {
		roles = append(roles, RoleAdmin)
	}
	if bid != nil && bid.BidderID == actorID {
		roles = append(roles, RoleBidder)
	}
	return roles
}

func (s Service) ActorHasPermission(gig domain.Gig, bid *domain.Bid, actorID, perm string) bool {
	policy := s.Policy
	if policy == nil {
		policy = DefaultPolicy
	}
	if bid != nil && bid.BidderID == actorID && notOnOwnBid[perm] {
		return false
	}
	allowed := policy[perm]
	for _, r := range s.Roles(gig, bid, actorID) {
		if slices.Contains(allowed, r) {
			return true
		}
	}
	return false
}

// Authorize returns ForbiddenError unless the actor holds perm.
func (s Service) Authorize(gig domain.Gig, bid *domain.Bid, actorID, perm string) error {
	if !s.ActorHasPermission(gig, bid, actorID, perm) {
		return ForbiddenError{Permission: perm, ActorID: actorID}
	}
	return nil
}
