package models

import (
	"sort"

	"github.com/google/uuid"
)

// Roles recognised on an actor's token
const (
	RoleSpecial = "special" // extended advance-booking window
	RoleAdmin   = "admin"   // may edit or delete any reservation
)

// Actor is whoever submits a booking request
type Actor struct {
	UserID     *uuid.UUID // nil for anonymous bookings
	Special    bool
	Privileged bool
}

// AnonymousActor is an unauthenticated requester
var AnonymousActor = Actor{}

// NewActor builds an actor from a user id and token roles
func NewActor(userID uuid.UUID, roles []string) Actor {
	actor := Actor{UserID: &userID}
	for _, role := range roles {
		switch role {
		case RoleSpecial:
			actor.Special = true
		case RoleAdmin:
			actor.Privileged = true
		}
	}
	return actor
}

// IsAnonymous reports whether the actor has no user identity
func (a Actor) IsAnonymous() bool {
	return a.UserID == nil
}

// SlotSelections maps each requested date to the slot template ids chosen on it
type SlotSelections map[Date][]uuid.UUID

// Dates returns the selected dates in ascending order
func (s SlotSelections) Dates() []Date {
	dates := make([]Date, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	SortDates(dates)
	return dates
}

// Count returns the number of (date, slot) pairs
func (s SlotSelections) Count() int {
	n := 0
	for _, ids := range s {
		n += len(ids)
	}
	return n
}

// Targets flattens the selections into slot keys for a location, ordered by
// date then slot id and with duplicates removed
func (s SlotSelections) Targets(locationID uuid.UUID) []SlotKey {
	seen := make(map[SlotKey]bool)
	var keys []SlotKey
	for _, d := range s.Dates() {
		ids := append([]uuid.UUID(nil), s[d]...)
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		for _, id := range ids {
			key := SlotKey{LocationID: locationID, TimeSlotID: id, Date: d}
			if seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// BookingRequest is the unit of work the orchestrator consumes
type BookingRequest struct {
	LocationID         uuid.UUID      `json:"location_id" binding:"required"`
	MultiDate          bool           `json:"multi_date"`
	Selections         SlotSelections `json:"selections"`
	Customer           CustomerInfo   `json:"customer"`
	Notes              string         `json:"notes"`
	Edit               bool           `json:"edit"`
	EditReservationIDs []uuid.UUID    `json:"edit_reservation_ids"`
	DeselectedIDs      []uuid.UUID    `json:"deselected_ids"`
}

// DeleteGroupRequest removes every reservation of a group
type DeleteGroupRequest struct {
	ReservationIDs []uuid.UUID `json:"reservation_ids" binding:"required,min=1"`
}
