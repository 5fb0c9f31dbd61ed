package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus represents the lifecycle state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"   // awaiting payment
	ReservationStatusConfirmed ReservationStatus = "confirmed" // binding
	ReservationStatusCancelled ReservationStatus = "cancelled" // payment failed, timed out or cancelled
)

// ActiveReservationStatuses are the statuses that hold a slot
var ActiveReservationStatuses = []ReservationStatus{
	ReservationStatusPending,
	ReservationStatusConfirmed,
}

// IsActive reports whether the status holds its slot
func (s ReservationStatus) IsActive() bool {
	return s == ReservationStatusPending || s == ReservationStatusConfirmed
}

// CustomerInfo is the contact identity a reservation is made for
type CustomerInfo struct {
	Name  string `json:"name" db:"customer_name" validate:"required,max=100"`
	Email string `json:"email" db:"customer_email" validate:"required,email"`
	Phone string `json:"phone" db:"customer_phone" validate:"required,contact_phone"`
}

// Reservation is one (location, slot template, date) booking
type Reservation struct {
	CustomerInfo
	ID         uuid.UUID         `json:"id" db:"id"`
	LocationID uuid.UUID         `json:"location_id" db:"location_id"`
	TimeSlotID uuid.UUID         `json:"time_slot_id" db:"time_slot_id"`
	Date       Date              `json:"date" db:"date"`
	CreatedBy  *uuid.UUID        `json:"created_by,omitempty" db:"created_by"`
	Status     ReservationStatus `json:"status" db:"status"`
	Notes      string            `json:"notes" db:"notes"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// OwnedBy reports whether the reservation was created by userID.
// Anonymous reservations are owned by nobody.
func (r *Reservation) OwnedBy(userID *uuid.UUID) bool {
	return r.CreatedBy != nil && userID != nil && *r.CreatedBy == *userID
}

// SlotKey identifies the slot a reservation occupies
func (r *Reservation) SlotKey() SlotKey {
	return SlotKey{LocationID: r.LocationID, TimeSlotID: r.TimeSlotID, Date: r.Date}
}

// SlotKey is the (location, slot template, date) triple at most one active reservation may hold
type SlotKey struct {
	LocationID uuid.UUID
	TimeSlotID uuid.UUID
	Date       Date
}

// ReservationDetail is a reservation joined with its slot window and location name
type ReservationDetail struct {
	Reservation
	LocationName string    `json:"location_name" db:"location_name"`
	StartTime    TimeOfDay `json:"start_time" db:"start_time"`
	EndTime      TimeOfDay `json:"end_time" db:"end_time"`
}

// ReservationFilter narrows reservation listings
type ReservationFilter struct {
	CreatedBy  *uuid.UUID
	LocationID *uuid.UUID
	From       *Date
	To         *Date
	Statuses   []ReservationStatus
	Limit      int // applies to groups, not rows
}
