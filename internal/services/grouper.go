package services

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/slotworks/booking-engine/internal/models"
)

// MergeToleranceSeconds is how far apart two slots may be and still count as consecutive
const MergeToleranceSeconds = 60

// GroupStatusMixed is reported when members of a group disagree on status
const GroupStatusMixed = "mixed"

// Group is a run of time-adjacent reservations for one customer at one location on one date.
// Edit and delete operations target the whole group through ReservationIDs.
type Group struct {
	Date           models.Date      `json:"date"`
	LocationID     uuid.UUID        `json:"location_id"`
	LocationName   string           `json:"location_name"`
	CustomerName   string           `json:"customer_name"`
	CustomerEmail  string           `json:"customer_email"`
	CustomerPhone  string           `json:"customer_phone"`
	Status         string           `json:"status"`
	Notes          string           `json:"notes"`
	ReservationIDs []uuid.UUID      `json:"reservation_ids"`
	StartTime      models.TimeOfDay `json:"start_time"`
	EndTime        models.TimeOfDay `json:"end_time"`
}

type partitionKey struct {
	date       models.Date
	locationID uuid.UUID
	email      string
}

// GroupReservations merges consecutive reservations into groups.
// Groups come back ordered by date descending, then start time, location and customer.
func GroupReservations(reservations []models.ReservationDetail) []Group {
	partitions := make(map[partitionKey][]models.ReservationDetail)
	for _, r := range reservations {
		key := partitionKey{date: r.Date, locationID: r.LocationID, email: strings.ToLower(r.Email)}
		partitions[key] = append(partitions[key], r)
	}

	var groups []Group
	for _, members := range partitions {
		sort.Slice(members, func(i, j int) bool {
			if members[i].StartTime != members[j].StartTime {
				return members[i].StartTime < members[j].StartTime
			}
			return members[i].ID.String() < members[j].ID.String()
		})

		current := newGroup(members[0])
		for _, r := range members[1:] {
			if consecutive(current.EndTime, r.StartTime) {
				current.add(r)
				continue
			}
			groups = append(groups, current)
			current = newGroup(r)
		}
		groups = append(groups, current)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Date != b.Date {
			return a.Date.After(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.LocationID != b.LocationID {
			return a.LocationID.String() < b.LocationID.String()
		}
		return strings.ToLower(a.CustomerEmail) < strings.ToLower(b.CustomerEmail)
	})
	return groups
}

func consecutive(prevEnd, nextStart models.TimeOfDay) bool {
	gap := int(nextStart) - int(prevEnd)
	if gap < 0 {
		gap = -gap
	}
	return gap <= MergeToleranceSeconds
}

func newGroup(r models.ReservationDetail) Group {
	return Group{
		Date:           r.Date,
		LocationID:     r.LocationID,
		LocationName:   r.LocationName,
		CustomerName:   r.Name,
		CustomerEmail:  r.Email,
		CustomerPhone:  r.Phone,
		Status:         string(r.Status),
		Notes:          r.Notes,
		ReservationIDs: []uuid.UUID{r.ID},
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
	}
}

func (g *Group) add(r models.ReservationDetail) {
	g.ReservationIDs = append(g.ReservationIDs, r.ID)
	g.EndTime = r.EndTime
	if g.Status != string(r.Status) {
		g.Status = GroupStatusMixed
	}
	if g.Notes == "" {
		g.Notes = r.Notes
	}
}
