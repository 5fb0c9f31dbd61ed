package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/database"
	"github.com/slotworks/booking-engine/internal/events"
	"github.com/slotworks/booking-engine/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memStore is an in-memory CatalogStore and ReservationStore. Transactions are
// serialized and roll back to a snapshot on error; the active-slot uniqueness
// check mirrors the partial unique index.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	locations    map[uuid.UUID]*models.Location
	templates    []models.TimeSlotTemplate
	reservations map[uuid.UUID]models.Reservation

	failTx      error // returned by WithinTx before fn runs
	failDelete  error // returned by DeletePending
	deletedPend int
}

func newMemStore() *memStore {
	return &memStore{
		locations:    make(map[uuid.UUID]*models.Location),
		reservations: make(map[uuid.UUID]models.Reservation),
	}
}

func (m *memStore) addLocation(name string, pricePer30 int64) *models.Location {
	loc := &models.Location{
		ID:         uuid.New(),
		Name:       name,
		Capacity:   10,
		PricePer30: pricePer30,
		Currency:   "JPY",
		IsActive:   true,
	}
	m.locations[loc.ID] = loc
	return loc
}

func (m *memStore) addSlot(start, end models.TimeOfDay) models.TimeSlotTemplate {
	slot := models.TimeSlotTemplate{ID: uuid.New(), StartTime: start, EndTime: end, IsActive: true}
	m.templates = append(m.templates, slot)
	return slot
}

func (m *memStore) put(r models.Reservation) models.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = models.ReservationStatusConfirmed
	}
	m.reservations[r.ID] = r
	return r
}

// backdate moves a reservation's creation time into the past
func (m *memStore) backdate(id uuid.UUID, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reservations[id]
	r.CreatedAt = r.CreatedAt.Add(-by)
	m.reservations[id] = r
}

func (m *memStore) get(id uuid.UUID) (models.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	return r, ok
}

// active returns every active reservation ordered by date then slot
func (m *memStore) active() []models.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reservation
	for _, r := range m.reservations {
		if r.Status.IsActive() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TimeSlotID.String() < out[j].TimeSlotID.String()
	})
	return out
}

func (m *memStore) template(id uuid.UUID) *models.TimeSlotTemplate {
	for i := range m.templates {
		if m.templates[i].ID == id {
			return &m.templates[i]
		}
	}
	return nil
}

func (m *memStore) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	loc, ok := m.locations[id]
	if !ok {
		return nil, nil
	}
	copied := *loc
	return &copied, nil
}

func (m *memStore) ActiveLocations(ctx context.Context) ([]models.Location, error) {
	var out []models.Location
	for _, loc := range m.locations {
		if loc.IsActive {
			out = append(out, *loc)
		}
	}
	return out, nil
}

func (m *memStore) ActiveSlotTemplates(ctx context.Context) ([]models.TimeSlotTemplate, error) {
	var out []models.TimeSlotTemplate
	for _, t := range m.templates {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveByLocationDates(ctx context.Context, locationID uuid.UUID, dates []models.Date) ([]models.Reservation, error) {
	wanted := make(map[models.Date]bool, len(dates))
	for _, d := range dates {
		wanted[d] = true
	}
	var out []models.Reservation
	for _, r := range m.active() {
		if r.LocationID == locationID && wanted[r.Date] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListDetails(ctx context.Context, filter models.ReservationFilter) ([]models.ReservationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReservationDetail
	for _, r := range m.reservations {
		if filter.CreatedBy != nil && !r.OwnedBy(filter.CreatedBy) {
			continue
		}
		if filter.LocationID != nil && r.LocationID != *filter.LocationID {
			continue
		}
		if filter.From != nil && r.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.Date.After(*filter.To) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
			continue
		}
		out = append(out, m.detail(r))
	}
	return out, nil
}

func (m *memStore) GetDetail(ctx context.Context, id uuid.UUID) (*models.ReservationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, nil
	}
	detail := m.detail(r)
	return &detail, nil
}

func (m *memStore) detail(r models.Reservation) models.ReservationDetail {
	detail := models.ReservationDetail{Reservation: r}
	if loc, ok := m.locations[r.LocationID]; ok {
		detail.LocationName = loc.Name
	}
	if t := m.template(r.TimeSlotID); t != nil {
		detail.StartTime = t.StartTime
		detail.EndTime = t.EndTime
	}
	return detail
}

func (m *memStore) HasActiveReservation(ctx context.Context, locationID uuid.UUID, date models.Date, createdBy uuid.UUID) (bool, error) {
	for _, r := range m.active() {
		if r.LocationID == locationID && r.Date == date && r.OwnedBy(&createdBy) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeletePending(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if m.failDelete != nil {
		return 0, m.failDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if r, ok := m.reservations[id]; ok && r.Status == models.ReservationStatusPending {
			delete(m.reservations, id)
			n++
		}
	}
	m.deletedPend += int(n)
	return n, nil
}

func (m *memStore) WithinTx(ctx context.Context, fn func(tx database.ReservationTx) error) error {
	if m.failTx != nil {
		return m.failTx
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := make(map[uuid.UUID]models.Reservation, len(m.reservations))
	for id, r := range m.reservations {
		snapshot[id] = r
	}
	m.mu.Unlock()

	if err := fn(&memTx{store: m}); err != nil {
		m.mu.Lock()
		m.reservations = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// slotHeld reports whether another active reservation occupies key. Caller holds mu.
func (m *memStore) slotHeld(key models.SlotKey, except uuid.UUID) bool {
	for _, r := range m.reservations {
		if r.ID != except && r.Status.IsActive() && r.SlotKey() == key {
			return true
		}
	}
	return false
}

func containsStatus(statuses []models.ReservationStatus, s models.ReservationStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

type memTx struct {
	store *memStore
}

func (t *memTx) DeleteOwned(ctx context.Context, ids []uuid.UUID, owner *uuid.UUID) ([]uuid.UUID, error) {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []uuid.UUID
	for _, id := range ids {
		r, ok := m.reservations[id]
		if !ok || (owner != nil && !r.OwnedBy(owner)) {
			continue
		}
		delete(m.reservations, id)
		deleted = append(deleted, id)
	}
	return deleted, nil
}

func (t *memTx) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Reservation, error) {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reservation
	for _, id := range ids {
		if r, ok := m.reservations[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) LockActiveSlot(ctx context.Context, key models.SlotKey) (*models.Reservation, error) {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.Status.IsActive() && r.SlotKey() == key {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) Insert(ctx context.Context, r *models.Reservation) error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Status.IsActive() && m.slotHeld(r.SlotKey(), r.ID) {
		return database.ErrSlotTaken
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.reservations[r.ID] = *r
	return nil
}

func (t *memTx) Update(ctx context.Context, r *models.Reservation) error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.reservations[r.ID]
	if !ok {
		return nil
	}
	if existing.Status.IsActive() && m.slotHeld(r.SlotKey(), r.ID) {
		return database.ErrSlotTaken
	}
	existing.LocationID = r.LocationID
	existing.TimeSlotID = r.TimeSlotID
	existing.Date = r.Date
	existing.CustomerInfo = r.CustomerInfo
	existing.Notes = r.Notes
	existing.UpdatedAt = time.Now()
	m.reservations[r.ID] = existing
	return nil
}

// memIntentStore is an in-memory PaymentIntentStore that flips reservations in
// the linked memStore on finalize
type memIntentStore struct {
	mu      sync.Mutex
	intents map[uuid.UUID]*models.PaymentIntent
	store   *memStore

	failCreate error
}

func newMemIntentStore(store *memStore) *memIntentStore {
	return &memIntentStore{intents: make(map[uuid.UUID]*models.PaymentIntent), store: store}
}

func (s *memIntentStore) Create(ctx context.Context, intent *models.PaymentIntent) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	intent.ID = uuid.New()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	intent.UpdatedAt = intent.CreatedAt
	copied := *intent
	s.intents[intent.ID] = &copied
	return nil
}

func (s *memIntentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, nil
	}
	copied := *intent
	return &copied, nil
}

func (s *memIntentStore) FindByOrderReference(ctx context.Context, ref string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, intent := range s.intents {
		if intent.GatewayOrderID == ref || intent.OrderID == ref {
			copied := *intent
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memIntentStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentIntent
	for _, intent := range s.intents {
		if intent.Status == models.PaymentIntentPending && intent.CreatedAt.Before(cutoff) {
			out = append(out, *intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memIntentStore) Finalize(ctx context.Context, intentID uuid.UUID, status models.PaymentIntentStatus, gatewayPaymentID string) (*models.PaymentIntent, bool, error) {
	if !status.IsFinal() {
		return nil, false, errors.New("target status must be final")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, false, nil
	}
	if intent.Status.IsFinal() {
		copied := *intent
		return &copied, false, nil
	}

	now := time.Now()
	intent.Status = status
	intent.UpdatedAt = now
	intent.FinalizedAt = &now
	if gatewayPaymentID != "" {
		intent.GatewayPaymentID = &gatewayPaymentID
	}

	if s.store != nil {
		s.store.mu.Lock()
		for _, id := range intent.ReservationIDs {
			if r, ok := s.store.reservations[id]; ok && r.Status == models.ReservationStatusPending {
				r.Status = status.ReservationOutcome()
				s.store.reservations[id] = r
			}
		}
		s.store.mu.Unlock()
	}

	copied := *intent
	return &copied, true, nil
}

func (s *memIntentStore) CancelOrphanedReservations(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	covered := make(map[uuid.UUID]bool)
	for _, intent := range s.intents {
		if intent.Status != models.PaymentIntentPending {
			continue
		}
		for _, id := range intent.ReservationIDs {
			covered[id] = true
		}
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var cancelled []uuid.UUID
	for id, r := range s.store.reservations {
		if limit > 0 && len(cancelled) >= limit {
			break
		}
		if r.Status != models.ReservationStatusPending || !r.CreatedAt.Before(cutoff) || covered[id] {
			continue
		}
		r.Status = models.ReservationStatusCancelled
		s.store.reservations[id] = r
		cancelled = append(cancelled, id)
	}
	return cancelled, nil
}

// age backdates an intent's creation time
func (s *memIntentStore) age(id uuid.UUID, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[id].CreatedAt = s.intents[id].CreatedAt.Add(-by)
}

// fakeGateway is a scripted PaymentGateway
type fakeGateway struct {
	mu       sync.Mutex
	linkErr  error
	status   GatewayPaymentStatus
	amount   string
	checkErr error
	links    []LinkRequest
	checks   []string
}

func (g *fakeGateway) CreateLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.links = append(g.links, req)
	if g.linkErr != nil {
		return nil, g.linkErr
	}
	return &LinkResult{
		LinkID:         "link-" + req.OrderID,
		LinkURL:        "https://pay.example.test/" + req.OrderID,
		GatewayOrderID: "GW-" + req.OrderID,
	}, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, orderRef string) (*OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks = append(g.checks, orderRef)
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	if g.status == "" {
		return &OrderStatus{Status: GatewayStatusPending}, nil
	}
	return &OrderStatus{Status: g.status, Amount: g.amount}, nil
}

func (g *fakeGateway) Name() string { return "fake" }

// memAudit collects audit entries
type memAudit struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (a *memAudit) Log(ctx context.Context, audit *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, audit)
	return nil
}

func (a *memAudit) ofType(eventType models.PaymentEventType) []*models.PaymentAudit {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.PaymentAudit
	for _, e := range a.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
