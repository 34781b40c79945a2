// Package live owns the per-bus current position records and the status
// classification derived from them. All mutations on one bus serialize on
// that bus's lock; buses never share a lock.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"schoolbus-tracking-backend/config"
	"schoolbus-tracking-backend/internal/geo"
	"schoolbus-tracking-backend/internal/metrics"
	"schoolbus-tracking-backend/internal/model"
	"schoolbus-tracking-backend/internal/notification"
)

var (
	// ErrValidation marks a malformed position report. State is untouched.
	ErrValidation = errors.New("invalid position report")
	// ErrNotFound marks an unknown bus.
	ErrNotFound = errors.New("bus not found")
)

// Notifier receives fire-and-forget events. A delivery failure never rolls
// back the state mutation that produced it.
type Notifier interface {
	Dispatch(evt notification.Event)
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// Store holds one live record per bus and appends every ingested report to
// the position history table.
type Store struct {
	cfg      config.TrackingConfig
	db       *gorm.DB
	busRef   BusRef
	notifier Notifier

	mu    sync.RWMutex
	buses map[string]*entry
	// passenger counts reported before the bus's first position
	pending map[string]int

	tripMu sync.RWMutex
	trips  TripContext
}

// NewStore creates a live position store.
func NewStore(cfg config.TrackingConfig, db *gorm.DB, busRef BusRef, notifier Notifier) *Store {
	return &Store{
		cfg:      cfg,
		db:       db,
		busRef:   busRef,
		notifier: notifier,
		buses:    make(map[string]*entry),
		pending:  make(map[string]int),
	}
}

// SetTripContext wires in the trip state machine. Must be called before
// traffic; kept out of the constructor to break the package cycle.
func (s *Store) SetTripContext(tc TripContext) {
	s.tripMu.Lock()
	s.trips = tc
	s.tripMu.Unlock()
}

func (s *Store) activeTrip(busID string) (TripInfo, bool) {
	s.tripMu.RLock()
	tc := s.trips
	s.tripMu.RUnlock()
	if tc == nil {
		return TripInfo{}, false
	}
	return tc.ActiveTrip(busID)
}

// Ingest validates and applies one position report, returning the updated
// record. On the transition into arrived it tags the history entry and
// dispatches an arrival event; same for the transition into delayed.
func (s *Store) Ingest(ctx context.Context, busID string, rep Report) (Record, error) {
	if err := validate(rep); err != nil {
		metrics.PositionsRejected.Inc()
		return Record{}, err
	}

	driverID, routeID, err := s.busRef.BusAssignment(ctx, busID)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	trip, hasTrip := s.activeTrip(busID)
	status := s.classify(rep, now, trip, hasTrip)

	e := s.entryFor(busID)

	e.mu.Lock()
	prev := e.rec.Status
	firstReport := e.rec.BusID == ""
	passengers := e.rec.PassengersCount
	if firstReport {
		s.mu.Lock()
		passengers = s.pending[busID]
		delete(s.pending, busID)
		s.mu.Unlock()
	}

	rec := Record{
		BusID: busID,
		Position: Position{
			Lat:        rep.Lat,
			Lng:        rep.Lng,
			SpeedKmh:   rep.SpeedKmh,
			HeadingDeg: rep.HeadingDeg,
			AccuracyM:  rep.AccuracyM,
			CapturedAt: rep.CapturedAt,
		},
		DriverID:        driverID,
		RouteID:         routeID,
		Status:          status,
		PassengersCount: passengers,
		LastUpdateAt:    now,
	}
	if status == StatusArrived {
		if prev == StatusArrived {
			rec.ArrivedAt = e.rec.ArrivedAt
		} else {
			rec.ArrivedAt = &now
		}
	}
	e.rec = rec
	e.mu.Unlock()

	eventType := transitionEvent(prev, status)
	if err := s.appendHistory(ctx, rec, eventType); err != nil {
		// The live record is already updated; history is best-effort but loud.
		log.Error().Err(err).Str("bus", busID).Msg("failed to append position history")
	}

	if prev != status {
		metrics.StatusTransitions.WithLabelValues(string(status)).Inc()
		s.notifyTransition(busID, prev, status)
	}
	metrics.PositionsIngested.Inc()

	return rec, nil
}

// Get returns the current record for a bus.
func (s *Store) Get(busID string) (Record, error) {
	s.mu.RLock()
	e, ok := s.buses[busID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, busID)
	}
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec.BusID == "" {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, busID)
	}
	return rec, nil
}

// GetAll returns a snapshot of every live record. Each record is copied
// under its own lock so no caller observes a mid-update state.
func (s *Store) GetAll() []Record {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.buses))
	for _, e := range s.buses {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rec := e.rec
		e.mu.Unlock()
		if rec.BusID != "" {
			records = append(records, rec)
		}
	}
	return records
}

// SetPassengers updates the live passenger count for a bus. Called by the
// trip state machine on every roster mutation.
func (s *Store) SetPassengers(busID string, count int) {
	s.mu.RLock()
	e, ok := s.buses[busID]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		s.pending[busID] = count
		s.mu.Unlock()
		return
	}
	e.mu.Lock()
	e.rec.PassengersCount = count
	e.mu.Unlock()
}

// HistoryForDay returns the archived reports of a bus for one day, oldest
// first. Pure query: no cursor state survives the call.
func (s *Store) HistoryForDay(ctx context.Context, busID, day string) ([]model.PositionHistory, error) {
	var rows []model.PositionHistory
	err := s.db.WithContext(ctx).
		Where("bus_id = ? AND day = ?", busID, day).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query position history for bus %s: %w", busID, err)
	}
	return rows, nil
}

func (s *Store) entryFor(busID string) *entry {
	s.mu.RLock()
	e, ok := s.buses[busID]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.buses[busID]; ok {
		return e
	}
	e = &entry{}
	s.buses[busID] = e
	return e
}

// classify applies the status rules in order, first match wins.
func (s *Store) classify(rep Report, now time.Time, trip TripInfo, hasTrip bool) Status {
	// 1. A report that is itself stale means the feed has gone quiet.
	if now.Sub(rep.CapturedAt) > s.cfg.Staleness {
		return StatusIdle
	}
	// 2. Explicit arrival signal, or geofence hit on the trip destination.
	if rep.Arrived {
		return StatusArrived
	}
	if hasTrip && geo.DistanceKm(rep.Lat, rep.Lng, trip.DestLat, trip.DestLng) <= s.cfg.ArrivalRadiusKm {
		return StatusArrived
	}
	// 3. Crawling or stationary. Zero speed alone never means arrived.
	if rep.SpeedKmh < 1 {
		return StatusStopped
	}
	// 4. Projected arrival beyond the expected one by more than the
	// threshold.
	if hasTrip && !trip.ExpectedArrival.IsZero() {
		eta := geo.ETAMinutes(rep.Lat, rep.Lng, trip.DestLat, trip.DestLng, rep.SpeedKmh, s.cfg.ETAFloorSpeedKmh)
		projected := now.Add(time.Duration(eta * float64(time.Minute)))
		if projected.Sub(trip.ExpectedArrival) > s.cfg.DelayThreshold {
			return StatusDelayed
		}
	}
	// 5.
	return StatusEnRoute
}

func validate(rep Report) error {
	if !geo.ValidCoordinates(rep.Lat, rep.Lng) {
		return fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrValidation, rep.Lat, rep.Lng)
	}
	if rep.SpeedKmh < 0 {
		return fmt.Errorf("%w: negative speed %f", ErrValidation, rep.SpeedKmh)
	}
	if rep.CapturedAt.IsZero() {
		return fmt.Errorf("%w: missing capture timestamp", ErrValidation)
	}
	return nil
}

// transitionEvent tags the history entry for meaningful edges.
func transitionEvent(prev, next Status) *string {
	if prev == next {
		return nil
	}
	var evt string
	switch {
	case next == StatusArrived:
		evt = model.EventArrival
	case next == StatusStopped:
		evt = model.EventStop
	case next == StatusEnRoute && (prev == StatusStopped || prev == StatusArrived || prev == StatusIdle):
		evt = model.EventDeparture
	default:
		return nil
	}
	return &evt
}

func (s *Store) appendHistory(ctx context.Context, rec Record, eventType *string) error {
	row := model.PositionHistory{
		BusID:      rec.BusID,
		Day:        rec.Position.CapturedAt.UTC().Format("2006-01-02"),
		Lat:        rec.Position.Lat,
		Lng:        rec.Position.Lng,
		SpeedKmh:   rec.Position.SpeedKmh,
		HeadingDeg: rec.Position.HeadingDeg,
		AccuracyM:  rec.Position.AccuracyM,
		CapturedAt: rec.Position.CapturedAt,
		RecordedAt: rec.Position.CapturedAt,
		EventType:  eventType,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) notifyTransition(busID string, prev, next Status) {
	if s.notifier == nil {
		return
	}
	switch next {
	case StatusArrived:
		s.notifier.Dispatch(notification.Event{
			Kind:    notification.KindArrivalAtSchool,
			BusID:   busID,
			Title:   "Bus arrived",
			Message: fmt.Sprintf("Bus %s has arrived at its destination", busID),
		})
	case StatusDelayed:
		s.notifier.Dispatch(notification.Event{
			Kind:    notification.KindDelayDetected,
			BusID:   busID,
			Title:   "Bus delayed",
			Message: fmt.Sprintf("Bus %s is running behind schedule", busID),
		})
	}
}
