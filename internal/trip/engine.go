// Package trip owns the per-bus active trip and its authoritative boarding
// roster. Scan and unscan events mutate the roster under a per-bus lock so
// duplicate checks and set updates stay atomic together; retried scans are
// idempotent by design, since flaky mobile connectivity resubmits them.
package trip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"schoolbus-tracking-backend/internal/live"
	"schoolbus-tracking-backend/internal/metrics"
	"schoolbus-tracking-backend/internal/model"
	"schoolbus-tracking-backend/internal/notification"
	"schoolbus-tracking-backend/internal/refdata"
	"schoolbus-tracking-backend/internal/routes"
)

const dateLayout = "2006-01-02"

var (
	// ErrValidation marks malformed scan input.
	ErrValidation = errors.New("invalid scan input")
	// ErrAlreadyActive means the bus already has an active trip.
	ErrAlreadyActive = errors.New("trip already active for bus")
	// ErrNoActiveTrip means the operation needs an active trip and none exists.
	ErrNoActiveTrip = errors.New("no active trip for bus")
	// ErrNotAssigned means the student is not on the expected roster.
	ErrNotAssigned = errors.New("student not assigned to this trip")
	// ErrNotFound marks an unknown student or a missing scan to reverse.
	ErrNotFound = errors.New("not found")
)

// PassengerSink receives live passenger count updates. Implemented by the
// live position store.
type PassengerSink interface {
	SetPassengers(busID string, count int)
}

// Notifier receives fire-and-forget events.
type Notifier interface {
	Dispatch(evt notification.Event)
}

// ScanSummary is the denormalized latest scan shown on driver dashboards.
type ScanSummary struct {
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
}

// State is a consistent snapshot of one bus's active trip.
type State struct {
	BusID             string          `json:"busId"`
	RouteID           string          `json:"routeId"`
	TripType          routes.TripType `json:"tripType"`
	StartedAt         time.Time       `json:"startedAt"`
	ScannedStudentIDs []string        `json:"scannedStudentIds"`
	TotalStudentCount int             `json:"totalStudentCount"`
	ExpectedArrival   time.Time       `json:"expectedArrival,omitempty"`
	LastScan          *ScanSummary    `json:"lastScan,omitempty"`
}

// NextStudent identifies the lowest-stop-order unscanned student.
type NextStudent struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	StopOrder   int    `json:"stopOrder"`
}

// ScanInput is one boarding or alighting scan from a driver device.
type ScanInput struct {
	StudentID string
	BusID     string
	Date      string // YYYY-MM-DD
	Type      string
	DriverID  string
	Lat       *float64
	Lng       *float64
}

// UnscanInput compensates a mis-scan.
type UnscanInput struct {
	StudentID string
	BusID     string
	Date      string // YYYY-MM-DD
	DriverID  string
}

type tripState struct {
	mu sync.Mutex

	routeID         string
	tripType        routes.TripType
	startedAt       time.Time
	destLat         float64
	destLng         float64
	expectedArrival time.Time

	stopOrder map[string]routes.Stop // expected roster, keyed by student
	scanned   map[string]struct{}
	lastScan  *ScanSummary
}

// Engine is the trip and attendance state machine for the whole fleet.
// Cross-bus operations are independent; same-bus operations serialize on
// the trip's lock.
type Engine struct {
	db         *gorm.DB
	routes     routes.Provider
	refdata    *refdata.Provider
	passengers PassengerSink
	notifier   Notifier

	mu    sync.RWMutex
	trips map[string]*tripState
}

// NewEngine creates the trip state machine.
func NewEngine(db *gorm.DB, routeProvider routes.Provider, ref *refdata.Provider, passengers PassengerSink, notifier Notifier) *Engine {
	return &Engine{
		db:         db,
		routes:     routeProvider,
		refdata:    ref,
		passengers: passengers,
		notifier:   notifier,
		trips:      make(map[string]*tripState),
	}
}

// ActiveTrip implements live.TripContext for arrival and delay detection.
func (e *Engine) ActiveTrip(busID string) (live.TripInfo, bool) {
	e.mu.RLock()
	st, ok := e.trips[busID]
	e.mu.RUnlock()
	if !ok {
		return live.TripInfo{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.routeID == "" {
		// still being started
		return live.TripInfo{}, false
	}
	return live.TripInfo{
		RouteID:         st.routeID,
		DestLat:         st.destLat,
		DestLng:         st.destLng,
		ExpectedArrival: st.expectedArrival,
	}, true
}

// StartRoute begins a trip for the bus with an empty roster of scans. The
// expected roster and destination come from the route provider.
func (e *Engine) StartRoute(ctx context.Context, busID, routeID string, tripType routes.TripType) (State, error) {
	st := &tripState{}
	st.mu.Lock()

	e.mu.Lock()
	if _, exists := e.trips[busID]; exists {
		e.mu.Unlock()
		return State{}, fmt.Errorf("%w: %s", ErrAlreadyActive, busID)
	}
	e.trips[busID] = st
	e.mu.Unlock()

	roster, err := e.routes.Roster(ctx, routeID, tripType)
	if err != nil {
		st.mu.Unlock()
		e.removeTrip(busID, st)
		return State{}, err
	}

	now := time.Now().UTC()
	st.routeID = routeID
	st.tripType = tripType
	st.startedAt = now
	st.destLat = roster.DestLat
	st.destLng = roster.DestLng
	if roster.PlannedDuration > 0 {
		st.expectedArrival = now.Add(roster.PlannedDuration)
	}
	st.stopOrder = make(map[string]routes.Stop, len(roster.Stops))
	for _, stop := range roster.Stops {
		st.stopOrder[stop.StudentID] = stop
	}
	st.scanned = make(map[string]struct{})
	snapshot := st.snapshot(busID)
	st.mu.Unlock()

	e.passengers.SetPassengers(busID, 0)
	log.Info().Str("bus", busID).Str("route", routeID).Str("trip_type", string(tripType)).
		Int("roster", snapshot.TotalStudentCount).Msg("route started")
	return snapshot, nil
}

// StopRoute ends the bus's active trip and returns the terminal snapshot.
// The attendance records of the day stay queryable afterwards.
func (e *Engine) StopRoute(ctx context.Context, busID string) (State, error) {
	e.mu.Lock()
	st, ok := e.trips[busID]
	if ok {
		delete(e.trips, busID)
	}
	e.mu.Unlock()
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrNoActiveTrip, busID)
	}

	st.mu.Lock()
	snapshot := st.snapshot(busID)
	st.mu.Unlock()

	e.passengers.SetPassengers(busID, 0)
	log.Info().Str("bus", busID).Str("route", snapshot.RouteID).
		Int("scanned", len(snapshot.ScannedStudentIDs)).Msg("route stopped")
	return snapshot, nil
}

// ScanStudent records a boarding or alighting scan. Re-scanning the same
// student, type and date returns the existing record instead of erroring,
// so driver-device retries collapse harmlessly.
func (e *Engine) ScanStudent(ctx context.Context, in ScanInput) (model.AttendanceRecord, error) {
	if err := validateScan(in.StudentID, in.BusID, in.Date, in.DriverID); err != nil {
		return model.AttendanceRecord{}, err
	}
	if in.Type != model.ScanBoarding && in.Type != model.ScanAlighting {
		return model.AttendanceRecord{}, fmt.Errorf("%w: unknown scan type %q", ErrValidation, in.Type)
	}

	student, err := e.refdata.Student(ctx, in.StudentID)
	if err != nil {
		if errors.Is(err, refdata.ErrNotFound) {
			return model.AttendanceRecord{}, fmt.Errorf("%w: student %s", ErrNotFound, in.StudentID)
		}
		return model.AttendanceRecord{}, err
	}

	st, err := e.activeState(in.BusID)
	if err != nil {
		return model.AttendanceRecord{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, onRoster := st.stopOrder[in.StudentID]; !onRoster {
		return model.AttendanceRecord{}, fmt.Errorf("%w: student %s, bus %s", ErrNotAssigned, in.StudentID, in.BusID)
	}

	// Duplicate check and insert run inside the per-bus critical section so
	// concurrent retries can never both pass the check.
	var record model.AttendanceRecord
	var duplicate bool
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("student_id = ? AND date = ? AND type = ? AND reversed = ?",
			in.StudentID, in.Date, in.Type, false).
			Limit(1).Find(&record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			duplicate = true
			return nil
		}
		record = model.AttendanceRecord{
			StudentID: in.StudentID,
			BusID:     in.BusID,
			Date:      in.Date,
			Type:      in.Type,
			DriverID:  in.DriverID,
			Lat:       in.Lat,
			Lng:       in.Lng,
			Timestamp: time.Now().UTC(),
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("failed to write attendance record: %w", err)
	}

	// Set union/removal: replays collapse to the same roster state.
	if in.Type == model.ScanBoarding {
		st.scanned[in.StudentID] = struct{}{}
	} else {
		delete(st.scanned, in.StudentID)
	}
	st.lastScan = &ScanSummary{
		StudentID:   in.StudentID,
		StudentName: student.FullName(),
		Type:        in.Type,
		Timestamp:   record.Timestamp,
		Lat:         in.Lat,
		Lng:         in.Lng,
	}
	onboard := len(st.scanned)

	e.passengers.SetPassengers(in.BusID, onboard)
	metrics.Scans.WithLabelValues(in.Type).Inc()
	if !duplicate {
		e.notifyScan(in, student.FullName())
	}
	return record, nil
}

// UnscanStudent reverses the student's latest unresolved scan of the day.
// The record is tombstoned, never deleted, so the audit trail survives.
func (e *Engine) UnscanStudent(ctx context.Context, in UnscanInput) (model.AttendanceRecord, error) {
	if err := validateScan(in.StudentID, in.BusID, in.Date, in.DriverID); err != nil {
		return model.AttendanceRecord{}, err
	}

	st, err := e.activeState(in.BusID)
	if err != nil {
		return model.AttendanceRecord{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var record model.AttendanceRecord
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("student_id = ? AND bus_id = ? AND date = ? AND reversed = ?",
			in.StudentID, in.BusID, in.Date, false).
			Order("timestamp DESC").
			Limit(1).Find(&record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: no unresolved scan for student %s on %s", ErrNotFound, in.StudentID, in.Date)
		}
		now := time.Now().UTC()
		record.Reversed = true
		record.ReversedAt = &now
		return tx.Model(&model.AttendanceRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{"reversed": true, "reversed_at": now}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.AttendanceRecord{}, err
		}
		return model.AttendanceRecord{}, fmt.Errorf("failed to reverse attendance record: %w", err)
	}

	delete(st.scanned, in.StudentID)
	e.passengers.SetPassengers(in.BusID, len(st.scanned))
	log.Info().Str("bus", in.BusID).Str("student", in.StudentID).Msg("scan reversed")
	return record, nil
}

// NextStudentToPickup returns the lowest-stop-order unscanned student of
// the active trip, or nil when everyone is scanned or no trip is active.
func (e *Engine) NextStudentToPickup(ctx context.Context, busID string) (*NextStudent, error) {
	e.mu.RLock()
	st, ok := e.trips[busID]
	e.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	st.mu.Lock()
	var next *routes.Stop
	for id, stop := range st.stopOrder {
		if _, scanned := st.scanned[id]; scanned {
			continue
		}
		s := stop
		if next == nil || s.StopOrder < next.StopOrder {
			next = &s
		}
	}
	st.mu.Unlock()

	if next == nil {
		return nil, nil
	}

	student, err := e.refdata.Student(ctx, next.StudentID)
	if err != nil {
		if errors.Is(err, refdata.ErrNotFound) {
			// Planner references a student the reference data no longer has;
			// surface the stop anyway rather than hiding the pickup.
			return &NextStudent{StudentID: next.StudentID, StopOrder: next.StopOrder}, nil
		}
		return nil, err
	}
	return &NextStudent{
		StudentID:   next.StudentID,
		StudentName: student.FullName(),
		StopOrder:   next.StopOrder,
	}, nil
}

// Snapshot returns the current trip state of a bus.
func (e *Engine) Snapshot(busID string) (State, error) {
	st, err := e.activeState(busID)
	if err != nil {
		return State{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(busID), nil
}

// AttendanceForDay returns every attendance record of the bus for one day,
// oldest first, reversed tombstones included.
func (e *Engine) AttendanceForDay(ctx context.Context, busID, date string) ([]model.AttendanceRecord, error) {
	var rows []model.AttendanceRecord
	err := e.db.WithContext(ctx).
		Where("bus_id = ? AND date = ?", busID, date).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance for bus %s: %w", busID, err)
	}
	return rows, nil
}

func (e *Engine) activeState(busID string) (*tripState, error) {
	e.mu.RLock()
	st, ok := e.trips[busID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveTrip, busID)
	}
	return st, nil
}

func (e *Engine) removeTrip(busID string, st *tripState) {
	e.mu.Lock()
	if current, ok := e.trips[busID]; ok && current == st {
		delete(e.trips, busID)
	}
	e.mu.Unlock()
}

func (e *Engine) notifyScan(in ScanInput, studentName string) {
	if e.notifier == nil {
		return
	}
	kind := notification.KindStudentBoarded
	verb := "boarded"
	if in.Type == model.ScanAlighting {
		kind = notification.KindStudentAlighted
		verb = "got off"
	}
	e.notifier.Dispatch(notification.Event{
		Kind:      kind,
		BusID:     in.BusID,
		StudentID: in.StudentID,
		Title:     "Attendance update",
		Message:   fmt.Sprintf("%s %s bus %s", studentName, verb, in.BusID),
	})
}

func validateScan(studentID, busID, date, driverID string) error {
	if studentID == "" || busID == "" || driverID == "" {
		return fmt.Errorf("%w: studentId, busId and driverId are required", ErrValidation)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return nil
}

// snapshot must be called with st.mu held.
func (st *tripState) snapshot(busID string) State {
	ids := make([]string, 0, len(st.scanned))
	for id := range st.scanned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return State{
		BusID:             busID,
		RouteID:           st.routeID,
		TripType:          st.tripType,
		StartedAt:         st.startedAt,
		ScannedStudentIDs: ids,
		TotalStudentCount: len(st.stopOrder),
		ExpectedArrival:   st.expectedArrival,
		LastScan:          st.lastScan,
	}
}
