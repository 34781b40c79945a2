// Package refdata resolves bus, driver, student and route reference data
// for the engine. Lookups are read-only; entity CRUD lives in a separate
// administrative system.
package refdata

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"schoolbus-tracking-backend/internal/model"
)

// ErrNotFound marks a missing reference row.
var ErrNotFound = errors.New("reference data not found")

// DriverInfo is the display subset of a driver used by the aggregator.
type DriverInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// RouteInfo is the display subset of a route used by the aggregator.
type RouteInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FromZone string `json:"fromZone"`
	ToZone   string `json:"toZone"`
}

// Provider reads reference data. Aggregation callers tolerate missing
// entries; only BusAssignment and Student treat absence as an error.
type Provider struct {
	db *gorm.DB
}

// NewProvider creates a gorm-backed reference data provider.
func NewProvider(db *gorm.DB) *Provider {
	return &Provider{db: db}
}

// BusAssignment returns the driver and route currently assigned to a bus.
// Unassigned fields come back empty, an unknown bus is an error.
func (p *Provider) BusAssignment(ctx context.Context, busID string) (string, string, error) {
	var bus model.Bus
	if err := p.db.WithContext(ctx).First(&bus, "id = ?", busID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", fmt.Errorf("%w: bus %s", ErrNotFound, busID)
		}
		return "", "", fmt.Errorf("failed to load bus %s: %w", busID, err)
	}
	var driverID, routeID string
	if bus.DriverID != nil {
		driverID = *bus.DriverID
	}
	if bus.RouteID != nil {
		routeID = *bus.RouteID
	}
	return driverID, routeID, nil
}

// Student returns one student row.
func (p *Provider) Student(ctx context.Context, studentID string) (model.Student, error) {
	var student model.Student
	if err := p.db.WithContext(ctx).First(&student, "id = ?", studentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Student{}, fmt.Errorf("%w: student %s", ErrNotFound, studentID)
		}
		return model.Student{}, fmt.Errorf("failed to load student %s: %w", studentID, err)
	}
	return student, nil
}

// Buses returns every bus of the fleet.
func (p *Provider) Buses(ctx context.Context) ([]model.Bus, error) {
	var buses []model.Bus
	if err := p.db.WithContext(ctx).Find(&buses).Error; err != nil {
		return nil, fmt.Errorf("failed to load buses: %w", err)
	}
	return buses, nil
}

// Drivers returns all drivers keyed by ID.
func (p *Provider) Drivers(ctx context.Context) (map[string]DriverInfo, error) {
	var drivers []model.Driver
	if err := p.db.WithContext(ctx).Find(&drivers).Error; err != nil {
		return nil, fmt.Errorf("failed to load drivers: %w", err)
	}
	m := make(map[string]DriverInfo, len(drivers))
	for _, d := range drivers {
		m[d.ID] = DriverInfo{ID: d.ID, Name: d.Name, Phone: d.Phone}
	}
	return m, nil
}

// Routes returns all routes keyed by ID.
func (p *Provider) Routes(ctx context.Context) (map[string]RouteInfo, error) {
	var rows []model.Route
	if err := p.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	m := make(map[string]RouteInfo, len(rows))
	for _, r := range rows {
		m[r.ID] = RouteInfo{ID: r.ID, Name: r.Name, FromZone: r.FromZone, ToZone: r.ToZone}
	}
	return m, nil
}
