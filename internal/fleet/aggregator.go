// Package fleet joins live records with reference data and zone labels
// into the dashboard view, and reduces that view into fleet statistics.
package fleet

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"schoolbus-tracking-backend/internal/live"
	"schoolbus-tracking-backend/internal/refdata"
	"schoolbus-tracking-backend/internal/zone"
)

// BusRealtimeData is one bus enriched for the realtime map. Reference
// fields the join could not resolve stay nil instead of failing the whole
// aggregation.
type BusRealtimeData struct {
	ID              string             `json:"id"`
	BusNumber       int                `json:"busNumber"`
	PlateNumber     string             `json:"plateNumber"`
	Capacity        int                `json:"capacity"`
	Model           string             `json:"model"`
	Year            int                `json:"year"`
	CurrentPosition *live.Position     `json:"currentPosition"`
	LiveStatus      *live.Status       `json:"liveStatus"`
	Driver          *refdata.DriverInfo `json:"driver"`
	Route           *refdata.RouteInfo  `json:"route"`
	PassengersCount int                `json:"passengersCount"`
	CurrentZone     *string            `json:"currentZone"`
	LastUpdate      *time.Time         `json:"lastUpdate"`
	IsActive        bool               `json:"isActive"`
}

// Statistics is the dashboard reduction over one realtime snapshot. Counts
// are computed from the snapshot, never stored.
type Statistics struct {
	Total           int `json:"total"`
	Active          int `json:"active"`
	Inactive        int `json:"inactive"`
	EnRoute         int `json:"enRoute"`
	Stopped         int `json:"stopped"`
	TotalPassengers int `json:"totalPassengers"`
}

// Aggregator produces the fleet-wide realtime view.
type Aggregator struct {
	live  *live.Store
	ref   *refdata.Provider
	zones *zone.Classifier
}

// NewAggregator creates a fleet aggregator.
func NewAggregator(liveStore *live.Store, ref *refdata.Provider, zones *zone.Classifier) *Aggregator {
	return &Aggregator{live: liveStore, ref: ref, zones: zones}
}

// AllBusesRealtime joins every bus with its live record, driver, route and
// zone. Reference lookups degrade to nil fields on failure so one bad join
// never hides the rest of the fleet.
func (a *Aggregator) AllBusesRealtime(ctx context.Context) ([]BusRealtimeData, error) {
	buses, err := a.ref.Buses(ctx)
	if err != nil {
		return nil, err
	}

	drivers, err := a.ref.Drivers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("driver lookup failed, aggregating without driver info")
		drivers = map[string]refdata.DriverInfo{}
	}
	routeInfos, err := a.ref.Routes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("route lookup failed, aggregating without route info")
		routeInfos = map[string]refdata.RouteInfo{}
	}

	liveRecords := a.live.GetAll()
	liveByBus := make(map[string]live.Record, len(liveRecords))
	for _, rec := range liveRecords {
		liveByBus[rec.BusID] = rec
	}

	result := make([]BusRealtimeData, 0, len(buses))
	for _, bus := range buses {
		data := BusRealtimeData{
			ID:          bus.ID,
			BusNumber:   bus.BusNumber,
			PlateNumber: bus.PlateNumber,
			Capacity:    bus.Capacity,
			Model:       bus.Model,
			Year:        bus.Year,
		}

		if bus.DriverID != nil {
			if d, ok := drivers[*bus.DriverID]; ok {
				data.Driver = &d
			}
		}
		if bus.RouteID != nil {
			if r, ok := routeInfos[*bus.RouteID]; ok {
				data.Route = &r
			}
		}

		if rec, ok := liveByBus[bus.ID]; ok {
			pos := rec.Position
			status := rec.Status
			last := rec.LastUpdateAt
			data.CurrentPosition = &pos
			data.LiveStatus = &status
			data.LastUpdate = &last
			data.PassengersCount = rec.PassengersCount
			data.IsActive = rec.PassengersCount > 0
			if label := a.zones.DetermineZone(pos.Lat, pos.Lng); label != "" {
				data.CurrentZone = &label
			}
		}

		result = append(result, data)
	}
	return result, nil
}

// BusRealtime returns the enriched view of one bus, or nil when unknown.
func (a *Aggregator) BusRealtime(ctx context.Context, busID string) (*BusRealtimeData, error) {
	buses, err := a.AllBusesRealtime(ctx)
	if err != nil {
		return nil, err
	}
	for i := range buses {
		if buses[i].ID == busID {
			return &buses[i], nil
		}
	}
	return nil, nil
}

// Statistics reduces a fresh realtime snapshot into dashboard counts.
func (a *Aggregator) Statistics(ctx context.Context) (Statistics, error) {
	buses, err := a.AllBusesRealtime(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Reduce(buses), nil
}

// Reduce computes statistics over an existing snapshot, so callers that
// already hold one get totals consistent with exactly that snapshot.
func Reduce(buses []BusRealtimeData) Statistics {
	stats := Statistics{Total: len(buses)}
	for _, b := range buses {
		if b.IsActive {
			stats.Active++
		}
		stats.TotalPassengers += b.PassengersCount
		if b.LiveStatus == nil {
			continue
		}
		switch *b.LiveStatus {
		case live.StatusEnRoute, live.StatusDelayed:
			stats.EnRoute++
		case live.StatusStopped, live.StatusIdle:
			stats.Stopped++
		}
	}
	stats.Inactive = stats.Total - stats.Active
	return stats
}
