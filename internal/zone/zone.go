// Package zone maps a raw position to a human-meaningful commune label for
// the dashboard.
package zone

import (
	"schoolbus-tracking-backend/config"
	"schoolbus-tracking-backend/internal/geo"
)

// Classifier performs point-in-region tests against a fixed set of named
// circular zones. The zone list is immutable after construction, so the
// classifier is safe for concurrent use.
type Classifier struct {
	zones []config.ZoneConfig
}

// NewClassifier builds a classifier over the configured zones.
func NewClassifier(zones []config.ZoneConfig) *Classifier {
	return &Classifier{zones: zones}
}

// DetermineZone returns the name of the first zone containing the point, or
// "" when the position is outside every configured zone. It never fails: an
// unclassifiable position just has no label.
func (c *Classifier) DetermineZone(lat, lng float64) string {
	for _, z := range c.zones {
		if geo.DistanceKm(lat, lng, z.Lat, z.Lng) <= z.RadiusKm {
			return z.Name
		}
	}
	return ""
}
