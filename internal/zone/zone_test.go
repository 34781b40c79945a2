package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"schoolbus-tracking-backend/config"
)

func TestDetermineZone(t *testing.T) {
	c := NewClassifier(config.DefaultZones())

	t.Run("zone centre classifies to its zone", func(t *testing.T) {
		assert.Equal(t, "Cocody", c.DetermineZone(5.3473, -3.9875))
		assert.Equal(t, "Yopougon", c.DetermineZone(5.3365, -4.0872))
	})

	t.Run("first containing zone wins on overlap", func(t *testing.T) {
		// Adjamé and Plateau circles overlap; Adjamé is listed first among
		// the two, so a point near both resolves to it.
		zones := []config.ZoneConfig{
			{Name: "A", Lat: 5.35, Lng: -4.02, RadiusKm: 5},
			{Name: "B", Lat: 5.35, Lng: -4.02, RadiusKm: 5},
		}
		assert.Equal(t, "A", NewClassifier(zones).DetermineZone(5.35, -4.02))
	})

	t.Run("outside every zone yields empty label", func(t *testing.T) {
		assert.Equal(t, "", c.DetermineZone(48.85, 2.35))
	})

	t.Run("empty zone list never panics", func(t *testing.T) {
		assert.Equal(t, "", NewClassifier(nil).DetermineZone(5.35, -4.02))
	})
}
