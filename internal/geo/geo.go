// Package geo provides the stateless distance, bearing and ETA math used by
// the status classifier and the trip state machine.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two WGS84 points in
// kilometres. Identical points yield exactly 0.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}

	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// BearingDeg returns the initial bearing in degrees (0..360) from the first
// point toward the second.
func BearingDeg(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLng := toRadians(lng2 - lng1)

	y := math.Sin(dLng) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// ETAMinutes estimates the minutes to reach the destination at the current
// speed. floorSpeedKmh bounds the divisor from below so a stationary bus
// still yields a finite estimate; callers treat an ETA computed while
// stopped as an upper bound, not a commitment.
func ETAMinutes(curLat, curLng, destLat, destLng, speedKmh, floorSpeedKmh float64) float64 {
	distance := DistanceKm(curLat, curLng, destLat, destLng)
	if distance == 0 {
		return 0
	}
	return distance / math.Max(speedKmh, floorSpeedKmh) * 60
}

// ValidCoordinates reports whether lat/lng are within WGS84 range.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
