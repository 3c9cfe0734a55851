// Package geofence tests coordinates against a circular area using the
// haversine great-circle distance on a spherical Earth.
package geofence

import "math"

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Fence is a circle of RadiusKm around Center.
type Fence struct {
	Center   Point
	RadiusKm float64
}

// Haversine returns the great-circle distance between two coordinates in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// WithinRadius reports whether the point lies within maxKm of the centre.
// The boundary is inclusive.
func WithinRadius(centerLat, centerLon, lat, lon, maxKm float64) bool {
	return Haversine(centerLat, centerLon, lat, lon) <= maxKm
}

// Distance returns the distance from the fence centre to p in km.
func (f Fence) Distance(p Point) float64 {
	return Haversine(f.Center.Latitude, f.Center.Longitude, p.Latitude, p.Longitude)
}

// Contains reports whether p lies inside the fence, boundary included.
func (f Fence) Contains(p Point) bool {
	return f.Distance(p) <= f.RadiusKm
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
