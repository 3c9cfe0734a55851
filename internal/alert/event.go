package alert

import "time"

// Event is a power-on of a tagged device inside the geofence.
type Event struct {
	DeviceID    string    `json:"device_id"`
	UserName    string    `json:"user_name"`
	DeviceModel string    `json:"device_model"`
	ConnectedAt time.Time `json:"connected_at"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	DistanceKm  float64   `json:"distance_km"`
}
