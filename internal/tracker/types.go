package tracker

import "time"

// Placeholder is used for user and model names the directory did not report.
const Placeholder = "—"

// SnapshotEntry is one tagged device as observed in one poll cycle.
type SnapshotEntry struct {
	DeviceID string

	// LastConnection is nil when the directory did not report a usable timestamp.
	LastConnection *time.Time

	UserName    string
	DeviceModel string
}

// Snapshot is the full set of tagged devices seen in one poll cycle, keyed by
// device id. Each fetch produces a new, independent Snapshot.
type Snapshot map[string]SnapshotEntry

// Location is a device position resolved on demand. It is never cached.
type Location struct {
	DeviceID  string
	Latitude  float64
	Longitude float64

	// LastUpdate is the directory's own timestamp string for the fix.
	LastUpdate string
}

// Fix is a resolved location together with the geofence decision made on it.
type Fix struct {
	Location
	DistanceKm float64
	Inside     bool
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	Devices    int           `json:"devices"`
	NewEvents  int           `json:"new_events"`
	Alerts     int           `json:"alerts"`
	OutOfRange int           `json:"out_of_range"`
	Unlocated  int           `json:"unlocated"`
	Duration   time.Duration `json:"duration_ns"`
}
