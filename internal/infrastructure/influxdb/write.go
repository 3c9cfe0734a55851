package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLocationFix = "location_fix"
	MeasurementPollCycle   = "poll_cycle"
)

// LocationFix is one resolved device position and its geofence decision.
type LocationFix struct {
	DeviceID   string
	Latitude   float64
	Longitude  float64
	DistanceKm float64
	Inside     bool
	At         time.Time
}

// CycleStats are the counters of one poll cycle.
type CycleStats struct {
	Devices    int
	NewEvents  int
	Alerts     int
	OutOfRange int
	Unlocated  int
	Duration   time.Duration
	At         time.Time
}

// WriteLocationFix records a location_fix point.
//
// Tags: device_id, inside. Fields: latitude, longitude, distance_km.
// Non-blocking; silently dropped when the client is closed.
func (c *Client) WriteLocationFix(fix LocationFix) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(locationFixPoint(fix))
}

// WriteCycle records a poll_cycle point with the cycle counters.
func (c *Client) WriteCycle(stats CycleStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(cycleStatsPoint(stats))
}

func locationFixPoint(fix LocationFix) *write.Point {
	inside := "false"
	if fix.Inside {
		inside = "true"
	}
	return write.NewPoint(
		MeasurementLocationFix,
		map[string]string{
			"device_id": fix.DeviceID,
			"inside":    inside,
		},
		map[string]interface{}{
			"latitude":    fix.Latitude,
			"longitude":   fix.Longitude,
			"distance_km": fix.DistanceKm,
		},
		pointTime(fix.At),
	)
}

func cycleStatsPoint(stats CycleStats) *write.Point {
	return write.NewPoint(
		MeasurementPollCycle,
		nil,
		map[string]interface{}{
			"devices":      stats.Devices,
			"new_events":   stats.NewEvents,
			"alerts":       stats.Alerts,
			"out_of_range": stats.OutOfRange,
			"unlocated":    stats.Unlocated,
			"duration_ms":  stats.Duration.Milliseconds(),
		},
		pointTime(stats.At),
	)
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
