package main

import (
	"context"
	"time"

	"github.com/nerrad567/stolenwatch/internal/alert"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/redisstore"
	"github.com/nerrad567/stolenwatch/internal/tracker"
)

// mqttPublisher adapts the MQTT client to alert.Publisher.
type mqttPublisher struct {
	client *mqtt.Client
}

func (p *mqttPublisher) Name() string { return "mqtt" }

// PublishAlert implements alert.Publisher.
func (p *mqttPublisher) PublishAlert(ctx context.Context, ev alert.Event) error {
	return p.client.PublishJSON(ctx, mqtt.Topics{}.Alert(ev.DeviceID), ev)
}

// redisPublisher adapts the Redis store to alert.Publisher.
type redisPublisher struct {
	store *redisstore.Store
}

func (p *redisPublisher) Name() string { return "redis" }

// PublishAlert implements alert.Publisher.
func (p *redisPublisher) PublishAlert(ctx context.Context, ev alert.Event) error {
	return p.store.PublishAlert(ctx, ev)
}

// fixWriter and fixRecorder are the parts of the InfluxDB client and Redis
// store the observer needs.
type fixWriter interface {
	WriteLocationFix(fix influxdb.LocationFix)
	WriteCycle(stats influxdb.CycleStats)
}

type fixRecorder interface {
	RecordFix(ctx context.Context, fix redisstore.Fix) error
}

type warnLogger interface {
	Warn(msg string, args ...any)
}

// observerSinks implements tracker.Observer by forwarding fixes and cycle
// reports to whichever optional stores are connected.
type observerSinks struct {
	influx fixWriter
	redis  fixRecorder
	log    warnLogger
}

func (s *observerSinks) empty() bool {
	return s.influx == nil && s.redis == nil
}

// ObserveFix implements tracker.Observer.
func (s *observerSinks) ObserveFix(ctx context.Context, fix tracker.Fix) {
	now := time.Now()
	if s.influx != nil {
		s.influx.WriteLocationFix(influxdb.LocationFix{
			DeviceID:   fix.DeviceID,
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			DistanceKm: fix.DistanceKm,
			Inside:     fix.Inside,
			At:         now,
		})
	}
	if s.redis != nil {
		err := s.redis.RecordFix(ctx, redisstore.Fix{
			DeviceID:   fix.DeviceID,
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			DistanceKm: fix.DistanceKm,
			Inside:     fix.Inside,
			At:         now,
		})
		if err != nil && s.log != nil {
			s.log.Warn("recording fix in redis failed", "device_id", fix.DeviceID, "error", err)
		}
	}
}

// ObserveCycle implements tracker.Observer.
func (s *observerSinks) ObserveCycle(_ context.Context, report tracker.CycleReport) {
	if s.influx == nil {
		return
	}
	s.influx.WriteCycle(influxdb.CycleStats{
		Devices:    report.Devices,
		NewEvents:  report.NewEvents,
		Alerts:     report.Alerts,
		OutOfRange: report.OutOfRange,
		Unlocated:  report.Unlocated,
		Duration:   report.Duration,
		At:         time.Now(),
	})
}
