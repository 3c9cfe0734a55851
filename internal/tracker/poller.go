package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/stolenwatch/internal/alert"
	"github.com/nerrad567/stolenwatch/internal/audit"
	"github.com/nerrad567/stolenwatch/internal/geofence"
)

// auditSource identifies entries written by the poller.
const auditSource = "tracker"

// TokenSource issues a bearer credential for the device directory.
// It is called once per cycle; credentials are never cached by the poller.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Directory is the remote device registry.
type Directory interface {
	Snapshot(ctx context.Context, bearer, tag string) (Snapshot, error)
	Locate(ctx context.Context, bearer, deviceID string) (*Location, error)
}

// Dispatcher notifies the operator about one qualifying event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev alert.Event)
}

// AuditRecorder stores decisions that did not lead to an alert.
type AuditRecorder interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Observer receives location fixes and cycle reports as they happen.
// Implementations must not block.
type Observer interface {
	ObserveFix(ctx context.Context, fix Fix)
	ObserveCycle(ctx context.Context, report CycleReport)
}

// Logger defines the logging interface used by the Poller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Poller. Tokens, Directory and Dispatcher are required.
type Options struct {
	Tag      string
	Fence    geofence.Fence
	Interval time.Duration

	Tokens     TokenSource
	Directory  Directory
	Dispatcher Dispatcher

	Audit    AuditRecorder
	Observer Observer
	Logger   Logger
}

// Status is a point-in-time view of the poller, safe to read from any goroutine.
type Status struct {
	Seeded       bool        `json:"seeded"`
	KnownDevices int         `json:"known_devices"`
	LastCycleAt  time.Time   `json:"last_cycle_at"`
	LastReport   CycleReport `json:"last_report"`
	LastError    string      `json:"last_error,omitempty"`
	Cycles       int         `json:"cycles"`
}

// Poller runs the seed and detection cycles. It owns its Cache; Seed,
// RunCycle and Run must not be called concurrently. Status may be called
// from any goroutine.
type Poller struct {
	opts   Options
	cache  *Cache
	logger Logger
	seeded bool

	statusMu sync.RWMutex
	status   Status
}

// NewPoller validates opts and returns a Poller with an empty cache.
func NewPoller(opts Options) (*Poller, error) {
	switch {
	case opts.Tokens == nil:
		return nil, errors.New("tracker: token source is required")
	case opts.Directory == nil:
		return nil, errors.New("tracker: directory is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("tracker: dispatcher is required")
	case opts.Tag == "":
		return nil, errors.New("tracker: tag is required")
	case opts.Interval <= 0:
		return nil, errors.New("tracker: interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Poller{
		opts:   opts,
		cache:  NewCache(),
		logger: logger,
	}, nil
}

// Cache exposes the poller's cache for inspection.
func (p *Poller) Cache() *Cache {
	return p.cache
}

// Status returns a copy of the current status.
func (p *Poller) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

func (p *Poller) updateStatus(fn func(*Status)) {
	p.statusMu.Lock()
	fn(&p.status)
	p.status.KnownDevices = p.cache.Len()
	p.statusMu.Unlock()
}

// Seed loads the initial snapshot into the cache without raising alerts.
func (p *Poller) Seed(ctx context.Context) error {
	bearer, err := p.opts.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquiring token: %w", err)
	}
	snap, err := p.opts.Directory.Snapshot(ctx, bearer, p.opts.Tag)
	if err != nil {
		return fmt.Errorf("fetching seed snapshot: %w", err)
	}

	p.cache.Seed(snap)
	p.seeded = true
	p.updateStatus(func(st *Status) {
		st.Seeded = true
		st.LastError = ""
	})
	p.logger.Info("cache seeded", "devices", len(snap), "tag", p.opts.Tag)
	return nil
}

// RunCycle performs one detection cycle. A token or snapshot failure aborts
// the cycle before the cache is touched. Per-device failures never abort it.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	var report CycleReport

	bearer, err := p.opts.Tokens.Token(ctx)
	if err != nil {
		return report, fmt.Errorf("acquiring token: %w", err)
	}
	snap, err := p.opts.Directory.Snapshot(ctx, bearer, p.opts.Tag)
	if err != nil {
		return report, fmt.Errorf("fetching snapshot: %w", err)
	}

	report.Devices = len(snap)
	for _, ch := range Diff(p.cache, snap) {
		if ch.IsNew {
			report.NewEvents++
			p.handleEvent(ctx, bearer, ch, &report)
		}
		p.cache.Apply(ch.DeviceID, ch.Entry)
	}

	report.Duration = time.Since(start)
	p.updateStatus(func(st *Status) {
		st.LastCycleAt = start
		st.LastReport = report
		st.LastError = ""
		st.Cycles++
	})
	if p.opts.Observer != nil {
		p.opts.Observer.ObserveCycle(ctx, report)
	}
	return report, nil
}

func (p *Poller) handleEvent(ctx context.Context, bearer string, ch Change, report *CycleReport) {
	p.logger.Info("power-on detected",
		"device_id", ch.DeviceID,
		"user", ch.Entry.UserName,
		"connected_at", ch.Entry.LastConnection.UTC().Format(time.RFC3339),
	)

	loc, err := p.opts.Directory.Locate(ctx, bearer, ch.DeviceID)
	if err != nil || loc == nil {
		report.Unlocated++
		p.logger.Warn("location unknown", "device_id", ch.DeviceID, "error", err)
		details := map[string]any{}
		if err != nil {
			details["error"] = err.Error()
		}
		p.record(ctx, audit.ActionLocationUnknown, ch.DeviceID, details)
		return
	}

	pos := geofence.Point{Latitude: loc.Latitude, Longitude: loc.Longitude}
	fix := Fix{
		Location:   *loc,
		DistanceKm: p.opts.Fence.Distance(pos),
		Inside:     p.opts.Fence.Contains(pos),
	}
	if p.opts.Observer != nil {
		p.opts.Observer.ObserveFix(ctx, fix)
	}

	if !fix.Inside {
		report.OutOfRange++
		p.logger.Info("device outside watched area",
			"device_id", ch.DeviceID,
			"distance_km", fix.DistanceKm,
			"radius_km", p.opts.Fence.RadiusKm,
		)
		p.record(ctx, audit.ActionOutOfRange, ch.DeviceID, map[string]any{
			"latitude":    fix.Latitude,
			"longitude":   fix.Longitude,
			"distance_km": fix.DistanceKm,
		})
		return
	}

	report.Alerts++
	p.opts.Dispatcher.Dispatch(ctx, alert.Event{
		DeviceID:    ch.DeviceID,
		UserName:    ch.Entry.UserName,
		DeviceModel: ch.Entry.DeviceModel,
		ConnectedAt: ch.Entry.LastConnection.UTC(),
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		DistanceKm:  fix.DistanceKm,
	})
}

func (p *Poller) record(ctx context.Context, action, deviceID string, details map[string]any) {
	if p.opts.Audit == nil {
		return
	}
	if err := p.opts.Audit.Create(ctx, &audit.AuditLog{
		Action:   action,
		DeviceID: deviceID,
		Source:   auditSource,
		Details:  details,
	}); err != nil {
		p.logger.Warn("recording audit entry failed", "device_id", deviceID, "action", action, "error", err)
	}
}

// Run seeds the cache and then runs a cycle every Interval until ctx is
// cancelled. A failed seed is retried at the next tick. Cycle errors and
// panics are logged and the loop continues. Run returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller starting",
		"tag", p.opts.Tag,
		"radius_km", p.opts.Fence.RadiusKm,
		"interval", p.opts.Interval.String(),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-timer.C:
		}

		p.tick(ctx)
		timer.Reset(p.opts.Interval)
	}
}

func (p *Poller) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.recordFailure(fmt.Errorf("panic: %v", r))
			p.logger.Error("poll cycle panicked", "panic", fmt.Sprint(r))
		}
	}()

	if !p.seeded {
		if err := p.Seed(ctx); err != nil {
			p.recordFailure(err)
			p.logger.Error("seeding failed, retrying next interval", "error", err)
		}
		return
	}

	report, err := p.RunCycle(ctx)
	if err != nil {
		p.recordFailure(err)
		p.logger.Error("poll cycle failed", "error", err)
		return
	}
	p.logger.Debug("poll cycle complete",
		"devices", report.Devices,
		"new_events", report.NewEvents,
		"alerts", report.Alerts,
		"duration", report.Duration.String(),
	)
}

func (p *Poller) recordFailure(err error) {
	p.updateStatus(func(st *Status) {
		st.LastError = err.Error()
	})
}
