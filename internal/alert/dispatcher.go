package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/stolenwatch/internal/audit"
)

// auditSource identifies entries written by the dispatcher.
const auditSource = "alert"

// Sender delivers one rendered message to the operator.
type Sender interface {
	Send(ctx context.Context, subject, htmlBody string) error
}

// Publisher receives a copy of every dispatched event. Publishing is best
// effort and never affects mail delivery.
type Publisher interface {
	Name() string
	PublishAlert(ctx context.Context, ev Event) error
}

// AuditRecorder stores the outcome of each dispatch.
type AuditRecorder interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DispatcherOptions configures a Dispatcher. Sender is required.
type DispatcherOptions struct {
	Sender     Sender
	Format     FormatOptions
	Audit      AuditRecorder
	Publishers []Publisher
	Logger     Logger

	// SendTimeout bounds a single delivery attempt. Zero means no extra bound.
	SendTimeout time.Duration
}

// Dispatcher sends one notification per qualifying event.
type Dispatcher struct {
	sender      Sender
	format      FormatOptions
	audit       AuditRecorder
	publishers  []Publisher
	logger      Logger
	sendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("alert: sender is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		sender:      opts.Sender,
		format:      opts.Format,
		audit:       opts.Audit,
		publishers:  opts.Publishers,
		logger:      logger,
		sendTimeout: opts.SendTimeout,
	}, nil
}

// Dispatch formats ev and sends it exactly once. Failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	msg, err := Format(ev, d.format)
	if err != nil {
		d.logger.Error("formatting alert failed", "device_id", ev.DeviceID, "error", err)
		d.record(ctx, ev, audit.ActionAlertFailed, err)
		return
	}

	d.logger.Info("sending alert", "device_id", ev.DeviceID, "subject", msg.Subject)

	if err := d.send(ctx, msg); err != nil {
		d.logger.Error("alert delivery failed", "device_id", ev.DeviceID, "error", err)
		d.record(ctx, ev, audit.ActionAlertFailed, err)
	} else {
		d.record(ctx, ev, audit.ActionAlertSent, nil)
	}

	for _, p := range d.publishers {
		if err := p.PublishAlert(ctx, ev); err != nil {
			d.logger.Warn("alert publish failed", "publisher", p.Name(), "device_id", ev.DeviceID, "error", err)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, msg Message) error {
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	if err := d.sender.Send(ctx, msg.Subject, msg.HTMLBody); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, ev Event, action string, cause error) {
	if d.audit == nil {
		return
	}
	details := map[string]any{
		"latitude":     ev.Latitude,
		"longitude":    ev.Longitude,
		"distance_km":  ev.DistanceKm,
		"connected_at": ev.ConnectedAt.UTC().Format(time.RFC3339),
	}
	if cause != nil {
		details["error"] = cause.Error()
	}
	if err := d.audit.Create(ctx, &audit.AuditLog{
		Action:   action,
		DeviceID: ev.DeviceID,
		Source:   auditSource,
		Details:  details,
	}); err != nil {
		d.logger.Warn("recording alert audit failed", "device_id", ev.DeviceID, "error", err)
	}
}
