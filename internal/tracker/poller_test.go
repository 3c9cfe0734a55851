package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/stolenwatch/internal/alert"
	"github.com/nerrad567/stolenwatch/internal/audit"
	"github.com/nerrad567/stolenwatch/internal/geofence"
)

type staticTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "tok", nil
}

// fakeDirectory serves a queue of snapshots; the last one repeats.
type fakeDirectory struct {
	mu        sync.Mutex
	snapshots []Snapshot
	snapErr   error
	panicMsg  string
	locations map[string]*Location
	locErr    map[string]error
	located   []string
	bearers   []string
}

func (f *fakeDirectory) Snapshot(_ context.Context, bearer, _ string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bearers = append(f.bearers, bearer)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	s := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return s, nil
}

func (f *fakeDirectory) Locate(_ context.Context, _, id string) (*Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.located = append(f.located, id)
	if err := f.locErr[id]; err != nil {
		return nil, err
	}
	return f.locations[id], nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alert.Event
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev alert.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type recordingAudit struct {
	logs []*audit.AuditLog
}

func (r *recordingAudit) Create(_ context.Context, log *audit.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

type recordingObserver struct {
	fixes   []Fix
	reports []CycleReport
}

func (r *recordingObserver) ObserveFix(_ context.Context, fix Fix) {
	r.fixes = append(r.fixes, fix)
}

func (r *recordingObserver) ObserveCycle(_ context.Context, report CycleReport) {
	r.reports = append(r.reports, report)
}

var bordeaux = geofence.Fence{
	Center:   geofence.Point{Latitude: 44.8378, Longitude: -0.5792},
	RadiusKm: 10,
}

func newTestPoller(t *testing.T, dir *fakeDirectory, disp *recordingDispatcher, rec *recordingAudit, obs *recordingObserver) *Poller {
	t.Helper()
	opts := Options{
		Tag:        "STOLEN",
		Fence:      bordeaux,
		Interval:   10 * time.Millisecond,
		Tokens:     &staticTokens{},
		Directory:  dir,
		Dispatcher: disp,
	}
	if rec != nil {
		opts.Audit = rec
	}
	if obs != nil {
		opts.Observer = obs
	}
	p, err := NewPoller(opts)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	return p
}

func TestNewPoller_Validation(t *testing.T) {
	valid := Options{
		Tag:        "STOLEN",
		Interval:   time.Second,
		Tokens:     &staticTokens{},
		Directory:  &fakeDirectory{},
		Dispatcher: &recordingDispatcher{},
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no tokens", func(o *Options) { o.Tokens = nil }},
		{"no directory", func(o *Options) { o.Directory = nil }},
		{"no dispatcher", func(o *Options) { o.Dispatcher = nil }},
		{"no tag", func(o *Options) { o.Tag = "" }},
		{"zero interval", func(o *Options) { o.Interval = 0 }},
	}

	if _, err := NewPoller(valid); err != nil {
		t.Fatalf("NewPoller(valid) error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			if _, err := NewPoller(opts); err == nil {
				t.Error("NewPoller() should fail")
			}
		})
	}
}

func TestPoller_SeedRaisesNoAlerts(t *testing.T) {
	dir := &fakeDirectory{snapshots: []Snapshot{{
		"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T09:00:00Z")},
	}}}
	disp := &recordingDispatcher{}
	p := newTestPoller(t, dir, disp, nil, nil)

	if err := p.Seed(context.Background()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	if !p.Status().Seeded {
		t.Error("Seeded() = false after Seed")
	}
	if len(disp.events) != 0 || len(dir.located) != 0 {
		t.Errorf("seed dispatched %d alerts and resolved %d locations", len(disp.events), len(dir.located))
	}
	if p.Cache().Len() != 1 {
		t.Errorf("cache has %d entries, want 1", p.Cache().Len())
	}
}

func TestPoller_PowerOnInsideFence(t *testing.T) {
	seed := Snapshot{
		"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T09:00:00Z"), UserName: "alice", DeviceModel: "SM-G991B"},
	}
	next := Snapshot{
		"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T12:00:00Z"), UserName: "alice", DeviceModel: "SM-G991B"},
	}
	dir := &fakeDirectory{
		snapshots: []Snapshot{seed, next},
		locations: map[string]*Location{
			"D1": {DeviceID: "D1", Latitude: 44.8380, Longitude: -0.5790},
		},
	}
	disp := &recordingDispatcher{}
	obs := &recordingObserver{}
	p := newTestPoller(t, dir, disp, nil, obs)
	ctx := context.Background()

	if err := p.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	report, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if report.NewEvents != 1 || report.Alerts != 1 {
		t.Errorf("report = %+v, want 1 event and 1 alert", report)
	}
	if len(disp.events) != 1 {
		t.Fatalf("dispatched %d alerts, want 1", len(disp.events))
	}

	ev := disp.events[0]
	if ev.DeviceID != "D1" || ev.UserName != "alice" || ev.DeviceModel != "SM-G991B" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.ConnectedAt.Equal(*ts("2025-06-04T12:00:00Z")) {
		t.Errorf("ConnectedAt = %v", ev.ConnectedAt)
	}
	if ev.DistanceKm <= 0 || ev.DistanceKm > 0.1 {
		t.Errorf("DistanceKm = %v, want about 0.03", ev.DistanceKm)
	}
	if len(obs.fixes) != 1 || !obs.fixes[0].Inside {
		t.Errorf("observer fixes = %+v, want one inside fix", obs.fixes)
	}
	if len(obs.reports) != 1 {
		t.Errorf("observer reports = %d, want 1", len(obs.reports))
	}

	// Same snapshot again: nothing new.
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if len(disp.events) != 1 {
		t.Errorf("dispatched %d alerts after repeat, want 1", len(disp.events))
	}
	if len(dir.located) != 1 {
		t.Errorf("resolved %d locations, want 1", len(dir.located))
	}
}

func TestPoller_OutsideFenceRecordsOnly(t *testing.T) {
	dir := &fakeDirectory{
		snapshots: []Snapshot{
			{},
			{"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T12:00:00Z")}},
		},
		locations: map[string]*Location{
			// Paris
			"D1": {DeviceID: "D1", Latitude: 48.8566, Longitude: 2.3522},
		},
	}
	disp := &recordingDispatcher{}
	rec := &recordingAudit{}
	p := newTestPoller(t, dir, disp, rec, nil)
	ctx := context.Background()

	if err := p.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	report, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if len(disp.events) != 0 {
		t.Errorf("dispatched %d alerts, want 0", len(disp.events))
	}
	if report.OutOfRange != 1 {
		t.Errorf("OutOfRange = %d, want 1", report.OutOfRange)
	}
	if len(rec.logs) != 1 || rec.logs[0].Action != audit.ActionOutOfRange {
		t.Errorf("audit = %+v, want one out_of_range entry", rec.logs)
	}
	if got, _ := p.Cache().Get("D1"); got.LastSeen == nil {
		t.Error("cache not updated for out-of-range device")
	}
}

func TestPoller_LocationFailureStillUpdatesCache(t *testing.T) {
	dir := &fakeDirectory{
		snapshots: []Snapshot{
			{"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T09:00:00Z")}},
			{
				"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T12:00:00Z")},
				"D2": {DeviceID: "D2", LastConnection: ts("2025-06-04T12:00:00Z")},
			},
		},
		locations: map[string]*Location{
			"D2": {DeviceID: "D2", Latitude: 44.8380, Longitude: -0.5790},
		},
		locErr: map[string]error{"D1": errors.New("upstream 500")},
	}
	disp := &recordingDispatcher{}
	rec := &recordingAudit{}
	p := newTestPoller(t, dir, disp, rec, nil)
	ctx := context.Background()

	if err := p.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	report, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if report.Unlocated != 1 || report.Alerts != 1 {
		t.Errorf("report = %+v, want 1 unlocated and 1 alert", report)
	}
	if len(disp.events) != 1 || disp.events[0].DeviceID != "D2" {
		t.Errorf("events = %+v, want only D2", disp.events)
	}
	got, _ := p.Cache().Get("D1")
	if got.LastSeen == nil || !got.LastSeen.Equal(*ts("2025-06-04T12:00:00Z")) {
		t.Errorf("D1 LastSeen = %v, want the new timestamp", got.LastSeen)
	}
	if len(rec.logs) != 1 || rec.logs[0].Action != audit.ActionLocationUnknown {
		t.Errorf("audit = %+v, want one location_unknown entry", rec.logs)
	}

	// The missed event is not retried.
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(disp.events) != 1 {
		t.Errorf("dispatched %d alerts, want 1", len(disp.events))
	}
}

func TestPoller_NewDeviceFirstSeenAfterSeed(t *testing.T) {
	dir := &fakeDirectory{
		snapshots: []Snapshot{
			{},
			{"D9": {DeviceID: "D9", LastConnection: ts("2025-06-04T12:00:00Z")}},
		},
		locations: map[string]*Location{
			"D9": {DeviceID: "D9", Latitude: 44.8378, Longitude: -0.5792},
		},
	}
	disp := &recordingDispatcher{}
	p := newTestPoller(t, dir, disp, nil, nil)
	ctx := context.Background()

	if err := p.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(disp.events) != 1 {
		t.Errorf("dispatched %d alerts, want 1", len(disp.events))
	}
}

func TestPoller_SnapshotFailureLeavesCache(t *testing.T) {
	dir := &fakeDirectory{snapshots: []Snapshot{
		{"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T09:00:00Z")}},
	}}
	p := newTestPoller(t, dir, &recordingDispatcher{}, nil, nil)
	ctx := context.Background()

	if err := p.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	dir.snapErr = errors.New("protocol")

	if _, err := p.RunCycle(ctx); err == nil {
		t.Fatal("RunCycle() should fail when the snapshot fails")
	}
	if p.Cache().Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", p.Cache().Len())
	}
}

func TestPoller_TokenRequestedEveryCycle(t *testing.T) {
	tokens := &staticTokens{}
	dir := &fakeDirectory{snapshots: []Snapshot{{}}}
	p, err := NewPoller(Options{
		Tag:        "STOLEN",
		Fence:      bordeaux,
		Interval:   time.Second,
		Tokens:     tokens,
		Directory:  dir,
		Dispatcher: &recordingDispatcher{},
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	ctx := context.Background()

	if err := p.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := p.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
	}
	if tokens.calls != 4 {
		t.Errorf("Token() called %d times, want 4", tokens.calls)
	}
}

func TestPoller_RunSurvivesFailuresAndStops(t *testing.T) {
	tests := []struct {
		name string
		dir  *fakeDirectory
	}{
		{"snapshot error", &fakeDirectory{snapErr: errors.New("down")}},
		{"panic", &fakeDirectory{panicMsg: "boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPoller(t, tt.dir, &recordingDispatcher{}, nil, nil)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- p.Run(ctx) }()

			time.Sleep(60 * time.Millisecond)
			cancel()

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Run() error = %v, want nil", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Run() did not stop after cancel")
			}

			tt.dir.mu.Lock()
			attempts := len(tt.dir.bearers)
			tt.dir.mu.Unlock()
			if attempts < 2 {
				t.Errorf("seed attempted %d times, want retries", attempts)
			}
			if p.Status().Seeded {
				t.Error("Seeded() = true after failing seeds")
			}
		})
	}
}

func TestPoller_RunSeedsThenDetects(t *testing.T) {
	dir := &fakeDirectory{
		snapshots: []Snapshot{
			{"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T09:00:00Z")}},
			{"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T12:00:00Z")}},
		},
		locations: map[string]*Location{
			"D1": {DeviceID: "D1", Latitude: 44.8380, Longitude: -0.5790},
		},
	}
	disp := &recordingDispatcher{}
	p := newTestPoller(t, dir, disp, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		disp.mu.Lock()
		n := len(disp.events)
		disp.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("no alert dispatched")
		case <-time.After(5 * time.Millisecond):
		}
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.events) != 1 {
		t.Errorf("dispatched %d alerts, want exactly 1", len(disp.events))
	}
}

func TestPoller_Status(t *testing.T) {
	dir := &fakeDirectory{snapshots: []Snapshot{
		{"D1": {DeviceID: "D1", LastConnection: ts("2025-06-04T09:00:00Z")}},
	}}
	p := newTestPoller(t, dir, &recordingDispatcher{}, nil, nil)
	ctx := context.Background()

	if st := p.Status(); st.Seeded || st.Cycles != 0 {
		t.Errorf("initial status = %+v", st)
	}

	if err := p.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	st := p.Status()
	if !st.Seeded || st.Cycles != 1 || st.KnownDevices != 1 || st.LastReport.Devices != 1 {
		t.Errorf("status = %+v", st)
	}

	dir.snapErr = errors.New("upstream down")
	p.tick(ctx)
	if st := p.Status(); st.LastError == "" || st.Cycles != 1 {
		t.Errorf("status after failure = %+v", st)
	}
}
