package knox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/stolenwatch/internal/tracker"
)

// fakeDirectory is an in-memory upstream. Devices are served in pages
// according to the limit and start form fields.
type fakeDirectory struct {
	mu          sync.Mutex
	devices     []map[string]any
	pageStarts  []int
	bearers     []string
	listBody    string // overrides the list response when set
	locations   map[string]string
	tokenStatus int
	tokenCalls  int
}

func (f *fakeDirectory) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		n := f.tokenCalls
		status := f.tokenStatus
		f.mu.Unlock()

		if err := r.ParseForm(); err != nil {
			t.Errorf("token ParseForm: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("client_id") != "id" || r.PostForm.Get("client_secret") != "secret" {
			t.Errorf("credentials not sent in form: %v", r.PostForm)
		}
		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"invalid_client"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":3600}`, n)
	})

	mux.HandleFunc(deviceListPath, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("list ParseForm: %v", err)
		}
		if got := r.PostForm.Get("deviceStatus"); got != "A" {
			t.Errorf("deviceStatus = %q, want A", got)
		}
		limit, _ := strconv.Atoi(r.PostForm.Get("limit"))
		start, _ := strconv.Atoi(r.PostForm.Get("start"))

		f.mu.Lock()
		f.pageStarts = append(f.pageStarts, start)
		f.bearers = append(f.bearers, r.Header.Get("Authorization"))
		override := f.listBody
		var page []map[string]any
		if start < len(f.devices) {
			end := start + limit
			if end > len(f.devices) {
				end = len(f.devices)
			}
			page = f.devices[start:end]
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if override != "" {
			fmt.Fprint(w, override)
			return
		}
		if page == nil {
			page = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resultCode":  "0",
			"resultValue": map[string]any{"deviceList": page},
		})
	})

	mux.HandleFunc(deviceLocationPath, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("location ParseForm: %v", err)
		}
		f.mu.Lock()
		body, ok := f.locations[r.PostForm.Get("deviceId")]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})

	return mux
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func newTestClient(t *testing.T, f *fakeDirectory, pageSize int) *Client {
	t.Helper()
	return newTestClientWithLogger(t, f, pageSize, nil)
}

func newTestClientWithLogger(t *testing.T, f *fakeDirectory, pageSize int, log Logger) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:      srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		PageSize:     pageSize,
		Timeout:      5 * time.Second,
		Logger:       log,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func taggedDevice(id, tag string, ms any) map[string]any {
	d := map[string]any{
		"deviceId":        id,
		"userName":        "user-" + id,
		"deviceModelKind": "SM-" + id,
		"deviceTags":      []map[string]any{{"tagValue": "other"}, {"tagValue": tag}},
	}
	if ms != nil {
		d["lastConnectionDate"] = map[string]any{"time": ms}
	}
	return d
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no base url", Config{ClientID: "id", ClientSecret: "s"}},
		{"no client id", Config{BaseURL: "http://x", ClientSecret: "s"}},
		{"no secret", Config{BaseURL: "http://x", ClientID: "id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestToken_FreshEachCall(t *testing.T) {
	f := &fakeDirectory{}
	c := newTestClient(t, f, 10)

	first, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	second, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if first == second {
		t.Errorf("Token() returned the same token twice (%q); want a new grant per call", first)
	}
}

func TestToken_Rejected(t *testing.T) {
	f := &fakeDirectory{tokenStatus: http.StatusUnauthorized}
	c := newTestClient(t, f, 10)

	if _, err := c.Token(context.Background()); !errors.Is(err, ErrUpstreamProtocol) {
		t.Errorf("Token() error = %v, want ErrUpstreamProtocol", err)
	}
}

func TestSnapshot_FiltersAndPaginates(t *testing.T) {
	f := &fakeDirectory{devices: []map[string]any{
		taggedDevice("D1", "STOLEN", 1749038400000),
		taggedDevice("D2", "stolen", 1749038400000), // case differs
		taggedDevice("D3", "STOLEN", "1749038400000"),
		taggedDevice("D4", "STOLEN", nil),
		taggedDevice("D5", "STOLEN", "garbage"),
	}}
	c := newTestClient(t, f, 2)

	snap, err := c.Snapshot(context.Background(), "tok", "STOLEN")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	if len(snap) != 4 {
		t.Fatalf("len(snap) = %d, want 4: %v", len(snap), snap)
	}
	if _, ok := snap["D2"]; ok {
		t.Error("D2 should not match: tag comparison is exact")
	}

	want := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"D1", "D3"} {
		e := snap[id]
		if e.LastConnection == nil || !e.LastConnection.Equal(want) {
			t.Errorf("%s LastConnection = %v, want %v", id, e.LastConnection, want)
		}
	}
	for _, id := range []string{"D4", "D5"} {
		if snap[id].LastConnection != nil {
			t.Errorf("%s LastConnection = %v, want nil", id, snap[id].LastConnection)
		}
	}
	if snap["D1"].UserName != "user-D1" || snap["D1"].DeviceModel != "SM-D1" {
		t.Errorf("D1 metadata = %+v", snap["D1"])
	}

	// 5 devices with page size 2: pages at 0, 2, 4 (short page ends).
	if got := fmt.Sprint(f.pageStarts); got != "[0 2 4]" {
		t.Errorf("page starts = %s, want [0 2 4]", got)
	}
	if f.bearers[0] != "Bearer tok" {
		t.Errorf("Authorization = %q", f.bearers[0])
	}
}

func TestSnapshot_ExactMultipleOfPageSize(t *testing.T) {
	f := &fakeDirectory{devices: []map[string]any{
		taggedDevice("D1", "STOLEN", 1),
		taggedDevice("D2", "STOLEN", 2),
	}}
	c := newTestClient(t, f, 2)

	snap, err := c.Snapshot(context.Background(), "tok", "STOLEN")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) != 2 {
		t.Errorf("len(snap) = %d, want 2", len(snap))
	}
	if got := fmt.Sprint(f.pageStarts); got != "[0 2]" {
		t.Errorf("page starts = %s, want [0 2]", got)
	}
}

func TestSnapshot_MissingMetadataUsesPlaceholder(t *testing.T) {
	f := &fakeDirectory{devices: []map[string]any{{
		"deviceId":   "D1",
		"deviceTags": []map[string]any{{"tagValue": "STOLEN"}},
	}}}
	c := newTestClient(t, f, 10)

	snap, err := c.Snapshot(context.Background(), "tok", "STOLEN")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	e := snap["D1"]
	if e.UserName != tracker.Placeholder || e.DeviceModel != tracker.Placeholder {
		t.Errorf("entry = %+v, want placeholders", e)
	}
}

func TestSnapshot_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"non-success result code", `{"resultCode":"500","resultMessage":"denied"}`},
		{"numeric non-success result code", `{"resultCode":1}`},
		{"device list is an object", `{"resultCode":"0","resultValue":{"deviceList":{"a":1}}}`},
		{"not json", `<html>maintenance</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDirectory{listBody: tt.body}
			c := newTestClient(t, f, 10)

			if _, err := c.Snapshot(context.Background(), "tok", "STOLEN"); !errors.Is(err, ErrUpstreamProtocol) {
				t.Errorf("Snapshot() error = %v, want ErrUpstreamProtocol", err)
			}
		})
	}
}

func TestSnapshot_NumericSuccessCode(t *testing.T) {
	f := &fakeDirectory{listBody: `{"resultCode":0,"resultValue":{"deviceList":[]}}`}
	c := newTestClient(t, f, 10)

	snap, err := c.Snapshot(context.Background(), "tok", "STOLEN")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("len(snap) = %d, want 0", len(snap))
	}
}

func TestSnapshot_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "s"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Snapshot(context.Background(), "tok", "STOLEN"); !errors.Is(err, ErrNetwork) {
		t.Errorf("Snapshot() error = %v, want ErrNetwork", err)
	}
}

func TestLocate(t *testing.T) {
	f := &fakeDirectory{locations: map[string]string{
		"NUM":   `{"resultCode":"0","resultValue":{"latitude":44.8380,"longitude":-0.5790,"stdFormatUpdated":"2025-06-04T12:00:00Z"}}`,
		"STR":   `{"resultCode":"0","resultValue":{"latitude":"44.8380","longitude":"-0.5790"}}`,
		"EMPTY": `{"resultCode":"0","resultValue":{"latitude":"","longitude":null}}`,
		"NOPE":  `{"resultCode":"404"}`,
	}}
	c := newTestClient(t, f, 10)
	ctx := context.Background()

	for _, id := range []string{"NUM", "STR"} {
		loc, err := c.Locate(ctx, "tok", id)
		if err != nil {
			t.Fatalf("Locate(%s) error = %v", id, err)
		}
		if loc.DeviceID != id || loc.Latitude != 44.8380 || loc.Longitude != -0.5790 {
			t.Errorf("Locate(%s) = %+v", id, loc)
		}
	}

	loc, _ := c.Locate(ctx, "tok", "NUM")
	if loc.LastUpdate != "2025-06-04T12:00:00Z" {
		t.Errorf("LastUpdate = %q", loc.LastUpdate)
	}

	tests := []struct {
		id   string
		want error
	}{
		{"EMPTY", ErrUpstreamProtocol},
		{"NOPE", ErrUpstreamProtocol},
		{"MISSING", ErrNetwork},
	}
	for _, tt := range tests {
		loc, err := c.Locate(ctx, "tok", tt.id)
		if loc != nil || !errors.Is(err, tt.want) {
			t.Errorf("Locate(%s) = %v, %v; want nil, %v", tt.id, loc, err, tt.want)
		}
	}
}

func TestSnapshot_OddRecordsDoNotHideTheFleet(t *testing.T) {
	f := &fakeDirectory{devices: []map[string]any{
		{
			// Untagged, with numeric metadata.
			"deviceId":        "U1",
			"userName":        12345,
			"deviceModelKind": 7,
			"deviceTags":      []map[string]any{{"tagValue": 7}},
		},
		{
			// Undecodable: tags is an object.
			"deviceId":   "BAD",
			"deviceTags": map[string]any{"tagValue": "STOLEN"},
		},
		taggedDevice("D1", "STOLEN", 1749038400000),
		{
			"deviceId":        "D2",
			"userName":        42,
			"deviceModelKind": nil,
			"deviceTags":      []map[string]any{{"tagValue": "STOLEN"}},
		},
	}}
	log := &recordingLogger{}
	c := newTestClientWithLogger(t, f, 2, log)

	snap, err := c.Snapshot(context.Background(), "tok", "STOLEN")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2: %v", len(snap), snap)
	}
	if _, ok := snap["D1"]; !ok {
		t.Error("D1 missing from snapshot")
	}
	if e := snap["D2"]; e.UserName != "42" || e.DeviceModel != tracker.Placeholder {
		t.Errorf("D2 entry = %+v, want numeric user coerced and model placeholder", e)
	}
	if len(log.warns) != 1 {
		t.Errorf("warnings = %v, want one for the undecodable record", log.warns)
	}

	// A skipped record still counts towards the page size.
	if got := fmt.Sprint(f.pageStarts); got != "[0 2 4]" {
		t.Errorf("page starts = %s, want [0 2 4]", got)
	}
}

func TestSnapshot_NumericTagValue(t *testing.T) {
	f := &fakeDirectory{devices: []map[string]any{{
		"deviceId":   "D1",
		"deviceTags": []map[string]any{{"tagValue": 7}},
	}}}
	c := newTestClient(t, f, 10)

	snap, err := c.Snapshot(context.Background(), "tok", "7")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, ok := snap["D1"]; !ok {
		t.Errorf("snap = %v, want D1 matched by numeric tag", snap)
	}
}

func TestParseEpochMillis(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"1749038400000", 1749038400000, true},
		{" 1749038400000 ", 1749038400000, true},
		{"1.7490384e12", 1749038400000, true},
		{"1749038400000.0", 1749038400000, true},
		{"garbage", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"1e300", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseEpochMillis(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseEpochMillis(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSnapshot_ExponentTimestamp(t *testing.T) {
	f := &fakeDirectory{listBody: `{"resultCode":"0","resultValue":{"deviceList":[
		{"deviceId":"D1","deviceTags":[{"tagValue":"STOLEN"}],"lastConnectionDate":{"time":1.7490384e12}}
	]}}`}
	c := newTestClient(t, f, 10)

	snap, err := c.Snapshot(context.Background(), "tok", "STOLEN")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	if lc := snap["D1"].LastConnection; lc == nil || !lc.Equal(want) {
		t.Errorf("LastConnection = %v, want %v", lc, want)
	}
}
