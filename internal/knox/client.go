package knox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nerrad567/stolenwatch/internal/tracker"
)

// Upstream endpoints, relative to Config.BaseURL.
const (
	deviceListPath     = "/oapi/device/selectDeviceList"
	deviceLocationPath = "/oapi/device/selectDeviceLocation"
)

const (
	defaultPageSize     = 1000
	defaultDeviceStatus = "A"
	defaultTimeout      = 30 * time.Second

	// maxPages bounds pagination against an upstream that never returns a
	// short page.
	maxPages = 10000

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 64 << 20
)

// Config contains the directory endpoints and credentials.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// PageSize is the number of devices requested per page.
	PageSize int

	// DeviceStatus filters the device list (A = active).
	DeviceStatus string

	// Timeout bounds each HTTP call.
	Timeout time.Duration

	// Logger receives warnings about device records that cannot be decoded.
	Logger Logger
}

// Logger defines the logging interface used by the Client.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Client talks to the device directory.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	baseURL      string
	pageSize     int
	deviceStatus string
	httpClient   *http.Client
	credentials  *clientcredentials.Config
	logger       Logger
}

// New creates a Client. No request is made until a method is called.
//
// Parameters:
//   - cfg: directory configuration; zero PageSize, DeviceStatus and Timeout
//     take defaults
//
// Returns:
//   - *Client: ready for use
//   - error: if the base URL or credentials are missing
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("knox: base URL is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("knox: client credentials are required")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = base + "/oauth/token"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	status := cfg.DeviceStatus
	if status == "" {
		status = defaultDeviceStatus
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		baseURL:      base,
		pageSize:     pageSize,
		deviceStatus: status,
		httpClient:   &http.Client{Timeout: timeout},
		credentials: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		logger: logger,
	}, nil
}

// Token performs a client-credentials grant and returns the access token.
// A rejected grant is ErrUpstreamProtocol; anything else is ErrNetwork.
func (c *Client) Token(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.credentials.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: token request rejected: %w", ErrUpstreamProtocol, err)
		}
		return "", fmt.Errorf("%w: token request: %w", ErrNetwork, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUpstreamProtocol)
	}
	return tok.AccessToken, nil
}

// Snapshot pages through the device list and returns every device carrying
// tag. A device id seen on several pages keeps its last occurrence.
func (c *Client) Snapshot(ctx context.Context, bearer, tag string) (tracker.Snapshot, error) {
	snap := make(tracker.Snapshot)

	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("%w: device list did not end after %d pages", ErrUpstreamProtocol, maxPages)
		}

		devices, records, err := c.fetchPage(ctx, bearer, page*c.pageSize)
		if err != nil {
			return nil, err
		}

		for _, d := range devices {
			if d.DeviceID == "" || !d.hasTag(tag) {
				continue
			}
			id := string(d.DeviceID)
			snap[id] = tracker.SnapshotEntry{
				DeviceID:       id,
				LastConnection: d.lastConnection(),
				UserName:       orPlaceholder(d.UserName, tracker.Placeholder),
				DeviceModel:    orPlaceholder(d.DeviceModelKind, tracker.Placeholder),
			}
		}

		if records < c.pageSize {
			return snap, nil
		}
	}
}

// fetchPage returns the decodable devices of one page and the number of
// records the page held. A record that does not decode is skipped with a
// warning so one odd entry cannot hide the rest of the fleet.
func (c *Client) fetchPage(ctx context.Context, bearer string, start int) ([]device, int, error) {
	form := url.Values{}
	form.Set("limit", strconv.Itoa(c.pageSize))
	form.Set("start", strconv.Itoa(start))
	form.Set("deviceStatus", c.deviceStatus)

	env, err := c.post(ctx, deviceListPath, bearer, form)
	if err != nil {
		return nil, 0, err
	}

	var value deviceListValue
	if !isAbsent(env.ResultValue) {
		if err := json.Unmarshal(env.ResultValue, &value); err != nil {
			return nil, 0, fmt.Errorf("%w: decoding resultValue: %w", ErrUpstreamProtocol, err)
		}
	}
	if isAbsent(value.DeviceList) {
		return nil, 0, nil
	}
	if !isArray(value.DeviceList) {
		return nil, 0, fmt.Errorf("%w: deviceList is not an array", ErrUpstreamProtocol)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(value.DeviceList, &records); err != nil {
		return nil, 0, fmt.Errorf("%w: decoding deviceList: %w", ErrUpstreamProtocol, err)
	}

	devices := make([]device, 0, len(records))
	for i, raw := range records {
		var d device
		if err := json.Unmarshal(raw, &d); err != nil {
			c.logger.Warn("skipping undecodable device record",
				"offset", start+i,
				"error", err,
			)
			continue
		}
		devices = append(devices, d)
	}
	return devices, len(records), nil
}

// Locate returns the last reported position of deviceID. Missing or
// non-numeric coordinates are ErrUpstreamProtocol.
func (c *Client) Locate(ctx context.Context, bearer, deviceID string) (*tracker.Location, error) {
	form := url.Values{}
	form.Set("deviceId", deviceID)

	env, err := c.post(ctx, deviceLocationPath, bearer, form)
	if err != nil {
		return nil, err
	}

	var value locationValue
	if !isAbsent(env.ResultValue) {
		if err := json.Unmarshal(env.ResultValue, &value); err != nil {
			return nil, fmt.Errorf("%w: decoding location: %w", ErrUpstreamProtocol, err)
		}
	}
	if !value.Latitude.Valid || !value.Longitude.Valid {
		return nil, fmt.Errorf("%w: location of %s has no usable coordinates", ErrUpstreamProtocol, deviceID)
	}

	return &tracker.Location{
		DeviceID:   deviceID,
		Latitude:   value.Latitude.Value,
		Longitude:  value.Longitude.Value,
		LastUpdate: value.StdFormatUpdated,
	}, nil
}

// post sends one form-encoded request and decodes the envelope.
func (c *Client) post(ctx context.Context, path, bearer string, form url.Values) (envelope, error) {
	var env envelope

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return env, fmt.Errorf("knox: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return env, fmt.Errorf("%w: %s: %w", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return env, fmt.Errorf("%w: reading %s: %w", ErrNetwork, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return env, fmt.Errorf("%w: %s returned status %d", ErrNetwork, path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: decoding %s: %w", ErrUpstreamProtocol, path, err)
	}
	if err := env.check(); err != nil {
		return env, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}
