package knox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// successCode is the envelope resultCode of a successful call.
const successCode = "0"

// envelope is the wrapper around every directory response.
type envelope struct {
	ResultCode    flexString      `json:"resultCode"`
	ResultMessage string          `json:"resultMessage"`
	ResultValue   json.RawMessage `json:"resultValue"`
}

func (e envelope) check() error {
	if string(e.ResultCode) != successCode {
		return fmt.Errorf("%w: resultCode %q: %s", ErrUpstreamProtocol, string(e.ResultCode), e.ResultMessage)
	}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Valid reports
// whether a usable value was present.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		// Objects, arrays and booleans are treated as absent.
		*f = flexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		*f = flexFloat{}
		return nil
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

type deviceListValue struct {
	DeviceList json.RawMessage `json:"deviceList"`
}

type device struct {
	DeviceID           flexString      `json:"deviceId"`
	UserName           *flexString     `json:"userName"`
	DeviceModelKind    *flexString     `json:"deviceModelKind"`
	DeviceTags         []deviceTag     `json:"deviceTags"`
	LastConnectionDate json.RawMessage `json:"lastConnectionDate"`
}

type deviceTag struct {
	TagValue flexString `json:"tagValue"`
}

func (d device) hasTag(tag string) bool {
	for _, t := range d.DeviceTags {
		if string(t.TagValue) == tag {
			return true
		}
	}
	return false
}

// lastConnection parses lastConnectionDate.time (epoch milliseconds, number
// or numeric string, integral or in float/exponent form). Anything unusable
// yields nil.
func (d device) lastConnection() *time.Time {
	if len(d.LastConnectionDate) == 0 {
		return nil
	}
	var lcd struct {
		Time json.RawMessage `json:"time"`
	}
	if err := json.Unmarshal(d.LastConnectionDate, &lcd); err != nil || len(lcd.Time) == 0 {
		return nil
	}
	var raw flexString
	if err := raw.UnmarshalJSON(lcd.Time); err != nil || raw == "" {
		return nil
	}
	ms, ok := parseEpochMillis(string(raw))
	if !ok {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// maxEpochMillis keeps float conversions inside int64.
const maxEpochMillis = 1 << 62

func parseEpochMillis(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxEpochMillis {
		return 0, false
	}
	return int64(f), true
}

type locationValue struct {
	Latitude         flexFloat `json:"latitude"`
	Longitude        flexFloat `json:"longitude"`
	StdFormatUpdated string    `json:"stdFormatUpdated"`
}

func orPlaceholder(s *flexString, placeholder string) string {
	if s == nil {
		return placeholder
	}
	return string(*s)
}

// isArray reports whether raw is a JSON array. Missing and null are not.
func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// isAbsent reports whether raw is missing or null.
func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
