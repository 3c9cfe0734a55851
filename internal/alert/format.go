package alert

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// localTimeLayout renders day/month/year hour:minute.
const localTimeLayout = "02/01/2006 15:04"

// FormatOptions control how an Event is rendered.
type FormatOptions struct {
	AreaName       string
	RadiusKm       float64
	UTCOffsetHours int

	// MapURLTemplate receives latitude and longitude, e.g.
	// "https://www.google.com/maps/search/?api=1&query=%.6f,%.6f".
	MapURLTemplate string
}

// Message is a rendered notification.
type Message struct {
	Subject  string
	HTMLBody string
}

var bodyTemplate = template.Must(template.New("alert").Parse(`<html>
  <body>
    <h2>Alert: stolen device powered on in {{.Area}}</h2>
    <p>
      <strong>Device ID:</strong> {{.DeviceID}}<br/>
      <strong>User:</strong> {{.UserName}}<br/>
      <strong>Model:</strong> {{.DeviceModel}}<br/>
      <strong>Connection time:</strong> {{.LocalTime}} ({{.Zone}})<br/>
      <strong>Latitude / Longitude:</strong> {{.Coordinates}}<br/>
      <strong>Distance from centre:</strong> {{.Distance}} km
    </p>
    <p><a href="{{.MapURL}}" target="_blank">Open in maps</a></p>
    <hr/>
    <p>
      This device was located inside {{.Area}} (radius {{.Radius}} km).<br/>
      Check its precise position on the dashboard now.
    </p>
  </body>
</html>
`))

// Zone returns the fixed-offset zone used to render local times. There is
// no DST handling.
func Zone(offsetHours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*int(time.Hour/time.Second))
}

// LocalTime renders t in the fixed-offset zone.
func LocalTime(t time.Time, offsetHours int) string {
	return t.In(Zone(offsetHours)).Format(localTimeLayout)
}

// MapURL renders the map link with 6-decimal coordinates.
func MapURL(tmpl string, lat, lon float64) string {
	return fmt.Sprintf(tmpl, lat, lon)
}

// Format renders the subject and HTML body for ev.
func Format(ev Event, opts FormatOptions) (Message, error) {
	local := LocalTime(ev.ConnectedAt, opts.UTCOffsetHours)

	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, map[string]any{
		"Area":        opts.AreaName,
		"DeviceID":    ev.DeviceID,
		"UserName":    ev.UserName,
		"DeviceModel": ev.DeviceModel,
		"LocalTime":   local,
		"Zone":        template.HTML(Zone(opts.UTCOffsetHours).String()), //nolint:gosec // "UTC%+d" built from an int
		"Coordinates": fmt.Sprintf("%.6f, %.6f", ev.Latitude, ev.Longitude),
		"Distance":    fmt.Sprintf("%.2f", ev.DistanceKm),
		"Radius":      fmt.Sprintf("%g", opts.RadiusKm),
		"MapURL":      template.URL(MapURL(opts.MapURLTemplate, ev.Latitude, ev.Longitude)), //nolint:gosec // built from config template and numeric coordinates
	})
	if err != nil {
		return Message{}, fmt.Errorf("rendering alert body: %w", err)
	}

	return Message{
		Subject:  fmt.Sprintf("[ALERT] Stolen device %s powered on in %s at %s", ev.DeviceID, opts.AreaName, local),
		HTMLBody: body.String(),
	}, nil
}
