// Package influxdb records stolenwatch activity as InfluxDB time series.
//
// It wraps influxdb-client-go v2 and writes two measurements:
//
//   - location_fix: every resolved position of a tagged device, tagged with
//     device_id and whether it fell inside the watched area.
//   - poll_cycle: the counters of every detection cycle.
//
// InfluxDB is optional: Connect returns ErrDisabled when influxdb.enabled is
// false, and write failures are reported through SetOnError only.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLocationFix(influxdb.LocationFix{DeviceID: "R58N123ABC", ...})
package influxdb
