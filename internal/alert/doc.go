// Package alert formats and delivers stolen-device notifications.
//
// A Dispatcher sends exactly one e-mail per Event through a Sender, then
// records the outcome in the audit trail and fans the event out to any
// configured Publishers (MQTT, Redis). Nothing in this package returns an
// error to the poll loop: delivery failures are wrapped in ErrDelivery and
// logged.
package alert
