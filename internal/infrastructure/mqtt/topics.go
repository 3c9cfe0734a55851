package mqtt

import "fmt"

// Topic prefixes for stolenwatch messages.
const (
	// TopicPrefix is the root of every stolenwatch topic.
	TopicPrefix = "stolenwatch"

	// TopicPrefixAlert is the base for alert events.
	TopicPrefixAlert = "stolenwatch/alert"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "stolenwatch/system"
)

// Topics provides builders for stolenwatch MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Alert("R58N123ABC")
//	// Returns: "stolenwatch/alert/R58N123ABC"
type Topics struct{}

// Alert returns the topic an alert event for deviceID is published on.
//
// Example: stolenwatch/alert/R58N123ABC
func (Topics) Alert(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixAlert, deviceID)
}

// AllAlerts returns a wildcard topic matching every alert event.
//
// Returns: stolenwatch/alert/+
func (Topics) AllAlerts() string {
	return TopicPrefixAlert + "/+"
}

// SystemStatus returns the topic carrying the daemon's online/offline status.
// The broker publishes the Last Will here on unexpected disconnects.
//
// Returns: stolenwatch/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
