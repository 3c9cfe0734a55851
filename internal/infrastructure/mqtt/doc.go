// Package mqtt publishes stolenwatch events to an MQTT broker.
//
// The daemon only publishes; it never subscribes. Two kinds of messages are
// sent:
//
//   - stolenwatch/alert/{deviceId}: one JSON alert event per e-mail sent,
//     QoS from config, not retained.
//   - stolenwatch/system/status: retained online/offline status. The broker
//     publishes the Last Will here if the daemon disappears without a
//     graceful Close.
//
// MQTT is optional. Connect returns ErrDisabled when mqtt.enabled is false,
// and a broker outage never affects mail delivery.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(ctx, mqtt.Topics{}.Alert(ev.DeviceID), ev)
package mqtt
