// Package mqtt wraps the paho client for the gateway's broker session.
//
// MQTT is the spine of the system: BLE scanners publish scans, state
// notifications, command acks and health reports to the broker, and the
// core publishes decoded device state, the retained discovery view and
// gateway events back. The broker (usually a local Mosquitto) decouples
// the core from the radio-facing scanner processes, which may run on
// the same host or on remote edge nodes.
//
// The wrapper handles what the bridge should not have to think about:
// auto-reconnect with backoff, replaying subscriptions after a
// reconnect, a retained Last Will so consumers see the gateway drop
// offline, payload size limits, and panic recovery around message
// handlers. Topic construction for the blinky/... scheme lives in
// topics.go so topic strings are never assembled by hand elsewhere.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s = %s", topic, payload)
//	        return nil
//	    })
//
// TLS (cfg.Broker.TLS) is expected for anything beyond a loopback
// broker; payloads are not encrypted beyond the transport.
package mqtt
