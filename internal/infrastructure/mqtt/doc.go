// Package mqtt provides the broker connection used by the Ariston bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and exponential backoff
//   - Retained online/offline status with a Last Will for unclean exits
//   - Subscriptions that are replayed after every reconnect
//   - Publishing with QoS and payload-size checks
//
// The bridge publishes parameter state and health under the "ariston" topic
// prefix and receives set commands on it; this package only knows the
// status topic, the rest belongs to the bridge.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("ariston/command/boiler/set", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
