// Package mqtt provides MQTT client connectivity for Gray Logic Connect.
//
// This package manages:
//   - Connection to the local Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gray Logic Connect uses MQTT as the local message bus tying its bridge
// services (CoreLink, solar, AVR) to the rest of the installation. The
// broker (Mosquitto) decouples local subscribers from the upstream
// controller link.
//
//	Local Services ↔ MQTT Broker ↔ glconnect bridges ↔ Controller / Devices
//
// # Security Considerations
//
//   - TLS is available for non-loopback brokers (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to retained link states for both slots
//	err = client.Subscribe(mqtt.Topics{}.AllCoreLinkStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Ask the CoreLink bridge to start the profile slot
//	topic := mqtt.Topics{}.CoreLinkCommand("profile")
//	client.Publish(topic, []byte(`{"action":"start"}`), 1, false)
//
// # Related Documents
//
//   - docs/protocols/mqtt.md — Topic structure and message formats
//   - docs/architecture/mqtt-resilience.md — Persistence and recovery
package mqtt
