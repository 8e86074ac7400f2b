package mqtt

import "fmt"

// Topic prefixes per the Gray Logic Connect MQTT layout.
// See docs/protocols/mqtt.md for the complete topic hierarchy.
//
// All gateway topics live under a single root: glconnect/{service}/...
// This keeps Connect traffic separable from the controller-side hierarchy
// with one subscription.
const (
	// TopicPrefix is the root for all Gray Logic Connect topics.
	TopicPrefix = "glconnect"

	// TopicPrefixCoreLink is the base for controller link topics.
	// Layout: glconnect/corelink/{rx|tx}/{slot}/{controller topic}
	TopicPrefixCoreLink = "glconnect/corelink"

	// TopicPrefixSolar is the base for solar inverter topics.
	TopicPrefixSolar = "glconnect/solar"

	// TopicPrefixAVR is the base for AV receiver topics.
	TopicPrefixAVR = "glconnect/avr"

	// TopicPrefixHealth is the base for per-service health topics.
	TopicPrefixHealth = "glconnect/health"

	// TopicPrefixSystem is the base for process-level system topics.
	TopicPrefixSystem = "glconnect/system"
)

// Topics provides builders for Gray Logic Connect MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Link traffic uses the slot-tagged scheme matching the CoreLink bridge:
//
//	topics := mqtt.Topics{}
//	rxTopic := topics.CoreLinkRx("public", "scene/12/state")
//	// Returns: "glconnect/corelink/rx/public/scene/12/state"
type Topics struct{}

// =============================================================================
// CoreLink Topics
// =============================================================================

// CoreLinkRx returns the topic a controller message is relayed to on the
// local bus. The slot identifies which session received it.
//
// Example: glconnect/corelink/rx/public/scene/12/state
func (Topics) CoreLinkRx(slot, controllerTopic string) string {
	return fmt.Sprintf("%s/rx/%s/%s", TopicPrefixCoreLink, slot, controllerTopic)
}

// CoreLinkTx returns the topic local services publish to when sending a
// message out through a link slot. The remainder after the slot is the
// controller-side topic.
//
// Example: glconnect/corelink/tx/profile/scene/12/set
func (Topics) CoreLinkTx(slot, controllerTopic string) string {
	return fmt.Sprintf("%s/tx/%s/%s", TopicPrefixCoreLink, slot, controllerTopic)
}

// CoreLinkState returns the retained link state topic for a slot.
//
// Example: glconnect/corelink/link/public
func (Topics) CoreLinkState(slot string) string {
	return fmt.Sprintf("%s/link/%s", TopicPrefixCoreLink, slot)
}

// CoreLinkCommand returns the command topic for a slot (start/stop the link).
//
// Example: glconnect/corelink/link/profile/set
func (Topics) CoreLinkCommand(slot string) string {
	return fmt.Sprintf("%s/link/%s/set", TopicPrefixCoreLink, slot)
}

// =============================================================================
// Solar Topics
// =============================================================================

// SolarState returns the retained solar inverter snapshot topic.
//
// Example: glconnect/solar/state
func (Topics) SolarState() string {
	return fmt.Sprintf("%s/state", TopicPrefixSolar)
}

// =============================================================================
// AVR Topics
// =============================================================================

// AVRRx returns the topic for lines received from the AV receiver.
//
// Example: glconnect/avr/rx
func (Topics) AVRRx() string {
	return fmt.Sprintf("%s/rx", TopicPrefixAVR)
}

// AVRTx returns the topic for commands to send to the AV receiver.
//
// Example: glconnect/avr/tx
func (Topics) AVRTx() string {
	return fmt.Sprintf("%s/tx", TopicPrefixAVR)
}

// =============================================================================
// Health and System Topics
// =============================================================================

// ServiceHealth returns the health topic for a gateway service.
//
// Example: glconnect/health/corelink
func (Topics) ServiceHealth(service string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixHealth, service)
}

// SystemStatus returns the process status topic (online/offline, LWT).
//
// Example: glconnect/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCoreLinkRx returns a pattern matching controller traffic from any slot.
//
// Pattern: glconnect/corelink/rx/+/#
func (Topics) AllCoreLinkRx() string {
	return fmt.Sprintf("%s/rx/+/#", TopicPrefixCoreLink)
}

// AllCoreLinkTx returns a pattern matching outbound traffic for any slot.
//
// Pattern: glconnect/corelink/tx/+/#
func (Topics) AllCoreLinkTx() string {
	return fmt.Sprintf("%s/tx/+/#", TopicPrefixCoreLink)
}

// AllCoreLinkStates returns a pattern matching retained link states.
//
// Pattern: glconnect/corelink/link/+
func (Topics) AllCoreLinkStates() string {
	return fmt.Sprintf("%s/link/+", TopicPrefixCoreLink)
}

// AllCoreLinkCommands returns a pattern matching link commands for any slot.
//
// Pattern: glconnect/corelink/link/+/set
func (Topics) AllCoreLinkCommands() string {
	return fmt.Sprintf("%s/link/+/set", TopicPrefixCoreLink)
}

// AllServiceHealth returns a pattern matching all service health topics.
//
// Pattern: glconnect/health/+
func (Topics) AllServiceHealth() string {
	return fmt.Sprintf("%s/+", TopicPrefixHealth)
}

// AllTopics returns a pattern matching all Gray Logic Connect topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: glconnect/#
func (Topics) AllTopics() string {
	return "glconnect/#"
}
