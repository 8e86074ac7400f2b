package corelink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/logging"
)

// Local bus topics for the controller link.
const (
	// busPrefix roots every corelink topic on the local bus.
	busPrefix = "glconnect/corelink"

	// healthTopic carries periodic HealthMessage payloads.
	healthTopic = "glconnect/health/corelink"

	// busQoS is the delivery level used on the local bus.
	busQoS byte = 1
)

// linkStateTopic returns the retained state topic for a slot.
//
// Example: glconnect/corelink/link/public
func linkStateTopic(slot string) string {
	return busPrefix + "/link/" + slot
}

// rxTopic returns the local bus topic an inbound controller message is
// republished on, preserving the controller-side topic as a suffix.
//
// Example: glconnect/corelink/rx/profile/scene/12/state
func rxTopic(slot, controllerTopic string) string {
	return busPrefix + "/rx/" + slot + "/" + controllerTopic
}

// txFilter matches outbound publish requests for either slot.
//
// Pattern: glconnect/corelink/tx/+/#
func txFilter() string {
	return busPrefix + "/tx/+/#"
}

// linkCommandFilter matches start/stop commands for either slot.
//
// Pattern: glconnect/corelink/link/+/set
func linkCommandFilter() string {
	return busPrefix + "/link/+/set"
}

// BusClient is the local bus surface the bridge needs. Implemented by the
// infrastructure MQTT client via an adapter in main; mocked in tests.
type BusClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// JournalRecorder persists link events. Satisfied by the journal
// repository. Optional.
type JournalRecorder interface {
	RecordEvent(ctx context.Context, source, slot, kind string, detail map[string]any) error
}

// MetricsRecorder writes link telemetry points. Satisfied by the InfluxDB
// client. Optional.
type MetricsRecorder interface {
	WriteLinkEvent(slot, state string)
}

// EventSink receives link events for live fan-out (the WebSocket hub).
// Optional.
type EventSink interface {
	BroadcastEvent(kind string, data map[string]any)
}

// ControllerEndpoint is the public slot's target, taken from config.
type ControllerEndpoint struct {
	Host      string
	Port      int
	AutoStart bool
}

// ProfileCredentials is the profile slot's identity, taken from config.
type ProfileCredentials struct {
	Username  string
	Password  string
	AutoStart bool
}

// LinkCommand is the JSON payload accepted on link/{slot}/set.
//
// Public slot start:  {"action":"start","host":"ctrl.local","port":8884}
// Profile slot start: {"action":"start","username":"lounge","password":"…"}
// Either slot stop:   {"action":"stop"}
type LinkCommand struct {
	Action   string `json:"action"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// LinkStateMessage is the retained JSON payload on link/{slot}.
type LinkStateMessage struct {
	Slot      string    `json:"slot"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BridgeCounters are cumulative traffic figures since bridge start.
type BridgeCounters struct {
	RxMessages       uint64 `json:"rx_messages"`
	TxMessages       uint64 `json:"tx_messages"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	StateChanges     uint64 `json:"state_changes"`
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Link is the connection configuration (identity, persistence,
	// handshake timeout).
	Link Config

	// Controller is the public slot endpoint from config.
	Controller ControllerEndpoint

	// Profile is the profile slot identity from config.
	Profile ProfileCredentials

	// Bus is the local bus client. Required.
	Bus BusClient

	// Journal persists link events. Optional.
	Journal JournalRecorder

	// Metrics records link telemetry. Optional.
	Metrics MetricsRecorder

	// Events receives link events for live fan-out. Optional.
	Events EventSink

	// NewSession overrides the transport factory. Tests only.
	NewSession SessionFactory

	// Version is the daemon version for health messages.
	Version string

	// HealthInterval overrides the health publish interval.
	HealthInterval time.Duration

	// Logger is optional.
	Logger *logging.Logger
}

// Bridge relays between the controller link and the local Gray Logic bus:
//   - inbound controller messages → glconnect/corelink/rx/{slot}/…
//   - glconnect/corelink/tx/{slot}/… → controller publishes
//   - glconnect/corelink/link/{slot}/set → slot start/stop
//   - state transitions → retained link/{slot} topics, journal, metrics
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts   BridgeOptions
	conn   *Connection
	bus    BusClient
	health *HealthReporter

	countersMu sync.Mutex
	counters   BridgeCounters

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger *logging.Logger
}

// NewBridge creates a bridge and its managed Connection.
// Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus client is required")
	}

	// Bridge-level context aborts in-flight link commands on Stop.
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		opts:      opts,
		bus:       opts.Bus,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	conn, err := NewConnection(opts.Link, Deps{
		Messages:   b.relayInbound,
		Observer:   b,
		Delivery:   b,
		NewSession: opts.NewSession,
		Logger:     opts.Logger,
	})
	if err != nil {
		ctxCancel()
		return nil, err
	}
	b.conn = conn

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.Bus,
		Source:    b,
		Logger:    opts.Logger,
	})

	return b, nil
}

// Link returns the managed connection, for liveness queries.
func (b *Bridge) Link() *Connection {
	return b.conn
}

// Start subscribes to the bus command topics, begins health reporting, and
// auto-starts slots the configuration asks for. Auto-start failures are
// journalled and logged, never fatal: the link stays commandable over the
// bus.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.bus.Subscribe(txFilter(), busQoS, b.handleTx); err != nil {
		return fmt.Errorf("subscribe to tx topics: %w", err)
	}
	b.logInfo("subscribed to outbound relay", "topic", txFilter())

	if err := b.bus.Subscribe(linkCommandFilter(), busQoS, b.handleLinkCommand); err != nil {
		return fmt.Errorf("subscribe to link commands: %w", err)
	}
	b.logInfo("subscribed to link commands", "topic", linkCommandFilter())

	// Seed retained state topics so late subscribers always see a value.
	b.publishLinkState(SlotPublic, StateDisconnected, nil)
	b.publishLinkState(SlotProfile, StateDisconnected, nil)

	b.health.Start(ctx)

	if b.opts.Controller.AutoStart && b.opts.Controller.Host != "" {
		if err := b.conn.StartPublic(ctx, b.opts.Controller.Host, b.opts.Controller.Port); err != nil {
			b.logError("public slot auto-start failed", err)
			b.journal(SlotPublic, "autostart_failed", map[string]any{"error": err.Error()})
		}
	}
	if b.opts.Profile.AutoStart {
		if err := b.conn.StartProfile(ctx, b.opts.Profile.Username, b.opts.Profile.Password); err != nil {
			b.logError("profile slot auto-start failed", err)
			b.journal(SlotProfile, "autostart_failed", map[string]any{"error": err.Error()})
		}
	}

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}

	b.logInfo("bridge started", "client_id", b.opts.Link.ClientID)
	return nil
}

// Stop gracefully shuts the bridge down: both slots are stopped, retained
// state topics are updated, and health reports a final stopping status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		b.conn.StopProfile()
		b.conn.StopPublic()
		b.publishLinkState(SlotProfile, StateDisconnected, nil)
		b.publishLinkState(SlotPublic, StateDisconnected, nil)

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// SlotStates returns the current transport state of both slots, keyed by
// slot name. Non-blocking.
func (b *Bridge) SlotStates() map[string]string {
	return map[string]string{
		SlotPublic:  b.conn.PublicState().String(),
		SlotProfile: b.conn.ProfileState().String(),
	}
}

// SlotLiveness runs the full liveness check on both slots, keyed by slot
// name. Each check may block up to the bounded handshake wait, so callers
// on a request path should budget for that.
func (b *Bridge) SlotLiveness() map[string]bool {
	return map[string]bool{
		SlotPublic:  b.conn.IsPublicConnected(),
		SlotProfile: b.conn.IsProfileConnected(),
	}
}

// Counters returns a copy of the cumulative traffic counters.
func (b *Bridge) Counters() BridgeCounters {
	b.countersMu.Lock()
	defer b.countersMu.Unlock()
	return b.counters
}

// relayInbound republishes one controller message onto the local bus.
// Registered as the Connection's shared inbound handler.
func (b *Bridge) relayInbound(slot, topic string, payload []byte) {
	b.countersMu.Lock()
	b.counters.RxMessages++
	b.countersMu.Unlock()

	if err := b.bus.Publish(rxTopic(slot, topic), payload, busQoS, false); err != nil {
		b.logError("failed to relay inbound message", err, "slot", slot, "topic", topic)
	}
}

// handleTx forwards a local bus publish request to the controller.
// Topic shape: glconnect/corelink/tx/{slot}/{controller topic…}
func (b *Bridge) handleTx(topic string, payload []byte) {
	parts := strings.SplitN(topic, "/", 5)
	if len(parts) != 5 || parts[4] == "" {
		b.logWarn("malformed tx topic", "topic", topic)
		return
	}
	slot, controllerTopic := parts[3], parts[4]
	if slot != SlotPublic && slot != SlotProfile {
		b.logWarn("unknown slot in tx topic", "topic", topic)
		return
	}

	b.countersMu.Lock()
	b.counters.TxMessages++
	b.countersMu.Unlock()

	// Publish can block on the liveness check while a slot is mid-connect;
	// keep the bus handler free.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-b.done:
			return
		default:
		}

		var err error
		if slot == SlotPublic {
			err = b.conn.PublishPublic(controllerTopic, string(payload))
		} else {
			err = b.conn.PublishProfile(controllerTopic, string(payload))
		}
		if err != nil {
			b.logWarn("tx relay failed", "slot", slot, "topic", controllerTopic, "error", err)
		}
	}()
}

// handleLinkCommand applies a start/stop command from the local bus.
// Topic shape: glconnect/corelink/link/{slot}/set
func (b *Bridge) handleLinkCommand(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		b.logWarn("malformed link command topic", "topic", topic)
		return
	}
	slot := parts[3]
	if slot != SlotPublic && slot != SlotProfile {
		b.logWarn("unknown slot in link command", "topic", topic)
		return
	}

	var cmd LinkCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logWarn("invalid link command payload", "slot", slot, "error", err)
		return
	}

	b.journal(slot, "link_command", map[string]any{"action": cmd.Action})

	// Starts block for up to the handshake timeout; run them off the bus
	// handler.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-b.done:
			return
		default:
		}
		b.applyLinkCommand(slot, cmd)
	}()
}

func (b *Bridge) applyLinkCommand(slot string, cmd LinkCommand) {
	switch cmd.Action {
	case "start":
		var err error
		if slot == SlotPublic {
			err = b.conn.StartPublic(b.ctx, cmd.Host, cmd.Port)
		} else {
			err = b.conn.StartProfile(b.ctx, cmd.Username, cmd.Password)
		}
		if err != nil {
			b.logWarn("link start failed", "slot", slot, "error", err)
			b.journal(slot, "start_failed", map[string]any{"error": err.Error()})
			return
		}
		b.journal(slot, "started", nil)

	case "stop":
		if slot == SlotPublic {
			b.conn.StopPublic()
		} else {
			b.conn.StopProfile()
		}
		b.publishLinkState(slot, StateDisconnected, nil)
		b.journal(slot, "stopped", nil)

	default:
		b.logWarn("unknown link command action", "slot", slot, "action", cmd.Action)
	}
}

// ConnectionStateChanged implements StateObserver. Transitions fan out to
// the retained state topic, the journal, telemetry, and the event sink.
func (b *Bridge) ConnectionStateChanged(slot string, state LinkState, err error) {
	b.countersMu.Lock()
	b.counters.StateChanges++
	b.countersMu.Unlock()

	if err != nil {
		b.logWarn("link state changed", "slot", slot, "state", state.String(), "error", err)
	} else {
		b.logInfo("link state changed", "slot", slot, "state", state.String())
	}

	b.publishLinkState(slot, state, err)

	detail := map[string]any{"state": state.String()}
	if err != nil {
		detail["error"] = err.Error()
	}
	b.journal(slot, "link_state", detail)

	if b.opts.Metrics != nil {
		b.opts.Metrics.WriteLinkEvent(slot, state.String())
	}
	if b.opts.Events != nil {
		b.opts.Events.BroadcastEvent("link_state", map[string]any{
			"slot":  slot,
			"state": state.String(),
		})
	}
}

// DeliverySucceeded implements DeliveryListener. Observational only.
func (b *Bridge) DeliverySucceeded(slot, topic string) {
	b.logDebug("delivery confirmed", "slot", slot, "topic", topic)
}

// DeliveryFailed implements DeliveryListener. Observational only; the
// failure is journalled but slot state is never touched.
func (b *Bridge) DeliveryFailed(slot, topic string, err error) {
	b.countersMu.Lock()
	b.counters.DeliveryFailures++
	b.countersMu.Unlock()

	b.logWarn("delivery failed", "slot", slot, "topic", topic, "error", err)
	b.journal(slot, "delivery_failure", map[string]any{
		"topic": topic,
		"error": err.Error(),
	})
}

// publishLinkState publishes the retained state document for a slot.
func (b *Bridge) publishLinkState(slot string, state LinkState, stateErr error) {
	msg := LinkStateMessage{
		Slot:      slot,
		State:     state.String(),
		Timestamp: time.Now().UTC(),
	}
	if stateErr != nil {
		msg.Error = stateErr.Error()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal link state", err, "slot", slot)
		return
	}
	if err := b.bus.Publish(linkStateTopic(slot), payload, busQoS, true); err != nil {
		b.logError("failed to publish link state", err, "slot", slot)
	}
}

// journal records a link event, best-effort.
func (b *Bridge) journal(slot, kind string, detail map[string]any) {
	if b.opts.Journal == nil {
		return
	}
	if err := b.opts.Journal.RecordEvent(b.ctx, "corelink", slot, kind, detail); err != nil {
		b.logError("failed to journal link event", err, "slot", slot, "kind", kind)
	}
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
