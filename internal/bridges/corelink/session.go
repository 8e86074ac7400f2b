package corelink

import (
	"crypto/tls"
	"time"
)

// LinkState describes the transport state of one session.
type LinkState int

const (
	// StateDisconnected means no transport connection exists.
	StateDisconnected LinkState = iota

	// StateConnecting means a connect handshake is in flight.
	StateConnecting

	// StateConnected means the session holds an open connection.
	StateConnected
)

// String returns the lowercase wire name of the state.
func (s LinkState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MessageHandler receives a single inbound message from the transport.
type MessageHandler func(topic string, payload []byte)

// InboundHandler receives inbound controller messages tagged with the slot
// whose subscription delivered them.
type InboundHandler func(slot, topic string, payload []byte)

// StateObserver is notified of transport state transitions on either slot.
// err is non-nil only for failure-driven transitions (connection lost).
// Implementations must not call back into the Connection's start/stop
// operations from the callback.
type StateObserver interface {
	ConnectionStateChanged(slot string, state LinkState, err error)
}

// DeliveryListener observes the outcome of published messages. Both slots
// report through one listener; the slot tag disambiguates concurrent
// publishes. Outcomes are informational only and never alter slot state.
type DeliveryListener interface {
	DeliverySucceeded(slot, topic string)
	DeliveryFailed(slot, topic string, err error)
}

// SessionConfig carries everything needed to construct one transport
// session against the controller.
type SessionConfig struct {
	// Slot is the owning slot name ("public" or "profile"), used to tag
	// observer and delivery callbacks.
	Slot string

	// Host and Port locate the controller's broker endpoint.
	Host string
	Port int

	// ClientID is the derived wire-level identity (base id + slot suffix).
	ClientID string

	// Username and Password are the profile credentials. Empty for the
	// public slot.
	Username string
	Password string

	// TLS is the shared trust configuration built from the embedded
	// controller certificates.
	TLS *tls.Config

	// PersistenceDir is this session's private directory for transport
	// state, named after the derived client id.
	PersistenceDir string

	// QoS is the delivery guarantee for subscribes and publishes.
	QoS byte

	// ConnectTimeout bounds the transport-level connect attempt.
	ConnectTimeout time.Duration
}

// Session is one encrypted publish/subscribe session against the
// controller. Implementations must be safe for concurrent use.
type Session interface {
	// ClientID returns the wire-level client identity of this session.
	ClientID() string

	// Start begins the asynchronous connect handshake. The future resolves
	// true on success, false if the controller refuses the session (bad
	// credentials, identifier rejected), and fails with an error for
	// transport faults.
	Start() *Future

	// Subscribe registers handler for all messages matching filter. The
	// future resolves true once the broker acknowledges the subscription.
	Subscribe(filter string, handler MessageHandler) *Future

	// Publish hands payload to the transport for delivery to topic. The
	// delivery outcome is reported through the DeliveryListener, not the
	// return value; a non-nil error means the hand-off itself failed.
	Publish(topic string, payload []byte, qos byte) error

	// Stop tears the session down. The future resolves once the transport
	// has quiesced. Stop never reports failure and suppresses further
	// observer callbacks for this session.
	Stop() *Future

	// State returns the current transport state.
	State() LinkState
}

// SessionFactory constructs a Session. Production wiring uses
// NewPahoSession; tests substitute scripted implementations.
type SessionFactory func(cfg SessionConfig, observer StateObserver, delivery DeliveryListener) Session
