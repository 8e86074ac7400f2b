package corelink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

const (
	// sessionKeepAlive is the transport keep-alive interval.
	sessionKeepAlive = 30 * time.Second

	// disconnectQuiesceMS is how long Stop lets in-flight work finish
	// before the transport connection is dropped.
	disconnectQuiesceMS = 1000
)

// pahoSession is the production Session backed by the Eclipse Paho client.
//
// One pahoSession maps to one broker session: it is constructed, started
// once, and discarded after Stop. Restarting a slot builds a fresh session
// rather than reusing this one, which keeps the paho client's internal
// state out of the slot lifecycle.
type pahoSession struct {
	cfg      SessionConfig
	client   pahomqtt.Client
	observer StateObserver
	delivery DeliveryListener

	mu       sync.Mutex
	state    LinkState
	stopping bool
}

// NewPahoSession constructs an encrypted MQTT session against the
// controller. The connection is not initiated until Start is called.
//
// The session authenticates the controller with cfg.TLS (embedded trust
// roots only), identifies itself with cfg.ClientID, and keeps transport
// state under cfg.PersistenceDir so at-least-once delivery survives a
// process restart.
func NewPahoSession(cfg SessionConfig, observer StateObserver, delivery DeliveryListener) Session {
	s := &pahoSession{
		cfg:      cfg,
		observer: observer,
		delivery: delivery,
		state:    StateDisconnected,
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetTLSConfig(cfg.TLS)

	// Retry policy belongs to the caller: a refused or lost link stays
	// down until the next explicit start.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(sessionKeepAlive)

	// Durable session: the broker keeps the wildcard subscription and the
	// file store keeps unacknowledged messages across restarts.
	opts.SetCleanSession(false)
	opts.SetStore(pahomqtt.NewFileStore(cfg.PersistenceDir))

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnected()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(err)
	})

	s.client = pahomqtt.NewClient(opts)
	return s
}

// ClientID returns the wire-level client identity of this session.
func (s *pahoSession) ClientID() string {
	return s.cfg.ClientID
}

// Start initiates the connect handshake. The returned future resolves true
// on success, false when the controller refuses the session, and fails for
// transport faults.
func (s *pahoSession) Start() *Future {
	f := NewFuture()
	s.setState(StateConnecting)

	go func() {
		token := s.client.Connect()
		token.Wait()

		err := token.Error()
		if err == nil {
			// handleConnected has already recorded the state change.
			f.Complete(true)
			return
		}

		s.setState(StateDisconnected)
		if connRefused(err) {
			f.Complete(false)
			return
		}
		f.Fail(err)
	}()

	return f
}

// Subscribe registers handler for filter. The future resolves true once
// the broker acknowledges the subscription and fails on transport errors.
func (s *pahoSession) Subscribe(filter string, handler MessageHandler) *Future {
	f := NewFuture()
	token := s.client.Subscribe(filter, s.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})

	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			f.Fail(fmt.Errorf("subscribing %s: %w", filter, err))
			return
		}
		f.Complete(true)
	}()

	return f
}

// Publish hands payload to the transport. The delivery outcome is reported
// asynchronously through the DeliveryListener.
func (s *pahoSession) Publish(topic string, payload []byte, qos byte) error {
	token := s.client.Publish(topic, qos, false, payload)

	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			if s.delivery != nil {
				s.delivery.DeliveryFailed(s.cfg.Slot, topic, err)
			}
			return
		}
		if s.delivery != nil {
			s.delivery.DeliverySucceeded(s.cfg.Slot, topic)
		}
	}()

	return nil
}

// Stop tears the session down after a short quiesce. The disconnect is
// deliberate, so the observer is not told about the resulting state change.
func (s *pahoSession) Stop() *Future {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	f := NewFuture()
	go func() {
		s.client.Disconnect(disconnectQuiesceMS)
		s.setState(StateDisconnected)
		f.Complete(true)
	}()
	return f
}

// State returns the current transport state.
func (s *pahoSession) State() LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *pahoSession) setState(state LinkState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *pahoSession) handleConnected() {
	s.setState(StateConnected)
	if s.observer != nil {
		s.observer.ConnectionStateChanged(s.cfg.Slot, StateConnected, nil)
	}
}

func (s *pahoSession) handleConnectionLost(err error) {
	s.mu.Lock()
	stopping := s.stopping
	s.state = StateDisconnected
	s.mu.Unlock()

	// A loss during teardown is the stop doing its job.
	if stopping {
		return
	}
	if s.observer != nil {
		s.observer.ConnectionStateChanged(s.cfg.Slot, StateDisconnected, err)
	}
}

// connRefused reports whether err is a CONNACK refusal (bad credentials,
// identifier rejected, not authorised) rather than a transport fault.
func connRefused(err error) bool {
	for code, refusal := range packets.ConnErrors {
		switch code {
		case packets.Accepted, packets.ErrNetworkError, packets.ErrProtocolViolation:
			continue
		}
		if errors.Is(err, refusal) {
			return true
		}
	}
	return false
}
