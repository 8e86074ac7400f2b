package corelink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/logging"
)

// Slot names. Each Connection owns exactly one slot of each kind.
const (
	// SlotPublic is the system-wide session, started with an explicit
	// controller endpoint.
	SlotPublic = "public"

	// SlotProfile is the credential-scoped session for one touch profile.
	// It reuses the endpoint recorded by the public slot.
	SlotProfile = "profile"
)

const (
	// defaultHandshakeTimeout bounds every blocking wait: prior-stop
	// serialisation, connect handshakes, and liveness checks.
	defaultHandshakeTimeout = 5 * time.Second

	// linkQoS is the fixed at-least-once delivery level for both slots.
	linkQoS byte = 1

	// subscribeAll is the wildcard filter each slot subscribes with, so
	// every controller topic reaches the shared inbound handler.
	subscribeAll = "#"
)

// Config carries the client identity for a Connection.
type Config struct {
	// ClientID is the base identity. Wire-level ids derive from it with
	// slot suffixes ("-public", "-profile").
	ClientID string

	// PersistenceDir is the base directory under which each slot keeps
	// transport state in a subdirectory named after its derived id.
	PersistenceDir string

	// HandshakeTimeout overrides the 5 s bounded wait. Zero keeps the
	// default; tests shorten it.
	HandshakeTimeout time.Duration
}

// Deps carries the caller-supplied collaborators for a Connection.
type Deps struct {
	// Messages receives every message delivered on either slot's wildcard
	// subscription. Required.
	Messages InboundHandler

	// Observer is notified of transport state transitions. Optional.
	Observer StateObserver

	// Delivery observes publish outcomes. Optional.
	Delivery DeliveryListener

	// NewSession constructs transport sessions. Nil selects the
	// production paho implementation.
	NewSession SessionFactory

	// Logger receives lifecycle logging. Optional.
	Logger *logging.Logger
}

// slot is the mutable state of one session slot.
type slot struct {
	name string

	// opMu serialises start and stop of this slot: a new session must not
	// be constructed while a stop is tearing the old one down. The two
	// slots are independent and never share a lock.
	opMu sync.Mutex

	// mu guards the fields below for short reads and writes.
	mu sync.Mutex

	// session is the at-most-one live broker session.
	session Session

	// subscribed resolves true once the slot's wildcard subscription is
	// acknowledged. Forced to false and cleared on stop.
	subscribed *Future

	// stopped resolves once the previous session has torn down. The next
	// start awaits it, bounded.
	stopped *Future
}

// endpoint is the controller address shared between the slots. The public
// slot's start writes it; the profile slot's start reads it and fails fast
// when it was never set.
type endpoint struct {
	mu   sync.Mutex
	host string
	port int
	set  bool
}

func (e *endpoint) record(host string, port int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.host, e.port, e.set = host, port, true
}

func (e *endpoint) get() (string, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.host, e.port, e.set
}

// Connection manages two independently-lifecycled encrypted sessions to
// one controller: the system-wide public slot and the credential-scoped
// profile slot. The slots share the trust configuration, the client
// identity and the callback surface, and nothing else; they may be
// started, stopped and published on in any order or concurrently.
type Connection struct {
	cfg    Config
	tlsCfg *tls.Config
	deps   Deps

	public   slot
	profile  slot
	endpoint endpoint
}

// NewConnection builds a Connection and loads the embedded controller
// trust certificates.
//
// Returns:
//   - *Connection: Ready for slot starts; no connection is attempted yet
//   - error: ErrCertificateSetup if the trust bundle cannot be parsed, or
//     a plain error for missing config/deps
func NewConnection(cfg Config, deps Deps) (*Connection, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("corelink: client id is required")
	}
	if cfg.PersistenceDir == "" {
		return nil, errors.New("corelink: persistence dir is required")
	}
	if deps.Messages == nil {
		return nil, errors.New("corelink: inbound message handler is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if deps.NewSession == nil {
		deps.NewSession = NewPahoSession
	}

	tlsCfg, err := newTrustConfig()
	if err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:    cfg,
		tlsCfg: tlsCfg,
		deps:   deps,
	}
	c.public.name = SlotPublic
	c.profile.name = SlotProfile
	return c, nil
}

// StartPublic records the controller endpoint and starts the public slot.
//
// Any stop still in flight for the slot is awaited first, bounded by the
// handshake timeout; a stale stop is abandoned with a warning rather than
// blocking the start. A fresh session then connects and subscribes to all
// topics.
//
// Returns:
//   - error: ErrConnect (transport fault or refused session),
//     ErrConnectTimeout (handshake did not resolve in time), or
//     ErrConnectAborted (ctx cancelled during the wait)
func (c *Connection) StartPublic(ctx context.Context, host string, port int) error {
	c.endpoint.record(host, port)
	return c.startSlot(ctx, &c.public, c.sessionConfig(SlotPublic, host, port, "", ""), ErrConnect)
}

// StartProfile starts the profile slot with the given credentials against
// the endpoint recorded by the public slot.
//
// If the slot already reports connected-and-subscribed the call is a
// no-op: the existing session is kept and nil is returned.
//
// Returns:
//   - error: ErrEndpointNotSet (no public start has recorded an
//     endpoint), ErrAuthentication (controller refused the credentials),
//     ErrConnect, ErrConnectTimeout, or ErrConnectAborted as for the
//     public slot
func (c *Connection) StartProfile(ctx context.Context, username, password string) error {
	host, port, ok := c.endpoint.get()
	if !ok {
		return fmt.Errorf("%w: start the public slot first", ErrEndpointNotSet)
	}

	if c.slotConnected(ctx, &c.profile) {
		c.logDebug("profile slot already connected and subscribed, keeping session")
		return nil
	}

	return c.startSlot(ctx, &c.profile, c.sessionConfig(SlotProfile, host, port, username, password), ErrAuthentication)
}

// StopPublic tears down the public slot. It never fails outward.
func (c *Connection) StopPublic() {
	c.stopSlot(&c.public)
}

// StopProfile tears down the profile slot. It never fails outward.
func (c *Connection) StopProfile() {
	c.stopSlot(&c.profile)
}

// IsPublicConnected reports whether the public slot is ready: a session
// exists, its subscription resolved true within the bounded wait, and the
// transport is connected right now. Faults and timeouts report false.
func (c *Connection) IsPublicConnected() bool {
	return c.slotConnected(context.Background(), &c.public)
}

// IsProfileConnected is the profile-slot liveness check. See
// IsPublicConnected.
func (c *Connection) IsProfileConnected() bool {
	return c.slotConnected(context.Background(), &c.profile)
}

// PublishPublic sends message on the public slot at QoS 1.
//
// A slot with no session returns ErrNoSession. A slot that is not
// currently connected-and-subscribed drops the message with a debug log
// and returns nil: delivery here is best-effort, not queued.
func (c *Connection) PublishPublic(topic, message string) error {
	return c.publishSlot(&c.public, topic, message)
}

// PublishProfile sends message on the profile slot. See PublishPublic.
func (c *Connection) PublishProfile(topic, message string) error {
	return c.publishSlot(&c.profile, topic, message)
}

// PublicState returns the public slot's transport state, StateDisconnected
// when no session exists.
func (c *Connection) PublicState() LinkState {
	return c.slotState(&c.public)
}

// ProfileState returns the profile slot's transport state.
func (c *Connection) ProfileState() LinkState {
	return c.slotState(&c.profile)
}

// Endpoint returns the controller endpoint recorded by the public slot.
func (c *Connection) Endpoint() (host string, port int, ok bool) {
	return c.endpoint.get()
}

// sessionConfig derives the per-slot transport configuration from the
// shared identity and trust material.
func (c *Connection) sessionConfig(slotName, host string, port int, username, password string) SessionConfig {
	clientID := c.cfg.ClientID + "-" + slotName
	return SessionConfig{
		Slot:           slotName,
		Host:           host,
		Port:           port,
		ClientID:       clientID,
		Username:       username,
		Password:       password,
		TLS:            c.tlsCfg,
		PersistenceDir: filepath.Join(c.cfg.PersistenceDir, clientID),
		QoS:            linkQoS,
		ConnectTimeout: c.cfg.HandshakeTimeout,
	}
}

// startSlot replaces the slot's session with a freshly connected one.
// refused is the sentinel returned when the controller answers the connect
// with a refusal (ErrConnect for public, ErrAuthentication for profile).
func (c *Connection) startSlot(ctx context.Context, s *slot, sc SessionConfig, refused error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	// Serialise against a previous stop. Teardown that overruns the
	// bounded wait is abandoned, not fatal: the old session keeps dying
	// in the background while the new one connects.
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped != nil && !stopped.Done() {
		if _, err := stopped.Await(ctx, c.cfg.HandshakeTimeout); err != nil {
			c.logWarn("previous stop incomplete, starting anyway",
				"slot", s.name, "error", err)
		}
	}

	sess := c.deps.NewSession(sc, c.deps.Observer, c.deps.Delivery)

	s.mu.Lock()
	if s.session != nil {
		c.logDebug("replacing existing session",
			"slot", s.name, "client_id", s.session.ClientID())
	}
	s.session = sess
	s.stopped = nil
	s.mu.Unlock()

	ok, err := sess.Start().Await(ctx, c.cfg.HandshakeTimeout)
	if err != nil {
		c.resetSlot(s)
		switch {
		case errors.Is(err, ErrWaitTimeout):
			c.logWarn("connect timed out", "slot", s.name, "client_id", sc.ClientID)
			return fmt.Errorf("%w: %s after %v", ErrConnectTimeout, sc.ClientID, c.cfg.HandshakeTimeout)
		case errors.Is(err, ErrConnectAborted):
			c.logWarn("connect aborted", "slot", s.name, "client_id", sc.ClientID, "error", err)
			return err
		default:
			c.logWarn("connect failed", "slot", s.name, "client_id", sc.ClientID, "error", err)
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}
	}
	if !ok {
		c.resetSlot(s)
		c.logWarn("controller refused connect", "slot", s.name, "client_id", sc.ClientID)
		return fmt.Errorf("%w: %s", refused, sc.ClientID)
	}

	// Subscribe to everything, unless a subscription from a rapid restart
	// is still pending; storing a second future would double-subscribe.
	s.mu.Lock()
	if s.subscribed == nil || s.subscribed.Done() {
		slotName := s.name
		s.subscribed = sess.Subscribe(subscribeAll, func(topic string, payload []byte) {
			c.deps.Messages(slotName, topic, payload)
		})
	} else {
		c.logDebug("subscription still pending, not resubscribing", "slot", s.name)
	}
	s.mu.Unlock()

	c.logInfo("slot started", "slot", s.name, "client_id", sc.ClientID,
		"endpoint", fmt.Sprintf("%s:%d", sc.Host, sc.Port))
	return nil
}

// resetSlot returns a slot to "no active session" after a failed start.
// The half-open session is stopped and its future stored so the next start
// serialises against the teardown.
func (c *Connection) resetSlot(s *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.stopped = s.session.Stop()
		s.session = nil
	}
	if s.subscribed != nil {
		if !s.subscribed.Done() {
			s.subscribed.Complete(false)
		}
		s.subscribed = nil
	}
}

// stopSlot tears a slot down. The session reference clears immediately;
// the transport teardown completes in the background and is reconciled by
// the next start via the stored stop future. Stop never fails outward.
func (c *Connection) stopSlot(s *slot) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.stopped = s.session.Stop()
		s.session = nil
	} else {
		// Nothing to tear down; the next start must not wait.
		s.stopped = ResolvedFuture(true)
	}

	// Force "no longer subscribed" so liveness reports false immediately,
	// without waiting for the transport.
	if s.subscribed != nil {
		if !s.subscribed.Done() {
			s.subscribed.Complete(false)
		}
		s.subscribed = nil
	}

	c.logInfo("slot stopped", "slot", s.name)
}

// slotConnected is the point-in-time liveness check behind
// IsPublicConnected and IsProfileConnected. Every fault resolves to false,
// never an error.
func (c *Connection) slotConnected(ctx context.Context, s *slot) bool {
	s.mu.Lock()
	sess := s.session
	sub := s.subscribed
	s.mu.Unlock()

	if sess == nil || sub == nil {
		return false
	}
	ok, err := sub.Await(ctx, c.cfg.HandshakeTimeout)
	if err != nil || !ok {
		return false
	}
	return sess.State() == StateConnected
}

func (c *Connection) slotState(s *slot) LinkState {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return StateDisconnected
	}
	return sess.State()
}

// publishSlot encodes message as UTF-8 bytes and hands it to the slot's
// session at the fixed QoS.
func (c *Connection) publishSlot(s *slot, topic, message string) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return fmt.Errorf("%w: %s slot", ErrNoSession, s.name)
	}

	if !c.slotConnected(context.Background(), s) {
		// Deliberate best-effort policy: no queueing, no retry.
		c.logDebug("publish dropped, slot not connected", "slot", s.name, "topic", topic)
		return nil
	}

	if err := sess.Publish(topic, []byte(message), linkQoS); err != nil {
		return fmt.Errorf("publishing on %s slot: %w", s.name, err)
	}
	return nil
}

func (c *Connection) logDebug(msg string, args ...any) {
	if c.deps.Logger != nil {
		c.deps.Logger.Debug(msg, args...)
	}
}

func (c *Connection) logInfo(msg string, args ...any) {
	if c.deps.Logger != nil {
		c.deps.Logger.Info(msg, args...)
	}
}

func (c *Connection) logWarn(msg string, args ...any) {
	if c.deps.Logger != nil {
		c.deps.Logger.Warn(msg, args...)
	}
}
