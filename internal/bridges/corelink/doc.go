// Package corelink implements the secure dual-session link to the
// home-automation controller.
//
// The controller speaks MQTT over TLS and expects two separately
// authenticated sessions from each gateway: a system-wide "public" session
// and a per-touch-profile "profile" session. This package manages both as
// independent slots of one Connection, and a Bridge relays traffic between
// the slots and the local Gray Logic bus.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐  TLS MQTT
//	│   Gray Logic    │   MQTT   │  CoreLink       │  public ────► Controller
//	│   local bus     │◄────────►│  (this pkg)     │  profile ───► Controller
//	└─────────────────┘          └─────────────────┘
//
// # Session Slots
//
// Each slot owns at most one live session at a time. Slots are fully
// independent: they are started and stopped in any order, hold their own
// transport state directories, and derive distinct wire-level client ids
// from the shared base identity ("-public", "-profile" suffixes). They
// share exactly three things: the embedded trust configuration, the base
// identity, and the callback surface (inbound messages, state observer,
// delivery listener).
//
// The profile slot carries one constraint: it reuses the controller
// endpoint recorded by the public slot's start, so a profile start before
// any public start fails fast with ErrEndpointNotSet.
//
// # Lifecycle
//
// Starting a slot awaits any stop still in flight (bounded, abandoned on
// timeout), constructs a fresh session, connects, and issues a wildcard
// subscription. Stopping clears the session reference immediately and lets
// the transport teardown finish in the background; liveness reports false
// from the moment stop is called. Every blocking wait is bounded at the
// handshake timeout (5 s by default), and none of the operations retries:
// retry policy belongs to the caller.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Start and stop of the same slot serialise on a per-slot lock; the two
// slots never contend with each other.
package corelink
