// Package api implements the local HTTP and WebSocket surface of the
// Gray Logic Connect gateway.
//
// This package provides:
//   - Read-only REST endpoints for gateway status, the event journal,
//     and solar production history
//   - WebSocket hub for live link-state broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//   - TLS support for deployments that front the API themselves
//
// # Architecture
//
// The API server sits beside the corelink bridge and reports on it; it never
// carries command traffic. Commands travel over the local bus (link/{slot}/set
// and the tx topics), so a dashboard uses this API to observe the gateway and
// the bus to drive it.
//
// # Scope
//
// The surface serves the trusted local network and carries no credentials,
// so there is no authentication layer. Bind it to a LAN interface or put a
// reverse proxy in front for anything wider.
//
// # Graceful Degradation
//
// Every dependency beyond the link provider is optional. Without the journal
// the events endpoint errors, without InfluxDB the history endpoint errors,
// and the status document simply omits subsystems that are not wired.
package api
