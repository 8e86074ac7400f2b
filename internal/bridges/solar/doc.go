// Package solar polls a solar inverter's realtime power-flow endpoint and
// republishes each sample onto the local Gray Logic bus.
//
// The inverter exposes an HTTP JSON document whose field names are fixed by
// the device firmware (P, E_Day, E_Year, E_Total). The poller aggregates
// the per-inverter nodes into one site-level snapshot, publishes it
// retained to glconnect/solar/state, records it in InfluxDB when telemetry
// is wired, and keeps a retained health document on
// glconnect/health/solar.
//
// Polling is deliberately forgiving: a failed poll is logged, counted and
// reflected in the health topic, and the next tick tries again. The poller
// never stops itself on device errors.
package solar
