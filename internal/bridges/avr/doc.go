// Package avr passes raw control lines between a serial AV receiver and
// the local Gray Logic bus.
//
// The receiver speaks a line-oriented protocol over RS-232: commands go in
// CR-terminated, responses and unsolicited status come back CR/LF
// terminated. This package does not interpret either direction — it frames
// lines and moves them:
//
//	device → glconnect/avr/rx   one bus message per received line
//	glconnect/avr/tx → device   payload written CR-terminated
//
// Automation logic that understands the receiver's command set lives in
// other Gray Logic services; this bridge only keeps the wire attached. A
// lost or missing port is reopened on a delay until Stop is called, and
// the retained glconnect/health/avr document tracks the port state.
package avr
