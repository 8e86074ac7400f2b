package avr

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// portReadTimeout bounds a single serial read so the read loop can notice
// shutdown between bytes. On timeout the port returns a zero-byte read.
const portReadTimeout = 500 * time.Millisecond

// PortOpener opens the serial device. Replaced in tests.
type PortOpener func(path string, baud int) (io.ReadWriteCloser, error)

// openSerialPort opens the device with 8N1 framing at the configured baud.
// The receiver's control protocol fixes the framing; only the speed varies.
func openSerialPort(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}

	return port, nil
}
