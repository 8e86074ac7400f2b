package avr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/logging"
)

// Local bus topics for the receiver passthrough.
const (
	// rxTopic carries one message per line received from the device.
	rxTopic = "glconnect/avr/rx"

	// txTopic accepts raw command payloads to write to the device.
	txTopic = "glconnect/avr/tx"

	// healthTopic carries the retained bridge health document.
	healthTopic = "glconnect/health/avr"

	// busQoS is the delivery level used on the local bus.
	busQoS byte = 1
)

const (
	// defaultBaud matches the receiver's factory serial speed.
	defaultBaud = 9600

	// defaultReconnectDelay is the pause between reopen attempts.
	defaultReconnectDelay = 5 * time.Second

	// maxLineLength caps unterminated data buffered from the device. A
	// stream that never terminates a line is noise, not protocol.
	maxLineLength = 1024

	// readChunkSize is the per-read buffer size.
	readChunkSize = 256
)

// Health status values published to the health topic.
const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusStopping = "stopping"
)

// Bus is the local bus surface the bridge needs. Implemented by the
// infrastructure MQTT client; mocked in tests.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// Options holds configuration for creating a passthrough bridge.
type Options struct {
	// Port is the serial device path (e.g. /dev/ttyUSB0). Required.
	Port string

	// Baud is the serial line speed. Default: 9600.
	Baud int

	// ReconnectDelay is the pause between reopen attempts. Default: 5s.
	ReconnectDelay time.Duration

	// Bus is the local bus client. Required.
	Bus Bus

	// OpenPort overrides the serial opener. Tests only.
	OpenPort PortOpener

	// Logger is optional.
	Logger *logging.Logger
}

// Status is the bridge's current condition, served by the status API.
type Status struct {
	Connected     bool   `json:"connected"`
	Port          string `json:"port"`
	LastError     string `json:"last_error,omitempty"`
	RxLines       uint64 `json:"rx_lines"`
	TxWrites      uint64 `json:"tx_writes"`
	TxDropped     uint64 `json:"tx_dropped"`
	WriteFailures uint64 `json:"write_failures"`
}

// healthMessage is the JSON payload published to the health topic.
type healthMessage struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge is a raw line passthrough between a serial AV receiver and the
// local bus: every CR/LF-terminated line from the device is published to
// glconnect/avr/rx, and every payload on glconnect/avr/tx is written to the
// device CR-terminated. No command protocol parsing happens here; payloads
// pass through untouched.
//
// The bridge keeps trying: a failed open or a dead port is retried after a
// delay until Stop is called.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	path           string
	baud           int
	reconnectDelay time.Duration
	bus            Bus
	openPort       PortOpener
	logger         *logging.Logger

	mu            sync.Mutex
	port          io.ReadWriteCloser
	connected     bool
	lastErr       string
	rxLines       uint64
	txWrites      uint64
	txDropped     uint64
	writeFailures uint64
	healthKnown   bool
	healthyNow    bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBridge creates a passthrough bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Port == "" {
		return nil, fmt.Errorf("serial port path is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus client is required")
	}

	baud := opts.Baud
	if baud <= 0 {
		baud = defaultBaud
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	opener := opts.OpenPort
	if opener == nil {
		opener = openSerialPort
	}

	return &Bridge{
		path:           opts.Port,
		baud:           baud,
		reconnectDelay: delay,
		bus:            opts.Bus,
		openPort:       opener,
		logger:         opts.Logger,
		done:           make(chan struct{}),
	}, nil
}

// Start subscribes to the command topic and begins the port loop. The
// first open happens asynchronously; a missing device is retried, not
// fatal.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.bus.Subscribe(txTopic, busQoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to command topic: %w", err)
	}

	b.wg.Add(1)
	go b.runLoop(ctx)

	b.logInfo("avr bridge started", "port", b.path, "baud", b.baud)
	return nil
}

// Stop closes the port, ends the loop, and publishes a final "stopping"
// health status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Closing the port unblocks a read in progress.
		b.mu.Lock()
		port := b.port
		b.mu.Unlock()
		if port != nil {
			_ = port.Close()
		}

		b.wg.Wait()

		// Best-effort: nothing to do about a failed final publish.
		//nolint:errcheck
		b.publishHealthStatus(statusStopping, "shutting down")

		b.logInfo("avr bridge stopped")
	})
}

// Status returns a copy of the bridge's current condition.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Connected:     b.connected,
		Port:          b.path,
		LastError:     b.lastErr,
		RxLines:       b.rxLines,
		TxWrites:      b.txWrites,
		TxDropped:     b.txDropped,
		WriteFailures: b.writeFailures,
	}
}

// runLoop opens the port and reads from it until the port dies or the
// bridge stops, then reopens after the reconnect delay.
func (b *Bridge) runLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		default:
		}

		port, err := b.openPort(b.path, b.baud)
		if err != nil {
			b.noteDisconnect(err)
			b.logWarn("serial open failed", "port", b.path, "error", err)
			b.publishHealth(false, err.Error())
			if !b.pause(ctx) {
				return
			}
			continue
		}

		b.mu.Lock()
		b.port = port
		b.connected = true
		b.lastErr = ""
		b.mu.Unlock()

		b.logInfo("serial port opened", "port", b.path)
		b.publishHealth(true, "")

		readErr := b.readFrom(ctx, port)

		b.mu.Lock()
		b.port = nil
		b.connected = false
		b.mu.Unlock()
		_ = port.Close()

		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		default:
		}

		b.noteDisconnect(readErr)
		b.logWarn("serial port lost", "port", b.path, "error", readErr)
		if readErr != nil {
			b.publishHealth(false, readErr.Error())
		}
		if !b.pause(ctx) {
			return
		}
	}
}

// readFrom reads the port until it errors or the bridge stops, publishing
// each complete line. A nil return means shutdown, not port death.
func (b *Bridge) readFrom(ctx context.Context, port io.ReadWriteCloser) error {
	var pending []byte
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			// Read timeout tick: nothing arrived, loop to notice shutdown.
			continue
		}

		pending = append(pending, buf[:n]...)
		pending = b.drainLines(pending)

		if len(pending) > maxLineLength {
			b.logWarn("discarding unterminated device data", "bytes", len(pending))
			pending = pending[:0]
		}
	}
}

// drainLines publishes every complete CR/LF-terminated line in pending and
// returns the unterminated remainder. Blank lines (and the LF of a CRLF
// pair) are swallowed.
func (b *Bridge) drainLines(pending []byte) []byte {
	for {
		idx := bytes.IndexAny(pending, "\r\n")
		if idx < 0 {
			return pending
		}

		line := pending[:idx]
		pending = pending[idx+1:]
		if len(line) == 0 {
			continue
		}

		b.mu.Lock()
		b.rxLines++
		b.mu.Unlock()

		// Copy: the line aliases the reused pending buffer.
		payload := append([]byte(nil), line...)
		if err := b.bus.Publish(rxTopic, payload, busQoS, false); err != nil {
			b.logError("failed to publish device line", err)
		}
	}
}

// handleCommand writes one bus payload to the device, CR-terminated. The
// payload is passed through untouched apart from terminator normalisation.
func (b *Bridge) handleCommand(_ string, payload []byte) {
	cmd := bytes.TrimRight(payload, "\r\n")
	if len(cmd) == 0 {
		return
	}

	b.mu.Lock()
	port := b.port
	b.mu.Unlock()

	if port == nil {
		b.mu.Lock()
		b.txDropped++
		b.mu.Unlock()
		b.logWarn("command dropped, serial port not open", "bytes", len(cmd))
		return
	}

	data := append(append([]byte(nil), cmd...), '\r')
	if _, err := port.Write(data); err != nil {
		b.mu.Lock()
		b.writeFailures++
		b.mu.Unlock()
		b.logWarn("serial write failed", "error", err)
		return
	}

	b.mu.Lock()
	b.txWrites++
	b.mu.Unlock()
}

// pause sleeps for the reconnect delay, returning false on shutdown.
func (b *Bridge) pause(ctx context.Context) bool {
	timer := time.NewTimer(b.reconnectDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	case <-timer.C:
		return true
	}
}

// noteDisconnect records the failure for Status().
func (b *Bridge) noteDisconnect(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	b.lastErr = err.Error()
	b.mu.Unlock()
}

// publishHealth publishes the health topic on transitions only; the
// retained message keeps late subscribers current between transitions.
func (b *Bridge) publishHealth(healthy bool, reason string) {
	b.mu.Lock()
	if b.healthKnown && b.healthyNow == healthy {
		b.mu.Unlock()
		return
	}
	b.healthKnown = true
	b.healthyNow = healthy
	b.mu.Unlock()

	status := statusHealthy
	if !healthy {
		status = statusDegraded
	}
	if err := b.publishHealthStatus(status, reason); err != nil {
		b.logError("failed to publish avr health", err)
	}
}

func (b *Bridge) publishHealthStatus(status, reason string) error {
	msg := healthMessage{
		Service:   "avr",
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.bus.Publish(healthTopic, payload, busQoS, true)
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
