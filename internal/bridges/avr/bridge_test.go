package avr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// ==== Test Doubles ====

// fakePort is an in-memory serial device. Data queued with send() is
// returned from Read; Write is recorded; Close unblocks readers.
type fakePort struct {
	mu        sync.Mutex
	rx        chan []byte
	written   [][]byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		rx:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case data := <-p.rx:
		return copy(buf, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, errors.New("port closed")
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, append([]byte(nil), data...))
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) send(s string) {
	p.rx <- []byte(s)
}

func (p *fakePort) writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

// fakeOpener hands out fake ports and records every open attempt.
type fakeOpener struct {
	mu    sync.Mutex
	ports []*fakePort
	fail  bool
}

func (o *fakeOpener) open(_ string, _ int) (io.ReadWriteCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return nil, errors.New("no such device")
	}
	p := newFakePort()
	o.ports = append(o.ports, p)
	return p, nil
}

func (o *fakeOpener) setFail(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = fail
}

func (o *fakeOpener) opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ports)
}

func (o *fakeOpener) last() *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.ports) == 0 {
		return nil
	}
	return o.ports[len(o.ports)-1]
}

// mockBus implements Bus and records publishes and subscriptions.
type mockBus struct {
	mu        sync.Mutex
	published []busPublish
	handlers  map[string]func(topic string, payload []byte)
}

type busPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newMockBus() *mockBus {
	return &mockBus{handlers: make(map[string]func(topic string, payload []byte))}
}

func (m *mockBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, busPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockBus) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// Deliver routes a message to the exact-topic handler, the way the broker
// would.
func (m *mockBus) Deliver(topic string, payload []byte) {
	m.mu.Lock()
	handler := m.handlers[topic]
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// lastOn returns the most recent publish on topic, if any.
func (m *mockBus) lastOn(topic string) (busPublish, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic == topic {
			return m.published[i], true
		}
	}
	return busPublish{}, false
}

// payloadsOn returns every payload published on topic, in order.
func (m *mockBus) payloadsOn(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// newTestBridge wires a bridge to the fake opener with a short reconnect
// delay, started and cleaned up for the caller.
func newTestBridge(t *testing.T, bus *mockBus, opener *fakeOpener) *Bridge {
	t.Helper()
	b, err := NewBridge(Options{
		Port:           "/dev/ttyTEST0",
		Bus:            bus,
		OpenPort:       opener.open,
		ReconnectDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewBridge() returned error: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

// ==== Construction Tests ====

func TestNewBridgeRequiresPort(t *testing.T) {
	_, err := NewBridge(Options{Bus: newMockBus()})
	if err == nil {
		t.Error("NewBridge() should fail without a port path")
	}
}

func TestNewBridgeRequiresBus(t *testing.T) {
	_, err := NewBridge(Options{Port: "/dev/ttyUSB0"})
	if err == nil {
		t.Error("NewBridge() should fail without a bus client")
	}
}

func TestNewBridgeDefaults(t *testing.T) {
	b, err := NewBridge(Options{Port: "/dev/ttyUSB0", Bus: newMockBus()})
	if err != nil {
		t.Fatalf("NewBridge() returned error: %v", err)
	}
	if b.baud != defaultBaud {
		t.Errorf("baud = %d, want %d", b.baud, defaultBaud)
	}
	if b.reconnectDelay != defaultReconnectDelay {
		t.Errorf("reconnectDelay = %v, want %v", b.reconnectDelay, defaultReconnectDelay)
	}
}

// ==== Start Tests ====

func TestStartSubscribesToCommandTopic(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	newTestBridge(t, bus, opener)

	bus.mu.Lock()
	_, ok := bus.handlers[txTopic]
	bus.mu.Unlock()
	if !ok {
		t.Errorf("Start() did not subscribe to %s", txTopic)
	}
}

func TestStartOpensPortAndReportsHealthy(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	health, ok := bus.lastOn(healthTopic)
	if !ok {
		t.Fatal("health never published")
	}
	if !health.Retained {
		t.Error("health should be published retained")
	}
	var msg healthMessage
	if err := json.Unmarshal(health.Payload, &msg); err != nil {
		t.Fatalf("health payload is not valid JSON: %v", err)
	}
	if msg.Service != "avr" {
		t.Errorf("health service = %q, want avr", msg.Service)
	}
	if msg.Status != statusHealthy {
		t.Errorf("health status = %q, want %q", msg.Status, statusHealthy)
	}
}

func TestMissingDeviceRetriedNotFatal(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{fail: true}
	b := newTestBridge(t, bus, opener)

	// No device: degraded health, no connection, bridge still running.
	eventually(t, 2*time.Second, func() bool {
		health, ok := bus.lastOn(healthTopic)
		if !ok {
			return false
		}
		var msg healthMessage
		if err := json.Unmarshal(health.Payload, &msg); err != nil {
			return false
		}
		return msg.Status == statusDegraded
	}, "degraded health never published")

	if b.Status().Connected {
		t.Error("Status().Connected = true with no device")
	}

	// Device appears: the next retry connects.
	opener.setFail(false)
	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "bridge never connected after device appeared")
}

// ==== Device → Bus Tests ====

func TestDeviceLinePublished(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	opener.last().send("PWON\r")

	eventually(t, 2*time.Second, func() bool {
		_, ok := bus.lastOn(rxTopic)
		return ok
	}, "device line never published")

	pub, _ := bus.lastOn(rxTopic)
	if string(pub.Payload) != "PWON" {
		t.Errorf("published payload = %q, want PWON", pub.Payload)
	}
	if pub.Retained {
		t.Error("device lines should not be retained")
	}
}

func TestCRLFPairProducesOneLine(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	opener.last().send("MV35\r\n")

	eventually(t, 2*time.Second, func() bool {
		return b.Status().RxLines == 1
	}, "line never counted")

	if got := bus.payloadsOn(rxTopic); len(got) != 1 || got[0] != "MV35" {
		t.Errorf("published lines = %v, want [MV35]", got)
	}
}

func TestSplitLineReassembled(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	// The device delivers a line across two reads.
	opener.last().send("SIT")
	opener.last().send("UNER\r")

	eventually(t, 2*time.Second, func() bool {
		return b.Status().RxLines == 1
	}, "line never assembled")

	if got := bus.payloadsOn(rxTopic); len(got) != 1 || got[0] != "SITUNER" {
		t.Errorf("published lines = %v, want [SITUNER]", got)
	}
}

func TestMultipleLinesInOneRead(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	opener.last().send("PWON\rMV35\rMUOFF\r")

	eventually(t, 2*time.Second, func() bool {
		return b.Status().RxLines == 3
	}, "lines never counted")

	want := []string{"PWON", "MV35", "MUOFF"}
	got := bus.payloadsOn(rxTopic)
	if len(got) != len(want) {
		t.Fatalf("published %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// ==== Bus → Device Tests ====

func TestCommandWrittenCRTerminated(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	bus.Deliver(txTopic, []byte("PWON"))

	port := opener.last()
	eventually(t, 2*time.Second, func() bool {
		return len(port.writes()) == 1
	}, "command never written")

	if got := string(port.writes()[0]); got != "PWON\r" {
		t.Errorf("written = %q, want %q", got, "PWON\r")
	}
	if b.Status().TxWrites != 1 {
		t.Errorf("TxWrites = %d, want 1", b.Status().TxWrites)
	}
}

func TestCommandTerminatorNormalised(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	// Payloads already carrying terminators end up with exactly one CR.
	bus.Deliver(txTopic, []byte("MV42\r\n"))

	port := opener.last()
	eventually(t, 2*time.Second, func() bool {
		return len(port.writes()) == 1
	}, "command never written")

	if got := string(port.writes()[0]); got != "MV42\r" {
		t.Errorf("written = %q, want %q", got, "MV42\r")
	}
}

func TestEmptyCommandIgnored(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	bus.Deliver(txTopic, []byte(""))
	bus.Deliver(txTopic, []byte("\r\n"))

	time.Sleep(50 * time.Millisecond)
	if got := len(opener.last().writes()); got != 0 {
		t.Errorf("port writes = %d, want 0", got)
	}
	if b.Status().TxDropped != 0 {
		t.Errorf("TxDropped = %d, want 0 for empty payloads", b.Status().TxDropped)
	}
}

func TestCommandDroppedWhileDisconnected(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{fail: true}
	b := newTestBridge(t, bus, opener)

	bus.Deliver(txTopic, []byte("PWON"))

	if got := b.Status().TxDropped; got != 1 {
		t.Errorf("TxDropped = %d, want 1", got)
	}
}

// ==== Reconnect Tests ====

func TestReconnectAfterPortLoss(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	// Simulate the cable coming out.
	first := opener.last()
	_ = first.Close()

	eventually(t, 2*time.Second, func() bool {
		return opener.opens() == 2 && b.Status().Connected
	}, "port never reopened")

	// The replacement port carries traffic.
	opener.last().send("PWSTANDBY\r")
	eventually(t, 2*time.Second, func() bool {
		return b.Status().RxLines == 1
	}, "replacement port never delivered")
}

// ==== Stop Tests ====

func TestStopClosesPort(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	eventually(t, 2*time.Second, func() bool {
		return b.Status().Connected
	}, "port never opened")

	port := opener.last()
	b.Stop()

	select {
	case <-port.closed:
	default:
		t.Error("Stop() did not close the port")
	}

	health, ok := bus.lastOn(healthTopic)
	if !ok {
		t.Fatal("no health message after Stop()")
	}
	var msg healthMessage
	if err := json.Unmarshal(health.Payload, &msg); err != nil {
		t.Fatalf("health payload is not valid JSON: %v", err)
	}
	if msg.Status != statusStopping {
		t.Errorf("final health status = %q, want %q", msg.Status, statusStopping)
	}
}

func TestStopIdempotent(t *testing.T) {
	bus := newMockBus()
	opener := &fakeOpener{}
	b := newTestBridge(t, bus, opener)

	b.Stop()
	b.Stop() // must not panic or block
}
