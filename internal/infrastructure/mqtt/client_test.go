package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "glconnect-test",
			TLS:      false,
		},
		Auth: config.MQTTAuthConfig{
			Username: "",
			Password: "",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func (l *mockLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// =============================================================================
// Connection State Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnectedInitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := client.HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Publish Validation Tests
// =============================================================================

func TestPublishEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Publish("", []byte("test"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	client := &Client{}

	err := client.Publish("test/topic", []byte("test"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizePayload(t *testing.T) {
	client := &Client{}

	payload := make([]byte, maxPayloadSize+1)
	err := client.Publish("test/topic", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	client := &Client{}

	err := client.Publish("test/topic", []byte("test"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Subscribe Validation Tests
// =============================================================================

func TestSubscribeEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("test/topic", 3, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("test/topic", 1, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribeDisconnected(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("test/topic", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Unsubscribe Validation Tests
// =============================================================================

func TestUnsubscribeEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Unsubscribe("")
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestUnsubscribeDisconnected(t *testing.T) {
	client := &Client{}

	err := client.Unsubscribe("test/topic")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Subscription Tracking Tests
// =============================================================================

func TestSubscriptionCountEmpty(t *testing.T) {
	client := &Client{}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestHasSubscriptionNotSubscribed(t *testing.T) {
	client := &Client{}

	if client.HasSubscription("nonexistent/topic") {
		t.Error("HasSubscription() should be false for unsubscribed topic")
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("len(Servers) = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
	}
	if opts.ClientID != "glconnect-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "glconnect-test")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if !opts.ConnectRetry {
		t.Error("ConnectRetry = false, want true")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].String(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("broker URL = %q, want %q", got, "ssl://127.0.0.1:8883")
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig = nil, want configured")
	}
	if opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("MinVersion = %d, want %d", opts.TLSConfig.MinVersion, tlsMinVersion)
	}
}

func TestBuildClientOptionsCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gateway"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if opts.Username != "gateway" {
		t.Errorf("Username = %q, want %q", opts.Username, "gateway")
	}
	if opts.Password != "secret" {
		t.Errorf("Password = %q, want %q", opts.Password, "secret")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()

	configureLWT(opts, "glconnect-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "glconnect/system/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "glconnect/system/status")
	}
	if opts.WillQos != 1 {
		t.Errorf("WillQos = %d, want 1", opts.WillQos)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var msg struct {
		Status   string `json:"status"`
		ClientID string `json:"client_id"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("WillPayload is not valid JSON: %v", err)
	}
	if msg.Status != "offline" {
		t.Errorf("status = %q, want %q", msg.Status, "offline")
	}
	if msg.ClientID != "glconnect-test" {
		t.Errorf("client_id = %q, want %q", msg.ClientID, "glconnect-test")
	}
	if msg.Reason != "unexpected_disconnect" {
		t.Errorf("reason = %q, want %q", msg.Reason, "unexpected_disconnect")
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("glconnect")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}
	if !strings.Contains(online, `"client_id":"glconnect"`) {
		t.Errorf("online payload missing client_id: %s", online)
	}

	offline := buildOfflinePayload("glconnect")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload missing status: %s", offline)
	}
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}

// =============================================================================
// Logger and Handler Tests
// =============================================================================

func TestSetLogger(t *testing.T) {
	client := &Client{}

	logger := &mockLogger{}
	client.SetLogger(logger)

	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	client.SetLogger(nil)

	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

func TestWrapHandlerPassesTopicAndPayload(t *testing.T) {
	client := &Client{}

	var gotTopic string
	var gotPayload []byte
	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic = topic
		gotPayload = payload
		return nil
	})

	wrapped(nil, &fakeMessage{topic: "glconnect/avr/rx", payload: []byte("PWON")})

	if gotTopic != "glconnect/avr/rx" {
		t.Errorf("handler topic = %q, want %q", gotTopic, "glconnect/avr/rx")
	}
	if string(gotPayload) != "PWON" {
		t.Errorf("handler payload = %q, want %q", gotPayload, "PWON")
	}
}

func TestWrapHandlerRecoversPanic(t *testing.T) {
	client := &Client{}
	logger := &mockLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("handler exploded")
	})

	// Must not propagate the panic.
	wrapped(nil, &fakeMessage{topic: "glconnect/test", payload: nil})

	if logger.errorCount() != 1 {
		t.Errorf("error log count = %d, want 1", logger.errorCount())
	}
}

func TestWrapHandlerLogsError(t *testing.T) {
	client := &Client{}
	logger := &mockLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		return errors.New("handler error")
	})

	wrapped(nil, &fakeMessage{topic: "glconnect/test", payload: nil})

	if logger.warnCount() != 1 {
		t.Errorf("warn log count = %d, want 1", logger.warnCount())
	}
}

func TestWrapHandlerWithoutLogger(t *testing.T) {
	client := &Client{}

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("no logger set")
	})

	// Panic recovery must work even without a logger.
	wrapped(nil, &fakeMessage{topic: "glconnect/test", payload: nil})
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "CoreLinkRx",
			builder: func() string {
				return Topics{}.CoreLinkRx("public", "scene/12/state")
			},
			expected: "glconnect/corelink/rx/public/scene/12/state",
		},
		{
			name: "CoreLinkTx",
			builder: func() string {
				return Topics{}.CoreLinkTx("profile", "scene/12/set")
			},
			expected: "glconnect/corelink/tx/profile/scene/12/set",
		},
		{
			name: "CoreLinkState",
			builder: func() string {
				return Topics{}.CoreLinkState("public")
			},
			expected: "glconnect/corelink/link/public",
		},
		{
			name: "CoreLinkCommand",
			builder: func() string {
				return Topics{}.CoreLinkCommand("profile")
			},
			expected: "glconnect/corelink/link/profile/set",
		},
		{
			name: "SolarState",
			builder: func() string {
				return Topics{}.SolarState()
			},
			expected: "glconnect/solar/state",
		},
		{
			name: "AVRRx",
			builder: func() string {
				return Topics{}.AVRRx()
			},
			expected: "glconnect/avr/rx",
		},
		{
			name: "AVRTx",
			builder: func() string {
				return Topics{}.AVRTx()
			},
			expected: "glconnect/avr/tx",
		},
		{
			name: "ServiceHealth",
			builder: func() string {
				return Topics{}.ServiceHealth("corelink")
			},
			expected: "glconnect/health/corelink",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "glconnect/system/status",
		},
		{
			name: "AllCoreLinkRx",
			builder: func() string {
				return Topics{}.AllCoreLinkRx()
			},
			expected: "glconnect/corelink/rx/+/#",
		},
		{
			name: "AllCoreLinkTx",
			builder: func() string {
				return Topics{}.AllCoreLinkTx()
			},
			expected: "glconnect/corelink/tx/+/#",
		},
		{
			name: "AllCoreLinkStates",
			builder: func() string {
				return Topics{}.AllCoreLinkStates()
			},
			expected: "glconnect/corelink/link/+",
		},
		{
			name: "AllCoreLinkCommands",
			builder: func() string {
				return Topics{}.AllCoreLinkCommands()
			},
			expected: "glconnect/corelink/link/+/set",
		},
		{
			name: "AllServiceHealth",
			builder: func() string {
				return Topics{}.AllServiceHealth()
			},
			expected: "glconnect/health/+",
		},
		{
			name: "AllTopics",
			builder: func() string {
				return Topics{}.AllTopics()
			},
			expected: "glconnect/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}
