package corelink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/logging"
)

// HealthStatus is the coarse state advertised on the health topic.
type HealthStatus string

// Health status values.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// defaultHealthInterval is how often health is republished.
const defaultHealthInterval = 30 * time.Second

// HealthMessage is the JSON payload published to the health topic.
type HealthMessage struct {
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	Status        HealthStatus      `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Slots         map[string]string `json:"slots"`
	Counters      BridgeCounters    `json:"counters"`
}

// HealthPublisher is the transport the reporter publishes through.
// Implemented by the local bus client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatusSource provides the live figures a health message carries.
// Implemented by the Bridge.
type StatusSource interface {
	SlotStates() map[string]string
	Counters() BridgeCounters
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the daemon version string.
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// Publisher is the local bus client for publishing messages.
	Publisher HealthPublisher

	// Source supplies slot states and counters.
	Source StatusSource

	// Logger is optional.
	Logger *logging.Logger
}

// HealthReporter publishes periodic link health to the local bus so other
// Gray Logic services can watch the controller link without touching it.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    StatusSource
	logger    *logging.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is
// called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status. Safe to
// call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Best-effort: nothing to do about a failed final publish.
		//nolint:errcheck
		h.publishStatus(HealthStopping, "shutting down")
	})
}

// PublishStarting publishes a "starting" status during bridge bring-up.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow evaluates and publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current link health. The gateway exists to
// keep the public slot up, so a down public slot is degraded even when the
// process itself is fine.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "local bus disconnected"
	}

	if h.source != nil {
		states := h.source.SlotStates()
		if states[SlotPublic] != StateConnected.String() {
			return HealthDegraded, "public slot " + states[SlotPublic]
		}
	}

	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := HealthMessage{
		Service:       "glconnect",
		Version:       h.version,
		Status:        status,
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.source != nil {
		msg.Slots = h.source.SlotStates()
		msg.Counters = h.source.Counters()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(healthTopic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
