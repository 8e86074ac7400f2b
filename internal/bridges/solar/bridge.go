package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/logging"
)

// Local bus topics for the solar poller.
const (
	// stateTopic carries the retained Snapshot JSON.
	stateTopic = "glconnect/solar/state"

	// healthTopic carries the retained poller health document.
	healthTopic = "glconnect/health/solar"

	// busQoS is the delivery level used on the local bus.
	busQoS byte = 1
)

const (
	// defaultPollInterval is used when the configured interval is absent.
	defaultPollInterval = 30 * time.Second

	// defaultPollTimeout bounds one HTTP round trip to the inverter.
	defaultPollTimeout = 10 * time.Second

	// maxResponseSize caps how much of the inverter response is read.
	maxResponseSize = 1 << 20 // 1MB
)

// Health status values published to the health topic.
const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusStopping = "stopping"
)

// Publisher is the local bus surface the poller needs. Implemented by the
// infrastructure MQTT client; mocked in tests.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MetricsRecorder writes telemetry points. Satisfied by the InfluxDB
// client. Optional.
type MetricsRecorder interface {
	WriteSolarSample(powerW, energyDayWh, energyYearWh, energyTotalWh float64)
}

// Options holds configuration for creating a poller bridge.
type Options struct {
	// URL is the inverter's realtime power-flow endpoint. Required.
	URL string

	// Interval between polls. Default: 30 seconds.
	Interval time.Duration

	// Bus is the local bus client. Required.
	Bus Publisher

	// Metrics records inverter samples. Optional.
	Metrics MetricsRecorder

	// Logger is optional.
	Logger *logging.Logger
}

// Status is the poller's current condition, served by the status API.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Polls     uint64    `json:"polls"`
	Failures  uint64    `json:"failures"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// healthMessage is the JSON payload published to the health topic.
type healthMessage struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge polls the inverter's power-flow endpoint on a ticker and fans each
// sample out to the local bus (retained snapshot), InfluxDB, and the health
// topic. Poll failures are logged and counted, never fatal: the next tick
// simply tries again.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	url        string
	interval   time.Duration
	bus        Publisher
	metrics    MetricsRecorder
	httpClient *http.Client
	logger     *logging.Logger

	mu          sync.Mutex
	last        *Snapshot
	lastPollAt  time.Time
	lastErr     string
	polls       uint64
	failures    uint64
	healthKnown bool
	healthyNow  bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBridge creates a poller bridge. Call Start to begin polling.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("inverter URL is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus client is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Bridge{
		url:      opts.URL,
		interval: interval,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		httpClient: &http.Client{
			Timeout: defaultPollTimeout,
		},
		logger: opts.Logger,
		done:   make(chan struct{}),
	}, nil
}

// Start begins polling until ctx is cancelled or Stop is called. The first
// poll runs immediately; subsequent polls follow the configured interval.
func (b *Bridge) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.pollLoop(ctx)
	b.logInfo("solar poller started", "url", b.url, "interval", b.interval.String())
}

// Stop ends polling and publishes a final "stopping" health status. Safe to
// call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		// Best-effort: nothing to do about a failed final publish.
		//nolint:errcheck
		b.publishHealthStatus(statusStopping, "shutting down")

		b.logInfo("solar poller stopped")
	})
}

// Status returns a copy of the poller's current condition.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Healthy:   b.lastErr == "" && !b.lastPollAt.IsZero(),
		Polls:     b.polls,
		Failures:  b.failures,
		LastPoll:  b.lastPollAt,
		LastError: b.lastErr,
	}
	if b.last != nil {
		snap := *b.last
		st.Snapshot = &snap
	}
	return st
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

// poll runs one fetch-decode-publish cycle.
func (b *Bridge) poll(ctx context.Context) {
	snap, err := b.fetch(ctx)

	b.mu.Lock()
	b.polls++
	b.lastPollAt = time.Now().UTC()
	if err != nil {
		b.failures++
		b.lastErr = err.Error()
	} else {
		b.lastErr = ""
		b.last = &snap
	}
	b.mu.Unlock()

	if err != nil {
		b.logWarn("inverter poll failed", "error", err)
		b.publishHealth(false, err.Error())
		return
	}

	b.publishSnapshot(snap)
	if b.metrics != nil {
		b.metrics.WriteSolarSample(snap.PowerW, snap.EnergyDayWh, snap.EnergyYearWh, snap.EnergyTotalWh)
	}
	b.publishHealth(true, "")
}

// fetch performs one HTTP poll of the inverter endpoint.
func (b *Bridge) fetch(ctx context.Context) (Snapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultPollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, b.url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("poll inverter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return Snapshot{}, fmt.Errorf("poll inverter: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read poll response: %w", err)
	}

	return decodeSnapshot(data, time.Now())
}

// publishSnapshot publishes the retained snapshot document to the bus.
func (b *Bridge) publishSnapshot(snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logError("failed to marshal solar snapshot", err)
		return
	}
	if err := b.bus.Publish(stateTopic, payload, busQoS, true); err != nil {
		b.logError("failed to publish solar snapshot", err)
	}
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
		b.logError("failed to publish solar health", err)
	}
}

func (b *Bridge) publishHealthStatus(status, reason string) error {
	msg := healthMessage{
		Service:   "solar",
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
