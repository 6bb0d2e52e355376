package blinky

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gatt "github.com/nerrad567/blinky-core/internal/blinky"
	"github.com/nerrad567/blinky-core/internal/discovery"
	infra "github.com/nerrad567/blinky-core/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid edge topic.
	minTopicParts = 3

	// commandTimeout is the timeout for LED write acknowledgments.
	commandTimeout = 5 * time.Second

	// healthSweepInterval is how often scanner health is checked for staleness.
	healthSweepInterval = 30 * time.Second

	// healthStaleAfter is how long without a health report before a scanner
	// is marked offline.
	healthStaleAfter = 90 * time.Second
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Telemetry receives time-series samples. Satisfied by the InfluxDB client.
// Optional; if nil, the bridge operates without telemetry.
type Telemetry interface {
	WriteRSSISample(address, scannerID string, rssi int)
	WriteButtonEvent(address string, pressed bool)
	WriteLEDState(address string, on bool)
}

// StateHandler receives decoded characteristic state changes.
type StateHandler func(address string, on bool, at time.Time)

// HealthHandler receives scanner health updates.
type HealthHandler func(msg HealthMessage)

// Options holds configuration for creating a bridge.
type Options struct {
	// GatewayID identifies this core instance in published messages.
	GatewayID string

	// QoS is the quality of service for all publishes and subscriptions.
	QoS byte

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// Registry is the discovery registry. Required.
	Registry *discovery.Registry

	// Catalogue persists peripherals and button events. Optional.
	Catalogue discovery.Repository

	// Telemetry receives RSSI and state samples. Optional.
	Telemetry Telemetry

	// Logger is an optional structured logger.
	Logger Logger
}

// Bridge connects the MQTT edge scheme to the discovery registry and the
// canonical core topics. It handles:
//   - Scan observations: fold into the registry, persist, sample telemetry
//   - State notifications and write acks: decode through one path and
//     republish canonical decoded state
//   - LED commands: publish writes and correlate acknowledgments
//   - Scanner health: track reports and detect stale scanners
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	gatewayID string
	qos       byte

	mqtt      MQTTClient
	registry  *discovery.Registry
	catalogue discovery.Repository
	telemetry Telemetry
	topics    infra.Topics

	// pending correlates command IDs with waiting SetLED callers.
	pending   map[string]chan AckMessage
	pendingMu sync.Mutex

	// scanners holds the last health report per scanner.
	scanners   map[string]HealthMessage
	scannersMu sync.RWMutex

	// Callbacks for decoded state changes and health updates.
	onLED      StateHandler
	onButton   StateHandler
	onHealth   HealthHandler
	callbackMu sync.RWMutex

	// Counters for the system endpoint.
	scansReceived  atomic.Uint64
	statesReceived atomic.Uint64
	acksReceived   atomic.Uint64
	commandsSent   atomic.Uint64
	malformed      atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// New creates a bridge instance. Call Start() to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("discovery registry is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		gatewayID: opts.GatewayID,
		qos:       opts.QoS,
		mqtt:      opts.MQTTClient,
		registry:  opts.Registry,
		catalogue: opts.Catalogue,
		telemetry: opts.Telemetry,
		pending:   make(map[string]chan AckMessage),
		scanners:  make(map[string]HealthMessage),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    logger,
	}, nil
}

// SetOnLEDState registers a callback for decoded LED state changes.
func (b *Bridge) SetOnLEDState(fn StateHandler) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onLED = fn
}

// SetOnButton registers a callback for decoded button state changes.
func (b *Bridge) SetOnButton(fn StateHandler) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onButton = fn
}

// SetOnScannerHealth registers a callback for scanner health updates.
func (b *Bridge) SetOnScannerHealth(fn HealthHandler) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onHealth = fn
}

// Start subscribes to the edge topics, hooks the registry's view publisher,
// and starts the scanner staleness sweep.
func (b *Bridge) Start(ctx context.Context) error {
	subscriptions := []string{
		b.topics.AllScans(),
		b.topics.AllDeviceStates(),
		b.topics.AllDeviceAcks(),
		b.topics.AllScannerHealth(),
	}
	for _, topic := range subscriptions {
		if err := b.mqtt.Subscribe(topic, b.qos, b.handleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		b.logger.Info("subscribed", "topic", topic)
	}

	b.registry.Subscribe(b.publishView)

	b.wg.Add(1)
	go b.healthSweep(ctx)

	b.logger.Info("bridge started", "gateway_id", b.gatewayID)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// handleMessage routes an edge message by its topic category.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[0] != infra.TopicPrefixEdge {
		b.malformed.Add(1)
		b.logger.Warn("unexpected topic", "topic", topic)
		return
	}

	switch parts[1] {
	case "scan":
		b.handleScan(payload)
	case "state":
		b.handleState(payload)
	case "ack":
		b.handleAck(payload)
	case "health":
		b.handleHealth(payload)
	default:
		b.malformed.Add(1)
		b.logger.Warn("unknown topic category", "topic", topic)
	}
}

// handleScan folds a scan observation into the registry, persists the
// catalogue row, and samples telemetry.
func (b *Bridge) handleScan(payload []byte) {
	var msg ScanMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.malformed.Add(1)
		b.logger.Warn("dropping unparseable scan", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		b.malformed.Add(1)
		b.logger.Warn("dropping invalid scan", "error", err)
		return
	}

	b.scansReceived.Add(1)

	interesting := b.registry.Observe(discovery.ScanEvent{
		Address:      msg.Address,
		Name:         msg.Name,
		RSSI:         msg.RSSI,
		ServiceUUIDs: msg.ServiceUUIDs,
		Payload:      msg.Payload,
		ScannerID:    msg.ScannerID,
		ObservedAt:   msg.Timestamp,
	})
	if interesting {
		b.registry.Recompute()
	}

	if b.catalogue != nil {
		rec, err := b.registry.Get(msg.Address)
		if err == nil {
			if err := b.catalogue.Upsert(b.ctx, rec); err != nil {
				b.logger.Error("catalogue upsert failed", "address", msg.Address, "error", err)
			}
		}
	}

	if b.telemetry != nil {
		b.telemetry.WriteRSSISample(msg.Address, msg.ScannerID, msg.RSSI)
	}
}

// handleState decodes a characteristic notification and republishes the
// canonical state.
func (b *Bridge) handleState(payload []byte) {
	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.malformed.Add(1)
		b.logger.Warn("dropping unparseable state", "error", err)
		return
	}
	if msg.Address == "" {
		b.malformed.Add(1)
		b.logger.Warn("dropping state without address")
		return
	}

	b.statesReceived.Add(1)

	on, err := gatt.DecodeState(msg.Value)
	if err != nil {
		b.malformed.Add(1)
		b.logger.Warn("dropping undecodable state",
			"address", msg.Address,
			"characteristic", msg.Characteristic,
			"error", err)
		return
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch msg.Characteristic {
	case CharacteristicButton:
		b.applyButtonState(msg.Address, on, at)
	case CharacteristicLED:
		b.applyLEDState(msg.Address, on, at)
	default:
		b.malformed.Add(1)
		b.logger.Warn("unknown characteristic",
			"address", msg.Address,
			"characteristic", msg.Characteristic)
	}
}

// handleAck correlates an acknowledgment with its waiting command and, on
// success, confirms the LED state through the shared decode path.
func (b *Bridge) handleAck(payload []byte) {
	var msg AckMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.malformed.Add(1)
		b.logger.Warn("dropping unparseable ack", "error", err)
		return
	}

	b.acksReceived.Add(1)

	b.pendingMu.Lock()
	ch, ok := b.pending[msg.CommandID]
	if ok {
		delete(b.pending, msg.CommandID)
	}
	b.pendingMu.Unlock()

	if ok {
		// Non-blocking: the waiter may have timed out already.
		select {
		case ch <- msg:
		default:
		}
	}

	if msg.Status == AckAccepted && len(msg.Value) > 0 {
		on, err := gatt.DecodeState(msg.Value)
		if err != nil {
			b.malformed.Add(1)
			b.logger.Warn("dropping undecodable ack value",
				"address", msg.Address,
				"error", err)
			return
		}
		at := msg.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		b.applyLEDState(msg.Address, on, at)
	}
}

// handleHealth records a scanner health report.
func (b *Bridge) handleHealth(payload []byte) {
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.malformed.Add(1)
		b.logger.Warn("dropping unparseable health report", "error", err)
		return
	}
	if msg.ScannerID == "" {
		b.malformed.Add(1)
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.scannersMu.Lock()
	prev, known := b.scanners[msg.ScannerID]
	b.scanners[msg.ScannerID] = msg
	b.scannersMu.Unlock()

	if !known || prev.Status != msg.Status {
		b.logger.Info("scanner health changed",
			"scanner_id", msg.ScannerID,
			"status", msg.Status)
		b.publishScannerEvent(msg)
	}

	b.notifyHealth(msg)
}

// applyLEDState funnels a decoded LED state from either source (notification
// or write ack) into telemetry, the canonical retained topic, and the
// registered callback.
func (b *Bridge) applyLEDState(address string, on bool, at time.Time) {
	if b.telemetry != nil {
		b.telemetry.WriteLEDState(address, on)
	}

	b.publishDeviceState(address, CharacteristicLED, on, at)

	b.callbackMu.RLock()
	fn := b.onLED
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(address, on, at)
	}
}

// applyButtonState funnels a decoded button state into persistence,
// telemetry, the canonical retained topic, and the registered callback.
func (b *Bridge) applyButtonState(address string, pressed bool, at time.Time) {
	if b.catalogue != nil {
		if err := b.catalogue.RecordButtonEvent(b.ctx, address, pressed, at); err != nil {
			b.logger.Error("recording button event failed", "address", address, "error", err)
		}
	}
	if b.telemetry != nil {
		b.telemetry.WriteButtonEvent(address, pressed)
	}

	b.publishDeviceState(address, CharacteristicButton, pressed, at)

	b.callbackMu.RLock()
	fn := b.onButton
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(address, pressed, at)
	}
}

// publishDeviceState publishes the canonical decoded state, retained so
// late subscribers see the last known value.
func (b *Bridge) publishDeviceState(address, characteristic string, on bool, at time.Time) {
	msg := DeviceStateMessage{
		Address:        address,
		Characteristic: characteristic,
		On:             on,
		Timestamp:      at,
	}
	payload, err := marshalMessage(msg)
	if err != nil {
		b.logger.Error("marshalling device state failed", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.CoreDeviceState(address), payload, b.qos, true); err != nil {
		b.logger.Error("publishing device state failed", "address", address, "error", err)
	}
}

// publishScannerEvent publishes a scanner status transition on the event
// topic. Not retained; consumers wanting the current status read the
// health topics instead.
func (b *Bridge) publishScannerEvent(health HealthMessage) {
	msg := EventMessage{
		Type:      EventScannerStatus,
		ScannerID: health.ScannerID,
		Status:    health.Status,
		Reason:    health.Reason,
		Timestamp: time.Now().UTC(),
	}
	payload, err := marshalMessage(msg)
	if err != nil {
		b.logger.Error("marshalling scanner event failed", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.CoreEvent(EventScannerStatus), payload, b.qos, false); err != nil {
		b.logger.Error("publishing scanner event failed", "scanner_id", health.ScannerID, "error", err)
	}
}

// publishView publishes the retained discovery view. Registered as a
// registry subscriber in Start.
func (b *Bridge) publishView(view []*discovery.DeviceRecord) {
	msg := ViewMessage{
		Devices:   make([]ViewDevice, 0, len(view)),
		Timestamp: time.Now().UTC(),
	}
	for _, rec := range view {
		msg.Devices = append(msg.Devices, ViewDevice{
			Address:  rec.Address,
			Name:     rec.Name,
			RSSI:     rec.RSSI,
			MaxRSSI:  rec.MaxRSSI,
			LastSeen: rec.LastSeen.UTC().Format(time.RFC3339),
		})
	}

	payload, err := marshalMessage(msg)
	if err != nil {
		b.logger.Error("marshalling discovery view failed", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.CoreDiscoveryView(), payload, b.qos, true); err != nil {
		b.logger.Error("publishing discovery view failed", "error", err)
	}
}

// SetLED publishes an LED write command and waits for the acknowledgment.
// Returns ErrCommandTimeout if no ack arrives in time and ErrCommandFailed
// when the scanner reports a failure.
func (b *Bridge) SetLED(ctx context.Context, address string, on bool) (AckMessage, error) {
	if !b.mqtt.IsConnected() {
		return AckMessage{}, ErrNotConnected
	}

	cmd := NewCommandMessage(address, gatt.EncodeState(on), "api")
	payload, err := marshalMessage(cmd)
	if err != nil {
		return AckMessage{}, err
	}

	ch := make(chan AckMessage, 1)
	b.pendingMu.Lock()
	b.pending[cmd.ID] = ch
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, cmd.ID)
		b.pendingMu.Unlock()
	}()

	if err := b.mqtt.Publish(b.topics.DeviceCommand(address), payload, b.qos, false); err != nil {
		return AckMessage{}, fmt.Errorf("publishing command: %w", err)
	}
	b.commandsSent.Add(1)

	waitCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	select {
	case ack := <-ch:
		switch ack.Status {
		case AckAccepted:
			return ack, nil
		case AckTimeout:
			return ack, fmt.Errorf("%w: scanner reported timeout", ErrCommandTimeout)
		default:
			if ack.Error != nil {
				return ack, fmt.Errorf("%w: %s: %s", ErrCommandFailed, ack.Error.Code, ack.Error.Message)
			}
			return ack, ErrCommandFailed
		}
	case <-waitCtx.Done():
		return AckMessage{}, ErrCommandTimeout
	case <-b.done:
		return AckMessage{}, ErrNotConnected
	}
}

// healthSweep periodically marks scanners offline when their last report
// is older than healthStaleAfter.
func (b *Bridge) healthSweep(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(healthSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.sweepStaleScanners()
		}
	}
}

func (b *Bridge) sweepStaleScanners() {
	cutoff := time.Now().Add(-healthStaleAfter)

	var stale []HealthMessage
	b.scannersMu.Lock()
	for id, msg := range b.scanners {
		if msg.Status != HealthOffline && msg.Timestamp.Before(cutoff) {
			msg.Status = HealthOffline
			msg.Reason = "no health report received"
			b.scanners[id] = msg
			stale = append(stale, msg)
		}
	}
	b.scannersMu.Unlock()

	for _, msg := range stale {
		b.logger.Warn("scanner went stale", "scanner_id", msg.ScannerID)
		b.publishScannerEvent(msg)
		b.notifyHealth(msg)
	}
}

func (b *Bridge) notifyHealth(msg HealthMessage) {
	b.callbackMu.RLock()
	fn := b.onHealth
	b.callbackMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// ScannerHealth returns the last known health report for every scanner,
// ordered by scanner ID.
func (b *Bridge) ScannerHealth() []HealthMessage {
	b.scannersMu.RLock()
	out := make([]HealthMessage, 0, len(b.scanners))
	for _, msg := range b.scanners {
		out = append(out, msg)
	}
	b.scannersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScannerID < out[j].ScannerID })
	return out
}

// ScannerHealthy reports whether a scanner has sent a recent, non-offline
// health report. Unknown scanners count as healthy so a freshly started
// scanner is not restarted before its first report.
func (b *Bridge) ScannerHealthy(scannerID string) bool {
	b.scannersMu.RLock()
	msg, ok := b.scanners[scannerID]
	b.scannersMu.RUnlock()

	if !ok {
		return true
	}
	if msg.Status == HealthOffline {
		return false
	}
	return time.Since(msg.Timestamp) < healthStaleAfter
}

// Metrics summarises bridge counters for the system endpoint.
type Metrics struct {
	ScansReceived  uint64 `json:"scans_received"`
	StatesReceived uint64 `json:"states_received"`
	AcksReceived   uint64 `json:"acks_received"`
	CommandsSent   uint64 `json:"commands_sent"`
	Malformed      uint64 `json:"malformed_messages"`
	Scanners       int    `json:"scanners"`
}

// GetMetrics returns a snapshot of bridge counters.
func (b *Bridge) GetMetrics() Metrics {
	b.scannersMu.RLock()
	scanners := len(b.scanners)
	b.scannersMu.RUnlock()

	return Metrics{
		ScansReceived:  b.scansReceived.Load(),
		StatesReceived: b.statesReceived.Load(),
		AcksReceived:   b.acksReceived.Load(),
		CommandsSent:   b.commandsSent.Load(),
		Malformed:      b.malformed.Load(),
		Scanners:       scanners,
	}
}
