package adaptermgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/internal/core/metrics"
	"github.com/luminode/devicehub-go/pkg/errors"
)

// AdapterState tracks the lifecycle of a managed adapter
type AdapterState string

const (
	StateUninitialized AdapterState = "uninitialized"
	StateInitializing  AdapterState = "initializing"
	StateReady         AdapterState = "ready"
	StateError         AdapterState = "error"
	StateShuttingDown  AdapterState = "shutting_down"
	StateTerminated    AdapterState = "terminated"
)

// EventDevicesDiscovered is the manager-level event kind emitted after a
// discovery pass, in addition to the four re-published adapter kinds.
const EventDevicesDiscovered devices.AdapterEventKind = "devices_discovered"

// ManagerEvent is an adapter event re-published by the manager with its
// protocol tag, or a manager-originated aggregate event.
type ManagerEvent struct {
	Kind       devices.AdapterEventKind
	Protocol   devices.ProtocolType
	Update     *devices.DeviceStatusUpdate
	Discovered []devices.DeviceDiscovery
	Err        error
	Reason     string
	Timestamp  time.Time
}

type adapterRecord struct {
	adapter devices.ProtocolAdapter
	state   AdapterState
}

// Manager owns the adapter registry, routes per-protocol operations and
// republishes adapter events. Registry mutation happens only on the
// manager's own methods, never from adapter callbacks.
type Manager struct {
	mu       sync.RWMutex
	adapters map[devices.ProtocolType]*adapterRecord

	events chan ManagerEvent

	logger    *logrus.Logger
	collector *metrics.Collector

	cron       *cron.Cron
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	terminated bool
}

// NewManager creates an adapter manager. Adapters are registered before
// Initialize is called.
func NewManager(logger *logrus.Logger, collector *metrics.Collector) *Manager {
	return &Manager{
		adapters:  make(map[devices.ProtocolType]*adapterRecord),
		events:    make(chan ManagerEvent, 256),
		logger:    logger,
		collector: collector,
		cron:      cron.New(),
	}
}

// Register adds an adapter to the registry. Registering a protocol twice
// replaces the previous adapter.
func (m *Manager) Register(adapter devices.ProtocolAdapter) error {
	if adapter == nil {
		return errors.Invalid("adapter must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	protocol := adapter.Protocol()
	if existing, ok := m.adapters[protocol]; ok {
		m.logger.WithFields(logrus.Fields{
			"protocol": protocol,
			"old":      existing.adapter.Name(),
			"new":      adapter.Name(),
		}).Warn("Replacing registered adapter")
	}

	m.adapters[protocol] = &adapterRecord{
		adapter: adapter,
		state:   StateUninitialized,
	}

	m.logger.WithFields(logrus.Fields{
		"protocol": protocol,
		"adapter":  adapter.Name(),
		"version":  adapter.Version(),
	}).Info("Registered adapter")

	return nil
}

// Events returns the manager's event stream. There is a single stream
// regardless of how many adapters are registered.
func (m *Manager) Events() <-chan ManagerEvent {
	return m.events
}

// Initialize brings every registered adapter up and wires its event
// channel to manager-level re-emission. A single adapter's failure is
// recorded but does not prevent the others from becoming ready; only a
// total failure is returned as an error.
func (m *Manager) Initialize(ctx context.Context, healthInterval time.Duration) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.Invalid("manager already initialized")
	}
	m.started = true
	records := make(map[devices.ProtocolType]*adapterRecord, len(m.adapters))
	for p, rec := range m.adapters {
		records[p] = rec
	}
	m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	var failures []error
	ready := 0

	for protocol, rec := range records {
		m.setState(protocol, StateInitializing)

		if err := rec.adapter.Initialize(ctx); err != nil {
			m.setState(protocol, StateError)
			failures = append(failures, fmt.Errorf("adapter %s: %w", protocol, err))
			m.logger.WithError(err).WithField("protocol", protocol).Error("Adapter initialization failed")
			continue
		}

		if err := rec.adapter.Connect(ctx); err != nil {
			m.setState(protocol, StateError)
			failures = append(failures, fmt.Errorf("adapter %s: %w", protocol, err))
			m.logger.WithError(err).WithField("protocol", protocol).Error("Adapter connect failed")
			continue
		}

		m.setState(protocol, StateReady)
		ready++

		m.wg.Add(1)
		go m.dispatchLoop(dispatchCtx, protocol, rec.adapter)

		m.logger.WithFields(logrus.Fields{
			"protocol": protocol,
			"adapter":  rec.adapter.Name(),
		}).Info("Adapter ready")
	}

	if len(records) > 0 && ready == 0 {
		return errors.Internal("all %d adapters failed to initialize: %v", len(records), failures)
	}

	if healthInterval > 0 {
		spec := fmt.Sprintf("@every %s", healthInterval)
		if _, err := m.cron.AddFunc(spec, m.healthSweep); err != nil {
			m.logger.WithError(err).Warn("Failed to schedule adapter health sweep")
		} else {
			m.cron.Start()
		}
	}

	m.logger.WithFields(logrus.Fields{
		"adapters": len(records),
		"ready":    ready,
		"failed":   len(failures),
	}).Info("Adapter manager initialized")

	return nil
}

// dispatchLoop consumes one adapter's event channel and re-emits each
// event on the manager stream with the protocol tag attached.
func (m *Manager) dispatchLoop(ctx context.Context, protocol devices.ProtocolType, adapter devices.ProtocolAdapter) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-adapter.Events():
			if !ok {
				return
			}
			if m.collector != nil {
				m.collector.RecordAdapterEvent(string(protocol), string(ev.Kind))
			}
			m.emit(ManagerEvent{
				Kind:      ev.Kind,
				Protocol:  protocol,
				Update:    ev.Update,
				Err:       ev.Err,
				Reason:    ev.Reason,
				Timestamp: ev.Timestamp,
			})
		}
	}
}

// emit publishes a manager event without blocking; a full stream drops the
// event, which is acceptable because updates are point-in-time facts. After
// Shutdown the stream stays open but emission stops, so an aggregate that
// finishes late is discarded instead of crashing.
func (m *Manager) emit(ev ManagerEvent) {
	m.mu.RLock()
	terminated := m.terminated
	m.mu.RUnlock()
	if terminated {
		m.logger.WithFields(logrus.Fields{
			"kind":     ev.Kind,
			"protocol": ev.Protocol,
		}).Debug("Manager terminated, event discarded")
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case m.events <- ev:
	default:
		m.logger.WithFields(logrus.Fields{
			"kind":     ev.Kind,
			"protocol": ev.Protocol,
		}).Warn("Manager event stream full, event dropped")
	}
}

func (m *Manager) setState(protocol devices.ProtocolType, state AdapterState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.adapters[protocol]; ok {
		rec.state = state
	}
}

// GetState returns the lifecycle state of an adapter
func (m *Manager) GetState(protocol devices.ProtocolType) (AdapterState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.adapters[protocol]
	if !ok {
		return "", errors.NotFound("no adapter registered for protocol '%s'", protocol)
	}
	return rec.state, nil
}

// resolve returns a ready, connected adapter or the typed routing error
func (m *Manager) resolve(protocol devices.ProtocolType) (devices.ProtocolAdapter, error) {
	m.mu.RLock()
	rec, ok := m.adapters[protocol]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("no adapter registered for protocol '%s'", protocol)
	}
	if rec.state != StateReady || !rec.adapter.IsConnected() {
		return nil, errors.Unavailable("adapter for protocol '%s' is not connected", protocol)
	}
	return rec.adapter, nil
}

// readyAdapters snapshots the adapters currently in the ready state
func (m *Manager) readyAdapters() map[devices.ProtocolType]devices.ProtocolAdapter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[devices.ProtocolType]devices.ProtocolAdapter)
	for p, rec := range m.adapters {
		if rec.state == StateReady {
			out[p] = rec.adapter
		}
	}
	return out
}

// SendDeviceCommand routes one command to the adapter for the protocol.
// Unknown protocol returns NotFound; a registered but disconnected adapter
// returns ServiceUnavailable, without touching the adapter's network path.
func (m *Manager) SendDeviceCommand(ctx context.Context, protocol devices.ProtocolType, deviceID, command string, params map[string]interface{}) (*devices.CommandResult, error) {
	cmd := devices.DeviceCommand{
		DeviceID:   deviceID,
		Command:    command,
		Parameters: params,
	}
	if err := cmd.Validate(); err != nil {
		return nil, errors.Invalid("invalid command: %v", err)
	}

	adapter, err := m.resolve(protocol)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := adapter.SendCommand(ctx, deviceID, cmd)
	elapsed := time.Since(start)

	if m.collector != nil {
		m.collector.RecordDeviceCommand(string(protocol), err == nil && result != nil && result.Success, elapsed)
	}

	m.logger.WithFields(logrus.Fields{
		"protocol":   protocol,
		"device_id":  deviceID,
		"command":    command,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Debug("Device command routed")

	if err != nil {
		return nil, err
	}
	if result.ResponseTimeMs == 0 {
		result.ResponseTimeMs = elapsed.Milliseconds()
	}
	return result, nil
}

// GetDeviceStatus routes a status read to the adapter for the protocol
func (m *Manager) GetDeviceStatus(ctx context.Context, protocol devices.ProtocolType, deviceID string) (*devices.DeviceStatusUpdate, error) {
	adapter, err := m.resolve(protocol)
	if err != nil {
		return nil, err
	}
	return adapter.GetDeviceStatus(ctx, deviceID)
}

// TestDeviceConnection routes a reachability probe to the adapter
func (m *Manager) TestDeviceConnection(ctx context.Context, protocol devices.ProtocolType, deviceID string) (bool, error) {
	adapter, err := m.resolve(protocol)
	if err != nil {
		return false, err
	}
	return adapter.TestDeviceConnection(ctx, deviceID)
}

// DiscoverDevices queries one adapter when a protocol is given, or every
// ready adapter concurrently when it is empty. Individual adapter failures
// are logged and skipped; the aggregate only fails when a specific
// protocol was requested and unavailable.
func (m *Manager) DiscoverDevices(ctx context.Context, protocol devices.ProtocolType, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
	if protocol != "" {
		adapter, err := m.resolve(protocol)
		if err != nil {
			return nil, err
		}
		found, err := adapter.DiscoverDevices(ctx, filters)
		if err != nil {
			return nil, err
		}
		m.emit(ManagerEvent{Kind: EventDevicesDiscovered, Protocol: protocol, Discovered: found})
		return found, nil
	}

	targets := m.readyAdapters()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []devices.DeviceDiscovery
	)

	for p, adapter := range targets {
		wg.Add(1)
		go func(p devices.ProtocolType, adapter devices.ProtocolAdapter) {
			defer wg.Done()
			found, err := adapter.DiscoverDevices(ctx, filters)
			if err != nil {
				m.logger.WithError(err).WithField("protocol", p).Warn("Adapter discovery failed")
				return
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
		}(p, adapter)
	}
	wg.Wait()

	m.emit(ManagerEvent{Kind: EventDevicesDiscovered, Discovered: results})

	m.logger.WithFields(logrus.Fields{
		"adapters": len(targets),
		"devices":  len(results),
	}).Info("Discovery completed")

	return results, nil
}

// GetDiagnostics queries every adapter concurrently with independent
// failure isolation. A failed adapter contributes an error block instead
// of aborting the aggregate. A host stats block is always included.
func (m *Manager) GetDiagnostics(ctx context.Context) map[string]interface{} {
	// The lifecycle state is copied out under the lock; the workers must
	// not dereference the live record while Shutdown rewrites it.
	type diagTarget struct {
		adapter devices.ProtocolAdapter
		state   AdapterState
	}
	m.mu.RLock()
	targets := make(map[devices.ProtocolType]diagTarget, len(m.adapters))
	for p, rec := range m.adapters {
		targets[p] = diagTarget{adapter: rec.adapter, state: rec.state}
	}
	m.mu.RUnlock()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	perProtocol := make(map[string]interface{}, len(targets))

	for p, target := range targets {
		wg.Add(1)
		go func(p devices.ProtocolType, target diagTarget) {
			defer wg.Done()

			var block map[string]interface{}
			diag, err := target.adapter.GetDiagnostics(ctx)
			if err != nil {
				block = map[string]interface{}{
					"error":     err.Error(),
					"connected": false,
				}
			} else {
				block = diag
				if block == nil {
					block = map[string]interface{}{}
				}
				block["connected"] = target.adapter.IsConnected()
			}
			block["state"] = string(target.state)

			mu.Lock()
			perProtocol[string(p)] = block
			mu.Unlock()
		}(p, target)
	}
	wg.Wait()

	return map[string]interface{}{
		"adapters":  perProtocol,
		"host":      hostDiagnostics(),
		"timestamp": time.Now().UTC(),
	}
}

// healthSweep checks the connection status of ready adapters and emits an
// error event for any that dropped offline.
func (m *Manager) healthSweep() {
	for protocol, adapter := range m.readyAdapters() {
		status := adapter.GetConnectionStatus()
		if !status.Connected {
			m.logger.WithFields(logrus.Fields{
				"protocol":   protocol,
				"last_error": status.LastError,
			}).Warn("Adapter unhealthy")
			m.emit(ManagerEvent{
				Kind:     devices.EventError,
				Protocol: protocol,
				Err:      errors.Unavailable("adapter '%s' lost its connection", protocol),
				Reason:   status.LastError,
			})
		}
	}
}

// Shutdown disconnects every adapter concurrently, best-effort. The
// manager always ends terminated with an empty registry regardless of
// individual adapter failures. The event stream is not closed: an
// in-flight discovery may still try to publish after Shutdown returns,
// and its result must be dropped, not delivered and not crashed on.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	targets := make(map[devices.ProtocolType]*adapterRecord, len(m.adapters))
	for p, rec := range m.adapters {
		rec.state = StateShuttingDown
		targets[p] = rec
	}
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	cronCtx := m.cron.Stop()

	var wg sync.WaitGroup
	for p, rec := range targets {
		wg.Add(1)
		go func(p devices.ProtocolType, rec *adapterRecord) {
			defer wg.Done()
			if err := rec.adapter.Disconnect(ctx); err != nil {
				m.logger.WithError(err).WithField("protocol", p).Warn("Adapter disconnect failed during shutdown")
			}
		}(p, rec)
	}
	wg.Wait()
	m.wg.Wait()
	<-cronCtx.Done()

	m.mu.Lock()
	for _, rec := range m.adapters {
		rec.state = StateTerminated
	}
	m.adapters = make(map[devices.ProtocolType]*adapterRecord)
	m.terminated = true
	m.mu.Unlock()

	m.logger.Info("Adapter manager shut down")
}
