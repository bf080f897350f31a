package tuya

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

// Config holds configuration for the Tuya adapter
type Config struct {
	Enabled        bool
	BaseURL        string
	AccessID       string
	AccessSecret   string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	LocalDiscovery bool
}

// Adapter implements the ProtocolAdapter contract for Tuya devices via the
// cloud OpenAPI, with optional mDNS discovery of LAN devices.
type Adapter struct {
	client *Client
	logger *logrus.Logger
	config Config

	mu     sync.RWMutex
	status devices.ConnectionStatus

	events chan devices.AdapterEvent

	subMu         sync.Mutex
	subscriptions map[string]*devices.Subscription

	devMu        sync.Mutex
	knownDevices map[string]Device
	deviceLocks  map[string]*sync.Mutex

	pollCancel context.CancelFunc
	pollWg     sync.WaitGroup

	commandsSent   int64
	commandsFailed int64
	startTime      time.Time
}

// NewAdapter creates a Tuya adapter
func NewAdapter(config Config, logger *logrus.Logger) *Adapter {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 2 * time.Second
	}

	return &Adapter{
		client:        NewClient(config.BaseURL, config.AccessID, config.AccessSecret, config.RequestTimeout, logger),
		logger:        logger,
		config:        config,
		events:        make(chan devices.AdapterEvent, 64),
		subscriptions: make(map[string]*devices.Subscription),
		knownDevices:  make(map[string]Device),
		deviceLocks:   make(map[string]*sync.Mutex),
		startTime:     time.Now(),
	}
}

// Protocol returns the protocol tag
func (a *Adapter) Protocol() devices.ProtocolType { return devices.ProtocolTuya }

// Name returns the adapter name
func (a *Adapter) Name() string { return "Tuya Cloud Adapter" }

// Version returns the adapter version
func (a *Adapter) Version() string { return "1.2.0" }

// Events returns the adapter event channel
func (a *Adapter) Events() <-chan devices.AdapterEvent { return a.events }

// Initialize validates the adapter configuration
func (a *Adapter) Initialize(ctx context.Context) error {
	if !a.config.Enabled {
		return nil
	}
	if a.config.AccessID == "" || a.config.AccessSecret == "" {
		return fmt.Errorf("tuya access_id and access_secret are required")
	}
	return nil
}

// Connect verifies cloud reachability and starts the status poll loop.
// Calling Connect on a connected adapter is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status.Connected {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if !a.config.Enabled {
		a.logger.Info("Tuya adapter is disabled")
		return nil
	}

	// A successful device list proves both token and API reachability
	list, err := a.client.ListDevices(ctx)
	if err != nil {
		a.setDisconnected(err.Error())
		return fmt.Errorf("failed to connect to Tuya cloud: %w", err)
	}

	a.devMu.Lock()
	for _, d := range list {
		a.knownDevices[d.ID] = d
	}
	a.devMu.Unlock()

	now := time.Now().UTC()
	a.mu.Lock()
	a.status = devices.ConnectionStatus{Connected: true, LastConnectedAt: &now}
	a.mu.Unlock()

	pollCtx, cancel := context.WithCancel(context.Background())
	a.pollCancel = cancel
	a.pollWg.Add(1)
	go a.pollLoop(pollCtx)

	a.emit(devices.AdapterEvent{Kind: devices.EventConnected})
	a.logger.WithField("devices", len(list)).Info("Tuya adapter connected")

	return nil
}

// Disconnect stops polling and marks the adapter offline. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	wasConnected := a.status.Connected
	a.status.Connected = false
	a.mu.Unlock()

	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
	a.pollWg.Wait()

	if wasConnected {
		a.emit(devices.AdapterEvent{Kind: devices.EventDisconnected, Reason: "shutdown"})
		a.logger.Info("Tuya adapter disconnected")
	}
	return nil
}

// IsConnected reports connection state
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status.Connected
}

// GetConnectionStatus returns a snapshot of the connection state
func (a *Adapter) GetConnectionStatus() devices.ConnectionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Adapter) setDisconnected(reason string) {
	a.mu.Lock()
	a.status.Connected = false
	a.status.LastError = reason
	a.mu.Unlock()
}

// emit hands an event to the owner without blocking; a full channel drops
// the event.
func (a *Adapter) emit(ev devices.AdapterEvent) {
	ev.Protocol = devices.ProtocolTuya
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case a.events <- ev:
	default:
		a.logger.WithField("kind", ev.Kind).Debug("Tuya event channel full, event dropped")
	}
}

// deviceLock serializes vendor calls per device. Tuya rejects overlapping
// datapoint writes to the same device.
func (a *Adapter) deviceLock(deviceID string) *sync.Mutex {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	lock, ok := a.deviceLocks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		a.deviceLocks[deviceID] = lock
	}
	return lock
}

// pollLoop periodically refreshes device status and emits update events
func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.pollWg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context) {
	list, err := a.client.ListDevices(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Tuya poll failed to list devices")
		a.emit(devices.AdapterEvent{Kind: devices.EventError, Err: err})
		return
	}

	a.devMu.Lock()
	for _, d := range list {
		a.knownDevices[d.ID] = d
	}
	a.devMu.Unlock()

	for _, d := range list {
		status := devices.StatusOffline
		var state map[string]interface{}
		if d.Online {
			status = devices.StatusOnline
			points, err := a.client.GetDeviceStatus(ctx, d.ID)
			if err != nil {
				a.logger.WithError(err).WithField("device_id", d.ID).Debug("Tuya poll status read failed")
				status = devices.StatusUnknown
			} else {
				state = pointsToState(points)
			}
		}
		a.emit(devices.AdapterEvent{
			Kind: devices.EventDeviceUpdate,
			Update: &devices.DeviceStatusUpdate{
				DeviceID:  d.ID,
				Status:    status,
				State:     state,
				Timestamp: time.Now().UTC(),
				Source:    devices.SourcePolling,
			},
		})
	}
}

// withRetry runs fn up to the configured attempts with linear backoff,
// returning the number of retries consumed.
func (a *Adapter) withRetry(ctx context.Context, fn func() error) (int, error) {
	var err error
	for attempt := 0; attempt < a.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(a.config.RetryBackoff):
			}
		}
		if err = fn(); err == nil {
			return attempt, nil
		}
	}
	return a.config.RetryAttempts - 1, err
}

// SendCommand writes datapoints to one device. The call is bounded by the
// configured request timeout per attempt and serialized per device.
func (a *Adapter) SendCommand(ctx context.Context, deviceID string, cmd devices.DeviceCommand) (*devices.CommandResult, error) {
	commands, err := translateCommand(cmd)
	if err != nil {
		return &devices.CommandResult{Success: false, Error: err.Error()}, nil
	}

	lock := a.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	retries, err := a.withRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
		defer cancel()
		return a.client.SendCommands(callCtx, deviceID, commands)
	})
	elapsed := time.Since(start).Milliseconds()

	a.devMu.Lock()
	a.commandsSent++
	if err != nil {
		a.commandsFailed++
	}
	a.devMu.Unlock()

	if err != nil {
		return &devices.CommandResult{
			Success:        false,
			Error:          err.Error(),
			ResponseTimeMs: elapsed,
			RetryCount:     retries,
		}, nil
	}

	data := make(map[string]interface{}, len(commands))
	for _, c := range commands {
		data[c.Code] = c.Value
	}
	return &devices.CommandResult{
		Success:        true,
		Data:           data,
		ResponseTimeMs: elapsed,
		RetryCount:     retries,
	}, nil
}

// GetDeviceStatus reads the current datapoints of one device
func (a *Adapter) GetDeviceStatus(ctx context.Context, deviceID string) (*devices.DeviceStatusUpdate, error) {
	points, err := a.client.GetDeviceStatus(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read status for %s: %w", deviceID, err)
	}

	status := devices.StatusUnknown
	a.devMu.Lock()
	if d, ok := a.knownDevices[deviceID]; ok {
		if d.Online {
			status = devices.StatusOnline
		} else {
			status = devices.StatusOffline
		}
	}
	a.devMu.Unlock()

	return &devices.DeviceStatusUpdate{
		DeviceID:  deviceID,
		Status:    status,
		State:     pointsToState(points),
		Timestamp: time.Now().UTC(),
		Source:    devices.SourceManual,
	}, nil
}

// TestDeviceConnection probes whether the device is reachable
func (a *Adapter) TestDeviceConnection(ctx context.Context, deviceID string) (bool, error) {
	d, err := a.client.GetDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return d.Online, nil
}

// DiscoverDevices merges the cloud device list with LAN mDNS discovery
func (a *Adapter) DiscoverDevices(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
	list, err := a.client.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloud discovery failed: %w", err)
	}

	byID := make(map[string]devices.DeviceDiscovery, len(list))
	for _, d := range list {
		deviceType := categoryToType(d.Category)
		byID[d.ID] = devices.DeviceDiscovery{
			DeviceID:     d.ID,
			Protocol:     devices.ProtocolTuya,
			Name:         d.Name,
			Type:         deviceType,
			Model:        d.Product,
			Address:      d.IP,
			Capabilities: typeCapabilities(deviceType),
		}
	}

	if a.config.LocalDiscovery {
		for _, d := range a.discoverLocal(ctx) {
			if existing, ok := byID[d.DeviceID]; ok {
				if existing.Address == "" {
					existing.Address = d.Address
					byID[d.DeviceID] = existing
				}
				continue
			}
			byID[d.DeviceID] = d
		}
	}

	a.devMu.Lock()
	for _, d := range list {
		a.knownDevices[d.ID] = d
	}
	a.devMu.Unlock()

	results := make([]devices.DeviceDiscovery, 0, len(byID))
	for _, d := range byID {
		if filters.Matches(d) {
			results = append(results, d)
		}
	}
	return results, nil
}

// SubscribeToUpdates registers interest in a device's update events
func (a *Adapter) SubscribeToUpdates(deviceID string, eventTypes []string) (*devices.Subscription, error) {
	sub := &devices.Subscription{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		EventTypes: eventTypes,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	a.subMu.Lock()
	a.subscriptions[sub.ID] = sub
	a.subMu.Unlock()

	return sub, nil
}

// UnsubscribeFromUpdates removes a subscription. Removing an unknown
// subscription is not an error.
func (a *Adapter) UnsubscribeFromUpdates(subscriptionID string) error {
	a.subMu.Lock()
	delete(a.subscriptions, subscriptionID)
	a.subMu.Unlock()
	return nil
}

// GetDiagnostics reports adapter internals
func (a *Adapter) GetDiagnostics(ctx context.Context) (map[string]interface{}, error) {
	a.devMu.Lock()
	known := len(a.knownDevices)
	sent := a.commandsSent
	failed := a.commandsFailed
	a.devMu.Unlock()

	a.subMu.Lock()
	subs := len(a.subscriptions)
	a.subMu.Unlock()

	return map[string]interface{}{
		"adapter":         a.Name(),
		"version":         a.Version(),
		"known_devices":   known,
		"subscriptions":   subs,
		"commands_sent":   sent,
		"commands_failed": failed,
		"poll_interval":   a.config.PollInterval.String(),
		"uptime":          time.Since(a.startTime).String(),
	}, nil
}

// SupportsDeviceType reports whether the adapter handles a device type
func (a *Adapter) SupportsDeviceType(deviceType string) bool {
	switch deviceType {
	case devices.DeviceTypePlug, devices.DeviceTypeMeter, devices.DeviceTypeThermostat:
		return true
	}
	return false
}

// SupportsCapability reports whether the adapter handles a capability
func (a *Adapter) SupportsCapability(capability string) bool {
	switch capability {
	case devices.CapabilitySwitch, devices.CapabilityEnergy, devices.CapabilityTemperature:
		return true
	}
	return false
}
