// Package mqttgen provides a generic MQTT adapter for devices that publish
// JSON state to a broker. State arrives as push updates on a wildcard
// topic; commands are published to a per-device command topic.
package mqttgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

// Config holds configuration for the MQTT adapter
type Config struct {
	Enabled        bool
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	StateTopic     string // wildcard subscribe pattern, e.g. devices/+/state
	CommandTopic   string // publish pattern with one %s for the device ID
	PublishTimeout time.Duration
}

// Adapter implements the ProtocolAdapter contract over an MQTT broker
type Adapter struct {
	config Config
	logger *logrus.Logger
	client pahomqtt.Client

	mu     sync.RWMutex
	status devices.ConnectionStatus

	events chan devices.AdapterEvent

	subMu         sync.Mutex
	subscriptions map[string]*devices.Subscription

	seenMu      sync.Mutex
	seenDevices map[string]time.Time
}

// NewAdapter creates an MQTT adapter
func NewAdapter(config Config, logger *logrus.Logger) *Adapter {
	if config.ClientID == "" {
		config.ClientID = "devicehub-" + uuid.New().String()[:8]
	}
	if config.StateTopic == "" {
		config.StateTopic = "devices/+/state"
	}
	if config.CommandTopic == "" {
		config.CommandTopic = "devices/%s/set"
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 5 * time.Second
	}

	return &Adapter{
		config:        config,
		logger:        logger,
		events:        make(chan devices.AdapterEvent, 64),
		subscriptions: make(map[string]*devices.Subscription),
		seenDevices:   make(map[string]time.Time),
	}
}

// Protocol returns the protocol tag
func (a *Adapter) Protocol() devices.ProtocolType { return devices.ProtocolMQTT }

// Name returns the adapter name
func (a *Adapter) Name() string { return "Generic MQTT Adapter" }

// Version returns the adapter version
func (a *Adapter) Version() string { return "1.0.0" }

// Events returns the adapter event channel
func (a *Adapter) Events() <-chan devices.AdapterEvent { return a.events }

// Initialize validates the adapter configuration
func (a *Adapter) Initialize(ctx context.Context) error {
	if !a.config.Enabled {
		return nil
	}
	if a.config.BrokerURL == "" {
		return fmt.Errorf("mqtt broker_url is required")
	}
	return nil
}

// Connect dials the broker and subscribes to the state topic. Idempotent.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status.Connected {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if !a.config.Enabled {
		a.logger.Info("MQTT adapter is disabled")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(a.config.BrokerURL).
		SetClientID(a.config.ClientID).
		SetUsername(a.config.Username).
		SetPassword(a.config.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		now := time.Now().UTC()
		a.mu.Lock()
		a.status = devices.ConnectionStatus{Connected: true, LastConnectedAt: &now}
		a.mu.Unlock()
		a.emit(devices.AdapterEvent{Kind: devices.EventConnected})

		// Re-subscribe after every (re)connect
		token := c.Subscribe(a.config.StateTopic, 1, a.handleStateMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			a.logger.WithError(err).Error("MQTT state subscription failed")
			a.emit(devices.AdapterEvent{Kind: devices.EventError, Err: err})
		}
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		a.mu.Lock()
		a.status.Connected = false
		a.status.LastError = err.Error()
		a.mu.Unlock()
		a.emit(devices.AdapterEvent{Kind: devices.EventDisconnected, Reason: err.Error()})
	})

	a.client = pahomqtt.NewClient(opts)

	token := a.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("timed out connecting to broker %s", a.config.BrokerURL)
	}
	if err := token.Error(); err != nil {
		a.mu.Lock()
		a.status.LastError = err.Error()
		a.mu.Unlock()
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	a.logger.WithField("broker", a.config.BrokerURL).Info("MQTT adapter connected")
	return nil
}

// Disconnect closes the broker connection. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	wasConnected := a.status.Connected
	a.status.Connected = false
	a.mu.Unlock()

	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	if wasConnected {
		a.emit(devices.AdapterEvent{Kind: devices.EventDisconnected, Reason: "shutdown"})
		a.logger.Info("MQTT adapter disconnected")
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

func (a *Adapter) emit(ev devices.AdapterEvent) {
	ev.Protocol = devices.ProtocolMQTT
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case a.events <- ev:
	default:
		a.logger.WithField("kind", ev.Kind).Debug("MQTT event channel full, event dropped")
	}
}

// handleStateMessage turns a state topic message into a push update event.
// Runs on a paho goroutine; it only emits onto the event channel and never
// touches owner state.
func (a *Adapter) handleStateMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	deviceID, ok := deviceIDFromTopic(msg.Topic())
	if !ok {
		a.logger.WithField("topic", msg.Topic()).Debug("Ignoring state message with unexpected topic shape")
		return
	}

	update, err := parseStatePayload(deviceID, msg.Payload())
	if err != nil {
		a.logger.WithError(err).WithField("topic", msg.Topic()).Warn("Failed to parse device state payload")
		return
	}

	a.seenMu.Lock()
	a.seenDevices[deviceID] = time.Now()
	a.seenMu.Unlock()

	a.emit(devices.AdapterEvent{Kind: devices.EventDeviceUpdate, Update: update})
}

// SendCommand publishes the command payload to the device's command topic
// and waits for the broker's QoS1 acknowledgment.
func (a *Adapter) SendCommand(ctx context.Context, deviceID string, cmd devices.DeviceCommand) (*devices.CommandResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"command":    cmd.Command,
		"parameters": cmd.Parameters,
	})
	if err != nil {
		return &devices.CommandResult{Success: false, Error: err.Error()}, nil
	}

	topic := fmt.Sprintf(a.config.CommandTopic, deviceID)
	start := time.Now()

	token := a.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(a.config.PublishTimeout) {
		return &devices.CommandResult{
			Success:        false,
			Error:          "publish acknowledgment timed out",
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}
	if err := token.Error(); err != nil {
		return &devices.CommandResult{
			Success:        false,
			Error:          err.Error(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	return &devices.CommandResult{
		Success:        true,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// GetDeviceStatus reports what is known from retained/push state. There is
// no request/response path on a plain broker, so the result reflects
// whether the device has published recently.
func (a *Adapter) GetDeviceStatus(ctx context.Context, deviceID string) (*devices.DeviceStatusUpdate, error) {
	a.seenMu.Lock()
	lastSeen, ok := a.seenDevices[deviceID]
	a.seenMu.Unlock()

	status := devices.StatusUnknown
	if ok {
		if time.Since(lastSeen) < 5*time.Minute {
			status = devices.StatusOnline
		} else {
			status = devices.StatusOffline
		}
	}

	return &devices.DeviceStatusUpdate{
		DeviceID:  deviceID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Source:    devices.SourceManual,
	}, nil
}

// TestDeviceConnection reports whether the device published recently
func (a *Adapter) TestDeviceConnection(ctx context.Context, deviceID string) (bool, error) {
	a.seenMu.Lock()
	lastSeen, ok := a.seenDevices[deviceID]
	a.seenMu.Unlock()
	return ok && time.Since(lastSeen) < 5*time.Minute, nil
}

// DiscoverDevices lists devices observed on the state topic
func (a *Adapter) DiscoverDevices(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
	a.seenMu.Lock()
	defer a.seenMu.Unlock()

	found := make([]devices.DeviceDiscovery, 0, len(a.seenDevices))
	for deviceID := range a.seenDevices {
		d := devices.DeviceDiscovery{
			DeviceID: deviceID,
			Protocol: devices.ProtocolMQTT,
			Name:     deviceID,
			Type:     devices.DeviceTypePlug,
		}
		if filters.Matches(d) {
			found = append(found, d)
		}
	}
	return found, nil
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

// UnsubscribeFromUpdates removes a subscription, tolerating unknown IDs
func (a *Adapter) UnsubscribeFromUpdates(subscriptionID string) error {
	a.subMu.Lock()
	delete(a.subscriptions, subscriptionID)
	a.subMu.Unlock()
	return nil
}

// GetDiagnostics reports adapter internals
func (a *Adapter) GetDiagnostics(ctx context.Context) (map[string]interface{}, error) {
	a.seenMu.Lock()
	seen := len(a.seenDevices)
	a.seenMu.Unlock()

	return map[string]interface{}{
		"adapter":      a.Name(),
		"version":      a.Version(),
		"broker":       a.config.BrokerURL,
		"state_topic":  a.config.StateTopic,
		"seen_devices": seen,
	}, nil
}

// SupportsDeviceType reports whether the adapter handles a device type.
// The generic adapter carries anything that can publish JSON state.
func (a *Adapter) SupportsDeviceType(deviceType string) bool { return true }

// SupportsCapability reports whether the adapter handles a capability
func (a *Adapter) SupportsCapability(capability string) bool {
	return capability == devices.CapabilitySwitch
}

// deviceIDFromTopic extracts the device ID from a devices/<id>/state topic
func deviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// parseStatePayload decodes a JSON state payload into an update
func parseStatePayload(deviceID string, payload []byte) (*devices.DeviceStatusUpdate, error) {
	var state map[string]interface{}
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("invalid state payload: %w", err)
	}

	status := devices.StatusOnline
	if raw, ok := state["online"]; ok {
		if online, ok := raw.(bool); ok && !online {
			status = devices.StatusOffline
		}
		delete(state, "online")
	}

	return &devices.DeviceStatusUpdate{
		DeviceID:  deviceID,
		Status:    status,
		State:     state,
		Timestamp: time.Now().UTC(),
		Source:    devices.SourcePush,
	}, nil
}
