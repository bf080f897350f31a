// Package modbus is a placeholder adapter. It satisfies the full protocol
// contract but reports every device operation as unsupported, so routing
// to it is deterministic rather than a fault.
package modbus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/pkg/errors"
)

// Adapter is the Modbus adapter stub
type Adapter struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	status devices.ConnectionStatus

	events chan devices.AdapterEvent
}

// NewAdapter creates the Modbus adapter stub
func NewAdapter(logger *logrus.Logger) *Adapter {
	return &Adapter{
		logger: logger,
		events: make(chan devices.AdapterEvent, 8),
	}
}

// Protocol returns the protocol tag
func (a *Adapter) Protocol() devices.ProtocolType { return devices.ProtocolModbus }

// Name returns the adapter name
func (a *Adapter) Name() string { return "Modbus Adapter (stub)" }

// Version returns the adapter version
func (a *Adapter) Version() string { return "0.1.0" }

// Events returns the adapter event channel
func (a *Adapter) Events() <-chan devices.AdapterEvent { return a.events }

// Initialize is a no-op for the stub
func (a *Adapter) Initialize(ctx context.Context) error { return nil }

// Connect marks the stub connected so routing reaches its unsupported
// responses instead of ServiceUnavailable.
func (a *Adapter) Connect(ctx context.Context) error {
	now := time.Now().UTC()
	a.mu.Lock()
	already := a.status.Connected
	a.status = devices.ConnectionStatus{Connected: true, LastConnectedAt: &now}
	a.mu.Unlock()

	if !already {
		select {
		case a.events <- devices.AdapterEvent{Kind: devices.EventConnected, Protocol: devices.ProtocolModbus, Timestamp: now}:
		default:
		}
	}
	return nil
}

// Disconnect marks the stub disconnected. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	was := a.status.Connected
	a.status.Connected = false
	a.mu.Unlock()

	if was {
		select {
		case a.events <- devices.AdapterEvent{Kind: devices.EventDisconnected, Protocol: devices.ProtocolModbus, Reason: "shutdown", Timestamp: time.Now().UTC()}:
		default:
		}
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

// SendCommand reports the operation as unsupported
func (a *Adapter) SendCommand(ctx context.Context, deviceID string, cmd devices.DeviceCommand) (*devices.CommandResult, error) {
	return devices.UnsupportedResult("send_command"), nil
}

// GetDeviceStatus reports the operation as unsupported
func (a *Adapter) GetDeviceStatus(ctx context.Context, deviceID string) (*devices.DeviceStatusUpdate, error) {
	return nil, errors.Invalid("modbus adapter does not support status reads")
}

// TestDeviceConnection reports the operation as unsupported
func (a *Adapter) TestDeviceConnection(ctx context.Context, deviceID string) (bool, error) {
	return false, errors.Invalid("modbus adapter does not support connection tests")
}

// DiscoverDevices returns an empty result; the stub has no transport
func (a *Adapter) DiscoverDevices(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
	return nil, nil
}

// SubscribeToUpdates reports the operation as unsupported
func (a *Adapter) SubscribeToUpdates(deviceID string, eventTypes []string) (*devices.Subscription, error) {
	return nil, errors.Invalid("modbus adapter does not support subscriptions")
}

// UnsubscribeFromUpdates tolerates unknown subscription IDs
func (a *Adapter) UnsubscribeFromUpdates(subscriptionID string) error { return nil }

// GetDiagnostics reports stub internals
func (a *Adapter) GetDiagnostics(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"adapter":     a.Name(),
		"version":     a.Version(),
		"implemented": false,
	}, nil
}

// SupportsDeviceType always reports false for the stub
func (a *Adapter) SupportsDeviceType(deviceType string) bool { return false }

// SupportsCapability always reports false for the stub
func (a *Adapter) SupportsCapability(capability string) bool { return false }
