package devices

import (
	"context"
	"time"
)

// AdapterEventKind enumerates the events an adapter can emit to its owner
type AdapterEventKind string

const (
	EventConnected    AdapterEventKind = "connected"
	EventDisconnected AdapterEventKind = "disconnected"
	EventDeviceUpdate AdapterEventKind = "device_update"
	EventError        AdapterEventKind = "error"
)

// AdapterEvent is handed from an adapter to the manager over the adapter's
// event channel. Adapters never mutate manager or gateway state directly.
type AdapterEvent struct {
	Kind      AdapterEventKind
	Protocol  ProtocolType
	Update    *DeviceStatusUpdate
	Err       error
	Reason    string
	Timestamp time.Time
}

// ProtocolAdapter is the capability contract every vendor integration must
// satisfy. Operations must be safe for concurrent use across different
// device IDs; per-device ordering is the adapter's concern. An adapter that
// does not implement a capability returns a deterministic unsupported
// result instead of failing.
type ProtocolAdapter interface {
	// Identification
	Protocol() ProtocolType
	Name() string
	Version() string

	// Lifecycle. Connect and Disconnect are idempotent and update the
	// adapter's ConnectionStatus on transition.
	Initialize(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	GetConnectionStatus() ConnectionStatus

	// Device operations
	DiscoverDevices(ctx context.Context, filters DiscoveryFilters) ([]DeviceDiscovery, error)
	SendCommand(ctx context.Context, deviceID string, cmd DeviceCommand) (*CommandResult, error)
	GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatusUpdate, error)
	TestDeviceConnection(ctx context.Context, deviceID string) (bool, error)

	// Update subscriptions
	SubscribeToUpdates(deviceID string, eventTypes []string) (*Subscription, error)
	UnsubscribeFromUpdates(subscriptionID string) error

	// Diagnostics and capabilities
	GetDiagnostics(ctx context.Context) (map[string]interface{}, error)
	SupportsDeviceType(deviceType string) bool
	SupportsCapability(capability string) bool

	// Events returns the channel on which the adapter emits its four
	// event kinds. The channel is owned by the adapter; its buffer absorbs
	// bursts and events are dropped, not blocked on, when it is full.
	Events() <-chan AdapterEvent
}

// UnsupportedResult builds the deterministic failure an adapter returns for
// an operation its protocol does not implement.
func UnsupportedResult(operation string) *CommandResult {
	return &CommandResult{
		Success: false,
		Error:   "unsupported operation: " + operation,
	}
}
