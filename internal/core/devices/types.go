package devices

import (
	"fmt"
	"strings"
	"time"
)

// ProtocolType identifies which adapter handles a device
type ProtocolType string

const (
	ProtocolTuya   ProtocolType = "tuya"
	ProtocolMQTT   ProtocolType = "mqtt"
	ProtocolModbus ProtocolType = "modbus"
)

// DeviceStatus represents the reachability of a device
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusUnknown DeviceStatus = "unknown"
)

// UpdateSource indicates how a status update was produced
type UpdateSource string

const (
	SourcePolling UpdateSource = "polling"
	SourcePush    UpdateSource = "push"
	SourceManual  UpdateSource = "manual"
)

// Common device types and capabilities shared across adapters
const (
	DeviceTypePlug       = "plug"
	DeviceTypeMeter      = "meter"
	DeviceTypeThermostat = "thermostat"

	CapabilitySwitch      = "switch"
	CapabilityEnergy      = "energy"
	CapabilityTemperature = "temperature"
)

// DeviceIdentity resolves a device to its protocol and owner.
// Immutable once discovered.
type DeviceIdentity struct {
	DeviceID string       `json:"device_id" db:"device_id"`
	Protocol ProtocolType `json:"protocol" db:"protocol"`
	OwnerID  string       `json:"owner_id" db:"owner_id"`
	Name     string       `json:"name" db:"name"`
	Type     string       `json:"type" db:"type"`
}

// ConnectionStatus describes an adapter's link to its vendor backend.
// Mutated only by the owning adapter.
type ConnectionStatus struct {
	Connected       bool       `json:"connected"`
	LastError       string     `json:"last_error,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
}

// DeviceCommand is a single command addressed to one device
type DeviceCommand struct {
	DeviceID   string                 `json:"device_id"`
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Validate checks the command for structural problems before routing
func (c DeviceCommand) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("device_id is required")
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

// CommandResult is the synchronous outcome of a device command
type CommandResult struct {
	Success        bool                   `json:"success"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ResponseTimeMs int64                  `json:"response_time_ms"`
	RetryCount     int                    `json:"retry_count"`
}

// DeviceStatusUpdate is a point-in-time fact about one device. It has no
// lifecycle of its own: subscribers consume it immediately or it is dropped.
type DeviceStatusUpdate struct {
	DeviceID  string                 `json:"device_id"`
	Status    DeviceStatus           `json:"status"`
	State     map[string]interface{} `json:"state,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Source    UpdateSource           `json:"source"`
}

// DeviceDiscovery describes a device found by an adapter
type DeviceDiscovery struct {
	DeviceID     string       `json:"device_id"`
	Protocol     ProtocolType `json:"protocol"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Model        string       `json:"model,omitempty"`
	Address      string       `json:"address,omitempty"`
	Capabilities []string     `json:"capabilities,omitempty"`
}

// DiscoveryFilters narrows adapter discovery
type DiscoveryFilters struct {
	DeviceType string `json:"device_type,omitempty"`
	Capability string `json:"capability,omitempty"`
}

// Matches reports whether a discovered device passes the filters
func (f DiscoveryFilters) Matches(d DeviceDiscovery) bool {
	if f.DeviceType != "" && d.Type != f.DeviceType {
		return false
	}
	if f.Capability != "" {
		found := false
		for _, c := range d.Capabilities {
			if c == f.Capability {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Subscription binds a consumer to ongoing updates for one device
type Subscription struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	EventTypes []string  `json:"event_types,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Principal is an authenticated caller
type Principal struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
}
