package websocket

import (
	"encoding/json"
	"time"
)

// Inbound message types
const (
	MessageTypeSubscribeDevice      = "subscribe:device"
	MessageTypeUnsubscribeDevice    = "unsubscribe:device"
	MessageTypeSubscribeDiscovery   = "subscribe:discovery"
	MessageTypeUnsubscribeDiscovery = "unsubscribe:discovery"
	MessageTypeStreamSubscribe      = "device:subscribe:stream"
	MessageTypeStreamUnsubscribe    = "device:unsubscribe:stream"
	MessageTypeCommandExecute       = "device:command:execute"
	MessageTypeBulkCommand          = "devices:command:bulk"
	MessageTypeStatusGet            = "device:status:get"
	MessageTypeDiscover             = "devices:discover"
	MessageTypeTestConnection       = "device:test:connection"
	MessageTypeDiagnosticsGet       = "device:diagnostics:get"
	MessageTypePing                 = "ping"
)

// Outbound message types
const (
	MessageTypeDeviceSubscribed      = "device:subscribed"
	MessageTypeDeviceUnsubscribed    = "device:unsubscribed"
	MessageTypeDiscoverySubscribed   = "discovery:subscribed"
	MessageTypeDiscoveryUnsubscribed = "discovery:unsubscribed"
	MessageTypeStreamSubscribed      = "device:stream:subscribed"
	MessageTypeStreamUnsubscribed    = "device:stream:unsubscribed"
	MessageTypeStreamUpdate          = "device:stream:update"
	MessageTypeAccessDenied          = "access:denied"

	MessageTypeCommandAcknowledged = "device:command:acknowledged"
	MessageTypeCommandResult       = "device:command:result"

	MessageTypeBulkStarted   = "devices:command:bulk:started"
	MessageTypeBulkProgress  = "devices:command:bulk:progress"
	MessageTypeBulkCompleted = "devices:command:bulk:completed"
	MessageTypeBulkError     = "devices:command:bulk:error"

	MessageTypeStatusResponse = "device:status:response"
	MessageTypeStatusError    = "device:status:error"

	MessageTypeDiscoveryStarted   = "devices:discovery:started"
	MessageTypeDiscoveryCompleted = "devices:discovery:completed"
	MessageTypeDiscoveryError     = "devices:discovery:error"
	MessageTypeDiscoveryBroadcast = "devices:discovery:broadcast"

	MessageTypeTestStarted   = "device:test:started"
	MessageTypeTestCompleted = "device:test:completed"
	MessageTypeTestError     = "device:test:error"

	MessageTypeDiagnosticsResponse = "device:diagnostics:response"
	MessageTypeDiagnosticsError    = "device:diagnostics:error"

	MessageTypeAdapterStatus = "adapter:status"
	MessageTypeConnection    = "connection"
	MessageTypePong          = "pong"
)

// Stream update subtypes carried in the "type" field of stream update data
const (
	StreamUpdateSnapshot        = "snapshot"
	StreamUpdateStateChange     = "state_update"
	StreamUpdateCommandExecuted = "command_executed"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// NewMessage builds an outbound message
func NewMessage(messageType string, data map[string]interface{}) Message {
	return Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorMessage builds an outbound failure message. Every gateway failure
// carries a success flag, a readable error string and a timestamp.
func ErrorMessage(messageType string, err error, extra map[string]interface{}) Message {
	data := map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}
	for k, v := range extra {
		data[k] = v
	}
	return NewMessage(messageType, data)
}

// GetString extracts a string field from message data
func (m Message) GetString(key string) string {
	if v, ok := m.Data[key].(string); ok {
		return v
	}
	return ""
}

// GetBool extracts a boolean field from message data
func (m Message) GetBool(key string) bool {
	if v, ok := m.Data[key].(bool); ok {
		return v
	}
	return false
}

// GetStringSlice extracts a string list from message data
func (m Message) GetStringSlice(key string) []string {
	raw, ok := m.Data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetMap extracts a nested object from message data
func (m Message) GetMap(key string) map[string]interface{} {
	if v, ok := m.Data[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}
