package websocket

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/adaptermgr"
	"github.com/luminode/devicehub-go/internal/core/devices"
)

// EventBridge forwards adapter-layer events to websocket rooms. It is
// the only consumer of the manager's event channel: device updates fan
// out to stream rooms, discovery results to the discovery room and
// adapter lifecycle changes to every connection.
type EventBridge struct {
	hub    *Hub
	events <-chan adaptermgr.ManagerEvent
	logger *logrus.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewEventBridge(hub *Hub, events <-chan adaptermgr.ManagerEvent, logger *logrus.Logger) *EventBridge {
	return &EventBridge{
		hub:    hub,
		events: events,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start consumes events until Stop is called or the source channel
// closes. Safe to call once; subsequent calls are no-ops.
func (b *EventBridge) Start() {
	b.startOnce.Do(func() {
		go b.run()
	})
}

// Stop asks the bridge to exit. The manager keeps its event stream open
// across shutdown, so the bridge owns its own termination signal.
func (b *EventBridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
}

// Done is closed once the bridge has stopped forwarding
func (b *EventBridge) Done() <-chan struct{} {
	return b.done
}

func (b *EventBridge) run() {
	defer close(b.done)

	for {
		select {
		case <-b.stop:
			b.logger.Info("Event bridge stopped")
			return
		case ev, ok := <-b.events:
			if !ok {
				b.logger.Info("Event bridge stopped: manager event channel closed")
				return
			}
			switch ev.Kind {
			case devices.EventDeviceUpdate:
				b.forwardDeviceUpdate(ev)
			case adaptermgr.EventDevicesDiscovered:
				b.forwardDiscovery(ev)
			case devices.EventConnected, devices.EventDisconnected, devices.EventError:
				b.forwardAdapterStatus(ev)
			default:
				b.logger.WithField("kind", ev.Kind).Debug("Unhandled manager event kind")
			}
		}
	}
}

func (b *EventBridge) forwardDeviceUpdate(ev adaptermgr.ManagerEvent) {
	if ev.Update == nil {
		return
	}
	update := ev.Update

	payload := map[string]interface{}{
		"type":      StreamUpdateStateChange,
		"device_id": update.DeviceID,
		"protocol":  string(ev.Protocol),
		"status":    update.Status,
		"state":     update.State,
		"source":    update.Source,
	}

	b.hub.BroadcastToRoom(StreamRoom(update.DeviceID), NewMessage(MessageTypeStreamUpdate, payload))
	b.hub.BroadcastToRoom(DeviceRoom(update.DeviceID), NewMessage(MessageTypeStreamUpdate, payload))
}

func (b *EventBridge) forwardDiscovery(ev adaptermgr.ManagerEvent) {
	byProtocol := make(map[string]int)
	for _, d := range ev.Discovered {
		byProtocol[string(d.Protocol)]++
	}

	b.hub.BroadcastToRoom(DiscoveryRoom, NewMessage(MessageTypeDiscoveryBroadcast, map[string]interface{}{
		"total":       len(ev.Discovered),
		"by_protocol": byProtocol,
	}))
}

func (b *EventBridge) forwardAdapterStatus(ev adaptermgr.ManagerEvent) {
	payload := map[string]interface{}{
		"protocol": string(ev.Protocol),
		"kind":     string(ev.Kind),
	}
	if ev.Reason != "" {
		payload["reason"] = ev.Reason
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}

	b.logger.WithFields(logrus.Fields{
		"protocol": ev.Protocol,
		"kind":     ev.Kind,
	}).Debug("Broadcasting adapter status change")

	b.hub.BroadcastToAll(NewMessage(MessageTypeAdapterStatus, payload))
}
