package websocket

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/internal/core/metrics"
	"github.com/luminode/devicehub-go/pkg/errors"
)

// DeviceService is the slice of the device integration service the
// gateway consumes on behalf of authenticated connections.
type DeviceService interface {
	ResolveOwnership(ctx context.Context, deviceID string, principal *devices.Principal) (*devices.DeviceIdentity, error)
	GetDeviceStatus(ctx context.Context, principal *devices.Principal, deviceID string, forceRefresh bool) (*devices.DeviceStatusUpdate, error)
	SendCommand(ctx context.Context, principal *devices.Principal, deviceID, command string, params map[string]interface{}) (*devices.CommandResult, error)
	TestDeviceConnection(ctx context.Context, principal *devices.Principal, deviceID string) (bool, error)
	DiscoverDevices(ctx context.Context, principal *devices.Principal, protocol devices.ProtocolType, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error)
	GetDeviceDiagnostics(ctx context.Context, principal *devices.Principal, deviceID string) (map[string]interface{}, error)
}

// Gateway executes realtime device operations for websocket clients:
// stream subscriptions, two-phase command execution, bulk batches with
// progress reporting and discovery with a timeout race.
type Gateway struct {
	hub       *Hub
	service   DeviceService
	logger    *logrus.Logger
	collector *metrics.Collector

	discoveryTimeout time.Duration

	// In-flight bulk batches per connection, cancelled on disconnect
	bulkMu      sync.Mutex
	bulkCancels map[string]map[string]context.CancelFunc
}

// NewGateway creates the realtime gateway and hooks disconnect cleanup
func NewGateway(hub *Hub, service DeviceService, discoveryTimeout time.Duration, logger *logrus.Logger, collector *metrics.Collector) *Gateway {
	if discoveryTimeout == 0 {
		discoveryTimeout = 30 * time.Second
	}
	g := &Gateway{
		hub:              hub,
		service:          service,
		logger:           logger,
		collector:        collector,
		discoveryTimeout: discoveryTimeout,
		bulkCancels:      make(map[string]map[string]context.CancelFunc),
	}
	hub.SetDisconnectHook(g.cleanupConnection)
	return g
}

// HandleMessage dispatches one inbound client message
func (g *Gateway) HandleMessage(c *Client, msg Message) {
	if g.collector != nil {
		g.collector.RecordWebSocketMessage("in", msg.Type)
	}

	switch msg.Type {
	case MessageTypeSubscribeDevice:
		g.handleSubscribeDevice(c, msg)
	case MessageTypeUnsubscribeDevice:
		g.handleUnsubscribeDevice(c, msg)
	case MessageTypeSubscribeDiscovery:
		c.JoinRoom(DiscoveryRoom)
		c.Send(NewMessage(MessageTypeDiscoverySubscribed, map[string]interface{}{"success": true}))
	case MessageTypeUnsubscribeDiscovery:
		c.LeaveRoom(DiscoveryRoom)
		c.Send(NewMessage(MessageTypeDiscoveryUnsubscribed, map[string]interface{}{"success": true}))
	case MessageTypeStreamSubscribe:
		g.handleStreamSubscribe(c, msg)
	case MessageTypeStreamUnsubscribe:
		g.handleStreamUnsubscribe(c, msg)
	case MessageTypeCommandExecute:
		g.handleCommandExecute(c, msg)
	case MessageTypeBulkCommand:
		g.handleBulkCommand(c, msg)
	case MessageTypeStatusGet:
		g.handleStatusGet(c, msg)
	case MessageTypeDiscover:
		g.handleDiscover(c, msg)
	case MessageTypeTestConnection:
		g.handleTestConnection(c, msg)
	case MessageTypeDiagnosticsGet:
		g.handleDiagnosticsGet(c, msg)
	default:
		g.logger.WithFields(logrus.Fields{
			"connection_id": c.ID,
			"message_type":  msg.Type,
		}).Warn("Unknown WebSocket message type")
	}
}

// handleSubscribeDevice joins the lightweight per-device room
func (g *Gateway) handleSubscribeDevice(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	if deviceID == "" {
		c.Send(ErrorMessage(MessageTypeDeviceSubscribed, errors.Invalid("device_id is required"), nil))
		return
	}
	c.JoinRoom(DeviceRoom(deviceID))
	c.Send(NewMessage(MessageTypeDeviceSubscribed, map[string]interface{}{
		"success":   true,
		"device_id": deviceID,
	}))
}

// handleUnsubscribeDevice leaves the lightweight room; always acknowledges
func (g *Gateway) handleUnsubscribeDevice(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	c.LeaveRoom(DeviceRoom(deviceID))
	c.Send(NewMessage(MessageTypeDeviceUnsubscribed, map[string]interface{}{
		"success":   true,
		"device_id": deviceID,
	}))
}

// handleStreamSubscribe verifies ownership, registers the stream and
// pushes a best-effort status snapshot. A snapshot failure is logged but
// never fails the subscription.
func (g *Gateway) handleStreamSubscribe(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	if deviceID == "" {
		c.Send(ErrorMessage(MessageTypeAccessDenied, errors.Invalid("device_id is required"), nil))
		return
	}
	streamTypes := msg.GetStringSlice("stream_types")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := g.service.ResolveOwnership(ctx, deviceID, &c.Principal); err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"connection_id": c.ID,
			"device_id":     deviceID,
			"user_id":       c.Principal.UserID,
		}).Warn("Stream subscription denied")
		c.Send(ErrorMessage(MessageTypeAccessDenied, err, map[string]interface{}{"device_id": deviceID}))
		return
	}

	g.hub.Streams().Subscribe(deviceID, c.ID)
	c.JoinRoom(StreamRoom(deviceID))
	if g.collector != nil {
		g.collector.SetStreamSubscriptions(g.hub.Streams().Size())
	}

	c.Send(NewMessage(MessageTypeStreamSubscribed, map[string]interface{}{
		"success":      true,
		"device_id":    deviceID,
		"stream_types": streamTypes,
	}))

	// Best-effort snapshot so the subscriber starts from known state
	if snapshot, err := g.service.GetDeviceStatus(ctx, &c.Principal, deviceID, false); err != nil {
		g.logger.WithError(err).WithField("device_id", deviceID).Debug("Status snapshot unavailable for new stream subscriber")
	} else {
		c.Send(NewMessage(MessageTypeStreamUpdate, map[string]interface{}{
			"type":      StreamUpdateSnapshot,
			"device_id": deviceID,
			"status":    snapshot.Status,
			"state":     snapshot.State,
			"source":    snapshot.Source,
		}))
	}
}

// handleStreamUnsubscribe removes the stream registration. Idempotent:
// unsubscribing twice acknowledges twice without error.
func (g *Gateway) handleStreamUnsubscribe(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	g.hub.Streams().Unsubscribe(deviceID, c.ID)
	c.LeaveRoom(StreamRoom(deviceID))
	if g.collector != nil {
		g.collector.SetStreamSubscriptions(g.hub.Streams().Size())
	}
	c.Send(NewMessage(MessageTypeStreamUnsubscribed, map[string]interface{}{
		"success":   true,
		"device_id": deviceID,
	}))
}

// handleCommandExecute runs a two-phase exchange: an immediate ack, then
// the result once the vendor round-trip completes. A successful command
// with new state is also broadcast to the device's stream room so every
// observer converges without polling.
func (g *Gateway) handleCommandExecute(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	command := msg.GetString("command")
	params := msg.GetMap("parameters")

	if deviceID == "" || command == "" {
		c.Send(ErrorMessage(MessageTypeCommandResult, errors.Invalid("device_id and command are required"), nil))
		return
	}

	requestID := uuid.New().String()
	c.Send(NewMessage(MessageTypeCommandAcknowledged, map[string]interface{}{
		"request_id": requestID,
		"device_id":  deviceID,
		"command":    command,
	}))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		result, err := g.service.SendCommand(ctx, &c.Principal, deviceID, command, params)
		if err != nil {
			c.Send(ErrorMessage(MessageTypeCommandResult, err, map[string]interface{}{
				"request_id": requestID,
				"device_id":  deviceID,
				"command":    command,
			}))
			return
		}

		c.Send(NewMessage(MessageTypeCommandResult, map[string]interface{}{
			"request_id":       requestID,
			"device_id":        deviceID,
			"command":          command,
			"success":          result.Success,
			"error":            result.Error,
			"response_time_ms": result.ResponseTimeMs,
			"retry_count":      result.RetryCount,
		}))

		if result.Success && len(result.Data) > 0 {
			g.hub.BroadcastToRoom(StreamRoom(deviceID), NewMessage(MessageTypeStreamUpdate, map[string]interface{}{
				"type":      StreamUpdateCommandExecuted,
				"device_id": deviceID,
				"command":   command,
				"state":     result.Data,
			}))
		}
	}()
}

// handleBulkCommand runs one command against many devices concurrently
// with a settle-all policy: every device's outcome is captured
// independently, one progress event is emitted per completion in
// completion order, and a final summary aggregates the counts.
func (g *Gateway) handleBulkCommand(c *Client, msg Message) {
	deviceIDs := msg.GetStringSlice("device_ids")
	command := msg.GetString("command")
	params := msg.GetMap("parameters")

	if len(deviceIDs) == 0 || command == "" {
		c.Send(ErrorMessage(MessageTypeBulkError, errors.Invalid("device_ids and command are required"), nil))
		return
	}

	batchID := uuid.New().String()
	total := len(deviceIDs)

	ctx, cancel := context.WithCancel(context.Background())
	g.trackBulk(c.ID, batchID, cancel)

	c.Send(NewMessage(MessageTypeBulkStarted, map[string]interface{}{
		"batch_id": batchID,
		"command":  command,
		"total":    total,
	}))

	go func() {
		defer g.untrackBulk(c.ID, batchID)
		defer cancel()

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			completed  int
			successful int
			failed     int
		)

		for _, deviceID := range deviceIDs {
			wg.Add(1)
			go func(deviceID string) {
				defer wg.Done()

				result, err := g.service.SendCommand(ctx, &c.Principal, deviceID, command, params)
				success := err == nil && result != nil && result.Success
				errText := ""
				if err != nil {
					errText = err.Error()
				} else if result != nil {
					errText = result.Error
				}

				// Progress is reported in completion order; the send
				// stays under the mutex so counters and emission cannot
				// interleave across completions. Send never blocks.
				mu.Lock()
				completed++
				if success {
					successful++
				} else {
					failed++
				}
				progress := map[string]interface{}{
					"batch_id":   batchID,
					"device_id":  deviceID,
					"success":    success,
					"completed":  completed,
					"total":      total,
					"percentage": int(math.Round(float64(completed) / float64(total) * 100)),
				}
				if errText != "" {
					progress["error"] = errText
				}
				c.Send(NewMessage(MessageTypeBulkProgress, progress))
				mu.Unlock()
			}(deviceID)
		}
		wg.Wait()

		c.Send(NewMessage(MessageTypeBulkCompleted, map[string]interface{}{
			"batch_id":     batchID,
			"total":        total,
			"successful":   successful,
			"failed":       failed,
			"success_rate": int(math.Round(float64(successful) / float64(total) * 100)),
		}))
	}()
}

// handleStatusGet answers a one-shot status read
func (g *Gateway) handleStatusGet(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	forceRefresh := msg.GetBool("force_refresh")

	if deviceID == "" {
		c.Send(ErrorMessage(MessageTypeStatusError, errors.Invalid("device_id is required"), nil))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		update, err := g.service.GetDeviceStatus(ctx, &c.Principal, deviceID, forceRefresh)
		if err != nil {
			c.Send(ErrorMessage(MessageTypeStatusError, err, map[string]interface{}{"device_id": deviceID}))
			return
		}
		c.Send(NewMessage(MessageTypeStatusResponse, map[string]interface{}{
			"success":   true,
			"device_id": deviceID,
			"status":    update.Status,
			"state":     update.State,
			"source":    update.Source,
		}))
	}()
}

// handleDiscover races discovery against a timeout. The timeout is
// advisory: a late completion is drained and discarded, never broadcast
// to a client that already received the timeout error.
func (g *Gateway) handleDiscover(c *Client, msg Message) {
	protocol := devices.ProtocolType(msg.GetString("protocol"))
	filters := devices.DiscoveryFilters{
		DeviceType: msg.GetString("device_type"),
		Capability: msg.GetString("capability"),
	}

	timeout := g.discoveryTimeout
	if raw, ok := msg.Data["timeout"].(float64); ok && raw > 0 {
		timeout = time.Duration(raw) * time.Second
	}

	c.Send(NewMessage(MessageTypeDiscoveryStarted, map[string]interface{}{
		"protocol": string(protocol),
	}))

	go func() {
		type outcome struct {
			found []devices.DeviceDiscovery
			err   error
		}
		// Buffered so a late completion never blocks or leaks
		done := make(chan outcome, 1)

		go func() {
			found, err := g.service.DiscoverDevices(context.Background(), &c.Principal, protocol, filters)
			done <- outcome{found: found, err: err}
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case out := <-done:
			if out.err != nil {
				c.Send(ErrorMessage(MessageTypeDiscoveryError, out.err, nil))
				return
			}

			byProtocol := make(map[string]int)
			for _, d := range out.found {
				byProtocol[string(d.Protocol)]++
			}

			c.Send(NewMessage(MessageTypeDiscoveryCompleted, map[string]interface{}{
				"success":     true,
				"total":       len(out.found),
				"by_protocol": byProtocol,
				"devices":     out.found,
			}))

			g.hub.BroadcastToRoom(DiscoveryRoom, NewMessage(MessageTypeDiscoveryBroadcast, map[string]interface{}{
				"total":       len(out.found),
				"by_protocol": byProtocol,
			}))

		case <-timer.C:
			c.Send(ErrorMessage(MessageTypeDiscoveryError,
				errors.Timeout("discovery did not complete within %s", timeout), nil))
		}
	}()
}

// handleTestConnection probes reachability of one device
func (g *Gateway) handleTestConnection(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	if deviceID == "" {
		c.Send(ErrorMessage(MessageTypeTestError, errors.Invalid("device_id is required"), nil))
		return
	}

	c.Send(NewMessage(MessageTypeTestStarted, map[string]interface{}{"device_id": deviceID}))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		reachable, err := g.service.TestDeviceConnection(ctx, &c.Principal, deviceID)
		if err != nil {
			c.Send(ErrorMessage(MessageTypeTestError, err, map[string]interface{}{"device_id": deviceID}))
			return
		}
		c.Send(NewMessage(MessageTypeTestCompleted, map[string]interface{}{
			"success":   true,
			"device_id": deviceID,
			"reachable": reachable,
		}))
	}()
}

// handleDiagnosticsGet returns the adapter diagnostics for one device
func (g *Gateway) handleDiagnosticsGet(c *Client, msg Message) {
	deviceID := msg.GetString("device_id")
	if deviceID == "" {
		c.Send(ErrorMessage(MessageTypeDiagnosticsError, errors.Invalid("device_id is required"), nil))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		diag, err := g.service.GetDeviceDiagnostics(ctx, &c.Principal, deviceID)
		if err != nil {
			c.Send(ErrorMessage(MessageTypeDiagnosticsError, err, map[string]interface{}{"device_id": deviceID}))
			return
		}
		c.Send(NewMessage(MessageTypeDiagnosticsResponse, map[string]interface{}{
			"success":     true,
			"device_id":   deviceID,
			"diagnostics": diag,
		}))
	}()
}

// trackBulk records an in-flight batch for a connection
func (g *Gateway) trackBulk(connectionID, batchID string, cancel context.CancelFunc) {
	g.bulkMu.Lock()
	defer g.bulkMu.Unlock()

	batches, ok := g.bulkCancels[connectionID]
	if !ok {
		batches = make(map[string]context.CancelFunc)
		g.bulkCancels[connectionID] = batches
	}
	batches[batchID] = cancel
}

// untrackBulk drops a finished batch
func (g *Gateway) untrackBulk(connectionID, batchID string) {
	g.bulkMu.Lock()
	defer g.bulkMu.Unlock()

	if batches, ok := g.bulkCancels[connectionID]; ok {
		delete(batches, batchID)
		if len(batches) == 0 {
			delete(g.bulkCancels, connectionID)
		}
	}
}

// cleanupConnection cancels any in-flight bulk batches for a closing
// connection. Runs synchronously inside the hub's disconnect handler.
func (g *Gateway) cleanupConnection(connectionID string) {
	g.bulkMu.Lock()
	batches := g.bulkCancels[connectionID]
	delete(g.bulkCancels, connectionID)
	g.bulkMu.Unlock()

	for _, cancel := range batches {
		cancel()
	}
}
