package adaptermgr

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/pkg/errors"
)

// stubAdapter is a configurable in-memory ProtocolAdapter
type stubAdapter struct {
	protocol    devices.ProtocolType
	failInit    bool
	failConnect bool

	sendFn     func(ctx context.Context, deviceID string, cmd devices.DeviceCommand) (*devices.CommandResult, error)
	discoverFn func(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error)
	statusFn   func(ctx context.Context, deviceID string) (*devices.DeviceStatusUpdate, error)
	diagFn     func(ctx context.Context) (map[string]interface{}, error)

	events chan devices.AdapterEvent

	mu              sync.Mutex
	connected       bool
	disconnectCalls int
}

func newStubAdapter(protocol devices.ProtocolType) *stubAdapter {
	return &stubAdapter{
		protocol: protocol,
		events:   make(chan devices.AdapterEvent, 16),
	}
}

func (s *stubAdapter) Protocol() devices.ProtocolType { return s.protocol }
func (s *stubAdapter) Name() string                   { return "stub-" + string(s.protocol) }
func (s *stubAdapter) Version() string                { return "0.0.1" }

func (s *stubAdapter) Initialize(ctx context.Context) error {
	if s.failInit {
		return fmt.Errorf("init refused")
	}
	return nil
}

func (s *stubAdapter) Connect(ctx context.Context) error {
	if s.failConnect {
		return fmt.Errorf("connect refused")
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.disconnectCalls++
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubAdapter) GetConnectionStatus() devices.ConnectionStatus {
	return devices.ConnectionStatus{Connected: s.IsConnected()}
}

func (s *stubAdapter) DiscoverDevices(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
	if s.discoverFn != nil {
		return s.discoverFn(ctx, filters)
	}
	return nil, nil
}

func (s *stubAdapter) SendCommand(ctx context.Context, deviceID string, cmd devices.DeviceCommand) (*devices.CommandResult, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, deviceID, cmd)
	}
	return &devices.CommandResult{Success: true}, nil
}

func (s *stubAdapter) GetDeviceStatus(ctx context.Context, deviceID string) (*devices.DeviceStatusUpdate, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, deviceID)
	}
	return &devices.DeviceStatusUpdate{DeviceID: deviceID, Status: devices.StatusOnline}, nil
}

func (s *stubAdapter) TestDeviceConnection(ctx context.Context, deviceID string) (bool, error) {
	return s.connected, nil
}

func (s *stubAdapter) SubscribeToUpdates(deviceID string, eventTypes []string) (*devices.Subscription, error) {
	return &devices.Subscription{ID: "sub-1", DeviceID: deviceID, Active: true}, nil
}

func (s *stubAdapter) UnsubscribeFromUpdates(subscriptionID string) error { return nil }

func (s *stubAdapter) GetDiagnostics(ctx context.Context) (map[string]interface{}, error) {
	if s.diagFn != nil {
		return s.diagFn(ctx)
	}
	return map[string]interface{}{"queue_depth": 0}, nil
}

func (s *stubAdapter) SupportsDeviceType(deviceType string) bool { return true }
func (s *stubAdapter) SupportsCapability(capability string) bool { return true }

func (s *stubAdapter) Events() <-chan devices.AdapterEvent { return s.events }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestManager(t *testing.T, adapters ...*stubAdapter) *Manager {
	t.Helper()
	m := NewManager(testLogger(), nil)
	for _, a := range adapters {
		require.NoError(t, m.Register(a))
	}
	return m
}

func TestRegisterReplacesExistingAdapter(t *testing.T) {
	first := newStubAdapter(devices.ProtocolTuya)
	second := newStubAdapter(devices.ProtocolTuya)

	m := newTestManager(t, first, second)

	state, err := m.GetState(devices.ProtocolTuya)
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, state)
}

func TestRegisterNilAdapter(t *testing.T) {
	m := NewManager(testLogger(), nil)
	err := m.Register(nil)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestInitializePartialFailureKeepsHealthyAdapters(t *testing.T) {
	healthy := newStubAdapter(devices.ProtocolTuya)
	broken := newStubAdapter(devices.ProtocolMQTT)
	broken.failConnect = true

	m := newTestManager(t, healthy, broken)

	err := m.Initialize(context.Background(), 0)
	require.NoError(t, err)

	tuyaState, err := m.GetState(devices.ProtocolTuya)
	require.NoError(t, err)
	assert.Equal(t, StateReady, tuyaState)

	mqttState, err := m.GetState(devices.ProtocolMQTT)
	require.NoError(t, err)
	assert.Equal(t, StateError, mqttState)
}

func TestInitializeFailsWhenNoAdapterComesUp(t *testing.T) {
	broken := newStubAdapter(devices.ProtocolTuya)
	broken.failInit = true

	m := newTestManager(t, broken)

	err := m.Initialize(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInternalServer)
}

func TestInitializeTwiceIsRejected(t *testing.T) {
	m := newTestManager(t, newStubAdapter(devices.ProtocolTuya))

	require.NoError(t, m.Initialize(context.Background(), 0))
	err := m.Initialize(context.Background(), 0)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestSendDeviceCommandUnknownProtocol(t *testing.T) {
	m := newTestManager(t)

	_, err := m.SendDeviceCommand(context.Background(), "zigbee", "dev-1", "turn_on", nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSendDeviceCommandDisconnectedAdapter(t *testing.T) {
	adapter := newStubAdapter(devices.ProtocolTuya)
	m := newTestManager(t, adapter)

	// Registered but never initialized: routing must gate before the
	// adapter's network path is touched.
	called := false
	adapter.sendFn = func(ctx context.Context, deviceID string, cmd devices.DeviceCommand) (*devices.CommandResult, error) {
		called = true
		return nil, nil
	}

	_, err := m.SendDeviceCommand(context.Background(), devices.ProtocolTuya, "dev-1", "turn_on", nil)
	assert.ErrorIs(t, err, errors.ErrServiceUnavailable)
	assert.False(t, called)
}

func TestSendDeviceCommandValidation(t *testing.T) {
	adapter := newStubAdapter(devices.ProtocolTuya)
	m := newTestManager(t, adapter)
	require.NoError(t, m.Initialize(context.Background(), 0))

	_, err := m.SendDeviceCommand(context.Background(), devices.ProtocolTuya, "dev-1", "", nil)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = m.SendDeviceCommand(context.Background(), devices.ProtocolTuya, "", "turn_on", nil)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestSendDeviceCommandFillsResponseTime(t *testing.T) {
	adapter := newStubAdapter(devices.ProtocolTuya)
	adapter.sendFn = func(ctx context.Context, deviceID string, cmd devices.DeviceCommand) (*devices.CommandResult, error) {
		time.Sleep(5 * time.Millisecond)
		return &devices.CommandResult{Success: true}, nil
	}

	m := newTestManager(t, adapter)
	require.NoError(t, m.Initialize(context.Background(), 0))

	result, err := m.SendDeviceCommand(context.Background(), devices.ProtocolTuya, "dev-1", "turn_on", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.ResponseTimeMs, int64(5))
}

func TestDiscoverDevicesPartialFailure(t *testing.T) {
	good := newStubAdapter(devices.ProtocolTuya)
	good.discoverFn = func(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
		return []devices.DeviceDiscovery{
			{DeviceID: "plug-1", Protocol: devices.ProtocolTuya, Type: devices.DeviceTypePlug},
			{DeviceID: "plug-2", Protocol: devices.ProtocolTuya, Type: devices.DeviceTypePlug},
		}, nil
	}
	bad := newStubAdapter(devices.ProtocolMQTT)
	bad.discoverFn = func(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
		return nil, fmt.Errorf("broker scan failed")
	}

	m := newTestManager(t, good, bad)
	require.NoError(t, m.Initialize(context.Background(), 0))

	found, err := m.DiscoverDevices(context.Background(), "", devices.DiscoveryFilters{})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestDiscoverDevicesSpecificProtocolUnavailable(t *testing.T) {
	m := newTestManager(t, newStubAdapter(devices.ProtocolTuya))

	_, err := m.DiscoverDevices(context.Background(), devices.ProtocolTuya, devices.DiscoveryFilters{})
	assert.ErrorIs(t, err, errors.ErrServiceUnavailable)
}

func TestAdapterEventsAreRepublishedWithProtocolTag(t *testing.T) {
	adapter := newStubAdapter(devices.ProtocolTuya)
	m := newTestManager(t, adapter)
	require.NoError(t, m.Initialize(context.Background(), 0))

	adapter.events <- devices.AdapterEvent{
		Kind: devices.EventDeviceUpdate,
		Update: &devices.DeviceStatusUpdate{
			DeviceID: "plug-1",
			Status:   devices.StatusOnline,
			Source:   devices.SourcePush,
		},
	}

	select {
	case ev := <-m.Events():
		assert.Equal(t, devices.EventDeviceUpdate, ev.Kind)
		assert.Equal(t, devices.ProtocolTuya, ev.Protocol)
		require.NotNil(t, ev.Update)
		assert.Equal(t, "plug-1", ev.Update.DeviceID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected a republished manager event")
	}
}

func TestGetDiagnosticsIsolatesFailedAdapters(t *testing.T) {
	healthy := newStubAdapter(devices.ProtocolTuya)
	failing := newStubAdapter(devices.ProtocolMQTT)
	failing.diagFn = func(ctx context.Context) (map[string]interface{}, error) {
		return nil, fmt.Errorf("broker probe failed")
	}

	m := newTestManager(t, healthy, failing)
	require.NoError(t, m.Initialize(context.Background(), 0))

	diag := m.GetDiagnostics(context.Background())

	adapters, ok := diag["adapters"].(map[string]interface{})
	require.True(t, ok)

	good, ok := adapters["tuya"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, good["connected"])
	assert.Equal(t, string(StateReady), good["state"])

	// The failed adapter contributes an error block instead of aborting
	// the aggregate
	bad, ok := adapters["mqtt"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "broker probe failed", bad["error"])
	assert.Equal(t, false, bad["connected"])

	assert.Contains(t, diag, "host")
}

func TestGetDiagnosticsConcurrentWithShutdown(t *testing.T) {
	adapter := newStubAdapter(devices.ProtocolTuya)
	m := newTestManager(t, adapter)
	require.NoError(t, m.Initialize(context.Background(), 0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			m.GetDiagnostics(context.Background())
		}
	}()

	m.Shutdown(context.Background())
	<-done
}

func TestShutdownDisconnectsAdapters(t *testing.T) {
	adapter := newStubAdapter(devices.ProtocolTuya)
	m := newTestManager(t, adapter)
	require.NoError(t, m.Initialize(context.Background(), 0))

	m.Shutdown(context.Background())

	assert.Equal(t, 1, adapter.disconnectCalls)

	// Registry is cleared after shutdown
	_, err := m.GetState(devices.ProtocolTuya)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestShutdownDiscardsLateDiscoveryResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	adapter := newStubAdapter(devices.ProtocolTuya)
	adapter.discoverFn = func(ctx context.Context, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
		close(entered)
		<-release
		return []devices.DeviceDiscovery{
			{DeviceID: "late-1", Protocol: devices.ProtocolTuya, Type: devices.DeviceTypePlug},
		}, nil
	}

	m := newTestManager(t, adapter)
	require.NoError(t, m.Initialize(context.Background(), 0))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("late discovery panicked: %v", r)
			} else {
				done <- nil
			}
		}()
		m.DiscoverDevices(context.Background(), "", devices.DiscoveryFilters{})
	}()

	<-entered
	m.Shutdown(context.Background())
	close(release)

	require.NoError(t, <-done)

	// The stream stays open across shutdown and the late result is
	// discarded, never delivered
	select {
	case ev, ok := <-m.Events():
		require.True(t, ok)
		t.Fatalf("unexpected event after shutdown: %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
