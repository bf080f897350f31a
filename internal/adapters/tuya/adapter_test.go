package tuya

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"access_token": "token-abc", "expire_time": 7200},
		})
	})
	mux.HandleFunc("/", handler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewAdapter(Config{
		Enabled:        true,
		BaseURL:        server.URL,
		AccessID:       "test-id",
		AccessSecret:   "test-secret",
		RequestTimeout: time.Second,
		PollInterval:   time.Hour, // keep the poll loop quiet during tests
		RetryAttempts:  3,
		RetryBackoff:   time.Millisecond,
		LocalDiscovery: false,
	}, testAPILogger())
}

func deviceListResponse(devs ...Device) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"list": devs},
		})
	}
}

func TestInitializeRequiresCredentials(t *testing.T) {
	a := NewAdapter(Config{Enabled: true}, testAPILogger())
	assert.Error(t, a.Initialize(context.Background()))

	disabled := NewAdapter(Config{Enabled: false}, testAPILogger())
	assert.NoError(t, disabled.Initialize(context.Background()))
}

func TestConnectIsIdempotent(t *testing.T) {
	var listCalls int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listCalls, 1)
		deviceListResponse(Device{ID: "plug-1", Name: "Desk plug", Category: "cz", Online: true})(w, r)
	})

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { a.Disconnect(context.Background()) })

	assert.True(t, a.IsConnected())
	assert.Equal(t, int32(1), atomic.LoadInt32(&listCalls))

	select {
	case ev := <-a.Events():
		assert.Equal(t, devices.EventConnected, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a connected event")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	a := newTestAdapter(t, deviceListResponse())
	require.NoError(t, a.Connect(context.Background()))

	require.NoError(t, a.Disconnect(context.Background()))
	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsConnected())
}

func TestSendCommandUnknownCommandIsTypedFailure(t *testing.T) {
	a := newTestAdapter(t, deviceListResponse())

	result, err := a.SendCommand(context.Background(), "plug-1", devices.DeviceCommand{
		DeviceID: "plug-1",
		Command:  "self_destruct",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown command")
}

func TestSendCommandRetriesOnTransientFailure(t *testing.T) {
	var attempts int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	})

	result, err := a.SendCommand(context.Background(), "plug-1", devices.DeviceCommand{
		DeviceID: "plug-1",
		Command:  "turn_on",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, map[string]interface{}{"switch_1": true}, result.Data)
}

func TestSendCommandExhaustedRetriesIsTypedFailure(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	result, err := a.SendCommand(context.Background(), "plug-1", devices.DeviceCommand{
		DeviceID: "plug-1",
		Command:  "turn_on",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 2, result.RetryCount)
}

func TestDiscoverDevicesAppliesFilters(t *testing.T) {
	a := newTestAdapter(t, deviceListResponse(
		Device{ID: "plug-1", Name: "Desk plug", Category: "cz", Online: true},
		Device{ID: "meter-1", Name: "Main meter", Category: "zndb", Online: true},
	))

	all, err := a.DiscoverDevices(context.Background(), devices.DiscoveryFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	plugs, err := a.DiscoverDevices(context.Background(), devices.DiscoveryFilters{DeviceType: devices.DeviceTypePlug})
	require.NoError(t, err)
	require.Len(t, plugs, 1)
	assert.Equal(t, "plug-1", plugs[0].DeviceID)
	assert.Contains(t, plugs[0].Capabilities, devices.CapabilitySwitch)
}

func TestSubscriptionLifecycle(t *testing.T) {
	a := newTestAdapter(t, deviceListResponse())

	sub, err := a.SubscribeToUpdates("plug-1", []string{"state"})
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, "plug-1", sub.DeviceID)

	require.NoError(t, a.UnsubscribeFromUpdates(sub.ID))
	// Unsubscribing an unknown ID is tolerated
	assert.NoError(t, a.UnsubscribeFromUpdates("no-such-subscription"))
}

func TestSupportsDeviceTypesAndCapabilities(t *testing.T) {
	a := newTestAdapter(t, deviceListResponse())

	assert.True(t, a.SupportsDeviceType(devices.DeviceTypePlug))
	assert.True(t, a.SupportsDeviceType(devices.DeviceTypeThermostat))
	assert.False(t, a.SupportsDeviceType("camera"))

	assert.True(t, a.SupportsCapability(devices.CapabilityEnergy))
	assert.False(t, a.SupportsCapability("video"))
}
