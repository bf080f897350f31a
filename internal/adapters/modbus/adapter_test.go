package modbus

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/pkg/errors"
)

func testAdapter() *Adapter {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewAdapter(log)
}

func TestStubConnectLifecycle(t *testing.T) {
	a := testAdapter()

	require.NoError(t, a.Connect(context.Background()))
	assert.True(t, a.IsConnected())

	// Idempotent on both sides
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Disconnect(context.Background()))
	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsConnected())
}

func TestStubSendCommandIsDeterministicallyUnsupported(t *testing.T) {
	a := testAdapter()
	require.NoError(t, a.Connect(context.Background()))

	result, err := a.SendCommand(context.Background(), "reg-1", devices.DeviceCommand{
		DeviceID: "reg-1",
		Command:  "turn_on",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported operation")
}

func TestStubUnsupportedOperations(t *testing.T) {
	a := testAdapter()

	_, err := a.GetDeviceStatus(context.Background(), "reg-1")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = a.TestDeviceConnection(context.Background(), "reg-1")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = a.SubscribeToUpdates("reg-1", nil)
	assert.ErrorIs(t, err, errors.ErrValidation)

	found, err := a.DiscoverDevices(context.Background(), devices.DiscoveryFilters{})
	assert.NoError(t, err)
	assert.Empty(t, found)
}

func TestStubCapabilities(t *testing.T) {
	a := testAdapter()
	assert.False(t, a.SupportsDeviceType(devices.DeviceTypePlug))
	assert.False(t, a.SupportsCapability(devices.CapabilitySwitch))
}
