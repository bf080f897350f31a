package mqttgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"devices/plug-1/state", "plug-1", true},
		{"devices/meter-2/state", "meter-2", true},
		{"devices//state", "", false},
		{"devices/plug-1/set", "", false},
		{"devices/plug-1", "", false},
		{"other/plug-1/state/extra", "", false},
	}

	for _, tt := range tests {
		id, ok := deviceIDFromTopic(tt.topic)
		assert.Equal(t, tt.wantOK, ok, tt.topic)
		assert.Equal(t, tt.wantID, id, tt.topic)
	}
}

func TestParseStatePayload(t *testing.T) {
	update, err := parseStatePayload("plug-1", []byte(`{"switch":true,"power":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, "plug-1", update.DeviceID)
	assert.Equal(t, devices.StatusOnline, update.Status)
	assert.Equal(t, devices.SourcePush, update.Source)
	assert.Equal(t, true, update.State["switch"])
}

func TestParseStatePayloadOfflineFlag(t *testing.T) {
	update, err := parseStatePayload("plug-1", []byte(`{"online":false,"switch":false}`))
	require.NoError(t, err)
	assert.Equal(t, devices.StatusOffline, update.Status)
	// The reachability flag is folded into Status, not kept as state
	assert.NotContains(t, update.State, "online")
}

func TestParseStatePayloadRejectsMalformedJSON(t *testing.T) {
	_, err := parseStatePayload("plug-1", []byte(`not-json`))
	assert.Error(t, err)
}
