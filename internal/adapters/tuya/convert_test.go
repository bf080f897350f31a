package tuya

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

func TestTranslateCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     devices.DeviceCommand
		want    []Command
		wantErr bool
	}{
		{
			name: "turn_on",
			cmd:  devices.DeviceCommand{Command: "turn_on"},
			want: []Command{{Code: "switch_1", Value: true}},
		},
		{
			name: "turn_off",
			cmd:  devices.DeviceCommand{Command: "turn_off"},
			want: []Command{{Code: "switch_1", Value: false}},
		},
		{
			name: "set_temperature",
			cmd: devices.DeviceCommand{
				Command:    "set_temperature",
				Parameters: map[string]interface{}{"temperature": 21.5},
			},
			want: []Command{{Code: "temp_set", Value: 21.5}},
		},
		{
			name:    "set_temperature without parameter",
			cmd:     devices.DeviceCommand{Command: "set_temperature"},
			wantErr: true,
		},
		{
			name: "raw set",
			cmd: devices.DeviceCommand{
				Command:    "set",
				Parameters: map[string]interface{}{"led_mode": "off"},
			},
			want: []Command{{Code: "led_mode", Value: "off"}},
		},
		{
			name:    "empty set",
			cmd:     devices.DeviceCommand{Command: "set"},
			wantErr: true,
		},
		{
			name:    "unknown command",
			cmd:     devices.DeviceCommand{Command: "self_destruct"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := translateCommand(tt.cmd)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestPointsToState(t *testing.T) {
	state := pointsToState([]StatusPoint{
		{Code: "switch_1", Value: true},
		{Code: "cur_power", Value: 184},
	})
	assert.Equal(t, map[string]interface{}{"switch_1": true, "cur_power": 184}, state)

	assert.Nil(t, pointsToState(nil))
}

func TestCategoryToType(t *testing.T) {
	assert.Equal(t, devices.DeviceTypePlug, categoryToType("cz"))
	assert.Equal(t, devices.DeviceTypeMeter, categoryToType("zndb"))
	assert.Equal(t, devices.DeviceTypeThermostat, categoryToType("wk"))
	// Unknown categories pass through
	assert.Equal(t, "xxj", categoryToType("xxj"))
}

func TestTypeCapabilities(t *testing.T) {
	assert.Contains(t, typeCapabilities(devices.DeviceTypePlug), devices.CapabilitySwitch)
	assert.Contains(t, typeCapabilities(devices.DeviceTypeThermostat), devices.CapabilityTemperature)
	assert.Nil(t, typeCapabilities("camera"))
}
