package tuya

import (
	"fmt"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

// translateCommand maps a uniform DeviceCommand onto Tuya datapoint writes
func translateCommand(cmd devices.DeviceCommand) ([]Command, error) {
	switch cmd.Command {
	case "turn_on":
		return []Command{{Code: "switch_1", Value: true}}, nil
	case "turn_off":
		return []Command{{Code: "switch_1", Value: false}}, nil
	case "set_temperature":
		value, ok := cmd.Parameters["temperature"]
		if !ok {
			return nil, fmt.Errorf("set_temperature requires a 'temperature' parameter")
		}
		return []Command{{Code: "temp_set", Value: value}}, nil
	case "set":
		// Raw datapoint write: each parameter is a code/value pair
		if len(cmd.Parameters) == 0 {
			return nil, fmt.Errorf("set requires at least one parameter")
		}
		commands := make([]Command, 0, len(cmd.Parameters))
		for code, value := range cmd.Parameters {
			commands = append(commands, Command{Code: code, Value: value})
		}
		return commands, nil
	default:
		return nil, fmt.Errorf("unknown command '%s'", cmd.Command)
	}
}

// pointsToState flattens status datapoints into a state map
func pointsToState(points []StatusPoint) map[string]interface{} {
	if len(points) == 0 {
		return nil
	}
	state := make(map[string]interface{}, len(points))
	for _, p := range points {
		state[p.Code] = p.Value
	}
	return state
}

// categoryToType maps Tuya product categories onto hub device types
func categoryToType(category string) string {
	switch category {
	case "cz", "pc":
		return devices.DeviceTypePlug
	case "zndb", "dlq":
		return devices.DeviceTypeMeter
	case "wk", "wkf":
		return devices.DeviceTypeThermostat
	default:
		return category
	}
}

// typeCapabilities returns the capability set for a device type
func typeCapabilities(deviceType string) []string {
	switch deviceType {
	case devices.DeviceTypePlug:
		return []string{devices.CapabilitySwitch, devices.CapabilityEnergy}
	case devices.DeviceTypeMeter:
		return []string{devices.CapabilityEnergy}
	case devices.DeviceTypeThermostat:
		return []string{devices.CapabilityTemperature, devices.CapabilitySwitch}
	default:
		return nil
	}
}
