package simulator

import (
	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/provider"
	phone_errors "clinic-phone/pkg/errors"
)

var (
	inputDevices = []provider.Device{
		{ID: "default", Label: "Default microphone", Kind: provider.DeviceInput},
		{ID: "headset-mic", Label: "USB headset microphone", Kind: provider.DeviceInput},
		{ID: "desk-mic", Label: "Desk microphone", Kind: provider.DeviceInput},
	}
	outputDevices = []provider.Device{
		{ID: "default", Label: "Default speakers", Kind: provider.DeviceOutput},
		{ID: "headset", Label: "USB headset", Kind: provider.DeviceOutput},
	}
	ringerDevices = []provider.Device{
		{ID: "default", Label: "Default speakers", Kind: provider.DeviceRinger},
		{ID: "front-desk-speaker", Label: "Front desk speaker", Kind: provider.DeviceRinger},
	}
)

// inboundPeers is the pool incoming calls are drawn from.
var inboundPeers = []struct {
	peer string
	name string
}{
	{"+15550142201", "Patient line"},
	{"+15550142277", ""},
	{"+15550199310", "Lab services"},
	{"+15550107788", ""},
	{"204", "Hygiene room 2"},
}

func deviceList(selected settings.DeviceSelection) provider.DeviceList {
	return provider.DeviceList{
		Inputs:   append([]provider.Device(nil), inputDevices...),
		Outputs:  append([]provider.Device(nil), outputDevices...),
		Ringers:  append([]provider.Device(nil), ringerDevices...),
		Selected: selected,
	}
}

func hasDevice(list []provider.Device, id string) bool {
	for _, d := range list {
		if d.ID == id {
			return true
		}
	}
	return false
}

// validateSelection checks every non-empty id against the fixed device list.
func validateSelection(sel settings.DeviceSelection) error {
	if sel.InputID != "" && !hasDevice(inputDevices, sel.InputID) {
		return phone_errors.NewDeviceError(sel.InputID, phone_errors.CodeDeviceNotFound)
	}
	if sel.OutputID != "" && !hasDevice(outputDevices, sel.OutputID) {
		return phone_errors.NewDeviceError(sel.OutputID, phone_errors.CodeDeviceNotFound)
	}
	if sel.RingerID != "" && !hasDevice(ringerDevices, sel.RingerID) {
		return phone_errors.NewDeviceError(sel.RingerID, phone_errors.CodeDeviceNotFound)
	}
	return nil
}
