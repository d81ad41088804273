// Package pelion binds the reconciliation engine to its surroundings.
//
// It loads the endpoint mapping (lanes, resource URIs, per-device
// overrides), accepts downstream commands on
// sensorbridge/command/{device_id}/{lane}, optionally polls every enabled
// endpoint, announces newly registered devices to the store and publishes
// retained bridge health on sensorbridge/health/{bridge_id}.
//
// Command payload:
//
//	{"method": "POST", "value": "1"}
//
// The command is sent as a device request under a fresh async id; the
// device's answer arrives on the notification stream like any other value.
package pelion
