// Package subscription manages vendor-side resource subscriptions.
//
// The device registry hands every changed device to Manager.SyncDevice.
// For a registered device each enabled endpoint is unsubscribed and then
// subscribed again; the subscription reply may carry an async-response-id,
// which is registered with the correlator and used for an immediate GET
// device request so the current value arrives on the stream. A device that
// is no longer registered has all of its subscriptions deleted.
//
// The manager also issues client-chosen async device requests: periodic
// reads (ReadEndpoint) and explicit commands (SendCommand).
package subscription
