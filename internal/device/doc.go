// Package device provides the Device Registry for the sensor bridge.
//
// The registry mirrors the vendor's device list. Each refresh pages through
// GET /v3/devices, diffs the result against what the bridge already knows,
// and hands every changed device to a Syncer (the subscription manager)
// so vendor-side subscriptions match the device's state.
//
// # Key Types
//
//   - Device: a remote device, its registration state and resource endpoints
//   - Catalog: which resource URIs each device exposes, and which lane a
//     URI publishes under
//   - Registry: the in-memory device set with refresh and sync fan-out
//   - Repository: persistence of the registry snapshot (SQLite)
//
// # Refresh Semantics
//
// A refresh applies nothing unless the complete list was fetched. Devices
// missing from a complete list are flagged Stale and keep their last
// state. A full refresh re-syncs every registered device; a diff refresh
// syncs only devices that changed.
//
// RequestRefresh is non-blocking and coalescing, so it can be called from
// the notification path:
//
//	reg := device.NewRegistry(client, catalog, device.Options{Repo: repo})
//	reg.SetSyncer(subs)
//	go reg.Run(ctx)
//	reg.RequestRefresh(true)
package device
