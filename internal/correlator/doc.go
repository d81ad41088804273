// Package correlator tracks requests whose results arrive later, out of
// band, on the notification stream.
//
// Subscriptions and device requests are answered with an async response id.
// The matching value is delivered on the stream as
// {"async-responses":[{"id":...,"payload":...}]}, carrying no resource URI,
// so the bridge must remember which device and resource each id belongs to.
//
//	c := correlator.New(correlator.WithHorizon(10 * time.Minute))
//	c.Register(id, deviceID, "/3203/0/5511", "", correlator.KindInitialRead)
//	...
//	if req, ok := c.Resolve(id); ok {
//	    // forward value for req.DeviceID / req.URI
//	}
package correlator
