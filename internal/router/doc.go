// Package router decodes notification stream frames.
//
// A frame is one of: a vendor sentinel token (dropped), a batch of
// path-addressed notifications, a registration change (turned into a
// registry refresh), or a batch of async responses that are matched to
// their originating request through the correlator. Decoded values go to
// the store.Sink.
//
//	r := router.New(catalog, corr, registry, sink)
//	r.HandleFrame([]byte(`{"notifications":[{"ep":"dev1","path":"/3203/0/5511","payload":"MTIz"}]}`))
package router
