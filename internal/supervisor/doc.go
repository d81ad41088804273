// Package supervisor keeps the vendor notification channel alive.
//
// States:
//
//	Disconnected -> Connecting -> Authenticated -> Streaming
//	                    ^                              |
//	                    +------- Reconnecting <--------+
//
// Every transition into Connecting first deletes the callback, pull and
// websocket channels so no orphaned vendor-side channel survives, then
// registers the websocket channel and opens the stream. The first frame
// (or SettleDelay of silence) moves the channel to Streaming, which asks
// the registry for a full refresh so subscriptions are re-created.
//
// The Subscription Manager reads Streaming() to gate new subscriptions.
package supervisor
