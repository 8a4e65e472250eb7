// Package relay provides the local WebSocket relay that lets window
// processes share one bus without an external broker.
//
// Clients connect to /ws and exchange JSON text frames:
//
//	{"op":"sub","seq":1,"topic":"shared:update:user"}
//	{"op":"pub","seq":2,"topic":"shared:update:user","payload":"<base64>"}
//	{"op":"unsub","seq":3,"topic":"shared:update:user"}
//
// Each sub, unsub and pub is answered with an ack (or error) frame carrying
// the same seq. Publications are delivered as msg frames to every connection
// subscribed to the topic, including the sender, before the sender's ack.
//
// The relay also serves /healthz and /metrics.
package relay
