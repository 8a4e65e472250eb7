// Package shared implements the shared value handle: a reactive value that
// joins a sync group by key and mirrors every change to the other handles of
// the group over a pub/sub bus.
//
// A handle exchanges three kinds of messages, all JSON envelopes scoped by
// the group key:
//
//	shared:update:<key>       {id, data}               broadcast of a local change
//	shared:get:<key>          {id}                     sync request from a new handle
//	shared:set:<key>:<id>     {id, data, initialData}  sync response to one requester
//
// On construction a handle subscribes to the three topics and publishes a
// sync request. Live peers answer on the requester's response topic; the
// first differing answer is applied and marks the handle as synced. From then
// on every local write is broadcast as an update and every update received
// from another handle is applied without being echoed back.
//
// When a storage.Store is configured, the value stored under the key takes
// precedence over the constructor data, and every broadcast or accepted sync
// response is persisted. Persistence failures are logged and counted but
// never returned to the caller.
//
// Event handling for one handle is serialized. Publishes, persistence, hooks
// and Watch callbacks run after the handle has released its lock, so they may
// call back into the handle.
package shared
