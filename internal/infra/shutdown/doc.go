// Package shutdown coordinates graceful process shutdown.
//
// Hooks registered with OnShutdown run in reverse registration order once
// SIGINT or SIGTERM arrives, the context passed to Wait is canceled, or
// Trigger is called:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown("relay", srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown
