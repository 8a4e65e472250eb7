// Package main provides the entry point for sharemesh-relay.
//
// sharemesh-relay is the local WebSocket relay that lets window processes
// share one bus without Redis. Clients connect with the ws bus driver.
package main
