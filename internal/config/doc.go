// Package config defines the sharemesh node and relay configuration.
//
// Configuration is loaded by internal/infra/confloader from a YAML file and
// SHAREMESH_* environment variables, then checked with Verify. Use Sanitize
// before printing or logging a configuration.
//
// Example file:
//
//	node:
//	  key: prefs
//	  debug: true
//	bus:
//	  driver: ws
//	  relay_url: ws://127.0.0.1:7420/ws
//	storage:
//	  driver: badger
//	  path: /var/lib/sharemesh/data
//	relay:
//	  addr: 127.0.0.1:7420
//	log:
//	  level: info
//	  format: text
package config
