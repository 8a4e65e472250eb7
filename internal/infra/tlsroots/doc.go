// Package tlsroots loads the TLS material for wss relay connections.
//
//   - roots.go: trust pool for clients (system roots plus a custom CA file)
//   - keypair.go: the relay's serving certificate, reloaded via fsnotify
//     when the files are replaced
package tlsroots
