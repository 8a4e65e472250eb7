// Package main provides the entry point for sharemesh.
//
// sharemesh joins a sync group from the command line: it can print or
// broadcast the group's value, follow its changes, and edit the persisted
// values that handles load on startup.
package main
