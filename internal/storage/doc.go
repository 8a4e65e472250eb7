// Package storage provides the persistence capability for shared values.
//
// A Store maps a group key to the encoded value last written by any window
// that shares it. Backends:
//
//   - memory: sharded in-process map (pkg/cmap), lost on exit
//   - badger: embedded LSM store with background value-log GC
//   - bolt: single-file B+tree (bbolt)
//   - sqlite: single-file SQL database in WAL mode
//   - redis: shared Redis server, keys under a configurable prefix
//
// Any backend can be wrapped by EncryptedStore for authenticated encryption
// at rest. Absence is reported as ErrKeyNotFound, never as a nil value.
package storage
