// Package id provides process-local, time-ordered identifiers.
//
// IDs are 16 bytes: an 8-byte millisecond timestamp followed by an 8-byte
// per-millisecond sequence, both big-endian, so byte order equals creation
// order. The generator is safe for concurrent use.
package id
