// Package msglog implements the durable per-topic message log.
//
// Each topic is an append-only sequence of records over Pebble. Sequence ids
// are per-topic, strictly increasing and never reused; they continue from the
// highest id ever issued even after retention trims older entries. Every
// append commits the record and the topic metadata (last sequence, live
// count, payload byte total) in one atomic batch, so the log's accounting is
// crash-consistent with its contents.
//
// Records are CRC-framed with an embedded write timestamp, which age-based
// retention uses to find its cutoff. Reads return messages strictly after a
// caller-supplied sequence; Store.ReadMatching extends this across all topics
// matching a wildcard pattern, ordered by (topic, sequence).
package msglog
