// Package pubsub is the delivery engine: it fans published messages out to
// matching subscriptions and coordinates batched operations.
//
// Two tiers share the topic matcher. Durable subscriptions live in the
// subscription registry, carry an ack cursor and replay their backlog from
// the message log on subscribe; the engine flips them live under a
// per-subscription lock so no append is lost or duplicated across the
// replay/live boundary. Ephemeral subscriptions exist only for the lifetime
// of their connection, receive no sequence numbers and may attach a CEL
// payload filter.
//
// Pushes are at-most-once: a delivery failure is logged and the message
// comes back from the log on the next resume, which yields
// exactly-once-after-acknowledgment end to end.
package pubsub
