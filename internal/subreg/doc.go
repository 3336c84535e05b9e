// Package subreg is the subscription registry: durable per-subscription
// records (pattern, ack cursor, activity timestamps) plus the in-memory
// table binding live subscriptions to their owning connections.
//
// A subscription has at most one live owner at a time; a second connection
// subscribing to the same id gets ErrAlreadyActive until the first releases
// it or disconnects. Cursors advance by monotonic max, so acknowledgments
// are idempotent and safe to redeliver. Unsubscribing or disconnecting
// keeps the durable record; only PurgeInactive removes records, and only
// after a configured idle period with no live owner.
package subreg
