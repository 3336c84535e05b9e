// Package retention enforces per-topic retention policies in the
// background. Each sweep trims messages violating any configured bound
// (age, count or byte total), oldest-sequence-first, and optionally purges
// durable subscriptions that have been idle with no live owner.
//
// The enforcer never modifies subscription cursors. A subscriber whose
// cursor points below the trimmed range simply resumes from the next
// surviving sequence.
package retention
