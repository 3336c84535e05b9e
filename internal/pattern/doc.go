// Package pattern implements wildcard matching for dot-delimited topics.
//
// Subscriptions may use two wildcards: "*" matches exactly one token at its
// position, ">" matches one or more trailing tokens and is only legal as the
// final token. Wildcards are token-level, never character-level, and "*" and
// ">" cannot appear in the same expression.
//
//	exact  := pattern.MustCompile("orders.created")
//	single := pattern.MustCompile("orders.*.completed")
//	multi  := pattern.MustCompile("events.>")
//
// All functions are pure; compiled Patterns are immutable and safe to share.
package pattern
