// Package topics persists topic registrations and their retention policies.
//
// Registration is idempotent and cheap; publishing to an unregistered topic
// ensures a registration with no retention, while rpc.topics.register sets
// or replaces the policy. The retention enforcer sweeps the registry's List
// on each pass.
package topics
