// Package ws is the WebSocket transport. It upgrades HTTP requests,
// assigns each connection a sortable id, reads JSON-RPC frames on the
// request goroutine and writes responses and pushes through a single
// per-connection writer goroutine. When the socket closes the connection is
// detached from the engine, releasing its durable bindings and dropping its
// ephemeral subscriptions.
package ws
