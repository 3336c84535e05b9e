// Package rpc defines the JSON-RPC 2.0 wire surface: request/response
// frames, method names, parameter and result payloads, and the mapping from
// engine errors to protocol error objects. Both the server transport and
// pkg/client build on these types, so this package is the single source of
// truth for the protocol.
package rpc
