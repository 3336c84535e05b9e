// Package client is the WebSocket client for a jrow server. It correlates
// JSON-RPC requests with responses, routes rpc.push notifications to
// per-subscription handlers, and exposes both single and batched forms of
// every operation.
//
// With Options.Reconnect the client redials a broken connection and
// replays every subscription; durable subscriptions resume delivery from
// the last acknowledged sequence. Without it, subscriptions are
// connection-scoped and the caller resubscribes after dialing again.
//
// Example:
//
//	c, _ := client.Dial(ctx, client.Options{URL: "ws://127.0.0.1:8080"})
//	defer c.Close()
//	res, _ := c.SubscribePersistent(ctx, "billing", "orders.*", func(p client.Push) {
//		process(p)
//		_ = c.Ack("billing", p.SequenceID)
//	})
//	_ = res
package client
