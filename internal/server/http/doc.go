// Package httpserver is the admin HTTP surface: health checks, Prometheus
// metrics and topic inspection. The messaging surface itself is served by
// the WebSocket listener.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9090")
package httpserver
