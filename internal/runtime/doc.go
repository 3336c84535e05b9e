// Package runtime wires storage, registries, the delivery engine and the
// retention enforcer into a single-node instance. It exposes Open/Close,
// a basic health check, and accessors used by the transports.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	_, _, _ = rt.Engine().PublishPersistent(context.Background(), "orders", []byte(`{}`))
package runtime
