// Package log provides jrow's structured logging facade and utilities.
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog, which keeps output consistent across the codebase
// while allowing slog handlers to be swapped by format.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat("text"),
//	)
//	l = l.With(log.Component("server"))
//	l.Info("server started", log.Str("addr", ":8080"))
//
// Use ApplyConfig to build a logger from a declarative Config (level and
// format), and RedirectStdLog to route standard library log output (for
// example from Pebble) through the facade.
package log
