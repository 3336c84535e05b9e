package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/protocol-kit/jrow/internal/config"
	"github.com/protocol-kit/jrow/internal/runtime"
	httpserver "github.com/protocol-kit/jrow/internal/server/http"
	"github.com/protocol-kit/jrow/internal/server/ws"
	logpkg "github.com/protocol-kit/jrow/pkg/log"
)

// Options for running the server.
type Options struct {
	Config cfgpkg.Config
}

// Run starts the WebSocket and admin HTTP listeners and blocks until ctx is
// cancelled or a listener fails.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that
	// pass context.Background still get clean shutdown on SIGTERM.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	logger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return err
	}
	logpkg.RedirectStdLog(logger)

	fsync, err := cfg.FsyncMode()
	if err != nil {
		return err
	}
	rt, err := runtime.Open(runtime.Options{
		DataDir: filepath.Join(cfg.DataDir, "store"),
		Fsync:   fsync,
		Config:  cfg,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting jrow server",
		logpkg.Str("ws", cfg.ListenWS),
		logpkg.Str("http", cfg.ListenHTTP),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.Fsync),
	)

	wsrv := ws.NewServer(ws.Options{
		Engine:          rt.Engine(),
		Logger:          logger,
		WriteTimeout:    cfg.WriteTimeout(),
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return wsrv.ListenAndServe(gctx, cfg.ListenWS) })
	g.Go(func() error { return hsrv.ListenAndServe(gctx, cfg.ListenHTTP) })
	return g.Wait()
}
