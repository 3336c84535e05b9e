package runtime

import (
	"context"
	"errors"

	cfgpkg "github.com/protocol-kit/jrow/internal/config"
	"github.com/protocol-kit/jrow/internal/metrics"
	"github.com/protocol-kit/jrow/internal/msglog"
	"github.com/protocol-kit/jrow/internal/pubsub"
	"github.com/protocol-kit/jrow/internal/retention"
	pebblestore "github.com/protocol-kit/jrow/internal/storage/pebble"
	"github.com/protocol-kit/jrow/internal/subreg"
	"github.com/protocol-kit/jrow/internal/topics"
	"github.com/protocol-kit/jrow/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  log.Logger
}

// Runtime wires storage, registries, the delivery engine and the retention
// enforcer for a single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  log.Logger
	metrics *metrics.Set

	store    *msglog.Store
	topics   *topics.Registry
	subs     *subreg.Registry
	engine   *pubsub.Engine
	enforcer *retention.Enforcer
}

// Open initializes storage, wires the engine and starts the retention loop.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	mset := metrics.New()

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: opts.DataDir,
		Fsync:   opts.Fsync,
		Metrics: mset,
	})
	if err != nil {
		return nil, err
	}

	store := msglog.NewStore(db, msglog.WithLogger(logger))
	topicReg := topics.NewRegistry(db)
	subReg := subreg.NewRegistry(db)

	// Policies from the config file win over whatever a previous run stored.
	for name, pol := range opts.Config.Retention {
		if _, err := topicReg.Register(name, pol); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	engine := pubsub.NewEngine(pubsub.Options{
		Store:    store,
		Topics:   topicReg,
		Registry: subReg,
		Logger:   logger,
		Metrics:  mset,
		MaxBatch: opts.Config.MaxBatch,
	})

	enforcer := retention.New(retention.Options{
		Store:             store,
		Topics:            topicReg,
		Registry:          subReg,
		Interval:          opts.Config.SweepInterval(),
		InactivityTimeout: opts.Config.InactivityTimeout(),
		Logger:            logger,
	})
	enforcer.Start()

	return &Runtime{
		db:       db,
		config:   opts.Config,
		logger:   logger,
		metrics:  mset,
		store:    store,
		topics:   topicReg,
		subs:     subReg,
		engine:   engine,
		enforcer: enforcer,
	}, nil
}

// Close stops the retention loop and closes storage.
func (r *Runtime) Close() error {
	if r.enforcer != nil {
		r.enforcer.Stop()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Engine returns the pub/sub delivery engine.
func (r *Runtime) Engine() *pubsub.Engine { return r.engine }

// Topics returns the topic registry.
func (r *Runtime) Topics() *topics.Registry { return r.topics }

// Store returns the per-topic log store.
func (r *Runtime) Store() *msglog.Store { return r.store }

// Metrics returns the process collector set.
func (r *Runtime) Metrics() *metrics.Set { return r.metrics }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
