package retention

import (
	"context"
	"sync"
	"time"

	"github.com/protocol-kit/jrow/internal/msglog"
	"github.com/protocol-kit/jrow/internal/subreg"
	"github.com/protocol-kit/jrow/internal/topics"
	"github.com/protocol-kit/jrow/pkg/log"
)

// DefaultInterval is used when no sweep interval is configured.
const DefaultInterval = 30 * time.Second

// Options wires an Enforcer.
type Options struct {
	Store  *msglog.Store
	Topics *topics.Registry
	// Registry is optional; when set together with InactivityTimeout, each
	// sweep also purges idle subscriptions.
	Registry *subreg.Registry
	Interval time.Duration
	// InactivityTimeout purges durable subscriptions with no live owner and
	// no activity for this long. Zero disables purging.
	InactivityTimeout time.Duration
	Logger            log.Logger
}

// Enforcer sweeps registered topics on an interval and trims whatever
// violates the topic's retention policy. Bounds combine with OR: any
// exceeded bound makes the oldest messages eligible. Sweep errors are
// logged and retried on the next interval; cursors are never touched.
type Enforcer struct {
	store      *msglog.Store
	topics     *topics.Registry
	subs       *subreg.Registry
	interval   time.Duration
	inactivity time.Duration
	logger     log.Logger
	clock      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates an Enforcer; call Start to begin sweeping.
func New(opts Options) *Enforcer {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Enforcer{
		store:      opts.Store,
		topics:     opts.Topics,
		subs:       opts.Registry,
		interval:   interval,
		inactivity: opts.InactivityTimeout,
		logger:     logger.With(log.Component("retention")),
		clock:      time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (e *Enforcer) Start() {
	go e.run()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (e *Enforcer) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

func (e *Enforcer) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.SweepOnce(context.Background())
		}
	}
}

// SweepOnce runs a single pass over every registered topic and returns the
// number of trimmed messages. Per-topic failures are logged and do not stop
// the pass.
func (e *Enforcer) SweepOnce(ctx context.Context) int {
	metas, err := e.topics.List()
	if err != nil {
		e.logger.Error("listing topics failed", log.Err(err))
		return 0
	}

	now := e.clock()
	total := 0
	for _, m := range metas {
		if !m.Retention.Enabled() {
			continue
		}
		n, err := e.enforceTopic(ctx, m, now)
		total += n
		if err != nil {
			e.logger.Error("retention sweep failed",
				log.Str("topic", m.Name), log.Err(err))
		}
	}
	if total > 0 {
		e.logger.Info("retention sweep trimmed messages", log.Int("deleted", total))
	}

	if e.subs != nil && e.inactivity > 0 {
		purged, err := e.subs.PurgeInactive(now, e.inactivity)
		if err != nil {
			e.logger.Error("subscription purge failed", log.Err(err))
		} else if purged > 0 {
			e.logger.Info("purged idle subscriptions", log.Int("purged", purged))
		}
	}
	return total
}

func (e *Enforcer) enforceTopic(ctx context.Context, m topics.Meta, now time.Time) (int, error) {
	l, err := e.store.Open(m.Name)
	if err != nil {
		return 0, err
	}
	deleted := 0
	pol := m.Retention
	if pol.MaxAgeMs > 0 {
		n, err := l.TrimOlderThan(ctx, now.Add(-pol.MaxAge()))
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	if pol.MaxCount > 0 {
		n, err := l.TrimToMaxCount(ctx, pol.MaxCount)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	if pol.MaxBytes > 0 {
		n, err := l.TrimToMaxBytes(ctx, pol.MaxBytes)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
