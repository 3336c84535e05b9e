package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/protocol-kit/jrow/internal/msglog"
	"github.com/protocol-kit/jrow/internal/pattern"
	"github.com/protocol-kit/jrow/internal/subreg"
	"github.com/protocol-kit/jrow/internal/topics"
	"github.com/protocol-kit/jrow/pkg/id"
	"github.com/protocol-kit/jrow/pkg/log"
)

// Metrics receives engine counters. internal/metrics provides the
// Prometheus implementation; tests use the noop default.
type Metrics interface {
	MessagePublished(topic string, bytes int)
	PushDelivered()
	PushFailed()
	BacklogReplayed(n int)
}

type noopMetrics struct{}

func (noopMetrics) MessagePublished(string, int) {}
func (noopMetrics) PushDelivered()               {}
func (noopMetrics) PushFailed()                  {}
func (noopMetrics) BacklogReplayed(int)          {}

// DefaultMaxBatch caps batched operation sizes unless configured otherwise.
const DefaultMaxBatch = 256

const replayBatchSize = 512

// Options wires an Engine.
type Options struct {
	Store    *msglog.Store
	Topics   *topics.Registry
	Registry *subreg.Registry
	Logger   log.Logger
	Metrics  Metrics
	MaxBatch int
}

// SubscribeResult reports where a durable subscription resumed.
type SubscribeResult struct {
	// ResumedFromSeq is the cursor at subscribe time; replay starts after it.
	ResumedFromSeq uint64
	// Undelivered is the number of backlog messages replayed before the
	// subscription went live.
	Undelivered int
}

// subState serializes delivery for one subscription. The replay/live flip
// happens under its mutex so no append can slip between the final backlog
// read and the live marking.
type subState struct {
	mu       sync.Mutex
	live     bool
	conn     id.ID
	lastSent map[string]uint64 // per-topic high-water mark of pushed sequences
}

// Engine is the delivery engine for durable and ephemeral subscriptions.
type Engine struct {
	store    *msglog.Store
	topics   *topics.Registry
	reg      *subreg.Registry
	eph      *Ephemeral
	logger   log.Logger
	metrics  Metrics
	maxBatch int

	mu        sync.Mutex
	consumers map[id.ID]Consumer
	states    map[string]*subState
}

// NewEngine creates an Engine over the given stores and registries.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Engine{
		store:     opts.Store,
		topics:    opts.Topics,
		reg:       opts.Registry,
		eph:       NewEphemeral(logger),
		logger:    logger.With(log.Component("pubsub")),
		metrics:   m,
		maxBatch:  maxBatch,
		consumers: make(map[id.ID]Consumer),
		states:    make(map[string]*subState),
	}
}

// Ephemeral exposes the non-durable tier.
func (e *Engine) Ephemeral() *Ephemeral { return e.eph }

// Registry exposes the subscription registry.
func (e *Engine) Registry() *subreg.Registry { return e.reg }

// AttachConsumer registers a connection's delivery capability. Must be
// called before the connection subscribes.
func (e *Engine) AttachConsumer(c Consumer) {
	e.mu.Lock()
	e.consumers[c.ID()] = c
	e.mu.Unlock()
}

// DetachConsumer removes the connection, releases all of its durable
// bindings and drops its ephemeral subscriptions. Idempotent.
func (e *Engine) DetachConsumer(connID id.ID) {
	e.mu.Lock()
	delete(e.consumers, connID)
	e.mu.Unlock()

	e.retireStates(connID, e.reg.OnDisconnect(connID))
	e.eph.RemoveConnection(connID)
}

// retireStates marks the released subscriptions dead. A state that a
// successor connection rebound between the registry release and this call
// belongs to the successor and is left alone.
func (e *Engine) retireStates(connID id.ID, subIDs []string) {
	for _, subID := range subIDs {
		st := e.state(subID)
		st.mu.Lock()
		if st.conn == connID {
			st.live = false
		}
		st.mu.Unlock()
	}
}

func (e *Engine) consumer(connID id.ID) Consumer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumers[connID]
}

func (e *Engine) state(subID string) *subState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[subID]
	if !ok {
		st = &subState{lastSent: make(map[string]uint64)}
		e.states[subID] = st
	}
	return st
}

// Subscribe binds a durable subscription, replays the backlog past its
// cursor to the consumer, then marks it live. The flip happens under the
// subscription's delivery lock, so concurrent appends either land in the
// final backlog read or queue as live pushes; none are lost or duplicated
// for a topic.
func (e *Engine) Subscribe(ctx context.Context, subID, expr string, c Consumer) (SubscribeResult, error) {
	st := e.state(subID)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := e.reg.Subscribe(subID, expr, c.ID())
	if err != nil {
		return SubscribeResult{}, err
	}
	p, err := pattern.Compile(rec.Pattern)
	if err != nil {
		return SubscribeResult{}, err
	}

	st.live = false
	st.conn = c.ID()
	st.lastSent = make(map[string]uint64)

	names, err := e.store.TopicsMatching(p)
	if err != nil {
		_ = e.reg.Unsubscribe(subID)
		return SubscribeResult{}, err
	}
	replayed := 0
	for _, topic := range names {
		l, err := e.store.Open(topic)
		if err != nil {
			_ = e.reg.Unsubscribe(subID)
			return SubscribeResult{}, err
		}
		// Each topic paginates on its own continuation cursor. Sequences are
		// per topic, so a cursor advanced by one topic's backlog would skip
		// past another's entirely.
		from := rec.LastAckSeq
		for {
			if err := ctx.Err(); err != nil {
				_ = e.reg.Unsubscribe(subID)
				return SubscribeResult{}, err
			}
			msgs, err := l.ReadAfter(from, replayBatchSize)
			if err != nil {
				_ = e.reg.Unsubscribe(subID)
				return SubscribeResult{}, err
			}
			if len(msgs) == 0 {
				break
			}
			for _, m := range msgs {
				from = m.Seq
				st.lastSent[m.Topic] = m.Seq
				replayed++
				if err := c.Deliver(e.pushFor(subID, m)); err != nil {
					e.logger.Warn("backlog delivery failed",
						log.Str("subscription", subID), log.Str("topic", m.Topic),
						log.Uint64("seq", m.Seq), log.Err(err))
					e.metrics.PushFailed()
					continue
				}
				e.metrics.PushDelivered()
			}
		}
	}
	st.live = true
	e.metrics.BacklogReplayed(replayed)
	return SubscribeResult{ResumedFromSeq: rec.LastAckSeq, Undelivered: replayed}, nil
}

// Unsubscribe releases the live binding. The cursor is kept for a later
// resume.
func (e *Engine) Unsubscribe(subID string) error {
	st := e.state(subID)
	st.mu.Lock()
	st.live = false
	st.mu.Unlock()
	return e.reg.Unsubscribe(subID)
}

// Acknowledge advances the subscription cursor (monotonic max).
func (e *Engine) Acknowledge(subID string, seq uint64) error {
	return e.reg.Acknowledge(subID, seq)
}

// Publish fans payload out to matching ephemeral subscriptions. Nothing is
// stored; the return value is the number of deliveries attempted.
func (e *Engine) Publish(topic string, payload []byte) (int, error) {
	if err := topics.ValidateName(topic); err != nil {
		return 0, err
	}
	return e.eph.Notify(topic, time.Now().UnixMilli(), payload), nil
}

// PublishPersistent appends payload to the topic's log, then pushes it to
// every matching live durable subscription and to the ephemeral tier.
// The append is durable before any push is attempted.
func (e *Engine) PublishPersistent(ctx context.Context, topic string, payload []byte) (msglog.Message, int, error) {
	m, err := e.append(ctx, topic, payload)
	if err != nil {
		return msglog.Message{}, 0, err
	}
	notified := e.notifyTargets(e.liveTargets(), m)
	notified += e.eph.Notify(m.Topic, m.TimestampMs, m.Payload)
	return m, notified, nil
}

// append validates the topic and durably stores one message.
func (e *Engine) append(ctx context.Context, topic string, payload []byte) (msglog.Message, error) {
	if err := topics.ValidateName(topic); err != nil {
		return msglog.Message{}, err
	}
	if _, err := e.topics.Ensure(topic); err != nil {
		return msglog.Message{}, err
	}
	l, err := e.store.Open(topic)
	if err != nil {
		return msglog.Message{}, err
	}
	m, err := l.Append(ctx, payload)
	if err != nil {
		return msglog.Message{}, err
	}
	e.metrics.MessagePublished(topic, len(payload))
	return m, nil
}

// RegisterTopic creates or updates a topic registration with a retention
// policy.
func (e *Engine) RegisterTopic(topic string, pol topics.RetentionPolicy) (topics.Meta, error) {
	return e.topics.Register(topic, pol)
}

type durableTarget struct {
	subID string
	conn  id.ID
	pat   pattern.Pattern
}

// liveTargets snapshots the live durable subscriptions. Batched publishes
// take one snapshot for the whole call instead of walking the registry per
// item.
func (e *Engine) liveTargets() []durableTarget {
	var targets []durableTarget
	e.reg.ForEachLive(func(subID string, conn id.ID, p pattern.Pattern) bool {
		targets = append(targets, durableTarget{subID: subID, conn: conn, pat: p})
		return true
	})
	return targets
}

func (e *Engine) notifyTargets(targets []durableTarget, m msglog.Message) int {
	n := 0
	for _, tg := range targets {
		if !tg.pat.Matches(m.Topic) {
			continue
		}
		st := e.state(tg.subID)
		st.mu.Lock()
		if !st.live || st.conn != tg.conn || m.Seq <= st.lastSent[m.Topic] {
			st.mu.Unlock()
			continue
		}
		c := e.consumer(tg.conn)
		if c == nil {
			st.mu.Unlock()
			continue
		}
		// at-most-once per push; an unacknowledged message comes back from
		// the log on the next resume
		st.lastSent[m.Topic] = m.Seq
		err := c.Deliver(e.pushFor(tg.subID, m))
		st.mu.Unlock()
		n++
		if err != nil {
			e.logger.Warn("live delivery failed",
				log.Str("subscription", tg.subID), log.Str("topic", m.Topic),
				log.Uint64("seq", m.Seq), log.Err(err))
			e.metrics.PushFailed()
			continue
		}
		e.metrics.PushDelivered()
	}
	return n
}

func (e *Engine) pushFor(subID string, m msglog.Message) Push {
	return Push{
		SubscriptionID: subID,
		Topic:          m.Topic,
		Seq:            m.Seq,
		TimestampMs:    m.TimestampMs,
		Payload:        m.Payload,
	}
}
