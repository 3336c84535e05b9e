package pubsub

import (
	"fmt"
	"sync"

	"github.com/protocol-kit/jrow/internal/pattern"
	"github.com/protocol-kit/jrow/internal/subreg"
	"github.com/protocol-kit/jrow/pkg/id"
	"github.com/protocol-kit/jrow/pkg/log"
)

type ephSub struct {
	expr   string
	pat    pattern.Pattern
	filter celFilter
}

type ephConn struct {
	consumer Consumer
	subs     map[string]*ephSub // keyed by expression
}

// Ephemeral is the non-durable subscription tier. Exact-topic subscriptions
// get O(1) lookup through a topic map; wildcard subscriptions are scanned
// per publish. Nothing here survives a disconnect.
type Ephemeral struct {
	logger log.Logger

	mu     sync.RWMutex
	byConn map[id.ID]*ephConn
	// exact topic -> connections holding an exact subscription on it
	exact map[string]map[id.ID]*ephSub
	// connections holding at least one wildcard subscription
	wild map[id.ID]map[string]*ephSub
}

// NewEphemeral creates the ephemeral tier.
func NewEphemeral(logger log.Logger) *Ephemeral {
	return &Ephemeral{
		logger: logger.With(log.Component("ephemeral")),
		byConn: make(map[id.ID]*ephConn),
		exact:  make(map[string]map[id.ID]*ephSub),
		wild:   make(map[id.ID]map[string]*ephSub),
	}
}

// Subscribe registers expr for the consumer's connection. filterExpr is an
// optional CEL expression evaluated per message; an empty string disables
// filtering. Re-subscribing to the same expression replaces the filter.
func (e *Ephemeral) Subscribe(c Consumer, expr, filterExpr string) error {
	p, err := pattern.Compile(expr)
	if err != nil {
		return fmt.Errorf("%w: %w", subreg.ErrInvalidPattern, err)
	}
	filter, err := newCELFilter(filterExpr)
	if err != nil {
		return fmt.Errorf("pubsub: invalid filter: %w", err)
	}
	sub := &ephSub{expr: expr, pat: p, filter: filter}

	e.mu.Lock()
	defer e.mu.Unlock()
	conn := e.byConn[c.ID()]
	if conn == nil {
		conn = &ephConn{consumer: c, subs: make(map[string]*ephSub)}
		e.byConn[c.ID()] = conn
	}
	conn.subs[expr] = sub
	if p.IsPattern() {
		set := e.wild[c.ID()]
		if set == nil {
			set = make(map[string]*ephSub)
			e.wild[c.ID()] = set
		}
		set[expr] = sub
	} else {
		set := e.exact[expr]
		if set == nil {
			set = make(map[id.ID]*ephSub)
			e.exact[expr] = set
		}
		set[c.ID()] = sub
	}
	return nil
}

// Unsubscribe removes one expression for the connection.
func (e *Ephemeral) Unsubscribe(connID id.ID, expr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	conn := e.byConn[connID]
	if conn == nil {
		return subreg.ErrUnknownSubscription
	}
	sub, ok := conn.subs[expr]
	if !ok {
		return subreg.ErrUnknownSubscription
	}
	delete(conn.subs, expr)
	if len(conn.subs) == 0 {
		delete(e.byConn, connID)
	}
	e.dropIndexed(connID, sub)
	return nil
}

// RemoveConnection drops every subscription of a closed connection.
// Idempotent.
func (e *Ephemeral) RemoveConnection(connID id.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conn := e.byConn[connID]
	if conn == nil {
		return
	}
	delete(e.byConn, connID)
	for _, sub := range conn.subs {
		e.dropIndexed(connID, sub)
	}
}

func (e *Ephemeral) dropIndexed(connID id.ID, sub *ephSub) {
	if sub.pat.IsPattern() {
		if set := e.wild[connID]; set != nil {
			delete(set, sub.expr)
			if len(set) == 0 {
				delete(e.wild, connID)
			}
		}
		return
	}
	if set := e.exact[sub.expr]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(e.exact, sub.expr)
		}
	}
}

// Notify fans a message out to every matching subscription whose filter
// accepts it. Returns the number of deliveries attempted. Delivery failures
// are logged, never surfaced; ephemeral messages are not redeliverable.
func (e *Ephemeral) Notify(topic string, tsMs int64, payload []byte) int {
	type target struct {
		consumer Consumer
		expr     string
	}
	e.mu.RLock()
	var targets []target
	for connID, sub := range e.exact[topic] {
		if conn := e.byConn[connID]; conn != nil && sub.filter.Eval(topic, tsMs, payload) {
			targets = append(targets, target{conn.consumer, sub.expr})
		}
	}
	for connID, set := range e.wild {
		conn := e.byConn[connID]
		if conn == nil {
			continue
		}
		for _, sub := range set {
			if sub.pat.Matches(topic) && sub.filter.Eval(topic, tsMs, payload) {
				targets = append(targets, target{conn.consumer, sub.expr})
			}
		}
	}
	e.mu.RUnlock()

	for _, tg := range targets {
		push := Push{SubscriptionID: tg.expr, Topic: topic, TimestampMs: tsMs, Payload: payload}
		if err := tg.consumer.Deliver(push); err != nil {
			e.logger.Warn("ephemeral delivery failed",
				log.Str("topic", topic), log.Str("pattern", tg.expr), log.Err(err))
		}
	}
	return len(targets)
}
