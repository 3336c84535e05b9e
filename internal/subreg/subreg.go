package subreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/protocol-kit/jrow/internal/pattern"
	pebblestore "github.com/protocol-kit/jrow/internal/storage/pebble"
	"github.com/protocol-kit/jrow/pkg/id"
)

var (
	// ErrInvalidPattern wraps a pattern validation failure.
	ErrInvalidPattern = errors.New("subreg: invalid pattern")
	// ErrAlreadyActive means another connection owns the subscription.
	ErrAlreadyActive = errors.New("subreg: subscription already active on another connection")
	// ErrUnknownSubscription means the subscription was never created.
	ErrUnknownSubscription = errors.New("subreg: unknown subscription")
)

// Record is a subscription's durable state. The cursor (LastAckSeq) is the
// highest sequence the subscriber has confirmed; it survives disconnects
// and restarts.
type Record struct {
	ID             string `json:"id"`
	Pattern        string `json:"pattern"`
	LastAckSeq     uint64 `json:"lastAckSeq"`
	CreatedAtMs    int64  `json:"createdAtMs"`
	LastActivityMs int64  `json:"lastActivityMs"`
}

var subPrefix = []byte("s/")

func subKey(subID string) []byte {
	k := make([]byte, 0, len(subPrefix)+len(subID))
	k = append(k, subPrefix...)
	k = append(k, subID...)
	return k
}

type liveSub struct {
	conn id.ID
	pat  pattern.Pattern
}

// Binding mutations are striped by subscription id so unrelated
// subscriptions never serialize on one lock.
const stripeCount = 64

type stripe struct {
	mu   sync.Mutex
	live map[string]liveSub
}

// Registry tracks durable subscription records and their live connection
// bindings. It is the sole writer of subscription keys.
type Registry struct {
	db    *pebblestore.DB
	clock func() time.Time

	stripes [stripeCount]stripe

	// reverse index so a disconnect releases all of a connection's
	// bindings without scanning every stripe
	connMu sync.Mutex
	byConn map[id.ID]map[string]struct{}
}

// NewRegistry creates a Registry over db.
func NewRegistry(db *pebblestore.DB) *Registry {
	r := &Registry{db: db, clock: time.Now, byConn: make(map[id.ID]map[string]struct{})}
	for i := range r.stripes {
		r.stripes[i].live = make(map[string]liveSub)
	}
	return r
}

func (r *Registry) stripe(subID string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subID))
	return &r.stripes[h.Sum32()%stripeCount]
}

// Subscribe binds subID to conn, creating the durable record on first use.
// Returns the record whose LastAckSeq is the resume point. A subscription
// live on a different connection yields ErrAlreadyActive; rebinding from
// the same connection is idempotent.
func (r *Registry) Subscribe(subID, expr string, conn id.ID) (Record, error) {
	if subID == "" {
		return Record{}, ErrUnknownSubscription
	}
	p, err := pattern.Compile(expr)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}

	st := r.stripe(subID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if cur, ok := st.live[subID]; ok && cur.conn != conn {
		return Record{}, ErrAlreadyActive
	}

	rec, found, err := r.load(subID)
	if err != nil {
		return Record{}, err
	}
	now := r.clock().UnixMilli()
	if !found {
		rec = Record{ID: subID, Pattern: expr, CreatedAtMs: now}
	}
	rec.Pattern = expr
	rec.LastActivityMs = now
	if err := r.store(rec); err != nil {
		return Record{}, err
	}

	st.live[subID] = liveSub{conn: conn, pat: p}
	r.indexConn(conn, subID)
	return rec, nil
}

// Acknowledge advances the cursor to seq if it is higher than the stored
// value. Lower or equal sequences are ignored, so redelivered or reordered
// acknowledgments never move the cursor backward.
func (r *Registry) Acknowledge(subID string, seq uint64) error {
	st := r.stripe(subID)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, found, err := r.load(subID)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownSubscription
	}
	rec.LastActivityMs = r.clock().UnixMilli()
	if seq > rec.LastAckSeq {
		rec.LastAckSeq = seq
	}
	return r.store(rec)
}

// Unsubscribe releases the live binding. The durable record and its cursor
// are kept so a later subscribe resumes where the consumer left off.
func (r *Registry) Unsubscribe(subID string) error {
	st := r.stripe(subID)
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, wasLive := st.live[subID]
	if wasLive {
		delete(st.live, subID)
		r.unindexConn(cur.conn, subID)
	}

	rec, found, err := r.load(subID)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownSubscription
	}
	rec.LastActivityMs = r.clock().UnixMilli()
	return r.store(rec)
}

// OnDisconnect releases every binding owned by conn and returns the released
// subscription ids. Idempotent; a connection with no bindings yields nil.
func (r *Registry) OnDisconnect(conn id.ID) []string {
	r.connMu.Lock()
	subs := r.byConn[conn]
	delete(r.byConn, conn)
	r.connMu.Unlock()

	released := make([]string, 0, len(subs))
	for subID := range subs {
		st := r.stripe(subID)
		st.mu.Lock()
		if cur, ok := st.live[subID]; ok && cur.conn == conn {
			delete(st.live, subID)
			released = append(released, subID)
		}
		st.mu.Unlock()
	}
	return released
}

// Owner reports the connection currently bound to subID, if any.
func (r *Registry) Owner(subID string) (id.ID, bool) {
	st := r.stripe(subID)
	st.mu.Lock()
	defer st.mu.Unlock()
	cur, ok := st.live[subID]
	return cur.conn, ok
}

// Get loads the durable record for subID.
func (r *Registry) Get(subID string) (Record, bool, error) {
	st := r.stripe(subID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return r.load(subID)
}

// ForEachLive visits every live subscription. fn returning false stops the
// walk. The walk holds one stripe lock at a time.
func (r *Registry) ForEachLive(fn func(subID string, conn id.ID, p pattern.Pattern) bool) {
	for i := range r.stripes {
		st := &r.stripes[i]
		st.mu.Lock()
		for subID, ls := range st.live {
			if !fn(subID, ls.conn, ls.pat) {
				st.mu.Unlock()
				return
			}
		}
		st.mu.Unlock()
	}
}

func (r *Registry) load(subID string) (Record, bool, error) {
	buf, err := r.db.Get(subKey(subID))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(buf, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *Registry) store(rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Set(subKey(rec.ID), buf)
}

func (r *Registry) indexConn(conn id.ID, subID string) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	set, ok := r.byConn[conn]
	if !ok {
		set = make(map[string]struct{})
		r.byConn[conn] = set
	}
	set[subID] = struct{}{}
}

func (r *Registry) unindexConn(conn id.ID, subID string) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if set, ok := r.byConn[conn]; ok {
		delete(set, subID)
		if len(set) == 0 {
			delete(r.byConn, conn)
		}
	}
}
