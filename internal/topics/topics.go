package topics

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/protocol-kit/jrow/internal/pattern"
	pebblestore "github.com/protocol-kit/jrow/internal/storage/pebble"
)

// ErrInvalidTopic rejects names that are not plain dot-delimited topics.
var ErrInvalidTopic = errors.New("topics: name must be a dot-delimited topic without wildcards")

// RetentionPolicy bounds a topic's stored history. A zero field means the
// bound is not configured; a message is deletable once any configured bound
// is exceeded.
type RetentionPolicy struct {
	MaxAgeMs int64  `json:"maxAgeMs,omitempty" yaml:"maxAgeMs"`
	MaxCount uint64 `json:"maxCount,omitempty" yaml:"maxCount"`
	MaxBytes uint64 `json:"maxBytes,omitempty" yaml:"maxBytes"`
}

// Enabled reports whether any bound is configured.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxAgeMs > 0 || p.MaxCount > 0 || p.MaxBytes > 0
}

// MaxAge returns the age bound as a duration (0 when unset).
func (p RetentionPolicy) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeMs) * time.Millisecond
}

// Meta holds a registered topic's durable metadata.
type Meta struct {
	Name        string          `json:"name"`
	CreatedAtMs int64           `json:"createdAtMs"`
	Retention   RetentionPolicy `json:"retention"`
}

var topicMetaPrefix = []byte("tp/")

func topicMetaKey(topic string) []byte {
	k := make([]byte, 0, len(topicMetaPrefix)+len(topic))
	k = append(k, topicMetaPrefix...)
	k = append(k, topic...)
	return k
}

// ValidateName reports whether name is a legal exact topic.
func ValidateName(name string) error {
	p, err := pattern.Compile(name)
	if err != nil || p.IsPattern() {
		return ErrInvalidTopic
	}
	return nil
}

// Registry persists topic registrations and their retention policies.
type Registry struct {
	db    *pebblestore.DB
	clock func() time.Time

	mu    sync.Mutex
	cache map[string]Meta
}

// NewRegistry creates a Registry over db.
func NewRegistry(db *pebblestore.DB) *Registry {
	return &Registry{db: db, clock: time.Now, cache: make(map[string]Meta)}
}

// Ensure creates a topic registration with no retention if absent.
// Idempotent: returns the existing meta when already registered.
func (r *Registry) Ensure(topic string) (Meta, error) {
	return r.register(topic, RetentionPolicy{}, false)
}

// Register creates or updates a topic registration with the given policy.
func (r *Registry) Register(topic string, pol RetentionPolicy) (Meta, error) {
	return r.register(topic, pol, true)
}

func (r *Registry) register(topic string, pol RetentionPolicy, overwrite bool) (Meta, error) {
	if err := ValidateName(topic); err != nil {
		return Meta{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, found, err := r.getLocked(topic)
	if err != nil {
		return Meta{}, err
	}
	if found && !overwrite {
		return existing, nil
	}
	m := Meta{Name: topic, CreatedAtMs: r.clock().UnixMilli(), Retention: pol}
	if found {
		m.CreatedAtMs = existing.CreatedAtMs
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := r.db.Set(topicMetaKey(topic), buf); err != nil {
		return Meta{}, err
	}
	r.cache[topic] = m
	return m, nil
}

// Get returns the registration for topic, if any.
func (r *Registry) Get(topic string) (Meta, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(topic)
}

func (r *Registry) getLocked(topic string) (Meta, bool, error) {
	if m, ok := r.cache[topic]; ok {
		return m, true, nil
	}
	buf, err := r.db.Get(topicMetaKey(topic))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Meta{}, false, nil
		}
		return Meta{}, false, err
	}
	var m Meta
	if err := json.Unmarshal(buf, &m); err != nil {
		return Meta{}, false, err
	}
	r.cache[topic] = m
	return m, true, nil
}

// List returns every registered topic in lexicographic order. The retention
// enforcer iterates this on each sweep.
func (r *Registry) List() ([]Meta, error) {
	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: topicMetaPrefix,
		UpperBound: []byte("tp0"), // '0' is '/'+1
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Meta
	for ok := iter.First(); ok; ok = iter.Next() {
		var m Meta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
