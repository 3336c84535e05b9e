package msglog

import (
	"sync"

	"github.com/protocol-kit/jrow/internal/pattern"
	pebblestore "github.com/protocol-kit/jrow/internal/storage/pebble"
	"github.com/protocol-kit/jrow/pkg/log"
)

// Store manages per-topic logs over one shared database and answers
// cross-topic reads for pattern subscriptions.
type Store struct {
	db     *pebblestore.DB
	logger log.Logger

	mu   sync.Mutex
	logs map[string]*Log
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger reads use to report skipped corrupt records.
func WithLogger(l log.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store over db.
func NewStore(db *pebblestore.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, logger: log.NewLogger(), logs: make(map[string]*Log)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open returns the log for topic, creating it on first use. Logs are cached;
// repeated opens return the same instance so sequence assignment stays
// serialized per topic.
func (s *Store) Open(topic string) (*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[topic]; ok {
		return l, nil
	}
	l, err := OpenLog(s.db, topic)
	if err != nil {
		return nil, err
	}
	l.logger = s.logger
	if err := s.ensureIndexed(topic); err != nil {
		return nil, err
	}
	s.logs[topic] = l
	return l, nil
}

// ensureIndexed records the topic in the durable topic index so pattern
// reads can enumerate topics without scanning entries.
func (s *Store) ensureIndexed(topic string) error {
	key := KeyTopicIndex(topic)
	if _, err := s.db.Get(key); err == nil {
		return nil
	} else if !pebblestore.IsNotFound(err) {
		return err
	}
	return s.db.Set(key, nil)
}

// Topics lists every topic ever opened, in lexicographic order.
func (s *Store) Topics() ([]string, error) {
	low, high := topicIndexBounds()
	iter, err := s.db.NewIter(iterBounds(low, high))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var topics []string
	for ok := iter.First(); ok; ok = iter.Next() {
		topics = append(topics, string(iter.Key()[len(low):]))
	}
	return topics, nil
}

// TopicsMatching resolves the topics p matches, in lexicographic order.
// Exact expressions resolve to their single topic without consulting the
// index. Callers paginating long backlogs must keep a continuation cursor
// per topic; a single cursor shared across topics skips messages.
func (s *Store) TopicsMatching(p pattern.Pattern) ([]string, error) {
	if !p.IsPattern() {
		return []string{p.String()}, nil
	}
	topics, err := s.Topics()
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, topic := range topics {
		if p.Matches(topic) {
			matched = append(matched, topic)
		}
	}
	return matched, nil
}

// ReadMatching returns up to limit messages with sequence > fromSeq across
// every topic matching p, ordered by (topic, sequence). limit <= 0 means no
// limit. Exact expressions read a single log directly.
func (s *Store) ReadMatching(p pattern.Pattern, fromSeq uint64, limit int) ([]Message, error) {
	topics, err := s.TopicsMatching(p)
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, topic := range topics {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
			if remaining <= 0 {
				break
			}
		}
		l, err := s.Open(topic)
		if err != nil {
			return nil, err
		}
		msgs, err := l.ReadAfter(fromSeq, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}
