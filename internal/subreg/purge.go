package subreg

import (
	"time"

	"github.com/cockroachdb/pebble"
)

// PurgeInactive deletes durable records that are not live and have seen no
// activity for at least idle. Returns the number of purged subscriptions.
// Live subscriptions are never purged regardless of age.
func (r *Registry) PurgeInactive(now time.Time, idle time.Duration) (int, error) {
	if idle <= 0 {
		return 0, nil
	}
	cutoffMs := now.Add(-idle).UnixMilli()

	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: subPrefix,
		UpperBound: []byte("s0"), // '0' is '/'+1
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	// collect candidates first; deletions take stripe locks and re-check
	var candidates []string
	for ok := iter.First(); ok; ok = iter.Next() {
		candidates = append(candidates, string(iter.Key()[len(subPrefix):]))
	}

	purged := 0
	for _, subID := range candidates {
		st := r.stripe(subID)
		st.mu.Lock()
		if _, isLive := st.live[subID]; isLive {
			st.mu.Unlock()
			continue
		}
		rec, found, err := r.load(subID)
		if err != nil || !found || rec.LastActivityMs > cutoffMs {
			st.mu.Unlock()
			if err != nil {
				return purged, err
			}
			continue
		}
		if err := r.db.Delete(subKey(subID)); err != nil {
			st.mu.Unlock()
			return purged, err
		}
		st.mu.Unlock()
		purged++
	}
	return purged, nil
}
