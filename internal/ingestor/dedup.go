package ingestor

import (
	lru "github.com/hashicorp/golang-lru"
)

// dedupSet remembers the most recently handled event ids. Oldest ids fall out
// once capacity is reached; the unique index on source_event_id covers those.
type dedupSet struct {
	cache *lru.Cache
}

func newDedupSet(capacity int) (*dedupSet, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &dedupSet{cache: cache}, nil
}

func (d *dedupSet) Seen(id string) bool {
	return d.cache.Contains(id)
}

func (d *dedupSet) Mark(id string) {
	d.cache.Add(id, struct{}{})
}

func (d *dedupSet) Len() int {
	return d.cache.Len()
}
