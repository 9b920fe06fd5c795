package fmatrix

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Estimate is the latest estimate for one correspondence source
type Estimate struct {
	Source    string    `json:"source"`
	Points    PointSet  `json:"-"`
	Result    *Result   `json:"result"`
	Timestamp time.Time `json:"timestamp"`
	Color     string    `json:"color,omitempty"` // hex color for this source
}

// ResultStore keeps the latest estimate per source for the HTTP endpoints
type ResultStore struct {
	mu        sync.RWMutex
	estimates map[string]*Estimate
	colors    map[string]string // source ID -> hex color
	cachePath string            // path to the result cache; empty disables persistence
}

// NewResultStore creates a new result store
func NewResultStore() *ResultStore {
	return &ResultStore{
		estimates: make(map[string]*Estimate),
		colors:    make(map[string]string),
	}
}

// NewResultStoreWithCache creates a result store that persists estimates
// to the given result cache path. Existing cached estimates are loaded.
func NewResultStoreWithCache(cachePath string) *ResultStore {
	st := NewResultStore()
	st.cachePath = cachePath
	if cachePath == "" {
		return st
	}
	cache, err := LoadResultCache(cachePath)
	if err != nil {
		log.Printf("warning: failed to load result cache %s: %v", cachePath, err)
		return st
	}
	if cache != nil {
		for id, r := range cache.Results {
			st.estimates[id] = &Estimate{
				Source:    id,
				Points:    r.Points,
				Result:    r.Result,
				Timestamp: time.Unix(r.ComputedAt, 0),
			}
		}
	}
	return st
}

// SetColor sets the color for a source
func (st *ResultStore) SetColor(sourceID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors[sourceID] = hexColor
}

// Update stores the latest estimate for a source and persists the cache
func (st *ResultStore) Update(sourceID string, points PointSet, result *Result) {
	st.mu.Lock()
	st.estimates[sourceID] = &Estimate{
		Source:    sourceID,
		Points:    points,
		Result:    result,
		Timestamp: time.Now(),
		Color:     st.colors[sourceID],
	}
	cachePath := st.cachePath
	var cache *ResultCache
	if cachePath != "" {
		cache = st.snapshotLocked()
	}
	st.mu.Unlock()

	if cache != nil {
		if err := SaveResultCache(cachePath, cache); err != nil {
			log.Printf("warning: failed to save result cache: %v", err)
		}
	}
}

func (st *ResultStore) snapshotLocked() *ResultCache {
	cache := NewResultCache()
	for id, e := range st.estimates {
		cache.Results[id] = StoredResult{
			Source:     id,
			Points:     e.Points,
			Result:     e.Result,
			ComputedAt: e.Timestamp.Unix(),
		}
	}
	return cache
}

// Get returns a copy of the latest estimate for a source
func (st *ResultStore) Get(sourceID string) (*Estimate, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.estimates[sourceID]
	if !ok {
		return nil, false
	}
	copy := *e
	return &copy, true
}

// GetAll returns copies of all current estimates
func (st *ResultStore) GetAll() map[string]*Estimate {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]*Estimate, len(st.estimates))
	for k, v := range st.estimates {
		copy := *v
		result[k] = &copy
	}
	return result
}

// Sources returns the IDs of all sources with an estimate, sorted
func (st *ResultStore) Sources() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.estimates))
	for id := range st.estimates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasEstimates returns true if at least one estimate is stored
func (st *ResultStore) HasEstimates() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.estimates) > 0
}
