package fmatrix

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultResultCachePath is the default path for persisted estimation results
const DefaultResultCachePath = ".lmedsq-result.json"

// StoredResult is one persisted estimate together with its input
type StoredResult struct {
	Source     string   `json:"source"`
	Points     PointSet `json:"points"`
	Result     *Result  `json:"result"`
	ComputedAt int64    `json:"computedAt"`
}

// ResultCache stores the latest estimate per source as JSON
type ResultCache struct {
	Results     map[string]StoredResult `json:"results"`
	LastUpdated int64                   `json:"lastUpdated"`
}

// NewResultCache returns an empty cache
func NewResultCache() *ResultCache {
	return &ResultCache{Results: make(map[string]StoredResult)}
}

// LoadResultCache loads persisted results from a JSON cache file.
// A missing file yields (nil, nil).
func LoadResultCache(path string) (*ResultCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading result cache: %w", err)
	}

	var cache ResultCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing result cache: %w", err)
	}
	if cache.Results == nil {
		cache.Results = make(map[string]StoredResult)
	}
	return &cache, nil
}

// SaveResultCache writes the cache to path, creating parent directories
func SaveResultCache(path string, cache *ResultCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating result cache directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing result cache: %w", err)
	}
	return nil
}

// Put records result as the latest estimate for source
func (c *ResultCache) Put(source string, points PointSet, result *Result) {
	if c.Results == nil {
		c.Results = make(map[string]StoredResult)
	}
	c.Results[source] = StoredResult{
		Source:     source,
		Points:     points,
		Result:     result,
		ComputedAt: time.Now().Unix(),
	}
}

// Get returns the stored estimate for source
func (c *ResultCache) Get(source string) (StoredResult, bool) {
	if c == nil || c.Results == nil {
		return StoredResult{}, false
	}
	r, ok := c.Results[source]
	return r, ok
}

// NeedsRecompute reports whether source has no estimate or one older than maxAge
func (c *ResultCache) NeedsRecompute(source string, maxAge time.Duration) bool {
	r, ok := c.Get(source)
	if !ok || r.ComputedAt == 0 {
		return true
	}
	return time.Since(time.Unix(r.ComputedAt, 0)) > maxAge
}
