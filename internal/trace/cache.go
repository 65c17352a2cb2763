package trace

import (
	"io/fs"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ben-ranford/nfttrace/internal/analyze"
	"github.com/ben-ranford/nfttrace/internal/resolve"
)

const manifestCacheSize = 4096

// flight is a single-flight cache. Concurrent lookups of one key share a
// single call of the loader. Successful results, including "not found"
// results, are kept; errors are not.
type flight[T any] struct {
	group   singleflight.Group
	mu      sync.RWMutex
	settled map[string]T
	loads   atomic.Int64
}

func (f *flight[T]) get(key string) (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.settled[key]
	return value, ok
}

func (f *flight[T]) do(key string, load func() (T, error)) (T, error) {
	if value, ok := f.get(key); ok {
		return value, nil
	}
	raw, err, _ := f.group.Do(key, func() (any, error) {
		if value, ok := f.get(key); ok {
			return value, nil
		}
		f.loads.Add(1)
		value, err := load()
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		if f.settled == nil {
			f.settled = map[string]T{}
		}
		f.settled[key] = value
		f.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	value, _ := raw.(T)
	return value, nil
}

func (f *flight[T]) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.settled)
}

// Cache holds file contents, stat results, symlink targets, analyses and
// parsed manifests. Passing one Cache to several traces lets later traces
// skip I/O and analysis. Traces sharing a Cache may run concurrently; each
// file is still read and analyzed once.
type Cache struct {
	files     flight[[]byte]
	stats     flight[fs.FileInfo]
	symlinks  flight[string]
	analyses  flight[*analyze.Result]
	manifests *lru.Cache[string, *resolve.Manifest]
}

func NewCache() *Cache {
	manifests, err := lru.New[string, *resolve.Manifest](manifestCacheSize)
	if err != nil {
		panic(err)
	}
	return &Cache{manifests: manifests}
}

// CacheStats reports how many entries each cache holds. AnalysisRuns
// counts how often the analyzer actually ran.
type CacheStats struct {
	Files        int
	Stats        int
	Symlinks     int
	Analyses     int
	Manifests    int
	AnalysisRuns int
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Files:        c.files.len(),
		Stats:        c.stats.len(),
		Symlinks:     c.symlinks.len(),
		Analyses:     c.analyses.len(),
		Manifests:    c.manifests.Len(),
		AnalysisRuns: int(c.analyses.loads.Load()),
	}
}
