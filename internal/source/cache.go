package source

import (
	"os"
	"sync"
)

// Cache loads and shares source buffers across concurrent analyses. Per
// spec §5, buffers are shared immutably once loaded; Cache models that as
// a generation counter — invalidating a path starts a new generation, but
// any FunctionView already handed out from an earlier generation remains
// valid (it is a value, not a pointer into the live buffer).
type Cache struct {
	mu         sync.RWMutex
	files      map[string]*File
	generation map[string]uint64
	extractor  *Extractor
}

func NewCache() *Cache {
	return &Cache{
		files:      make(map[string]*File),
		generation: make(map[string]uint64),
		extractor:  NewExtractor(),
	}
}

// Load reads path from disk if not already cached at the current
// generation, and returns the shared *File.
func (c *Cache) Load(path string) (*File, error) {
	c.mu.RLock()
	if f, ok := c.files[path]; ok {
		c.mu.RUnlock()
		return f, nil
	}
	c.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.files[path]; ok {
		return f, nil
	}
	f := NewFile(path, string(data))
	c.files[path] = f
	c.generation[path]++
	return f, nil
}

// Invalidate drops the cached buffer for path, forcing the next Load to
// re-read from disk and bump the generation counter. Called by the
// fsnotify-backed watcher (internal/config) when the underlying file
// changes mid-run.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, path)
}

// Generation returns the load generation for path (0 if never loaded).
func (c *Cache) Generation(path string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation[path]
}

// FunctionViewAt loads path if needed and extracts the FunctionView
// enclosing line.
func (c *Cache) FunctionViewAt(path string, line int) (FunctionView, error) {
	f, err := c.Load(path)
	if err != nil {
		return FunctionView{}, err
	}
	return c.extractor.Extract(f, line)
}
