package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hooop/vex/internal/source"
)

func TestSourceWatcherInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leak.c")
	if err := os.WriteFile(path, []byte("int main(void){return 0;}"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	cache := source.NewCache()
	if _, err := cache.Load(path); err != nil {
		t.Fatalf("initial Load: %v", err)
	}
	before := cache.Generation(path)

	sw, err := NewSourceWatcher(cache, []string{path})
	if err != nil {
		t.Skip("fsnotify not supported:", err)
	}
	defer sw.Close()

	if err := os.WriteFile(path, []byte("int main(void){return 1;}"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, err := cache.Load(path); err != nil {
			t.Fatalf("reload after invalidate: %v", err)
		}
		if cache.Generation(path) > before {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for the watcher to invalidate the cache entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
