package manifest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Parse decodes and validates a single manifest document, compiling its
// trigger conditions. Trigger warnings are logged, not fatal.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	for _, warning := range m.compileTriggers() {
		log.Printf("[manifest] warning: %s", warning)
	}
	return &m, nil
}

// Library is the in-memory manifest cache, loaded from a directory of YAML
// files and safe for concurrent reads. Reloads (explicit or via Watch) swap
// the whole map under a write lock, so readers always see a consistent set.
type Library struct {
	dir string

	mu        sync.RWMutex
	manifests map[string]*Manifest
	onReload  []func()
}

// LoadDir reads every *.yml / *.yaml file in dir into a Library. A malformed
// file produces a warning and is skipped; the remaining manifests still
// load. A missing or empty directory yields an empty library, which is valid
// (every component then runs on code defaults).
func LoadDir(dir string) (*Library, error) {
	lib := &Library{dir: dir, manifests: make(map[string]*Manifest)}
	if err := lib.reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// reload re-reads the directory and swaps the cached map.
func (l *Library) reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.swap(make(map[string]*Manifest))
			return nil
		}
		return fmt.Errorf("failed to read manifest directory: %w", err)
	}

	loaded := make(map[string]*Manifest)
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[manifest] warning: %v", &ParseError{Path: path, Err: err})
			continue
		}
		m, err := Parse(data)
		if err != nil {
			log.Printf("[manifest] warning: %v", &ParseError{Path: path, Err: err})
			continue
		}
		if existing, dup := loaded[m.Name]; dup {
			log.Printf("[manifest] warning: duplicate manifest name %q in %s, keeping earlier definition (priority %d)",
				m.Name, path, existing.EffectivePriority())
			continue
		}
		loaded[m.Name] = m
	}

	l.swap(loaded)
	return nil
}

func (l *Library) swap(loaded map[string]*Manifest) {
	l.mu.Lock()
	l.manifests = loaded
	callbacks := make([]func(), len(l.onReload))
	copy(callbacks, l.onReload)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Get returns the manifest with the given name.
func (l *Library) Get(name string) (*Manifest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.manifests[name]
	return m, ok
}

// All returns every loaded manifest, sorted by name.
func (l *Library) All() []*Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Manifest, 0, len(l.manifests))
	for _, m := range l.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of loaded manifests.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.manifests)
}

// OnReload registers a callback invoked after every reload. Used by the
// Resolver to invalidate its defaults cache.
func (l *Library) OnReload(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = append(l.onReload, cb)
}

// Watch hot-reloads the library when manifest files change, until the
// context is cancelled. Reload failures are logged and the previous set
// stays active.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch manifest directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isManifestFile(filepath.Base(event.Name)) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				log.Printf("[manifest] reloading: %s changed", filepath.Base(event.Name))
				if err := l.reload(); err != nil {
					log.Printf("[manifest] warning: reload failed, keeping previous manifests: %v", err)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[manifest] watcher error: %v", err)
			}
		}
	}()

	return nil
}

func isManifestFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}
