// Package templates loads named template sets from a library directory and
// caches them for the life of the process.
//
// A template set is a list file (one template path per line, '#' comments
// skipped) plus the column files it names. Paths in a list are relative to
// the directory holding the list.
package templates

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/specio"
	"github.com/starford/spamm/internal/spectrum"
	"github.com/starford/spamm/internal/storage"
)

// Sets maps a component kind (e.g. "host_galaxy") to its named template sets
// and each set to the root-relative path of its list file.
type Sets map[string]map[string]string

type cachedSet struct {
	list      string
	members   map[string]struct{}
	templates []spectrum.Template
}

// Library resolves and caches template sets. It is safe for concurrent use.
type Library struct {
	store  storage.Provider
	sets   Sets
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*cachedSet
}

// NewLibrary creates a library reading from store.
func NewLibrary(store storage.Provider, sets Sets, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		store:  store,
		sets:   sets,
		logger: logger,
		cache:  make(map[string]*cachedSet),
	}
}

// Catalogue returns the configured set names per component kind, sorted.
func (l *Library) Catalogue() map[string][]string {
	out := make(map[string][]string, len(l.sets))
	for kind, sets := range l.sets {
		names := make([]string, 0, len(sets))
		for name := range sets {
			names = append(names, name)
		}
		sort.Strings(names)
		out[kind] = names
	}
	return out
}

// Templates returns the templates of the named set for a component kind,
// loading them on first access. The returned slice is a fresh copy; the
// template arrays themselves are shared and must not be modified.
func (l *Library) Templates(kind, set string) ([]spectrum.Template, error) {
	key := kind + "/" + set

	l.mu.RLock()
	cs, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return append([]spectrum.Template(nil), cs.templates...), nil
	}

	list, ok := l.sets[kind][set]
	if !ok {
		return nil, fmt.Errorf("templates: %s template set %q not found: %w", kind, set, apperr.ErrInvalidConfig)
	}

	cs, err := l.load(list)
	if err != nil {
		return nil, fmt.Errorf("templates: %s/%s: %w", kind, set, err)
	}

	l.mu.Lock()
	l.cache[key] = cs
	l.mu.Unlock()

	l.logger.Info("templates: loaded set",
		slog.String("kind", kind),
		slog.String("set", set),
		slog.Int("count", len(cs.templates)))
	return append([]spectrum.Template(nil), cs.templates...), nil
}

// Invalidate drops every cached set whose list file or member templates
// include relPath. It returns the number of sets dropped.
func (l *Library) Invalidate(relPath string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for key, cs := range l.cache {
		_, member := cs.members[relPath]
		if cs.list == relPath || member {
			delete(l.cache, key)
			dropped++
		}
	}
	return dropped
}

func (l *Library) load(list string) (*cachedSet, error) {
	data, err := l.store.Read(list)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("list file %s missing: %w", list, apperr.ErrInvalidConfig)
		}
		return nil, err
	}
	entries := specio.ParseList(data)
	if len(entries) == 0 {
		return nil, fmt.Errorf("list file %s has no template entries: %w", list, apperr.ErrInvalidConfig)
	}

	dir := path.Dir(list)
	cs := &cachedSet{list: list, members: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		rel := path.Join(dir, entry)
		raw, err := l.store.Read(rel)
		if err != nil {
			return nil, fmt.Errorf("template %s: %v: %w", rel, err, apperr.ErrInvalidConfig)
		}
		res, err := specio.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", rel, err)
		}
		tmpl, err := res.Template(path.Base(entry))
		if err != nil {
			return nil, err
		}
		cs.members[rel] = struct{}{}
		cs.templates = append(cs.templates, tmpl)
	}
	return cs, nil
}
