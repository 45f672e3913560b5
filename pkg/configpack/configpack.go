// Package configpack loads declarative configuration packs from YAML files
// on disk, resolves `extends` inheritance by shallow merge, and caches
// parsed packs keyed by file mtime (spec §4.7).
package configpack

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// File is one expected file entry in a pack.
type File struct {
	Path        string `yaml:"path"`
	Mode        string `yaml:"mode"`
	Template    string `yaml:"template,omitempty"`
	ContentHash string `yaml:"content_hash,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Package is one expected package entry in a pack.
type Package struct {
	Name        string `yaml:"name"`
	MinVersion  string `yaml:"min_version,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Setting is one expected env-var entry in a pack.
type Setting struct {
	Key         string `yaml:"key"`
	Expected    string `yaml:"expected"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
}

// Items groups a pack's three item categories.
type Items struct {
	Files    []File    `yaml:"files"`
	Packages []Package `yaml:"packages"`
	Settings []Setting `yaml:"settings"`
}

// Pack is one loaded, immutable-after-load configuration pack.
type Pack struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Extends     string `yaml:"extends,omitempty"`
	Items       Items  `yaml:"items"`
}

// DefaultPacksForMachineType returns the default pack assignment per spec
// §4.7: "base" alone for servers, "base"+"developer-lite" for workstations.
// "base" must always remain in any assignment.
func DefaultPacksForMachineType(machineType string) []string {
	if machineType == "workstation" {
		return []string{"base", "developer-lite"}
	}
	return []string{"base"}
}

// HasBase reports whether packs includes "base"; callers updating a
// server's assignment must reject changes that drop it.
func HasBase(packs []string) bool {
	for _, p := range packs {
		if p == "base" {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	pack    rawPack
	modTime time.Time
}

type rawPack struct {
	Name        string
	Description string
	Extends     string
	Items       Items
}

// Loader parses pack YAML files from a directory and resolves inheritance,
// caching parsed packs by file modification time.
type Loader struct {
	dir string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]cacheEntry)}
}

func (l *Loader) path(name string) string {
	return filepath.Join(l.dir, name+".yaml")
}

// loadRaw reads and parses one pack file without resolving extends,
// consulting the mtime cache first.
func (l *Loader) loadRaw(name string) (rawPack, error) {
	path := l.path(name)
	info, err := os.Stat(path)
	if err != nil {
		return rawPack{}, fmt.Errorf("configpack: stat %s: %w", name, err)
	}

	l.mu.Lock()
	if entry, ok := l.cache[name]; ok && entry.modTime.Equal(info.ModTime()) {
		l.mu.Unlock()
		return entry.pack, nil
	}
	l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return rawPack{}, fmt.Errorf("configpack: reading %s: %w", name, err)
	}

	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return rawPack{}, fmt.Errorf("configpack: parsing %s: %w", name, err)
	}
	raw := rawPack{Name: p.Name, Description: p.Description, Extends: p.Extends, Items: p.Items}

	l.mu.Lock()
	l.cache[name] = cacheEntry{pack: raw, modTime: info.ModTime()}
	l.mu.Unlock()

	return raw, nil
}

// Load resolves a pack by name, merging `extends` chains shallowly: a
// child's items override the parent's by path/name/key. Cycles in extends
// are rejected.
func (l *Loader) Load(name string) (Pack, error) {
	chain, err := l.resolveChain(name, map[string]bool{})
	if err != nil {
		return Pack{}, err
	}

	merged := Items{}
	for i := len(chain) - 1; i >= 0; i-- {
		merged = mergeItems(merged, chain[i].Items)
	}

	top := chain[0]
	return Pack{Name: top.Name, Description: top.Description, Extends: top.Extends, Items: merged}, nil
}

func (l *Loader) resolveChain(name string, seen map[string]bool) ([]rawPack, error) {
	if seen[name] {
		return nil, fmt.Errorf("configpack: cycle detected in extends chain at %q", name)
	}
	seen[name] = true

	raw, err := l.loadRaw(name)
	if err != nil {
		return nil, err
	}

	chain := []rawPack{raw}
	if raw.Extends != "" {
		parentChain, err := l.resolveChain(raw.Extends, seen)
		if err != nil {
			return nil, err
		}
		chain = append(chain, parentChain...)
	}
	return chain, nil
}

// mergeItems overrides parent's items with child's by identity key,
// preserving parent-only entries (spec §4.7: "child overrides parent by
// path/name/key").
func mergeItems(parent, child Items) Items {
	files := map[string]File{}
	for _, f := range parent.Files {
		files[f.Path] = f
	}
	for _, f := range child.Files {
		files[f.Path] = f
	}

	packages := map[string]Package{}
	for _, p := range parent.Packages {
		packages[p.Name] = p
	}
	for _, p := range child.Packages {
		packages[p.Name] = p
	}

	settings := map[string]Setting{}
	for _, s := range parent.Settings {
		settings[s.Key] = s
	}
	for _, s := range child.Settings {
		settings[s.Key] = s
	}

	return Items{Files: valuesOfFiles(files), Packages: valuesOfPackages(packages), Settings: valuesOfSettings(settings)}
}

func valuesOfFiles(m map[string]File) []File {
	out := make([]File, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func valuesOfPackages(m map[string]Package) []Package {
	out := make([]Package, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func valuesOfSettings(m map[string]Setting) []Setting {
	out := make([]Setting, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
