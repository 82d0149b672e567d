// internal/config/templates.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/velcourt/pageharvest/internal/extract"
	"github.com/velcourt/pageharvest/pkg/types"
)

// LoadTemplate reads and validates one template definition from YAML
func LoadTemplate(filename string) (*types.Template, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate parses and validates a template from YAML bytes
func ParseTemplate(data []byte) (*types.Template, error) {
	var tmpl types.Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template YAML: %w", err)
	}
	if err := extract.ValidateTemplate(&tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// TemplateStore holds the validated templates of a directory, keyed by
// template name. Jobs reference the stored template; the store never
// hands out copies, so a template must stay immutable once loaded.
type TemplateStore struct {
	dir string

	mu        sync.RWMutex
	templates map[string]*types.Template
	loadedAt  time.Time
}

// NewTemplateStore scans a directory for *.yaml and *.yml templates
func NewTemplateStore(dir string) (*TemplateStore, error) {
	s := &TemplateStore{dir: dir, templates: make(map[string]*types.Template)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rescans the directory, replacing the store's contents. A broken
// template file fails the whole reload so a half-updated set is never
// served.
func (s *TemplateStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read template directory %s: %w", s.dir, err)
	}

	loaded := make(map[string]*types.Template)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		tmpl, err := LoadTemplate(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("template %s: %w", entry.Name(), err)
		}
		if _, dup := loaded[tmpl.Name]; dup {
			return fmt.Errorf("duplicate template name %q in %s", tmpl.Name, s.dir)
		}
		loaded[tmpl.Name] = tmpl
	}

	s.mu.Lock()
	s.templates = loaded
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Get returns a template by name
func (s *TemplateStore) Get(name string) (*types.Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[name]
	return tmpl, ok
}

// Names returns the loaded template names, sorted for stable output
func (s *TemplateStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadedAt reports when the store was last (re)loaded
func (s *TemplateStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}
