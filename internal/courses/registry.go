// Package courses manages the YAML registry of courses shown in lecturer reports.
package courses

import (
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Course describes how one course appears in a report.
type Course struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title"`
	// TopicLimit caps the topics listed in the distribution summary; 0 means no cap.
	TopicLimit int `yaml:"topic_limit"`
}

// Config is the top-level YAML structure.
type Config struct {
	Courses []Course `yaml:"courses"`
}

// Registry holds loaded courses, keyed by name.
type Registry struct {
	byName map[string]*Course
	order  []string // preserves definition order
}

// NewRegistry builds a registry from courses in the given order. Later duplicates
// of a name are ignored.
func NewRegistry(list []Course) *Registry {
	r := &Registry{byName: make(map[string]*Course, len(list))}
	for i := range list {
		c := list[i]
		if c.Name == "" {
			continue
		}
		if _, dup := r.byName[c.Name]; dup {
			continue
		}
		r.byName[c.Name] = &c
		r.order = append(r.order, c.Name)
	}
	return r
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return NewRegistry(cfg.Courses), nil
}

// Get returns a course by name. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Course, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// All returns all courses in definition order.
func (r *Registry) All() []*Course {
	result := make([]*Course, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// Len returns the number of registered courses.
func (r *Registry) Len() int {
	return len(r.order)
}

// Title returns the chart title for a course, falling back to "Top Topics in <name>".
func (r *Registry) Title(name string) string {
	if c, ok := r.Get(name); ok && strings.TrimSpace(c.Title) != "" {
		return c.Title
	}
	return "Top Topics in " + name
}

// TopicLimit returns the configured topic cap for a course, 0 when unset.
func (r *Registry) TopicLimit(name string) int {
	if c, ok := r.Get(name); ok && c.TopicLimit > 0 {
		return c.TopicLimit
	}
	return 0
}

// Order arranges course names for display: registered courses first in definition
// order, then unknown names sorted alphabetically. Duplicates are dropped.
func (r *Registry) Order(names []string) []string {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	result := make([]string, 0, len(present))
	for _, n := range r.order {
		if present[n] {
			result = append(result, n)
			delete(present, n)
		}
	}

	rest := make([]string, 0, len(present))
	for n := range present {
		rest = append(rest, n)
	}
	sort.Strings(rest)
	return append(result, rest...)
}

// Live is a registry that can be reloaded from its file while readers use it.
type Live struct {
	path    string
	current atomic.Pointer[Registry]
}

// NewLive loads path and returns a reloadable registry.
func NewLive(path string) (*Live, error) {
	l := &Live{path: path}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the backing YAML file.
func (l *Live) Path() string {
	return l.path
}

// Current returns the most recently loaded registry.
func (l *Live) Current() *Registry {
	return l.current.Load()
}

// Reload re-reads the YAML file. On error the previous registry stays active.
func (l *Live) Reload() error {
	r, err := Load(l.path)
	if err != nil {
		return err
	}
	l.current.Store(r)
	return nil
}

// Title delegates to the current registry.
func (l *Live) Title(name string) string {
	return l.Current().Title(name)
}

// TopicLimit delegates to the current registry.
func (l *Live) TopicLimit(name string) int {
	return l.Current().TopicLimit(name)
}

// Order delegates to the current registry.
func (l *Live) Order(names []string) []string {
	return l.Current().Order(names)
}
