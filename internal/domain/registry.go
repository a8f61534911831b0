package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Registry is the ordered source catalog. Declaration order is the run order
// and the final tie-break when ranking items.
type Registry struct {
	sources []Source
	index   map[string]int
}

// NewRegistry validates srcs and assigns each its registry order.
func NewRegistry(srcs []Source) (*Registry, error) {
	r := &Registry{
		sources: make([]Source, 0, len(srcs)),
		index:   make(map[string]int, len(srcs)),
	}
	var errs []error
	for i, s := range srcs {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("source #%d: empty name", i))
			continue
		}
		if _, dup := r.index[s.Name]; dup {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", s.Name))
			continue
		}
		switch s.Category {
		case CategoryFeed, CategoryPage:
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown category %q", s.Name, s.Category))
			continue
		}
		u, err := url.Parse(s.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("source %q: invalid url %q", s.Name, s.URL))
			continue
		}
		if s.State == "" {
			s.State = StateMulti
		}
		if s.Kind == "" {
			s.Kind = "news"
		}
		s.Order = len(r.sources)
		r.index[s.Name] = s.Order
		r.sources = append(r.sources, s)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Sources returns the sources in registry order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Len() int { return len(r.sources) }

// Order returns the registry position of name. Unknown names (for example
// sources removed since a previous snapshot) sort after every known one.
func (r *Registry) Order(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	return len(r.sources)
}

// Rank is the lowest registry order among names.
func (r *Registry) Rank(names []string) int {
	best := len(r.sources)
	for _, n := range names {
		if o := r.Order(n); o < best {
			best = o
		}
	}
	return best
}

// Hosts lists the distinct endpoint hosts in registry order.
func (r *Registry) Hosts() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range r.sources {
		u, err := url.Parse(s.URL)
		if err != nil {
			continue
		}
		h := strings.ToLower(u.Host)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
