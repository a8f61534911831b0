package extractor

import (
	"bytes"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

// DefaultStrategy is used when a page source names no structure.
const DefaultStrategy = "links"

// Page is a parsed HTML document handed to a strategy.
type Page struct {
	Doc *goquery.Document
	Raw []byte
	URL *url.URL
}

// Resolve turns href into an absolute http(s) link, or "" when it cannot.
func (p *Page) Resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := p.URL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// PageStrategy is one named rule for reading a page layout.
type PageStrategy interface {
	Name() string
	Extract(page *Page, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error)
}

// Registry keeps a mapping from strategy names to their implementations.
type Registry struct {
	strategies map[string]PageStrategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]PageStrategy{}}
}

// DefaultRegistry has the built-in links, table and article strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(LinksStrategy{})
	r.Register(TableStrategy{})
	r.Register(ArticleStrategy{})
	return r
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(s PageStrategy) {
	if r.strategies == nil {
		r.strategies = map[string]PageStrategy{}
	}
	r.strategies[s.Name()] = s
}

// Resolve returns a strategy by name or an error if it is absent.
func (r *Registry) Resolve(name string) (PageStrategy, error) {
	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("page strategy %s is not registered", name)
}

// PageExtractor parses HTML and delegates to the source's strategy.
type PageExtractor struct {
	strategies *Registry
}

func NewPageExtractor(strategies *Registry) *PageExtractor {
	if strategies == nil {
		strategies = DefaultRegistry()
	}
	return &PageExtractor{strategies: strategies}
}

func (e *PageExtractor) Extract(payload []byte, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error) {
	name := src.Structure
	if name == "" {
		name = DefaultStrategy
	}
	strategy, err := e.strategies.Resolve(name)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("source %s: bad url: %w", src.Name, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrStructureMissing, err)
	}
	seq, err := strategy.Extract(&Page{Doc: doc, Raw: payload, URL: base}, src, discoveredAt)
	if err != nil {
		return nil, err
	}
	return once(limit(seq, src.MaxItems)), nil
}
