package extractor

import (
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

// ErrStructureMissing means the payload parsed but the expected layout was
// not there, usually after a site redesign.
var ErrStructureMissing = errors.New("expected structure not found")

// Extractor turns a fetched payload into raw items. The returned sequence is
// lazy and can be ranged over once.
type Extractor interface {
	Extract(payload []byte, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error)
}

// Dispatcher routes each source to the feed or page extractor.
type Dispatcher struct {
	feed *FeedExtractor
	page *PageExtractor
}

func New(strategies *Registry) *Dispatcher {
	return &Dispatcher{feed: NewFeedExtractor(), page: NewPageExtractor(strategies)}
}

func (d *Dispatcher) Extract(payload []byte, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error) {
	switch src.Category {
	case domain.CategoryFeed:
		return d.feed.Extract(payload, src, discoveredAt)
	case domain.CategoryPage:
		return d.page.Extract(payload, src, discoveredAt)
	}
	return nil, fmt.Errorf("source %s: unsupported category %q", src.Name, src.Category)
}

// once wraps seq so that a second range yields nothing.
func once(seq iter.Seq[domain.RawItem]) iter.Seq[domain.RawItem] {
	var used atomic.Bool
	return func(yield func(domain.RawItem) bool) {
		if used.Swap(true) {
			return
		}
		seq(yield)
	}
}

// limit stops after max items; max <= 0 means unbounded.
func limit(seq iter.Seq[domain.RawItem], max int) iter.Seq[domain.RawItem] {
	if max <= 0 {
		return seq
	}
	return func(yield func(domain.RawItem) bool) {
		n := 0
		for it := range seq {
			if !yield(it) {
				return
			}
			n++
			if n >= max {
				return
			}
		}
	}
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
