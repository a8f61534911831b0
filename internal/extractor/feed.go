package extractor

import (
	"bytes"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/processor"
)

// FeedExtractor reads RSS, Atom and JSON Feed documents.
type FeedExtractor struct{}

func NewFeedExtractor() *FeedExtractor { return &FeedExtractor{} }

// Extract parses the document up front so that syntax errors surface as a
// structure failure; entries are converted lazily.
func (e *FeedExtractor) Extract(payload []byte, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %v", ErrStructureMissing, err)
	}

	seq := func(yield func(domain.RawItem) bool) {
		for _, entry := range feed.Items {
			if entry == nil {
				continue
			}
			item, ok := feedItem(entry, src, discoveredAt)
			if !ok {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
	return once(limit(seq, src.MaxItems)), nil
}

func feedItem(entry *gofeed.Item, src domain.Source, discoveredAt time.Time) (domain.RawItem, bool) {
	title := processor.CleanText(entry.Title)
	if title == "" {
		return domain.RawItem{}, false
	}
	summary := entry.Description
	if strings.TrimSpace(summary) == "" {
		summary = entry.Content
	}
	link := strings.TrimSpace(entry.Link)
	if link == "" && strings.HasPrefix(entry.GUID, "http") {
		link = entry.GUID
	}

	ts := discoveredAt
	switch {
	case entry.PublishedParsed != nil:
		ts = *entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		ts = *entry.UpdatedParsed
	}

	return domain.RawItem{
		Title:     title,
		Summary:   processor.Summary(summary),
		Timestamp: timePtr(ts),
		Link:      link,
		Source:    src,
	}, true
}
