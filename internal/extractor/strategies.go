package extractor

import (
	"bytes"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/processor"
)

var (
	listingKeywords = []string{
		"project", "bid", "construction", "highway", "bridge", "contract",
		"award", "route", "i-", "us-", "sr-", "letting",
	}
	navigationWords = []string{
		"privacy", "contact us", "home", "menu", "login", "search",
		"skip to", "accessibility", "footer",
	}
)

func listingSummary(src domain.Source) string {
	return fmt.Sprintf("%s DOT %s listing", src.State, src.Kind)
}

func optionList(src domain.Source, key string, def []string) []string {
	raw := src.Option(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// LinksStrategy scans anchors inside a container and keeps the ones whose
// text looks like a project or bid listing.
//
// Options: container (CSS, default "body"), keywords and skip (comma lists).
type LinksStrategy struct{}

func (LinksStrategy) Name() string { return "links" }

func (LinksStrategy) Extract(page *Page, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error) {
	sel := src.Option("container", "body")
	container := page.Doc.Find(sel)
	if container.Length() == 0 {
		return nil, fmt.Errorf("%w: container %q", ErrStructureMissing, sel)
	}
	keywords := optionList(src, "keywords", listingKeywords)
	skip := optionList(src, "skip", navigationWords)
	summary := listingSummary(src)

	return func(yield func(domain.RawItem) bool) {
		seen := make(map[string]struct{})
		container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			text := strings.Join(strings.Fields(a.Text()), " ")
			if n := utf8.RuneCountInString(text); n < 10 || n > 250 {
				return true
			}
			lower := strings.ToLower(text)
			if containsAny(lower, skip) || !containsAny(lower, keywords) {
				return true
			}
			href, _ := a.Attr("href")
			link := page.Resolve(strings.TrimSpace(href))
			if link == "" {
				return true
			}
			if _, dup := seen[link]; dup {
				return true
			}
			seen[link] = struct{}{}
			return yield(domain.RawItem{
				Title:     text,
				Summary:   summary,
				Timestamp: timePtr(discoveredAt),
				Link:      link,
				Source:    src,
			})
		})
	}, nil
}

// TableStrategy reads bid-listing rows.
//
// Options: row (required), title, link (default "a[href]"), date, summary.
// Missing title falls back to the link text; unparsable dates to the
// discovery time.
type TableStrategy struct{}

func (TableStrategy) Name() string { return "table" }

func (TableStrategy) Extract(page *Page, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error) {
	rowSel := src.Option("row", "")
	if rowSel == "" {
		return nil, fmt.Errorf("source %s: table strategy needs a row selector", src.Name)
	}
	rows := page.Doc.Find(rowSel)
	if rows.Length() == 0 {
		return nil, fmt.Errorf("%w: rows %q", ErrStructureMissing, rowSel)
	}
	titleSel := src.Option("title", "")
	linkSel := src.Option("link", "a[href]")
	dateSel := src.Option("date", "")
	summarySel := src.Option("summary", "")
	fallbackSummary := listingSummary(src)

	return func(yield func(domain.RawItem) bool) {
		rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
			anchor := row.Find(linkSel).First()
			title := ""
			if titleSel != "" {
				title = cellText(row.Find(titleSel))
			}
			if title == "" {
				title = cellText(anchor)
			}
			if title == "" {
				return true
			}

			link := page.URL.String()
			if href, ok := anchor.Attr("href"); ok {
				if abs := page.Resolve(strings.TrimSpace(href)); abs != "" {
					link = abs
				}
			}

			ts := discoveredAt
			if dateSel != "" {
				if raw := cellText(row.Find(dateSel)); raw != "" {
					if parsed, err := dateparse.ParseIn(raw, time.UTC); err == nil {
						ts = parsed
					}
				}
			}

			summary := fallbackSummary
			if summarySel != "" {
				if s := cellText(row.Find(summarySel)); s != "" {
					summary = processor.Summary(s)
				}
			}

			return yield(domain.RawItem{
				Title:     title,
				Summary:   summary,
				Timestamp: timePtr(ts),
				Link:      link,
				Source:    src,
			})
		})
	}, nil
}

func cellText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(s.First().Text()), " ")
}

// ArticleStrategy reduces a single press-release page to one item.
type ArticleStrategy struct{}

func (ArticleStrategy) Name() string { return "article" }

func (ArticleStrategy) Extract(page *Page, src domain.Source, discoveredAt time.Time) (iter.Seq[domain.RawItem], error) {
	article, err := readability.FromReader(bytes.NewReader(page.Raw), page.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: readability: %v", ErrStructureMissing, err)
	}
	title := processor.CleanText(article.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: article title", ErrStructureMissing)
	}
	summary := article.Excerpt
	if strings.TrimSpace(summary) == "" {
		summary = article.TextContent
	}
	item := domain.RawItem{
		Title:     title,
		Summary:   processor.Summary(summary),
		Timestamp: timePtr(discoveredAt),
		Link:      page.URL.String(),
		Source:    src,
	}
	return func(yield func(domain.RawItem) bool) {
		yield(item)
	}, nil
}
