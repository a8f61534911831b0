package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is written into every snapshot artifact.
const SchemaVersion = "1.0"

// StateMulti marks a source that covers several states.
const StateMulti = "multi"

// SourceCategory tells the extractor how to read a payload.
type SourceCategory string

const (
	CategoryFeed SourceCategory = "feed"
	CategoryPage SourceCategory = "page"
)

// Source describes one feed or page. Immutable once the registry is built.
type Source struct {
	Name     string         `yaml:"name" json:"name"`
	Category SourceCategory `yaml:"category" json:"category"`
	URL      string         `yaml:"url" json:"url"`
	State    string         `yaml:"state" json:"state"`
	// Kind is the default item kind for this source: news, bids, projects.
	Kind string `yaml:"kind" json:"kind,omitempty"`
	// Structure names the page strategy (links, table, article). Ignored for feeds.
	Structure string            `yaml:"structure" json:"structure,omitempty"`
	Options   map[string]string `yaml:"options" json:"options,omitempty"`
	// TolerateFailures marks sources that break often; their failures log at warn.
	TolerateFailures bool `yaml:"tolerate_failures" json:"tolerate_failures,omitempty"`
	MaxItems         int  `yaml:"max_items" json:"max_items,omitempty"`

	Order int `yaml:"-" json:"-"`
}

// Option returns a strategy option or def when unset.
func (s Source) Option(key, def string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// RawItem is one extracted unit before classification.
type RawItem struct {
	Title     string
	Summary   string
	Timestamp *time.Time
	Link      string
	Source    Source
}

// ClassifiedItem is the persisted record.
type ClassifiedItem struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	Link       string     `json:"link"`
	Timestamp  *time.Time `json:"timestamp"`
	State      string     `json:"state"`
	Categories []string   `json:"categories"`
	Score      float64    `json:"score"`
	Sources    []string   `json:"sources"`
	Kind       string     `json:"kind,omitempty"`
	Priority   string     `json:"priority,omitempty"`
}

// HealthStatus is the per-run outcome of one source.
type HealthStatus string

const (
	HealthOK     HealthStatus = "ok"
	HealthFailed HealthStatus = "failed"
	HealthEmpty  HealthStatus = "empty"
)

type SourceHealth struct {
	Status  HealthStatus `json:"status"`
	Detail  string       `json:"detail,omitempty"`
	Items   int          `json:"items"`
	Skipped int          `json:"skipped"`
}

// Stats summarises a snapshot for the dashboard header.
type Stats struct {
	ItemCount     int            `json:"item_count"`
	ByState       map[string]int `json:"by_state"`
	ByCategory    map[string]int `json:"by_category"`
	ByKind        map[string]int `json:"by_kind"`
	ByPriority    map[string]int `json:"by_priority"`
	SourcesTotal  int            `json:"sources_total"`
	SourcesFailed int            `json:"sources_failed"`
	SourcesEmpty  int            `json:"sources_empty"`
	Summary       string         `json:"summary"`
}

// Snapshot is the artifact of one pipeline run.
type Snapshot struct {
	Version      string                  `json:"version"`
	GeneratedAt  time.Time               `json:"generated_at"`
	RuleSet      string                  `json:"rule_set,omitempty"`
	Items        []ClassifiedItem        `json:"items"`
	SourceHealth map[string]SourceHealth `json:"source_health"`
	Stats        *Stats                  `json:"stats,omitempty"`
}

// FailedSources counts health entries with status failed.
func (s *Snapshot) FailedSources() int {
	n := 0
	for _, h := range s.SourceHealth {
		if h.Status == HealthFailed {
			n++
		}
	}
	return n
}

// Encode renders the snapshot as indented JSON with a trailing newline.
// encoding/json sorts map keys so identical snapshots encode identically.
func (s *Snapshot) Encode() ([]byte, error) {
	out := *s
	if out.Items == nil {
		out.Items = []ClassifiedItem{}
	}
	if out.SourceHealth == nil {
		out.SourceHealth = map[string]SourceHealth{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses an artifact produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}
