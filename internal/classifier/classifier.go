package classifier

import (
	"math"
	"sort"
	"strings"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/processor"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	// KindDOTProject marks project-category items with no bid or funding signal.
	KindDOTProject = "dot_project"

	defaultHighScore   = 5
	defaultMediumScore = 2
)

// Options are the scoring knobs kept outside the rule set.
type Options struct {
	PriorityStates     []string
	PriorityMultiplier float64
	// HighScore and MediumScore are the tier cut-offs; zero uses 5 and 2.
	HighScore   float64
	MediumScore float64
}

// Classifier scores raw items against a compiled rule set. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	ruleSet    string
	categories []compiledGroup
	signals    []compiledGroup
	states     []StatePattern
	projects   map[string]struct{}
	priority   map[string]struct{}
	multiplier float64
	high       float64
	medium     float64
}

func New(rs RuleSet, opts Options) (*Classifier, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		ruleSet:    rs.ID(),
		priority:   make(map[string]struct{}, len(opts.PriorityStates)),
		projects:   make(map[string]struct{}, len(rs.ProjectCategories)),
		multiplier: opts.PriorityMultiplier,
		high:       opts.HighScore,
		medium:     opts.MediumScore,
	}
	if c.multiplier <= 0 {
		c.multiplier = 1
	}
	if c.high <= 0 {
		c.high = defaultHighScore
	}
	if c.medium <= 0 {
		c.medium = defaultMediumScore
	}
	for _, name := range rs.ProjectCategories {
		c.projects[name] = struct{}{}
	}
	for _, s := range opts.PriorityStates {
		c.priority[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	for _, g := range rs.Categories {
		cg, err := compileGroup(g)
		if err != nil {
			return nil, err
		}
		c.categories = append(c.categories, cg)
	}
	for _, g := range rs.Signals {
		cg, err := compileGroup(g)
		if err != nil {
			return nil, err
		}
		c.signals = append(c.signals, cg)
	}
	for _, sp := range rs.States {
		lower := StatePattern{State: sp.State}
		for _, p := range sp.Patterns {
			lower.Patterns = append(lower.Patterns, strings.ToLower(p))
		}
		c.states = append(c.states, lower)
	}
	return c, nil
}

// RuleSet returns the name@version of the compiled rules.
func (c *Classifier) RuleSet() string { return c.ruleSet }

// Classify returns the classified item, or false when no business line
// matched and the item should be skipped.
func (c *Classifier) Classify(raw domain.RawItem) (domain.ClassifiedItem, bool) {
	text := strings.ToLower(raw.Title + " " + raw.Summary)

	var (
		score float64
		cats  []string
	)
	for _, g := range c.categories {
		if w, ok := g.match(text); ok {
			score += w
			cats = append(cats, g.name)
		}
	}
	if len(cats) == 0 {
		return domain.ClassifiedItem{}, false
	}

	kind := ""
	for _, g := range c.signals {
		if w, ok := g.match(text); ok {
			score += w
			if kind == "" {
				kind = g.name
			}
		}
	}
	if kind == "" && c.isProject(cats) {
		kind = KindDOTProject
	}
	if kind == "" {
		kind = raw.Source.Kind
	}
	if kind == "" {
		kind = "news"
	}

	state := raw.Source.State
	if state == "" || state == domain.StateMulti {
		state = c.detectState(text)
	}
	if _, ok := c.priority[state]; ok {
		score *= c.multiplier
	}

	score = math.Round(score*100) / 100
	link := processor.CanonicalLink(raw.Link)
	item := domain.ClassifiedItem{
		ID:         processor.StableID(raw.Title, raw.Link),
		Title:      raw.Title,
		Summary:    raw.Summary,
		Link:       link,
		State:      state,
		Categories: sortStrings(cats),
		Score:      score,
		Sources:    []string{raw.Source.Name},
		Kind:       kind,
		Priority:   c.Tier(score),
	}
	if raw.Timestamp != nil {
		ts := raw.Timestamp.UTC()
		item.Timestamp = &ts
	}
	return item, true
}

// Tier maps a score onto the high/medium/low priority bands.
func (c *Classifier) Tier(score float64) string {
	switch {
	case score >= c.high:
		return PriorityHigh
	case score >= c.medium:
		return PriorityMedium
	}
	return PriorityLow
}

func (c *Classifier) isProject(cats []string) bool {
	for _, name := range cats {
		if _, ok := c.projects[name]; ok {
			return true
		}
	}
	return false
}

// detectState picks the state with the most pattern hits. Ties go to the
// state listed first; no hit leaves the item multi-state.
func (c *Classifier) detectState(text string) string {
	padded := " " + text + " "
	best, bestHits := domain.StateMulti, 0
	for _, sp := range c.states {
		hits := 0
		for _, p := range sp.Patterns {
			if strings.Contains(padded, p) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = sp.State, hits
		}
	}
	return best
}

func sortStrings(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
