package classifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MatchMode controls how a keyword is matched against item text.
type MatchMode string

const (
	// MatchWord matches on word boundaries and tolerates a plural suffix.
	MatchWord MatchMode = "word"
	// MatchPrefix matches words starting with the term.
	MatchPrefix MatchMode = "prefix"
	// MatchSubstring matches anywhere.
	MatchSubstring MatchMode = "substring"
)

// Keyword is one weighted matcher. In YAML a bare string is accepted and
// takes the enclosing group's weight and the word mode.
type Keyword struct {
	Term   string    `yaml:"term"`
	Weight float64   `yaml:"weight"`
	Match  MatchMode `yaml:"match"`
}

func (k *Keyword) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		k.Term = value.Value
		return nil
	}
	type plain Keyword
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*k = Keyword(p)
	return nil
}

// Group is a named keyword list: a business-line category or a signal.
type Group struct {
	Name     string    `yaml:"name"`
	Weight   float64   `yaml:"weight"`
	Keywords []Keyword `yaml:"keywords"`
}

// StatePattern lists phrases that place an item in a state.
type StatePattern struct {
	State    string   `yaml:"state"`
	Patterns []string `yaml:"patterns"`
}

// RuleSet is the versioned classification configuration.
type RuleSet struct {
	Name       string         `yaml:"name"`
	Version    string         `yaml:"version"`
	Categories []Group        `yaml:"categories"`
	Signals    []Group        `yaml:"signals"`
	States     []StatePattern `yaml:"states"`
	// ProjectCategories are the categories that make an item a DOT project
	// when no signal matched.
	ProjectCategories []string `yaml:"project_categories"`
}

// ID is the label stamped into snapshots, e.g. "necmis@3.1".
func (r RuleSet) ID() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// Validate reports structural problems before compilation.
func (r RuleSet) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("rule set: empty name"))
	}
	if len(r.Categories) == 0 {
		errs = append(errs, errors.New("rule set: no categories"))
	}
	seen := map[string]struct{}{}
	for _, g := range append(append([]Group(nil), r.Categories...), r.Signals...) {
		if g.Name == "" {
			errs = append(errs, errors.New("rule set: group without name"))
			continue
		}
		if _, dup := seen[g.Name]; dup {
			errs = append(errs, fmt.Errorf("rule set: duplicate group %q", g.Name))
		}
		seen[g.Name] = struct{}{}
		if len(g.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("rule set: group %q has no keywords", g.Name))
		}
		for _, k := range g.Keywords {
			if strings.TrimSpace(k.Term) == "" {
				errs = append(errs, fmt.Errorf("rule set: group %q has an empty keyword", g.Name))
			}
			switch k.Match {
			case "", MatchWord, MatchPrefix, MatchSubstring:
			default:
				errs = append(errs, fmt.Errorf("rule set: keyword %q: unknown match mode %q", k.Term, k.Match))
			}
		}
	}
	cats := make(map[string]struct{}, len(r.Categories))
	for _, g := range r.Categories {
		cats[g.Name] = struct{}{}
	}
	for _, name := range r.ProjectCategories {
		if _, ok := cats[name]; !ok {
			errs = append(errs, fmt.Errorf("rule set: project category %q is not a category", name))
		}
	}
	return errors.Join(errs...)
}

type matcher struct {
	term   string
	weight float64
	re     *regexp.Regexp
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func compileKeyword(k Keyword, groupWeight float64) (matcher, error) {
	term := strings.ToLower(strings.TrimSpace(k.Term))
	weight := k.Weight
	if weight == 0 {
		weight = groupWeight
	}
	if weight == 0 {
		weight = 1
	}

	expr := regexp.QuoteMeta(term)
	mode := k.Match
	if mode == "" {
		mode = MatchWord
	}
	lead, trail := "", ""
	if isWordByte(term[0]) {
		lead = `\b`
	}
	if isWordByte(term[len(term)-1]) {
		trail = `\b`
	}
	switch mode {
	case MatchWord:
		expr = lead + expr + `(?:s|es)?` + trail
	case MatchPrefix:
		expr = lead + expr
	case MatchSubstring:
	}
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return matcher{}, fmt.Errorf("keyword %q: %w", k.Term, err)
	}
	return matcher{term: term, weight: weight, re: re}, nil
}

type compiledGroup struct {
	name     string
	matchers []matcher
}

func compileGroup(g Group) (compiledGroup, error) {
	cg := compiledGroup{name: g.Name}
	for _, k := range g.Keywords {
		m, err := compileKeyword(k, g.Weight)
		if err != nil {
			return compiledGroup{}, fmt.Errorf("group %q: %w", g.Name, err)
		}
		cg.matchers = append(cg.matchers, m)
	}
	return cg, nil
}

// match returns the summed weight of every keyword found in text.
func (g compiledGroup) match(text string) (float64, bool) {
	var sum float64
	hit := false
	for _, m := range g.matchers {
		if m.re.MatchString(text) {
			sum += m.weight
			hit = true
		}
	}
	return sum, hit
}
