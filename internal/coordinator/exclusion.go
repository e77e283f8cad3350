package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/profile"
)

// Rule discards captures from a process, a window title pattern, or both.
// A rule with both fields set needs both to match.
type Rule struct {
	Process string `mapstructure:"process" json:"process,omitempty"`
	Title   string `mapstructure:"title" json:"title,omitempty"`
}

func (r Rule) String() string {
	switch {
	case r.Process != "" && r.Title != "":
		return fmt.Sprintf("%s/%q", r.Process, r.Title)
	case r.Process != "":
		return r.Process
	default:
		return fmt.Sprintf("%q", r.Title)
	}
}

type compiledRule struct {
	rule    Rule
	process string
	title   glob.Glob
}

// ExclusionList matches capture sources against rules, case-insensitively.
type ExclusionList struct {
	rules []compiledRule
}

// NewExclusionList compiles rules. Rules with neither field set are
// rejected.
func NewExclusionList(rules []Rule) (*ExclusionList, error) {
	l := &ExclusionList{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if strings.TrimSpace(r.Process) == "" && strings.TrimSpace(r.Title) == "" {
			return nil, errors.New("exclusion rule has neither process nor title")
		}
		c := compiledRule{rule: r}
		if r.Process != "" {
			c.process = profile.NormalizeApp(r.Process)
		}
		if r.Title != "" {
			g, err := glob.Compile(strings.ToLower(r.Title))
			if err != nil {
				return nil, fmt.Errorf("exclusion title pattern %q: %w", r.Title, err)
			}
			c.title = g
		}
		l.rules = append(l.rules, c)
	}
	return l, nil
}

// RulesFromFilters converts stored application filters into rules.
func RulesFromFilters(rows []model.ExclusionFilter) []Rule {
	out := make([]Rule, 0, len(rows))
	for _, r := range rows {
		if !r.Enabled {
			continue
		}
		out = append(out, Rule{Process: r.Process, Title: r.TitlePattern})
	}
	return out
}

// Match returns the first rule matching src.
func (l *ExclusionList) Match(src clip.Source) (Rule, bool) {
	if l == nil {
		return Rule{}, false
	}
	app := profile.NormalizeApp(src.App)
	title := strings.ToLower(src.Title)
	for _, c := range l.rules {
		if c.process != "" && c.process != app {
			continue
		}
		if c.title != nil && !c.title.Match(title) {
			continue
		}
		return c.rule, true
	}
	return Rule{}, false
}

// Len returns the number of rules.
func (l *ExclusionList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rules)
}
