package cache

import (
	"fmt"
	"regexp"
)

// ExclusionList holds model names whose responses must never be cached.
// Typical use is keeping moving aliases (e.g. "-latest" models) out of the
// cache so a snapshot change is visible immediately.
//
// A rule is either an exact model name or a regular expression tested
// against the model name. A nil *ExclusionList matches nothing.
type ExclusionList struct {
	rules []exclusionRule
}

type exclusionRule struct {
	exact string
	re    *regexp.Regexp
}

// NewExclusionList builds an ExclusionList from exact model names and regex
// patterns. Empty entries are skipped. An invalid pattern is a startup
// error, not a silently dropped rule.
func NewExclusionList(exact, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{rules: make([]exclusionRule, 0, len(exact)+len(patterns))}

	for _, name := range exact {
		if name == "" {
			continue
		}
		el.rules = append(el.rules, exclusionRule{exact: name})
	}

	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache exclusion: invalid pattern %q: %w", p, err)
		}
		el.rules = append(el.rules, exclusionRule{re: re})
	}

	return el, nil
}

// Matches reports whether model is excluded from caching.
func (el *ExclusionList) Matches(model string) bool {
	if el == nil {
		return false
	}
	for _, r := range el.rules {
		if r.re != nil {
			if r.re.MatchString(model) {
				return true
			}
		} else if r.exact == model {
			return true
		}
	}
	return false
}

// Len returns the number of configured rules.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.rules)
}
