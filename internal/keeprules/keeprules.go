// Package keeprules implements the Keep-Rule Engine (spec.md §4.3): an
// ordered list of regex-pattern rules loaded from images-keep.json that
// decide whether a tag or repository survives eviction regardless of
// usage. It generalizes original_source/keeprules.py's keep_by_rule /
// keep_repo_by_rule / load_keep_list into a Ruleset type instead of
// module-global state, since K may be loaded once and consulted
// concurrently by many Evictor goroutines (spec.md §5).
package keeprules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/vgnett/registry-gc/internal/model"
)

// Error is a fatal configuration error raised while loading or validating
// a ruleset (spec.md §7 KeepRuleError). Unlike the Python original's
// sys.exit, this is returned so the caller decides how to report it.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

type compiledRule struct {
	pattern *regexp.Regexp
	keep    model.KeepPolicy
}

// Ruleset is a validated, ordered sequence of compiled keep rules.
type Ruleset struct {
	rules []compiledRule
}

// Load reads path (images-keep.json) and returns a validated Ruleset. A
// missing file is not an error — it yields an empty Ruleset, matching
// load_keep_list's FileNotFoundError handling. Malformed JSON or an
// invalid rule is a fatal *Error.
func Load(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Ruleset{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw []model.KeepRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("%s is not valid JSON: %v", path, err)}
	}

	return New(raw)
}

// New validates rawRules and compiles each pattern, returning a ready-to-use
// Ruleset. This is the "no-op call against an unmatchable repo name" check
// the original does after loading, made explicit and exhaustive: every rule
// is validated up front instead of only the ones a probe call happens to
// reach.
func New(rawRules []model.KeepRule) (*Ruleset, error) {
	rs := &Ruleset{rules: make([]compiledRule, 0, len(rawRules))}
	for i, r := range rawRules {
		if r.Pattern == "" {
			return nil, &Error{Msg: fmt.Sprintf("rule %d has no pattern", i)}
		}
		switch r.Keep {
		case model.KeepAll, model.KeepLatest, model.KeepNone:
		default:
			return nil, &Error{Msg: fmt.Sprintf("rule %d: invalid keep %q", i, r.Keep)}
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, &Error{Msg: fmt.Sprintf("rule %d: invalid pattern %q: %v", i, r.Pattern, err)}
		}
		rs.rules = append(rs.rules, compiledRule{pattern: re, keep: r.Keep})
	}
	return rs, nil
}

// KeepTag reports whether repo:tag must be kept regardless of usage: the
// first rule whose pattern matches repo decides, and it keeps the tag iff
// its policy is "all", or "latest" and tag == "latest" (spec.md §4.3).
func (rs *Ruleset) KeepTag(repo, tag string) bool {
	if rs == nil {
		return false
	}
	for _, r := range rs.rules {
		if !r.pattern.MatchString(repo) {
			continue
		}
		switch r.keep {
		case model.KeepAll:
			return true
		case model.KeepLatest:
			return tag == "latest"
		case model.KeepNone:
			return false
		}
	}
	return false
}

// KeepRepo reports whether repo has any keep-worthy tags: the first
// matching rule decides, and a "none" match halts evaluation and returns
// false (spec.md §4.3).
func (rs *Ruleset) KeepRepo(repo string) bool {
	if rs == nil {
		return false
	}
	for _, r := range rs.rules {
		if !r.pattern.MatchString(repo) {
			continue
		}
		if r.keep == model.KeepNone {
			return false
		}
		return true
	}
	return false
}

// Len reports how many rules are loaded.
func (rs *Ruleset) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}
