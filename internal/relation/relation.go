// Package relation infers relations between resources from matching rules.
package relation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Selector picks resources of one kind whose metadata key has a given value.
// Value is matched exactly unless it contains glob metacharacters.
type Selector struct {
	Kind      string
	MetaKey   string
	MetaValue string
}

// Rule relates every resource selected by Source to every resource selected by Target.
// Relations are directed. When Source and Target differ but both select the same two
// resources A and B, as overlapping patterns can, the rule yields A->B and B->A.
type Rule struct {
	Name   string
	Source Selector
	Target Selector
}

// Symmetric reports whether both sides select the same set, in which case
// each unordered pair is related once.
func (r Rule) Symmetric() bool {
	return r.Source == r.Target
}

type matcher struct {
	sel  Selector
	glob glob.Glob
}

func isPattern(v string) bool {
	return strings.ContainsAny(v, "*?[{")
}

func newMatcher(sel Selector) (matcher, error) {
	m := matcher{sel: sel}
	if isPattern(sel.MetaValue) {
		g, err := glob.Compile(sel.MetaValue)
		if err != nil {
			return m, fmt.Errorf("compile pattern %q: %w", sel.MetaValue, err)
		}
		m.glob = g
	}
	return m, nil
}

type compiledRule struct {
	rule   Rule
	source matcher
	target matcher
}

// Engine evaluates a fixed set of rules.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles the rules.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		src, err := newMatcher(r.Source)
		if err != nil {
			return nil, fmt.Errorf("rule %s source: %w", r.Name, err)
		}
		dst, err := newMatcher(r.Target)
		if err != nil {
			return nil, fmt.Errorf("rule %s target: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiledRule{rule: r, source: src, target: dst})
	}
	return e, nil
}

// RulesFromConfig converts relation criteria into rules.
func RulesFromConfig(criteria []config.RelationCriteria) []Rule {
	rules := make([]Rule, 0, len(criteria))
	for _, c := range criteria {
		rules = append(rules, Rule{
			Name:   c.Name,
			Source: Selector{Kind: c.Source.Kind, MetaKey: c.Source.MetaKey, MetaValue: c.Source.MetaValue},
			Target: Selector{Kind: c.Target.Kind, MetaKey: c.Target.MetaKey, MetaValue: c.Target.MetaValue},
		})
	}
	return rules
}

// Len returns the number of rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

type kindKey struct {
	kind, key string
}

type kindKeyValue struct {
	kind, key, value string
}

// index holds resource positions by (kind, key) and by (kind, key, value).
type index struct {
	resources []resource.Resource
	byKey     map[kindKey][]int
	byValue   map[kindKeyValue][]int
}

func buildIndex(resources []resource.Resource) *index {
	sorted := make([]resource.Resource, len(resources))
	copy(sorted, resources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identity().Less(sorted[j].Identity()) })

	idx := &index{
		resources: sorted,
		byKey:     make(map[kindKey][]int),
		byValue:   make(map[kindKeyValue][]int),
	}
	for i, r := range sorted {
		for k, v := range r.MetaData {
			idx.byKey[kindKey{r.Kind, k}] = append(idx.byKey[kindKey{r.Kind, k}], i)
			idx.byValue[kindKeyValue{r.Kind, k, v}] = append(idx.byValue[kindKeyValue{r.Kind, k, v}], i)
		}
	}
	return idx
}

// selectIDs returns positions (ascending) of resources matched by m.
func (idx *index) selectIDs(m matcher) []int {
	if m.glob == nil {
		return idx.byValue[kindKeyValue{m.sel.Kind, m.sel.MetaKey, m.sel.MetaValue}]
	}

	var out []int
	for _, i := range idx.byKey[kindKey{m.sel.Kind, m.sel.MetaKey}] {
		if m.glob.Match(idx.resources[i].MetaData[m.sel.MetaKey]) {
			out = append(out, i)
		}
	}
	return out
}

// Infer computes the relation set for resources. Output is de-duplicated and ordered by key.
// A resource is never related to itself.
func (e *Engine) Infer(resources []resource.Resource) []resource.Relation {
	idx := buildIndex(resources)

	seen := make(map[string]struct{})
	var out []resource.Relation
	emit := func(rule string, src, dst resource.Resource) {
		if src.Key() == dst.Key() {
			return
		}
		rel := resource.Relation{Rule: rule, Source: src.Identity(), Target: dst.Identity()}
		if _, ok := seen[rel.Key()]; ok {
			return
		}
		seen[rel.Key()] = struct{}{}
		out = append(out, rel)
	}

	for _, cr := range e.rules {
		sources := idx.selectIDs(cr.source)
		if len(sources) == 0 {
			continue
		}

		if cr.rule.Symmetric() {
			for a := 0; a < len(sources); a++ {
				for b := a + 1; b < len(sources); b++ {
					emit(cr.rule.Name, idx.resources[sources[a]], idx.resources[sources[b]])
				}
			}
			continue
		}

		targets := idx.selectIDs(cr.target)
		for _, s := range sources {
			for _, t := range targets {
				emit(cr.rule.Name, idx.resources[s], idx.resources[t])
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
