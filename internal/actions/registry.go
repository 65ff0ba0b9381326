package actions

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultLabelPrefix prefixes every action label unless configured otherwise.
const DefaultLabelPrefix = "ai-"

// Factory builds an action for a label prefix.
type Factory func(prefix string) Action

// Builtins lists every action the daemon ships with.
func Builtins() []Factory {
	return []Factory{
		newInvestigate,
		newImpact,
		newRecommend,
		newFix,
		newImplement,
		newCodeReview,
		newSecurityReview,
	}
}

// Registry maps trigger labels to actions. It is built once at startup and
// read-only afterwards.
type Registry struct {
	prefix  string
	actions map[string]Action
}

// NewRegistry builds a registry from factories, or from Builtins when none
// are given. Two actions claiming the same label is an error.
func NewRegistry(prefix string, factories ...Factory) (*Registry, error) {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultLabelPrefix
	}
	if len(factories) == 0 {
		factories = Builtins()
	}

	r := &Registry{prefix: prefix, actions: make(map[string]Action, len(factories))}
	for _, f := range factories {
		a := f(prefix)
		label := a.Descriptor().Label
		if _, dup := r.actions[label]; dup {
			return nil, fmt.Errorf("duplicate action label %q", label)
		}
		r.actions[label] = a
	}
	return r, nil
}

// Prefix returns the label prefix.
func (r *Registry) Prefix() string { return r.prefix }

// Route returns the action for label. Unknown labels are not an error; the
// daemon ignores them.
func (r *Registry) Route(label string) (Action, bool) {
	a, ok := r.actions[label]
	return a, ok
}

// Labels returns every recognized label in sorted order.
func (r *Registry) Labels() []string {
	labels := make([]string, 0, len(r.actions))
	for l := range r.actions {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Descriptors returns the descriptors of every action, sorted by label.
func (r *Registry) Descriptors() []Descriptor {
	labels := r.Labels()
	out := make([]Descriptor, 0, len(labels))
	for _, l := range labels {
		out = append(out, r.actions[l].Descriptor())
	}
	return out
}
