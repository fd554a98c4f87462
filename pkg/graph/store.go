// Package graph maintains the registered rule set and flattens requested
// targets plus their transitive dependencies into the ordered closure the
// schedulers execute.
package graph

import (
	"errors"
	"fmt"

	"github.com/kilnbuild/kiln/pkg/memo"
	"github.com/kilnbuild/kiln/pkg/rule"
)

// Configuration errors raised synchronously at registration or assembly
// time, never during scheduling.
var (
	ErrDuplicateOutput = errors.New("graph: output path already produced by another rule")
	ErrCrossStore      = errors.New("graph: targets reference more than one rule store")
	ErrCycle           = errors.New("graph: dependency cycle")
	ErrUnknownRule     = errors.New("graph: unknown rule id")
)

// Store owns the rules of one build tree and assigns their integer ids.
// Ids are only meaningful within the store that issued them.
type Store struct {
	codec     memo.Codec
	hashes    *memo.HashCache
	rules     []*rule.Rule
	producers map[string]int
}

// NewStore creates an empty rule store. A nil codec selects the
// hash-of-string memo encoding.
func NewStore(codec memo.Codec) *Store {
	if codec == nil {
		codec = memo.NewStringHashCodec()
	}
	return &Store{
		codec:     codec,
		hashes:    memo.NewHashCache(),
		producers: make(map[string]int),
	}
}

// HashCache returns the content-hash cache shared by this store's rules.
func (s *Store) HashCache() *memo.HashCache { return s.hashes }

// Add registers a rule definition, infers its dependency edges from
// producer lookups over the inputs, and returns the constructed rule.
// Producers must be registered before their consumers. Duplicate output
// paths and zero-output definitions are rejected here.
func (s *Store) Add(def rule.Def) (*rule.Rule, error) {
	if len(def.Outputs) == 0 {
		return nil, fmt.Errorf("rule %q: at least one output is required", def.Name)
	}
	seen := make(map[string]bool, len(def.Outputs))
	for _, out := range def.Outputs {
		if out.Path == "" {
			return nil, fmt.Errorf("rule %q: output with empty path", def.Name)
		}
		if seen[out.Path] {
			return nil, fmt.Errorf("%w: %s (within rule %q)", ErrDuplicateOutput, out.Path, def.Name)
		}
		seen[out.Path] = true
		if owner, ok := s.producers[out.Path]; ok {
			return nil, fmt.Errorf("%w: %s (rule %q and rule %q)",
				ErrDuplicateOutput, out.Path, s.rules[owner].Name(), def.Name)
		}
	}

	inputs := make([]rule.Input, len(def.Inputs))
	depSet := make(map[int]bool)
	for i, in := range def.Inputs {
		producer, produced := s.producers[in.Path]
		inputs[i] = rule.Input{File: in, Original: !produced}
		if produced {
			depSet[producer] = true
		}
	}
	deps := make([]int, 0, len(depSet))
	for id := range depSet {
		deps = append(deps, id)
	}

	id := len(s.rules)
	r, err := rule.New(id, def, inputs, deps, s.codec, s.hashes)
	if err != nil {
		return nil, err
	}

	s.rules = append(s.rules, r)
	for _, out := range def.Outputs {
		s.producers[out.Path] = id
	}
	return r, nil
}

// Rule returns the rule with the given id.
func (s *Store) Rule(id int) (*rule.Rule, error) {
	if id < 0 || id >= len(s.rules) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRule, id)
	}
	return s.rules[id], nil
}

// Len returns the number of registered rules.
func (s *Store) Len() int { return len(s.rules) }

// Rules returns all registered rules in id order.
func (s *Store) Rules() []*rule.Rule { return s.rules }

// Target names a set of rules to build. A front-end group is anything that
// can yield a flat id set over one store.
type Target interface {
	// TargetStore is the store the ids belong to.
	TargetStore() *Store

	// RuleIDs is the flat set of requested rule ids.
	RuleIDs() []int
}

// idTarget is the trivial Target over explicit ids.
type idTarget struct {
	store *Store
	ids   []int
}

func (t idTarget) TargetStore() *Store { return t.store }
func (t idTarget) RuleIDs() []int      { return t.ids }

// Target wraps explicit rule ids as a Target for this store.
func (s *Store) Target(ids ...int) Target {
	return idTarget{store: s, ids: ids}
}

// RuleTarget wraps rules as a Target for this store.
func (s *Store) RuleTarget(rules ...*rule.Rule) Target {
	ids := make([]int, len(rules))
	for i, r := range rules {
		ids[i] = r.ID()
	}
	return idTarget{store: s, ids: ids}
}
