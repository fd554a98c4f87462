package graph

import (
	"fmt"
	"sort"

	"github.com/kilnbuild/kiln/pkg/rule"
)

// Closure is the result of target assembly: the requested rules plus every
// transitive dependency, in an order where dependencies precede dependents.
type Closure struct {
	store     *Store
	order     []int
	requested map[int]bool
}

// Store returns the rule store the closure was assembled from.
func (c *Closure) Store() *Store { return c.store }

// Order returns rule ids in dependency order.
func (c *Closure) Order() []int { return c.order }

// Len returns the number of rules in the closure.
func (c *Closure) Len() int { return len(c.order) }

// Requested reports whether the rule was named directly by a target rather
// than pulled in as a dependency.
func (c *Closure) Requested(id int) bool { return c.requested[id] }

// Rule returns the rule with the given id from the underlying store.
func (c *Closure) Rule(id int) *rule.Rule {
	r, err := c.store.Rule(id)
	if err != nil {
		panic(err)
	}
	return r
}

// visit markers for the depth-first walk.
const (
	unvisited = iota
	visiting
	visited
)

// Assemble flattens the targets into a dependency-ordered closure. All
// targets must belong to the same store; mixing stores is a configuration
// error, as is a dependency cycle.
func Assemble(targets ...Target) (*Closure, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("graph: no targets given")
	}
	store := targets[0].TargetStore()
	requested := make(map[int]bool)
	var roots []int
	for _, t := range targets {
		if t.TargetStore() != store {
			return nil, ErrCrossStore
		}
		for _, id := range t.RuleIDs() {
			if _, err := store.Rule(id); err != nil {
				return nil, err
			}
			if !requested[id] {
				requested[id] = true
				roots = append(roots, id)
			}
		}
	}
	sort.Ints(roots)

	state := make(map[int]int, len(roots))
	order := make([]int, 0, len(roots))

	var walk func(id int) error
	walk = func(id int) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			r, _ := store.Rule(id)
			return fmt.Errorf("%w involving rule %q", ErrCycle, r.Name())
		}
		state[id] = visiting
		r, err := store.Rule(id)
		if err != nil {
			return err
		}
		deps := append([]int(nil), r.Deps()...)
		sort.Ints(deps)
		for _, dep := range deps {
			if err := walk(dep); err != nil {
				return err
			}
		}
		state[id] = visited
		order = append(order, id)
		return nil
	}

	for _, id := range roots {
		if err := walk(id); err != nil {
			return nil, err
		}
	}

	return &Closure{store: store, order: order, requested: requested}, nil
}
