// Package rule defines the build-rule entity of the kiln engine: declared
// outputs, tagged inputs, an action with bound arguments, and the persisted
// memoization record that together drive the staleness predicate.
package rule

import (
	"fmt"

	"github.com/kilnbuild/kiln/pkg/memo"
)

// Def is what a front-end supplies to register a rule. Original-ness of
// inputs and dependency edges are computed by the store from producer
// lookups, not declared here.
type Def struct {
	// Name is a human-readable label for events and logs.
	Name string

	// Outputs are the files the action promises to produce. At least one.
	Outputs []File

	// Inputs are the files the action consumes.
	Inputs []File

	// Action performs the work when the rule is stale.
	Action Action

	// Args is the bound non-file argument tree captured for memoization,
	// prior to output-path substitution. Nil means "no arguments".
	Args memo.Value
}

// Rule is a node in the build graph. It is immutable after construction;
// only its on-disk memo record changes, rewritten after each successful
// execution.
type Rule struct {
	id      int
	name    string
	outputs []File
	inputs  []Input
	deps    []int
	action  Action
	memo    *memo.Memo
	hashes  *memo.HashCache
}

// New constructs a rule. It validates the zero-output invariant and runs
// the memo codec's registration-time verification (round trip for the
// authenticated codec), so argument trees that cannot be memoized fail here
// rather than at a later staleness check.
func New(id int, def Def, inputs []Input, deps []int, codec memo.Codec, hashes *memo.HashCache) (*Rule, error) {
	if len(def.Outputs) == 0 {
		return nil, fmt.Errorf("rule %q: at least one output is required", def.Name)
	}
	if def.Action == nil {
		return nil, fmt.Errorf("rule %q: an action is required", def.Name)
	}
	if hashes == nil {
		hashes = memo.NewHashCache()
	}

	m, err := memo.New(codec, def.Args)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", def.Name, err)
	}

	name := def.Name
	if name == "" {
		name = def.Outputs[0].Path
	}

	return &Rule{
		id:      id,
		name:    name,
		outputs: def.Outputs,
		inputs:  inputs,
		deps:    deps,
		action:  def.Action,
		memo:    m,
		hashes:  hashes,
	}, nil
}

// ID returns the rule's store-scoped integer identifier.
func (r *Rule) ID() int { return r.id }

// Name returns the rule's label.
func (r *Rule) Name() string { return r.name }

// Outputs returns the declared output files.
func (r *Rule) Outputs() []File { return r.outputs }

// Inputs returns the tagged input files.
func (r *Rule) Inputs() []Input { return r.inputs }

// Deps returns the ids of rules whose outputs appear among this rule's
// inputs.
func (r *Rule) Deps() []int { return r.deps }

// Action returns the rule's action.
func (r *Rule) Action() Action { return r.action }

// PrimaryOutput is the output whose path anchors the memo sidecar.
func (r *Rule) PrimaryOutput() string { return r.outputs[0].Path }

// valueDigests returns the lazy content digests of the rule's value-file
// inputs, keyed by input position. Digests are only computed if the memo
// comparison actually reaches them.
func (r *Rule) valueDigests() map[string]*memo.LazyDigest {
	var digests map[string]*memo.LazyDigest
	for i, in := range r.inputs {
		if !in.Value {
			continue
		}
		if digests == nil {
			digests = make(map[string]*memo.LazyDigest)
		}
		digests[fmt.Sprintf("in%d", i)] = r.hashes.Lazy(in.Path)
	}
	return digests
}
