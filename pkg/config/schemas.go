package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for manifest validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("rule", builtinRuleSchema)
	sr.RegisterSchema("action", builtinActionSchema)
	sr.RegisterSchema("memo", builtinMemoSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against the definition a named schema
// exports: the "rule" schema must define #Rule, "memo" #Memo, and so on.
// Unifying against the definition rather than the schema file is what makes
// the check bite; the file as a whole accepts anything.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	defName := "#" + exportedName(schemaName)
	def := schema.LookupPath(cue.ParsePath(defName))
	if !def.Exists() {
		return fmt.Errorf("schema %s defines no %s", schemaName, defName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// exportedName maps a registry name onto its definition name: rule -> Rule.
func exportedName(name string) string {
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinRuleSchema = `
// Rule schema for kiln build rules
#File: {
	path:   string & !=""
	value?: bool
}

#Rule: {
	// Name labels the rule in events and logs
	name: string & =~"^[a-zA-Z0-9._/-]+$"

	// Outputs are the files the rule produces
	outputs: [#File, ...#File]

	// Inputs are the files the rule consumes
	inputs?: [...#File]

	// Action is what runs when the rule is stale
	action: {...}

	// Args is the memoized argument tree
	args?: {...}
}
`

const builtinActionSchema = `
// Action schema for the built-in declarative actions
#Action: {
	type: "exec" | "file.write" | "file.concat"

	if type == "exec" {
		argv: [string, ...string]
		dir?: string
		env?: {[string]: string}
	}

	if type == "file.write" {
		content: string
		mode?:   uint32
	}

	if type == "file.concat" {
		separator?: string
	}
}
`

const builtinMemoSchema = `
// Memo schema for record encoding selection
#Memo: {
	encoding?:       "strhash" | "auth"
	key_env?:        string
	hash_threshold?: int & >=0
}
`

// ValidateRule validates a rule configuration against the rule schema.
func (sr *SchemaRegistry) ValidateRule(ctx context.Context, rule RuleConfig) error {
	return sr.ValidateAgainstSchema(ctx, "rule", rule)
}

// ValidateMemo validates a memo configuration against the memo schema.
func (sr *SchemaRegistry) ValidateMemo(ctx context.Context, memo MemoConfig) error {
	return sr.ValidateAgainstSchema(ctx, "memo", memo)
}
