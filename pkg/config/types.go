package config

import (
	"time"
)

// RuleConfig represents one build rule in a manifest.
type RuleConfig struct {
	// Name is a human-readable label for events and logs.
	Name string `json:"name" validate:"required"`

	// Outputs are the files the rule produces. At least one.
	Outputs []FileConfig `json:"outputs" validate:"required,min=1,dive"`

	// Inputs are the files the rule consumes.
	Inputs []FileConfig `json:"inputs,omitempty" validate:"dive"`

	// Action is what the rule runs when stale.
	Action ActionConfig `json:"action" validate:"required"`

	// Args is the non-file argument tree captured for memoization.
	Args map[string]interface{} `json:"args,omitempty"`
}

// FileConfig is an output or input file in a manifest.
type FileConfig struct {
	// Path is the filesystem location.
	Path string `json:"path" validate:"required"`

	// Value marks an input as content-hashed for staleness: touching it
	// without changing its bytes does not force a rebuild.
	Value bool `json:"value,omitempty"`
}

// ActionConfig is the declarative action of a rule.
type ActionConfig struct {
	// Type selects the built-in action (exec, file.write, file.concat).
	Type string `json:"type" validate:"required,oneof=exec file.write file.concat"`

	// Argv is the program and its arguments. Required for exec.
	Argv []string `json:"argv,omitempty"`

	// Dir is the working directory for exec.
	Dir string `json:"dir,omitempty"`

	// Env is extra environment for exec, merged over the parent's.
	Env map[string]string `json:"env,omitempty"`

	// Content is the literal file content for file.write. The destination
	// is the rule's first output.
	Content string `json:"content,omitempty"`

	// Mode is the file mode for file.write (octal, default 0644).
	Mode uint32 `json:"mode,omitempty"`

	// Separator is inserted between sources for file.concat. The sources
	// are the rule's inputs, the destination its first output.
	Separator string `json:"separator,omitempty"`
}

// MemoConfig selects the memo record encoding for a manifest.
type MemoConfig struct {
	// Encoding is strhash or auth. Empty defaults to strhash.
	Encoding string `json:"encoding,omitempty" validate:"omitempty,oneof=strhash auth"`

	// KeyEnv names the environment variable holding the hex HMAC key for
	// the auth encoding.
	KeyEnv string `json:"key_env,omitempty"`

	// HashThreshold is the canonical-string length beyond which the
	// strhash encoding stores a digest instead of the string itself.
	// Zero selects the default.
	HashThreshold int `json:"hash_threshold,omitempty" validate:"gte=0"`
}

// Manifest is the fully parsed build manifest.
type Manifest struct {
	// Name identifies the manifest.
	Name string `json:"name"`

	// Memo configures record encoding for all rules in the manifest.
	Memo MemoConfig `json:"memo"`

	// Rules are the build rules, in registration order. Producers must
	// precede consumers.
	Rules []RuleConfig `json:"rules"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the manifest was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the error (e.g., "rules[2].action").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}
