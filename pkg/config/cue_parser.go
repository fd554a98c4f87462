package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser parses and validates CUE build manifests.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
	}
}

// Parse parses a CUE manifest from the given sources. Sources may be files
// or directories; multiple sources are unified before extraction.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := cp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := cp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &Manifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &Manifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractManifest(cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Manifest, error) {
	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &Manifest{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractManifest(val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractManifest extracts the manifest from a CUE value.
func (cp *CUEParser) extractManifest(val cue.Value, sourceFiles []string) (*Manifest, error) {
	manifest := &Manifest{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	nameVal := val.LookupPath(cue.ParsePath("name"))
	if nameVal.Exists() {
		if name, err := nameVal.String(); err == nil {
			manifest.Name = name
		}
	}

	memoVal := val.LookupPath(cue.ParsePath("memo"))
	if memoVal.Exists() {
		if err := memoVal.Decode(&manifest.Memo); err != nil {
			manifest.Errors = append(manifest.Errors, ValidationError{
				Path:     "memo",
				Message:  fmt.Sprintf("failed to decode memo config: %v", err),
				Severity: "error",
			})
		}
	}

	rulesVal := val.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		manifest.Errors = append(manifest.Errors, ValidationError{
			Path:     "rules",
			Message:  "manifest has no rules",
			Severity: "error",
		})
		return manifest, nil
	}

	switch rulesVal.Kind() {
	case cue.ListKind:
		list, err := rulesVal.List()
		if err != nil {
			manifest.Errors = append(manifest.Errors, ValidationError{
				Path:     "rules",
				Message:  fmt.Sprintf("failed to list rules: %v", err),
				Severity: "error",
			})
			return manifest, nil
		}
		idx := 0
		for list.Next() {
			rc, err := cp.extractRule("", list.Value())
			if err != nil {
				manifest.Errors = append(manifest.Errors, ValidationError{
					Path:     fmt.Sprintf("rules[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				manifest.Rules = append(manifest.Rules, rc)
			}
			idx++
		}
	case cue.StructKind:
		// A struct keyed by rule name; struct field order is source order,
		// so producers still precede consumers.
		iter, err := rulesVal.Fields(cue.All())
		if err != nil {
			manifest.Errors = append(manifest.Errors, ValidationError{
				Path:     "rules",
				Message:  fmt.Sprintf("failed to iterate rules: %v", err),
				Severity: "error",
			})
			return manifest, nil
		}
		for iter.Next() {
			rc, err := cp.extractRule(iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				manifest.Errors = append(manifest.Errors, ValidationError{
					Path:     fmt.Sprintf("rules.%s", iter.Selector()),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				manifest.Rules = append(manifest.Rules, rc)
			}
		}
	default:
		manifest.Errors = append(manifest.Errors, ValidationError{
			Path:     "rules",
			Message:  "rules must be a list or a struct",
			Severity: "error",
		})
	}

	return manifest, nil
}

// extractRule extracts one rule configuration from a CUE value.
func (cp *CUEParser) extractRule(name string, val cue.Value) (RuleConfig, error) {
	var rc RuleConfig

	if err := val.Decode(&rc); err != nil {
		return rc, fmt.Errorf("failed to decode rule: %w", err)
	}

	// The struct key names the rule when the value does not
	if rc.Name == "" && name != "" {
		rc.Name = name
	}

	if err := cp.validator.Struct(rc); err != nil {
		return rc, fmt.Errorf("validation failed: %w", err)
	}

	return rc, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}
