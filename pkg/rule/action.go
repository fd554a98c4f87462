package rule

import (
	"context"
	"fmt"

	"github.com/kilnbuild/kiln/pkg/worker/handlers"
	"github.com/kilnbuild/kiln/pkg/worker/protocol"
)

// Action is the work a rule performs when it is stale. Implementations are
// opaque to the engine; the bound arguments were resolved when the action
// was constructed.
type Action interface {
	// Run executes the action. The context is cancelled when the build is
	// interrupted.
	Run(ctx context.Context) error

	// Describe returns a short human-readable label for logs and events.
	Describe() string
}

// Transferable is implemented by actions that can be expressed as a
// declarative spec and shipped to an isolated worker process. The engine
// probes the spec once per run; actions that are closures over process
// state simply do not implement this interface.
type Transferable interface {
	Action

	// Spec returns the serializable form of the action.
	Spec() (*protocol.ActionSpec, error)
}

// FuncAction wraps an arbitrary Go function. It always executes in-process
// on a scheduler worker; the caller is responsible for the function being
// safe to run concurrently with other rules.
type FuncAction struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (a *FuncAction) Run(ctx context.Context) error {
	if a.Fn == nil {
		return fmt.Errorf("action %s has no function bound", a.Name)
	}
	return a.Fn(ctx)
}

func (a *FuncAction) Describe() string {
	if a.Name != "" {
		return a.Name
	}
	return "func"
}

// specAction is the shared base of the built-in transferable actions: the
// in-process Run path executes the same handler code the worker process
// runs, so placement never changes semantics.
type specAction struct {
	label string
	spec  *protocol.ActionSpec
}

func (a *specAction) Run(ctx context.Context) error {
	return handlers.Handle(ctx, a.spec)
}

func (a *specAction) Describe() string { return a.label }

func (a *specAction) Spec() (*protocol.ActionSpec, error) { return a.spec, nil }

// NewCommandAction builds an action that runs a program.
func NewCommandAction(argv []string, dir string, env map[string]string) (Action, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command action requires argv")
	}
	spec, err := protocol.NewSpec(protocol.ActionExec, &protocol.ExecParams{
		Argv: argv,
		Dir:  dir,
		Env:  env,
	})
	if err != nil {
		return nil, err
	}
	return &specAction{label: "exec " + argv[0], spec: spec}, nil
}

// NewWriteFileAction builds an action that writes literal content to path.
func NewWriteFileAction(path string, content []byte, mode uint32) (Action, error) {
	if path == "" {
		return nil, fmt.Errorf("write action requires a path")
	}
	spec, err := protocol.NewSpec(protocol.ActionFileWrite, &protocol.FileWriteParams{
		Path:    path,
		Content: content,
		Mode:    mode,
	})
	if err != nil {
		return nil, err
	}
	return &specAction{label: "write " + path, spec: spec}, nil
}

// NewConcatAction builds an action that concatenates sources into dest.
func NewConcatAction(dest string, sources []string, separator []byte) (Action, error) {
	if dest == "" {
		return nil, fmt.Errorf("concat action requires a destination")
	}
	spec, err := protocol.NewSpec(protocol.ActionFileConcat, &protocol.FileConcatParams{
		Dest:      dest,
		Sources:   sources,
		Separator: separator,
	})
	if err != nil {
		return nil, err
	}
	return &specAction{label: "concat " + dest, spec: spec}, nil
}
