// Package handlers implements the action handlers executed inside the kiln
// worker process.
package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kilnbuild/kiln/pkg/worker/protocol"
)

// Handle dispatches an action spec to its handler.
func Handle(ctx context.Context, spec *protocol.ActionSpec) error {
	switch spec.Type {
	case protocol.ActionExec:
		var params protocol.ExecParams
		if err := protocol.ParseParams(spec.Params, &params); err != nil {
			return err
		}
		return handleExec(ctx, &params)
	case protocol.ActionFileWrite:
		var params protocol.FileWriteParams
		if err := protocol.ParseParams(spec.Params, &params); err != nil {
			return err
		}
		return handleFileWrite(&params)
	case protocol.ActionFileConcat:
		var params protocol.FileConcatParams
		if err := protocol.ParseParams(spec.Params, &params); err != nil {
			return err
		}
		return handleFileConcat(&params)
	default:
		return fmt.Errorf("unknown action type: %s", spec.Type)
	}
}

// Reencode validates a spec by parsing its params into the typed form and
// marshaling them back. Probes use it to prove the spec round-trips across
// the process boundary.
func Reencode(spec *protocol.ActionSpec) (*protocol.ActionSpec, error) {
	switch spec.Type {
	case protocol.ActionExec:
		var params protocol.ExecParams
		if err := protocol.ParseParams(spec.Params, &params); err != nil {
			return nil, err
		}
		if len(params.Argv) == 0 {
			return nil, fmt.Errorf("exec: argv is required")
		}
		return protocol.NewSpec(spec.Type, &params)
	case protocol.ActionFileWrite:
		var params protocol.FileWriteParams
		if err := protocol.ParseParams(spec.Params, &params); err != nil {
			return nil, err
		}
		if params.Path == "" {
			return nil, fmt.Errorf("file.write: path is required")
		}
		return protocol.NewSpec(spec.Type, &params)
	case protocol.ActionFileConcat:
		var params protocol.FileConcatParams
		if err := protocol.ParseParams(spec.Params, &params); err != nil {
			return nil, err
		}
		if params.Dest == "" {
			return nil, fmt.Errorf("file.concat: dest is required")
		}
		return protocol.NewSpec(spec.Type, &params)
	default:
		return nil, fmt.Errorf("unknown action type: %s", spec.Type)
	}
}

func handleExec(ctx context.Context, params *protocol.ExecParams) error {
	if len(params.Argv) == 0 {
		return fmt.Errorf("exec: argv is required")
	}

	cmd := exec.CommandContext(ctx, params.Argv[0], params.Argv[1:]...)
	if params.Dir != "" {
		cmd.Dir = params.Dir
	}
	if len(params.Env) > 0 {
		env := os.Environ()
		for k, v := range params.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("exec %s: %w: %s", params.Argv[0], err, stderr.String())
		}
		return fmt.Errorf("exec %s: %w", params.Argv[0], err)
	}
	return nil
}

func handleFileWrite(params *protocol.FileWriteParams) error {
	if params.Path == "" {
		return fmt.Errorf("file.write: path is required")
	}
	mode := os.FileMode(params.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(params.Path), 0o755); err != nil {
		return fmt.Errorf("file.write: %w", err)
	}
	if err := os.WriteFile(params.Path, params.Content, mode); err != nil {
		return fmt.Errorf("file.write: %w", err)
	}
	return nil
}

func handleFileConcat(params *protocol.FileConcatParams) error {
	if params.Dest == "" {
		return fmt.Errorf("file.concat: dest is required")
	}
	if err := os.MkdirAll(filepath.Dir(params.Dest), 0o755); err != nil {
		return fmt.Errorf("file.concat: %w", err)
	}

	var buf bytes.Buffer
	for i, src := range params.Sources {
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("file.concat: read %s: %w", src, err)
		}
		if i > 0 && len(params.Separator) > 0 {
			buf.Write(params.Separator)
		}
		buf.Write(data)
	}

	if err := os.WriteFile(params.Dest, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("file.concat: write %s: %w", params.Dest, err)
	}
	return nil
}
