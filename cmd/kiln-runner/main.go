// Package main implements the kiln-runner binary: a minimal worker that
// executes build actions received as JSON over stdio, keeping them isolated
// from the orchestrating process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/kilnbuild/kiln/pkg/worker/handlers"
	"github.com/kilnbuild/kiln/pkg/worker/protocol"
)

const version = "1.0.0"

type runner struct {
	encoder      *protocol.Encoder
	decoder      *protocol.Decoder
	commandCount int
}

func main() {
	r := &runner{
		encoder: protocol.NewEncoder(os.Stdout),
		decoder: protocol.NewDecoder(os.Stdin),
	}

	if err := r.sendReady(); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	for {
		cmd, err := r.decoder.DecodeCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.exit("stdin_closed", 0)
			}
			r.exit("protocol_error", 1)
		}
		r.commandCount++
		if err := r.handle(ctx, cmd); err != nil {
			r.exit("write_error", 1)
		}
	}
}

func (r *runner) sendReady() error {
	return r.encoder.EncodeReady(&protocol.ReadyMessage{
		Version:  version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps: map[string]bool{
			string(protocol.ActionExec):       true,
			string(protocol.ActionFileWrite):  true,
			string(protocol.ActionFileConcat): true,
		},
	})
}

// handle runs one command and writes its DONE or ERROR. The returned error
// is a transport failure; action failures are reported in-band.
func (r *runner) handle(ctx context.Context, cmd *protocol.CommandMessage) error {
	cmdCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
		defer cancel()
	}

	start := time.Now()
	var echo *protocol.ActionSpec
	var err error

	switch cmd.Op {
	case protocol.OpProbe:
		echo, err = handlers.Reencode(&cmd.Spec)
	case protocol.OpRun:
		err = handlers.Handle(cmdCtx, &cmd.Spec)
	default:
		err = fmt.Errorf("unsupported op: %s", cmd.Op)
	}

	if err != nil {
		return r.encoder.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "ACTION_FAILED",
			Message:   err.Error(),
		})
	}

	return r.encoder.EncodeDone(&protocol.DoneMessage{
		CommandID: cmd.ID,
		Duration:  time.Since(start).Seconds(),
		Echo:      echo,
	})
}

func (r *runner) exit(reason string, code int) {
	_ = r.encoder.EncodeExit(&protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      code,
		CommandsTotal: r.commandCount,
	})
	os.Exit(code)
}
