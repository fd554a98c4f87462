// Package client manages kiln worker processes: spawning, the startup
// handshake, command dispatch, and pooling.
package client

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilnbuild/kiln/pkg/worker/protocol"
)

// Config contains client configuration options.
type Config struct {
	// RunnerPath is the path to the kiln-runner binary.
	RunnerPath string

	// StartupTimeout bounds the wait for the READY handshake.
	StartupTimeout time.Duration
}

// Client manages communication with one worker process. A worker crash only
// poisons this client; the orchestrating process is unaffected and the pool
// replaces the worker on next use.
type Client struct {
	cmd     *exec.Cmd
	encoder *protocol.Encoder
	decoder *protocol.Decoder
	stdin   io.WriteCloser
	ready   *protocol.ReadyMessage

	mu     sync.Mutex
	closed bool
	broken bool
}

// Start spawns a worker process and waits for its READY message.
func Start(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RunnerPath == "" {
		return nil, fmt.Errorf("runner path is required")
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}

	cmd := exec.Command(cfg.RunnerPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	c := &Client{
		cmd:     cmd,
		encoder: protocol.NewEncoder(stdin),
		decoder: protocol.NewDecoder(stdout),
		stdin:   stdin,
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseParams(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
		return c, nil
	}
}

// Ready returns the READY message received during startup.
func (c *Client) Ready() *protocol.ReadyMessage {
	return c.ready
}

// Probe sends an action spec for round-trip validation without executing
// it. A nil error means the spec deserialized and re-serialized cleanly in
// the worker process.
func (c *Client) Probe(ctx context.Context, spec *protocol.ActionSpec) error {
	done, err := c.roundTrip(ctx, &protocol.CommandMessage{
		ID:   uuid.New().String(),
		Op:   protocol.OpProbe,
		Spec: *spec,
	})
	if err != nil {
		return err
	}
	if done.Echo == nil {
		return fmt.Errorf("probe returned no echo")
	}
	if done.Echo.Type != spec.Type {
		return fmt.Errorf("probe echo type mismatch: sent %s, got %s", spec.Type, done.Echo.Type)
	}
	return nil
}

// Run executes an action spec in the worker process.
func (c *Client) Run(ctx context.Context, spec *protocol.ActionSpec) error {
	_, err := c.roundTrip(ctx, &protocol.CommandMessage{
		ID:   uuid.New().String(),
		Op:   protocol.OpRun,
		Spec: *spec,
	})
	return err
}

// roundTrip sends one command and waits for its DONE or ERROR. A transport
// failure marks the client broken so the pool will not reuse it.
func (c *Client) roundTrip(ctx context.Context, cmd *protocol.CommandMessage) (*protocol.DoneMessage, error) {
	c.mu.Lock()
	if c.closed || c.broken {
		c.mu.Unlock()
		return nil, fmt.Errorf("worker client is not usable")
	}
	c.mu.Unlock()

	if err := c.encoder.EncodeCommand(cmd); err != nil {
		c.markBroken()
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	// Unblock the decoder if the run is interrupted. The worker process is
	// killed rather than waited on; postprocess(false) runs in the caller.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			c.markBroken()
			_ = c.cmd.Process.Kill()
		case <-watchDone:
		}
	}()

	for {
		msg, err := c.decoder.Decode()
		if err != nil {
			c.markBroken()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("worker terminated: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseParams(msg.Data, &done); err != nil {
				c.markBroken()
				return nil, fmt.Errorf("failed to parse done: %w", err)
			}
			if done.CommandID != cmd.ID {
				c.markBroken()
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, done.CommandID)
			}
			return &done, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				c.markBroken()
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			return nil, fmt.Errorf("%s: %s", errMsg.Code, errMsg.Message)

		case protocol.MessageTypeExit:
			c.markBroken()
			return nil, fmt.Errorf("worker exited unexpectedly")

		default:
			c.markBroken()
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

func (c *Client) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// Healthy reports whether the client can still accept commands.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.broken
}

// Close shuts the worker down by closing its stdin and reaping the process.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	broken := c.broken
	c.mu.Unlock()

	_ = c.stdin.Close()
	if broken {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}
