// Package protocol defines the JSON-over-stdio protocol between the kiln
// orchestrator and its isolated worker processes.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the worker is ready to receive commands
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand indicates a command from the orchestrator
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeDone indicates successful completion
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError indicates an error occurred
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates the worker is exiting
	MessageTypeExit MessageType = "EXIT"
)

// Op is the operation requested of the worker.
type Op string

const (
	// OpProbe round-trips an action spec without executing it. The worker
	// decodes, validates and echoes the spec back so the orchestrator can
	// confirm the action transfers across the process boundary.
	OpProbe Op = "probe"
	// OpRun executes an action spec.
	OpRun Op = "run"
)

// ActionType identifies a transferable action.
type ActionType string

const (
	// ActionExec runs a program.
	ActionExec ActionType = "exec"
	// ActionFileWrite writes literal content to a file.
	ActionFileWrite ActionType = "file.write"
	// ActionFileConcat concatenates source files into a destination.
	ActionFileConcat ActionType = "file.concat"
)

// Message is the base structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the worker is ready to receive commands.
type ReadyMessage struct {
	Version  string          `json:"version"`
	Platform string          `json:"platform"`
	Arch     string          `json:"arch"`
	PID      int             `json:"pid"`
	Caps     map[string]bool `json:"capabilities"`
}

// ActionSpec is the declarative, serializable form of a rule action.
type ActionSpec struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params"`
}

// CommandMessage asks the worker to probe or run an action spec.
type CommandMessage struct {
	ID      string     `json:"id"`
	Op      Op         `json:"op"`
	Spec    ActionSpec `json:"spec"`
	Timeout int        `json:"timeout,omitempty"` // seconds, 0 = unbounded
}

// DoneMessage indicates successful command completion. For probes, Echo
// carries the worker's re-serialized view of the spec.
type DoneMessage struct {
	CommandID string      `json:"command_id"`
	Duration  float64     `json:"duration"` // seconds
	Echo      *ActionSpec `json:"echo,omitempty"`
}

// ErrorMessage indicates a command failed inside the worker.
type ErrorMessage struct {
	CommandID string `json:"command_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ExitMessage is sent before the worker terminates.
type ExitMessage struct {
	Reason        string `json:"reason"`
	ExitCode      int    `json:"exit_code"`
	CommandsTotal int    `json:"commands_total"`
}

// ExecParams contains parameters for program execution.
type ExecParams struct {
	Argv []string          `json:"argv"`
	Dir  string            `json:"dir,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// FileWriteParams contains parameters for writing a file.
type FileWriteParams struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	Mode    uint32 `json:"mode,omitempty"` // defaults to 0644
}

// FileConcatParams contains parameters for concatenating files.
type FileConcatParams struct {
	Dest      string   `json:"dest"`
	Sources   []string `json:"sources"`
	Separator []byte   `json:"separator,omitempty"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeDone,
		MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the action type is valid.
func (at ActionType) Validate() error {
	switch at {
	case ActionExec, ActionFileWrite, ActionFileConcat:
		return nil
	default:
		return fmt.Errorf("invalid action type: %s", at)
	}
}

// Validate checks if the command message is valid.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if cmd.Op != OpProbe && cmd.Op != OpRun {
		return fmt.Errorf("invalid op: %s", cmd.Op)
	}
	if err := cmd.Spec.Type.Validate(); err != nil {
		return err
	}
	if len(cmd.Spec.Params) == 0 {
		return fmt.Errorf("action params are required")
	}
	return nil
}

// NewSpec marshals typed params into an ActionSpec.
func NewSpec(t ActionType, params any) (*ActionSpec, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &ActionSpec{Type: t, Params: data}, nil
}

// ParseParams parses action parameters into a specific type.
func ParseParams(params json.RawMessage, target any) error {
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("failed to parse params: %w", err)
	}
	return nil
}
