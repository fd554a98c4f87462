package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func execSpec(t *testing.T) *ActionSpec {
	t.Helper()
	spec, err := NewSpec(ActionExec, &ExecParams{Argv: []string{"true"}})
	if err != nil {
		t.Fatalf("NewSpec error: %v", err)
	}
	return spec
}

func TestEncodeMessageTypes(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "ready message",
			msgType: MessageTypeReady,
			data:    &ReadyMessage{Version: "1.0.0", Platform: "linux", Arch: "amd64", PID: 42},
		},
		{
			name:    "done message",
			msgType: MessageTypeDone,
			data:    &DoneMessage{CommandID: "cmd-1", Duration: 0.25},
		},
		{
			name:    "error message",
			msgType: MessageTypeError,
			data:    &ErrorMessage{CommandID: "cmd-1", Code: "EXEC_FAILED", Message: "boom"},
		},
		{
			name:    "exit message",
			msgType: MessageTypeExit,
			data:    &ExitMessage{Reason: "shutdown", ExitCode: 0, CommandsTotal: 3},
		},
		{
			name:    "nil data",
			msgType: MessageTypeReady,
			data:    nil,
		},
		{
			name:    "invalid message type",
			msgType: MessageType("BOGUS"),
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := NewEncoder(&buf)

			err := enc.Encode(tt.msgType, tt.data)
			if tt.wantErr {
				if err == nil {
					t.Error("Encode succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
				t.Error("encoded message not newline-terminated")
			}

			msg, err := NewDecoder(&buf).Decode()
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("Type = %s, want %s", msg.Type, tt.msgType)
			}
			if msg.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	cmd := &CommandMessage{
		ID:      "cmd-7",
		Op:      OpRun,
		Spec:    *execSpec(t),
		Timeout: 30,
	}
	if err := enc.EncodeCommand(cmd); err != nil {
		t.Fatalf("EncodeCommand error: %v", err)
	}
	done := &DoneMessage{CommandID: "cmd-7", Duration: 1.5, Echo: execSpec(t)}
	if err := enc.EncodeDone(done); err != nil {
		t.Fatalf("EncodeDone error: %v", err)
	}

	dec := NewDecoder(&buf)

	got, err := dec.DecodeCommand()
	if err != nil {
		t.Fatalf("DecodeCommand error: %v", err)
	}
	if got.ID != cmd.ID || got.Op != cmd.Op || got.Timeout != cmd.Timeout {
		t.Errorf("command = %+v, want %+v", got, cmd)
	}
	if got.Spec.Type != ActionExec {
		t.Errorf("spec type = %s, want %s", got.Spec.Type, ActionExec)
	}
	var params ExecParams
	if err := ParseParams(got.Spec.Params, &params); err != nil {
		t.Fatalf("ParseParams error: %v", err)
	}
	if len(params.Argv) != 1 || params.Argv[0] != "true" {
		t.Errorf("argv = %v, want [true]", params.Argv)
	}

	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if msg.Type != MessageTypeDone {
		t.Fatalf("Type = %s, want DONE", msg.Type)
	}
	var gotDone DoneMessage
	if err := json.Unmarshal(msg.Data, &gotDone); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if gotDone.CommandID != done.CommandID || gotDone.Duration != done.Duration {
		t.Errorf("done = %+v, want %+v", gotDone, done)
	}
	if gotDone.Echo == nil || gotDone.Echo.Type != ActionExec {
		t.Errorf("echo = %+v, want exec spec", gotDone.Echo)
	}

	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode at end = %v, want io.EOF", err)
	}
}

func TestDecodeEmptyStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode = %v, want io.EOF", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "not json at all\n"},
		{name: "unknown type", input: `{"type":"NOPE","timestamp":"2026-01-01T00:00:00Z"}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input))
			if _, err := dec.Decode(); err == nil {
				t.Error("Decode succeeded, want error")
			}
		})
	}
}

func TestDecodeCommandWrongType(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeReady(&ReadyMessage{Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}

	_, err := NewDecoder(&buf).DecodeCommand()
	if err == nil || !strings.Contains(err.Error(), "expected CMD") {
		t.Errorf("DecodeCommand error = %v, want expected CMD message", err)
	}
}

func TestCommandValidate(t *testing.T) {
	valid := func(t *testing.T) CommandMessage {
		return CommandMessage{ID: "cmd-1", Op: OpProbe, Spec: *execSpec(t)}
	}

	tests := []struct {
		name    string
		mutate  func(*CommandMessage)
		wantErr bool
	}{
		{
			name:   "valid probe",
			mutate: func(*CommandMessage) {},
		},
		{
			name:   "valid run",
			mutate: func(c *CommandMessage) { c.Op = OpRun },
		},
		{
			name:    "missing id",
			mutate:  func(c *CommandMessage) { c.ID = "" },
			wantErr: true,
		},
		{
			name:    "invalid op",
			mutate:  func(c *CommandMessage) { c.Op = "fly" },
			wantErr: true,
		},
		{
			name:    "invalid action type",
			mutate:  func(c *CommandMessage) { c.Spec.Type = "teleport" },
			wantErr: true,
		},
		{
			name:    "empty params",
			mutate:  func(c *CommandMessage) { c.Spec.Params = nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := valid(t)
			tt.mutate(&cmd)
			err := cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}

			// EncodeCommand applies the same validation
			var buf bytes.Buffer
			err = NewEncoder(&buf).EncodeCommand(&cmd)
			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeCommand error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSpecParamRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		atype  ActionType
		params any
		check  func(t *testing.T, raw json.RawMessage)
	}{
		{
			name:   "exec",
			atype:  ActionExec,
			params: &ExecParams{Argv: []string{"sh", "-c", "true"}, Dir: "/tmp", Env: map[string]string{"K": "V"}},
			check: func(t *testing.T, raw json.RawMessage) {
				var p ExecParams
				if err := ParseParams(raw, &p); err != nil {
					t.Fatal(err)
				}
				if len(p.Argv) != 3 || p.Dir != "/tmp" || p.Env["K"] != "V" {
					t.Errorf("params = %+v", p)
				}
			},
		},
		{
			name:   "file write",
			atype:  ActionFileWrite,
			params: &FileWriteParams{Path: "/tmp/x", Content: []byte("hello"), Mode: 0o600},
			check: func(t *testing.T, raw json.RawMessage) {
				var p FileWriteParams
				if err := ParseParams(raw, &p); err != nil {
					t.Fatal(err)
				}
				if p.Path != "/tmp/x" || string(p.Content) != "hello" || p.Mode != 0o600 {
					t.Errorf("params = %+v", p)
				}
			},
		},
		{
			name:   "file concat",
			atype:  ActionFileConcat,
			params: &FileConcatParams{Dest: "/tmp/out", Sources: []string{"a", "b"}, Separator: []byte("\n")},
			check: func(t *testing.T, raw json.RawMessage) {
				var p FileConcatParams
				if err := ParseParams(raw, &p); err != nil {
					t.Fatal(err)
				}
				if p.Dest != "/tmp/out" || len(p.Sources) != 2 || string(p.Separator) != "\n" {
					t.Errorf("params = %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := NewSpec(tt.atype, tt.params)
			if err != nil {
				t.Fatalf("NewSpec error: %v", err)
			}
			if spec.Type != tt.atype {
				t.Errorf("Type = %s, want %s", spec.Type, tt.atype)
			}
			tt.check(t, spec.Params)
		})
	}

	if _, err := NewSpec("teleport", &ExecParams{}); err == nil {
		t.Error("NewSpec with invalid type succeeded")
	}
}

func TestLargePayload(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 2*1024*1024)
	spec, err := NewSpec(ActionFileWrite, &FileWriteParams{Path: "/tmp/big", Content: content})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	cmd := &CommandMessage{ID: "cmd-big", Op: OpRun, Spec: *spec}
	if err := NewEncoder(&buf).EncodeCommand(cmd); err != nil {
		t.Fatalf("EncodeCommand error: %v", err)
	}

	got, err := NewDecoder(&buf).DecodeCommand()
	if err != nil {
		t.Fatalf("DecodeCommand error: %v", err)
	}
	var p FileWriteParams
	if err := ParseParams(got.Spec.Params, &p); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.Content, content) {
		t.Errorf("content corrupted: got %d bytes, want %d", len(p.Content), len(content))
	}
}
