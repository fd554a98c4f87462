package config

import (
	"fmt"
	"os"

	"github.com/kilnbuild/kiln/pkg/graph"
	"github.com/kilnbuild/kiln/pkg/memo"
	"github.com/kilnbuild/kiln/pkg/rule"
)

// BuildStore converts a parsed manifest into a rule store. Manifest errors
// abort the conversion; registration order follows the manifest so producer
// lookups see their producers.
func BuildStore(manifest *Manifest) (*graph.Store, error) {
	if len(manifest.Errors) > 0 {
		return nil, fmt.Errorf("manifest %s has %d validation errors, first: %s",
			manifest.Name, len(manifest.Errors), manifest.Errors[0].Message)
	}
	if len(manifest.Rules) == 0 {
		return nil, fmt.Errorf("manifest %s defines no rules", manifest.Name)
	}

	codec, err := buildCodec(manifest.Memo)
	if err != nil {
		return nil, err
	}

	store := graph.NewStore(codec)
	for i, rc := range manifest.Rules {
		def, err := buildDef(rc)
		if err != nil {
			return nil, fmt.Errorf("rules[%d] %q: %w", i, rc.Name, err)
		}
		if _, err := store.Add(def); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// buildCodec selects the memo codec from the manifest's memo section.
func buildCodec(mc MemoConfig) (memo.Codec, error) {
	switch mc.Encoding {
	case "", "strhash":
		codec := memo.NewStringHashCodec()
		if mc.HashThreshold > 0 {
			codec.Threshold = mc.HashThreshold
		}
		return codec, nil
	case "auth":
		if mc.KeyEnv == "" {
			return nil, fmt.Errorf("auth encoding requires key_env")
		}
		key := os.Getenv(mc.KeyEnv)
		if key == "" {
			return nil, fmt.Errorf("auth encoding: environment variable %s is empty", mc.KeyEnv)
		}
		return memo.NewAuthCodecHex(key)
	default:
		return nil, fmt.Errorf("unknown memo encoding %q", mc.Encoding)
	}
}

// buildDef converts one rule configuration into a rule definition with a
// bound action.
func buildDef(rc RuleConfig) (rule.Def, error) {
	outputs := make([]rule.File, len(rc.Outputs))
	for i, f := range rc.Outputs {
		outputs[i] = rule.File{Path: f.Path, Value: f.Value}
	}
	inputs := make([]rule.File, len(rc.Inputs))
	for i, f := range rc.Inputs {
		inputs[i] = rule.File{Path: f.Path, Value: f.Value}
	}

	action, err := buildAction(rc, outputs, inputs)
	if err != nil {
		return rule.Def{}, err
	}

	args, err := buildArgs(rc)
	if err != nil {
		return rule.Def{}, err
	}

	return rule.Def{
		Name:    rc.Name,
		Outputs: outputs,
		Inputs:  inputs,
		Action:  action,
		Args:    args,
	}, nil
}

// buildArgs folds the rule's declared args together with the action's
// non-file parameters into one memoized tree. Editing a command line or the
// literal content of a file.write in the manifest invalidates the memo the
// same way an input edit does. File paths stay out of the tree; they
// participate through the rule's inputs and outputs.
func buildArgs(rc RuleConfig) (memo.Value, error) {
	action := memo.Map{"type": memo.String(rc.Action.Type)}
	switch rc.Action.Type {
	case "exec":
		argv := make(memo.List, len(rc.Action.Argv))
		for i, a := range rc.Action.Argv {
			argv[i] = memo.String(a)
		}
		action["argv"] = argv
		if rc.Action.Dir != "" {
			action["dir"] = memo.String(rc.Action.Dir)
		}
		if len(rc.Action.Env) > 0 {
			env := make(memo.Map, len(rc.Action.Env))
			for k, v := range rc.Action.Env {
				env[k] = memo.String(v)
			}
			action["env"] = env
		}
	case "file.write":
		action["content"] = memo.String(rc.Action.Content)
		action["mode"] = memo.Int(rc.Action.Mode)
	case "file.concat":
		action["separator"] = memo.String(rc.Action.Separator)
	}

	args := memo.Map{"action": action}
	if rc.Args != nil {
		declared, err := memo.FromGo(rc.Args)
		if err != nil {
			return nil, fmt.Errorf("args: %w", err)
		}
		args["args"] = declared
	}
	return args, nil
}

// buildAction constructs the built-in action named by the config. The
// action's file arguments come from the rule's own outputs and inputs, so a
// manifest cannot declare one set of files and write another.
func buildAction(rc RuleConfig, outputs, inputs []rule.File) (rule.Action, error) {
	switch rc.Action.Type {
	case "exec":
		return rule.NewCommandAction(rc.Action.Argv, rc.Action.Dir, rc.Action.Env)
	case "file.write":
		return rule.NewWriteFileAction(outputs[0].Path, []byte(rc.Action.Content), rc.Action.Mode)
	case "file.concat":
		sources := make([]string, len(inputs))
		for i, in := range inputs {
			sources[i] = in.Path
		}
		return rule.NewConcatAction(outputs[0].Path, sources, []byte(rc.Action.Separator))
	default:
		return nil, fmt.Errorf("unknown action type %q", rc.Action.Type)
	}
}
