package model

import (
	"encoding/json"
	"fmt"
)

// Instruction is a tagged record. The closed set of kinds is the one named
// in spec.md §3; params beyond "action" are duck-typed (per-kind fields
// live in Params), mirroring the design note that payloads crossing the
// context boundary should be a tagged dynamic value rather than one struct
// per kind — with twenty-odd instruction kinds, one Go struct per kind
// would just be Params with extra ceremony.
type Instruction struct {
	Action string
	Params map[string]Value
}

// Instruction kinds, closed set.
const (
	ActionSetVar          = "set_var"
	ActionRandomChoice     = "random_choice"
	ActionWait             = "wait"
	ActionSleep            = "sleep"
	ActionUnload           = "unload"
	ActionTerminate        = "terminate"
	ActionLog              = "log"
	ActionThrowEvent       = "throw_event"
	ActionImportVar        = "import_var"
	ActionExportVar        = "export_var"
	ActionGenerate         = "generate"
	ActionAnimate          = "animate"
	ActionDisplay          = "display"
	ActionPublish          = "publish"
	ActionPurge            = "purge"
	ActionReason           = "reason"
	ActionDeviceWake       = "device_wake"
	ActionDeviceSleep      = "device_sleep"
	ActionDeviceStandby    = "device_standby"
	ActionDeviceMediaSync  = "device_media_sync"
)

// Internal synthetic actions used for the terminate pathway (§4.6); these
// never appear in an authored schedule document.
const (
	InternalTerminate          = "__terminate__"
	InternalTerminateImmediate = "__terminate_immediate__"
	InternalExitBlock          = "__exit_block__"
)

func (i Instruction) MarshalJSON() ([]byte, error) {
	m := make(map[string]Value, len(i.Params)+1)
	for k, v := range i.Params {
		m[k] = v
	}
	m["action"] = i.Action
	return json.Marshal(m)
}

func (i *Instruction) UnmarshalJSON(data []byte) error {
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return i.fromMap(m)
}

// UnmarshalYAML supports yaml.v3's decode-into-interface protocol.
func (i *Instruction) UnmarshalYAML(unmarshal func(any) error) error {
	var m map[string]Value
	if err := unmarshal(&m); err != nil {
		return err
	}
	return i.fromMap(normalizeYAMLMap(m))
}

func (i *Instruction) fromMap(m map[string]Value) error {
	action, _ := m["action"].(string)
	if action == "" {
		return fmt.Errorf("instruction missing \"action\"")
	}
	delete(m, "action")
	i.Action = action
	i.Params = m
	return nil
}

// normalizeYAMLMap recursively converts map[any]any / map[string]any trees
// produced by yaml.v3 into map[string]any, so downstream code (including
// JSON round-tripping for persistence) never has to special-case YAML's
// decoding quirks.
func normalizeYAMLMap(v Value) map[string]Value {
	out := map[string]Value{}
	switch m := v.(type) {
	case map[string]Value:
		for k, val := range m {
			out[k] = normalizeYAMLValue(val)
		}
	case map[any]any:
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(val)
		}
	}
	return out
}

func normalizeYAMLValue(v Value) Value {
	switch t := v.(type) {
	case map[string]Value:
		return normalizeYAMLMap(t)
	case map[any]any:
		return normalizeYAMLMap(t)
	case []Value:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = normalizeYAMLValue(e)
		}
		return out
	default:
		return v
	}
}

// Str returns a string-typed param, or the zero value if absent/wrong type.
func (i Instruction) Str(key string) string {
	s, _ := i.Params[key].(string)
	return s
}

// Bool returns a bool-typed param.
func (i Instruction) Bool(key string) bool {
	b, _ := i.Params[key].(bool)
	return b
}

// Float returns a numeric param as float64, accepting JSON's float64 and
// YAML's int.
func (i Instruction) Float(key string) (float64, bool) {
	switch v := i.Params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// StringSlice returns a []string param, tolerating []any of strings.
func (i Instruction) StringSlice(key string) []string {
	switch v := i.Params[key].(type) {
	case []string:
		return v
	case []Value:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Has reports whether key is present in Params at all (distinguishes
// "var: null" from "var absent").
func (i Instruction) Has(key string) bool {
	_, ok := i.Params[key]
	return ok
}

// Block is an ordered list of instructions sharing urgent/important flags.
type Block struct {
	Instructions []Instruction
	Urgent       bool
	Important    bool
	Source       string // "initial" | "final" | "date" | "day_of_week" | "event"
}
