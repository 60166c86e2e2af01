// Package handlers implements the instruction dispatch table: one function
// per action in model's closed instruction-kind set, each returning an
// Outcome that tells the scheduler runtime what to do next with the
// enclosing block and context stack.
//
// Grounded on the teacher's state_machine.go, which is likewise a table of
// small state-transition functions keyed by a closed set of container
// events and driven by a single stateMachine.loop — here the "loop" is the
// scheduler runtime (package scheduler) and the "events" are instructions.
package handlers

import (
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/gjbm2/screen-machine-sub000/durationstr"
	"github.com/gjbm2/screen-machine-sub000/events"
	"github.com/gjbm2/screen-machine-sub000/model"
	"github.com/gjbm2/screen-machine-sub000/vars"
)

// Outcome tells the scheduler runtime what happened after running one
// instruction, per the continue/exit_block/unload/terminate contract.
type Outcome int

const (
	Continue Outcome = iota
	ExitBlock
	Unload
	Terminate
	TerminateImmediate
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case ExitBlock:
		return "exit_block"
	case Unload:
		return "unload"
	case Terminate:
		return "terminate"
	case TerminateImmediate:
		return "terminate_immediate"
	default:
		return "unknown"
	}
}

// Env is the per-call environment a handler runs in: the destination's live
// context (mutated in place) plus the shared collaborators it may need.
type Env struct {
	Dest string
	Now  time.Time
	Ctx  *model.Context

	Registry *vars.Registry
	Events   *events.Store
	GroupsOf vars.GroupMembership

	Collabs Collaborators
}

// Handlers owns no per-call state; it is a thin receiver for Execute so
// tests can swap in fake Collaborators without touching package-level
// globals.
type Handlers struct{}

// New returns a ready-to-use dispatcher.
func New() *Handlers { return &Handlers{} }

// Execute runs one instruction and reports the outcome.
func (h *Handlers) Execute(env *Env, instr model.Instruction) (Outcome, error) {
	fn, ok := dispatch[instr.Action]
	if !ok {
		return Continue, fmt.Errorf("handlers: unknown action %q", instr.Action)
	}
	return fn(env, instr)
}

type handlerFunc func(*Env, model.Instruction) (Outcome, error)

var dispatch = map[string]handlerFunc{
	model.ActionSetVar:          handleSetVar,
	model.ActionRandomChoice:    handleRandomChoice,
	model.ActionWait:            handleWait,
	model.ActionSleep:           handleSleep,
	model.ActionUnload:          handleUnload,
	model.ActionTerminate:       handleTerminate,
	model.ActionLog:             handleLog,
	model.ActionThrowEvent:      handleThrowEvent,
	model.ActionImportVar:       handleImportVar,
	model.ActionExportVar:       handleExportVar,
	model.ActionGenerate:        handleGenerate,
	model.ActionAnimate:         handleAnimate,
	model.ActionDisplay:         handleDisplay,
	model.ActionPublish:         handlePublish,
	model.ActionPurge:           handlePurge,
	model.ActionReason:          handleReason,
	model.ActionDeviceWake:      handleDeviceWake,
	model.ActionDeviceSleep:     handleDeviceSleep,
	model.ActionDeviceStandby:   handleDeviceStandby,
	model.ActionDeviceMediaSync: handleDeviceMediaSync,

	model.InternalTerminate:          handleInternalTerminate,
	model.InternalTerminateImmediate: handleInternalTerminateImmediate,
	model.InternalExitBlock:          handleInternalExitBlock,
}

// --- variables -------------------------------------------------------

// handleSetVar implements var assignment, coercion, null-clears-all, and
// export removal. Params: "var" (name, omit/empty clears every variable in
// the context), "value" (any; strings are coerced per model.CoerceScalar).
func handleSetVar(env *Env, instr model.Instruction) (Outcome, error) {
	name := instr.Str("var")
	if name == "" {
		env.Ctx.Vars = model.Vars{}
		return Continue, nil
	}

	if !instr.Has("value") || instr.Params["value"] == nil {
		delete(env.Ctx.Vars, name)
		if env.Registry != nil {
			env.Registry.PropagateNullExport(env.Dest, name)
		}
		return Continue, nil
	}

	value := model.CoerceScalar(instr.Params["value"])
	env.Ctx.Vars[name] = value
	if env.Registry != nil {
		env.Registry.Propagate(env.Dest, name, value)
	}
	return Continue, nil
}

// handleRandomChoice assigns one of "choices" (a list) to "var", uniformly.
func handleRandomChoice(env *Env, instr model.Instruction) (Outcome, error) {
	name := instr.Str("var")
	choices, _ := instr.Params["choices"].([]model.Value)
	if name == "" || len(choices) == 0 {
		return Continue, fmt.Errorf("handlers: random_choice requires var and a non-empty choices list")
	}
	pick := choices[rand.IntN(len(choices))]
	env.Ctx.Vars[name] = pick
	if env.Registry != nil {
		env.Registry.Propagate(env.Dest, name, pick)
	}
	return Continue, nil
}

// handleImportVar records a subscription to a variable exported elsewhere.
// Params: "var" (source name), "as" (local alias, default same as var),
// "from" (destination id or group name; absent means global scope).
func handleImportVar(env *Env, instr model.Instruction) (Outcome, error) {
	name := instr.Str("var")
	if name == "" {
		return Continue, fmt.Errorf("handlers: import_var requires var")
	}
	as := instr.Str("as")
	if as == "" {
		as = name
	}
	from := instr.Str("from")

	sourceType := vars.SourceScope
	source := vars.GlobalScope
	switch {
	case from == "":
		// global, defaults above hold
	case env.GroupsOf != nil && isGroup(env.GroupsOf, from):
		sourceType = vars.SourceGroup
		source = from
	default:
		sourceType = vars.SourceDestination
		source = from
	}

	env.Registry.RegisterImport(env.Dest, as, sourceType, source, name, env.Now)
	return Continue, nil
}

func isGroup(g vars.GroupMembership, name string) bool {
	type groupChecker interface{ IsGroupName(string) bool }
	if gc, ok := g.(groupChecker); ok {
		return gc.IsGroupName(name)
	}
	return false
}

// handleExportVar publishes a context variable under global or group scope.
// Params: "var", "scope" (group name, default "global"), "as" (friendly
// name shown to importers/UI, default same as var).
func handleExportVar(env *Env, instr model.Instruction) (Outcome, error) {
	name := instr.Str("var")
	if name == "" {
		return Continue, fmt.Errorf("handlers: export_var requires var")
	}
	scope := instr.Str("scope")
	if scope == "" {
		scope = vars.GlobalScope
	}
	friendly := instr.Str("as")
	if friendly == "" {
		friendly = name
	}
	env.Registry.RegisterExport(env.Dest, scope, name, friendly, env.Now)
	if v, ok := env.Ctx.Vars[name]; ok {
		env.Registry.Propagate(env.Dest, name, v)
	}
	return Continue, nil
}

// --- timing ------------------------------------------------------------

// handleWait sets wait_until from "duration" (a duration string per
// durationstr.ParseWait, e.g. "90s", "5m"). The runtime clears it early on
// an urgent interrupt.
func handleWait(env *Env, instr model.Instruction) (Outcome, error) {
	d, err := parseDurationParam(instr, "duration")
	if err != nil {
		return Continue, err
	}
	until := env.Now.Add(d)
	env.Ctx.WaitUntil = &until
	return Continue, nil
}

// handleSleep is wait's alias for device-facing schedules that want to
// read "sleep" rather than "wait"; semantics are identical.
func handleSleep(env *Env, instr model.Instruction) (Outcome, error) {
	return handleWait(env, instr)
}

func parseDurationParam(instr model.Instruction, key string) (time.Duration, error) {
	s := instr.Str(key)
	if s == "" {
		return 0, fmt.Errorf("handlers: %s requires %q", instr.Action, key)
	}
	return durationstr.ParseWait(s)
}

// --- lifecycle -----------------------------------------------------------

// handleUnload pops the current schedule/context stack frame.
func handleUnload(*Env, model.Instruction) (Outcome, error) {
	return Unload, nil
}

// handleTerminate dispatches to the internal __terminate__,
// __terminate_immediate__ and __exit_block__ handlers, so an authored
// terminate and a queued internal action yield the same outcomes. Params:
// "mode" — "normal" (default), "immediate", or "block". "normal" runs final_actions before unloading; "immediate"
// unloads with no final_actions drain; "block" drops the rest of the
// current block only.
func handleTerminate(env *Env, instr model.Instruction) (Outcome, error) {
	mode := instr.Str("mode")
	if mode == "" {
		mode = "normal"
	}
	switch mode {
	case "immediate":
		return handleInternalTerminateImmediate(env, instr)
	case "block":
		return handleInternalExitBlock(env, instr)
	default:
		return handleInternalTerminate(env, instr)
	}
}

func handleInternalExitBlock(*Env, model.Instruction) (Outcome, error) {
	return ExitBlock, nil
}

func handleInternalTerminate(*Env, model.Instruction) (Outcome, error) {
	return Terminate, nil
}

func handleInternalTerminateImmediate(*Env, model.Instruction) (Outcome, error) {
	return TerminateImmediate, nil
}

// --- diagnostics -----------------------------------------------------------

// handleLog writes "message" to the process log, prefixed with the
// destination id, matching the teacher's plain log.Printf diagnostics.
func handleLog(env *Env, instr model.Instruction) (Outcome, error) {
	log.Printf("[%s] %s", env.Dest, instr.Str("message"))
	return Continue, nil
}

// --- events ----------------------------------------------------------------

// handleThrowEvent creates one or more event store entries. Params: "key",
// "scope" (destination id, group, or "global", default is the acting
// destination), "ttl" (duration string, default 60s), "delay" (duration
// string), "display_name", "payload", "single_consumer" (bool).
func handleThrowEvent(env *Env, instr model.Instruction) (Outcome, error) {
	key := instr.Str("key")
	if key == "" {
		return Continue, fmt.Errorf("handlers: throw_event requires key")
	}
	scope := instr.Str("scope")
	if scope == "" {
		scope = env.Dest
	}
	ttl := 60 * time.Second
	if s := instr.Str("ttl"); s != "" {
		parsed, err := durationstr.ParseTTL(s)
		if err != nil {
			return Continue, err
		}
		ttl = parsed
	}

	opts := events.ThrowOptions{
		DisplayName:    instr.Str("display_name"),
		Payload:        instr.Params["payload"],
		SingleConsumer: instr.Bool("single_consumer"),
	}
	if s := instr.Str("delay"); s != "" {
		d, err := durationstr.ParseWait(s)
		if err != nil {
			return Continue, err
		}
		opts.Delay = &d
	}

	_, err := env.Events.Throw(scope, key, ttl, env.Now, opts)
	return Continue, err
}

// handlePurge clears pending active events for the acting destination.
// Params: "key" (optional; empty clears every key).
func handlePurge(env *Env, instr model.Instruction) (Outcome, error) {
	env.Events.Clear(env.Dest, instr.Str("key"))
	return Continue, nil
}

// --- collaborator-backed actions -------------------------------------------

// handleGenerate asks the Generator collaborator to produce content and
// binds the result to "var", if given.
func handleGenerate(env *Env, instr model.Instruction) (Outcome, error) {
	out, err := env.Collabs.Generator.Generate(env.Dest, instr.Params)
	if err != nil {
		return Continue, err
	}
	if v := instr.Str("var"); v != "" {
		env.Ctx.Vars[v] = out
	}
	return Continue, nil
}

func handleAnimate(env *Env, instr model.Instruction) (Outcome, error) {
	return Continue, env.Collabs.Animator.Animate(env.Dest, instr.Params)
}

func handleDisplay(env *Env, instr model.Instruction) (Outcome, error) {
	return Continue, env.Collabs.Displayer.Display(env.Dest, instr.Params["content"])
}

func handlePublish(env *Env, instr model.Instruction) (Outcome, error) {
	rendered, err := env.Collabs.Templater.Render(instr.Str("template"), env.Ctx.Vars)
	if err != nil {
		return Continue, err
	}
	return Continue, env.Collabs.Publisher.Publish(env.Dest, rendered)
}

func handleDeviceWake(env *Env, instr model.Instruction) (Outcome, error) {
	return Continue, env.Collabs.Device.Wake(env.Dest)
}

func handleDeviceSleep(env *Env, instr model.Instruction) (Outcome, error) {
	return Continue, env.Collabs.Device.Sleep(env.Dest)
}

func handleDeviceStandby(env *Env, instr model.Instruction) (Outcome, error) {
	return Continue, env.Collabs.Device.Standby(env.Dest)
}

func handleDeviceMediaSync(env *Env, instr model.Instruction) (Outcome, error) {
	return Continue, env.Collabs.Device.MediaSync(env.Dest)
}

// historyVarKey is where handleReason keeps its bounded FIFO of past
// reasoning turns, inside the acting context's own vars so it persists and
// travels with the context like any other variable.
const historyVarKey = "history_var"

// maxReasonHistory bounds the FIFO: the oldest entry is dropped once the
// 21st would be appended.
const maxReasonHistory = 20

// handleReason asks the Reasoner collaborator for the next turn, appends it
// to the bounded history, and binds the result to "var". On failure it
// falls back to "fallback" (a literal value), if given, rather than
// propagating the error and aborting the block.
func handleReason(env *Env, instr model.Instruction) (Outcome, error) {
	history, _ := env.Ctx.Vars[historyVarKey].([]model.Value)

	out, err := env.Collabs.Reasoner.Reason(env.Dest, history, instr.Params)
	if err != nil {
		if instr.Has("fallback") {
			out = instr.Params["fallback"]
		} else {
			return Continue, err
		}
	}

	history = append(history, out)
	if len(history) > maxReasonHistory {
		history = history[len(history)-maxReasonHistory:]
	}
	env.Ctx.Vars[historyVarKey] = history

	if v := instr.Str("var"); v != "" {
		env.Ctx.Vars[v] = out
	}
	return Continue, nil
}
