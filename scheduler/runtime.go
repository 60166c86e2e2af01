// Package scheduler implements the per-destination runtime: one goroutine
// per destination, driven by a tick and a channel-of-channels command
// protocol, exactly the shape of the teacher's stateMachine.loop in
// harpoon-scheduler/state_machine.go. Where the teacher's loop folds
// remote-agent container events into a local view, this loop folds trigger
// fires into a priority instruction queue and drains it through the
// handlers dispatch table.
package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/gjbm2/screen-machine-sub000/events"
	"github.com/gjbm2/screen-machine-sub000/handlers"
	"github.com/gjbm2/screen-machine-sub000/metrics"
	"github.com/gjbm2/screen-machine-sub000/model"
	"github.com/gjbm2/screen-machine-sub000/queue"
	"github.com/gjbm2/screen-machine-sub000/state"
	"github.com/gjbm2/screen-machine-sub000/trigger"
	"github.com/gjbm2/screen-machine-sub000/vars"
)

// gracePeriod is the catch-up window applied on the first tick after a
// destination starts running, per the "apply_grace_period" scenario.
const gracePeriod = 5 * time.Minute

// Deps bundles the shared collaborators every destination runtime needs.
// One Deps is constructed at startup and handed to every Runtime.
type Deps struct {
	Handlers *handlers.Handlers
	Collabs  handlers.Collaborators
	Registry *vars.Registry
	Events   *events.Store
	Store    *state.Store
	GroupsOf vars.GroupMembership

	TickInterval        time.Duration // default 2s
	EventExpiryInterval time.Duration // default 30s
}

func (d Deps) withDefaults() Deps {
	if d.TickInterval == 0 {
		d.TickInterval = 2 * time.Second
	}
	if d.EventExpiryInterval == 0 {
		d.EventExpiryInterval = 30 * time.Second
	}
	return d
}

// Status is a snapshot returned by Runtime.Status.
type Status struct {
	Destination string
	RunState    model.RunState
	Depth       int
	QueueLen    int
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdStop
	cmdPushSchedule
	cmdStatus
	cmdForceSave
	cmdSetImportedVar
	cmdSnapshot
	cmdQuit
)

type command struct {
	kind         cmdKind
	sched        model.Schedule
	varName      string
	varValue     model.Value
	resp         chan error
	statusResp   chan Status
	snapshotResp chan *model.State
}

// Runtime is one destination's live scheduler. Every field below is only
// ever touched from the single goroutine started by New; external callers
// interact exclusively through the channel-based methods.
type Runtime struct {
	dest  string
	deps  Deps
	queue *queue.Queue

	state *model.State

	graceApplied bool

	// eventBlockSeq is the queue.BlockSeq of the in-flight block admitted by
	// an event trigger, if any, so context.vars._event can be cleared once
	// every one of its entries has drained (spec: event-variable lifetime).
	eventBlockSeq uint64

	// pendingUnloadSeq is the queue.BlockSeq of a normal-mode terminate's
	// final_actions block, if any; the frame pops once it has fully drained.
	pendingUnloadSeq uint64

	cmds chan command
}

// New constructs a runtime for dest from its loaded persisted state (or a
// fresh one) and starts its goroutine.
func New(dest string, deps Deps, initial *model.State) *Runtime {
	rt := &Runtime{
		dest:  dest,
		deps:  deps.withDefaults(),
		queue: queue.New(),
		state: initial,
		cmds:  make(chan command),
	}
	go rt.loop()
	return rt
}

func (rt *Runtime) loop() {
	tick := time.NewTicker(rt.deps.TickInterval)
	expiry := time.NewTicker(rt.deps.EventExpiryInterval)
	defer tick.Stop()
	defer expiry.Stop()

	last := time.Now()

	for {
		select {
		case cmd := <-rt.cmds:
			rt.handleCommand(cmd)
			if cmd.kind == cmdQuit {
				return
			}

		case now := <-tick.C:
			rt.onTick(now, now.Sub(last))
			last = now

		case now := <-expiry.C:
			rt.deps.Events.ExpireAll(now)
		}
	}
}

func (rt *Runtime) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		if rt.state.RunState == model.Running {
			cmd.resp <- fmt.Errorf("scheduler: %s: already running", rt.dest)
			return
		}
		rt.state.RunState = model.Running
		rt.graceApplied = false
		rt.forceSave()
		cmd.resp <- nil

	case cmdPause:
		rt.state.RunState = model.Paused
		rt.forceSave()
		cmd.resp <- nil

	case cmdStop:
		rt.state.RunState = model.Stopped
		rt.queue.Clear()
		rt.forceSave()
		cmd.resp <- nil

	case cmdPushSchedule:
		if err := cmd.sched.Valid(); err != nil {
			cmd.resp <- err
			return
		}
		rt.state.PushSchedule(cmd.sched, model.NewContext(rt.dest))
		rt.forceSave()
		cmd.resp <- nil

	case cmdForceSave:
		rt.forceSave()
		cmd.resp <- nil

	case cmdSetImportedVar:
		if ctx := rt.state.TopContext(); ctx != nil {
			ctx.Vars[cmd.varName] = cmd.varValue
		}
		cmd.resp <- nil

	case cmdStatus:
		cmd.statusResp <- Status{
			Destination: rt.dest,
			RunState:    rt.state.RunState,
			Depth:       rt.state.Depth(),
			QueueLen:    rt.queue.Len(),
		}

	case cmdSnapshot:
		cmd.snapshotResp <- rt.state.Clone()

	case cmdQuit:
		close(cmd.resp)
	}
}

// --- public API --------------------------------------------------------

func (rt *Runtime) Start() error { return rt.do(cmdStart, model.Schedule{}) }
func (rt *Runtime) Pause() error { return rt.do(cmdPause, model.Schedule{}) }
func (rt *Runtime) Stop() error  { return rt.do(cmdStop, model.Schedule{}) }

// PushSchedule validates and pushes sched as the new top of the
// destination's schedule/context stack.
func (rt *Runtime) PushSchedule(sched model.Schedule) error {
	return rt.do(cmdPushSchedule, sched)
}

// ForceSave persists the current in-memory state unconditionally.
func (rt *Runtime) ForceSave() error { return rt.do(cmdForceSave, model.Schedule{}) }

// SetImportedVar writes value into this destination's top context under
// localName. It implements vars.ContextWriter via Registry, letting the
// variable registry propagate an owner's change into an importer's
// running context without reaching into the runtime's state directly.
func (rt *Runtime) SetImportedVar(localName string, value model.Value) error {
	resp := make(chan error, 1)
	rt.cmds <- command{kind: cmdSetImportedVar, varName: localName, varValue: value, resp: resp}
	return <-resp
}

func (rt *Runtime) do(kind cmdKind, sched model.Schedule) error {
	resp := make(chan error, 1)
	rt.cmds <- command{kind: kind, sched: sched, resp: resp}
	return <-resp
}

// Status returns a point-in-time snapshot of the runtime.
func (rt *Runtime) Status() Status {
	resp := make(chan Status, 1)
	rt.cmds <- command{kind: cmdStatus, statusResp: resp}
	return <-resp
}

// Snapshot returns a deep-enough copy of the runtime's current state, for
// inspection by the control API or tests.
func (rt *Runtime) Snapshot() *model.State {
	resp := make(chan *model.State, 1)
	rt.cmds <- command{kind: cmdSnapshot, snapshotResp: resp}
	return <-resp
}

// Quit stops the runtime's goroutine. The runtime is unusable afterward.
func (rt *Runtime) Quit() {
	resp := make(chan error)
	rt.cmds <- command{kind: cmdQuit, resp: resp}
	<-resp
}

// --- tick handling -------------------------------------------------------

func (rt *Runtime) onTick(now time.Time, elapsed time.Duration) {
	if rt.state.RunState != model.Running {
		return
	}
	sched := rt.state.TopSchedule()
	ctx := rt.state.TopContext()
	if sched == nil || ctx == nil {
		return // nothing loaded: idle until a schedule is pushed
	}

	applyGrace := !rt.graceApplied
	lookback := elapsed
	if applyGrace {
		lookback = gracePeriod
		rt.graceApplied = true
	}

	res := trigger.Resolve(*sched, ctx, rt.deps.Events, trigger.Options{
		Dest:             rt.dest,
		IncludeInitial:   !ctx.InitialRan,
		ApplyGracePeriod: applyGrace,
		Lookback:         lookback,
		Now:              now,
		ExecutionLog:     rt.state.LastTriggerExecutions,
	})
	if !ctx.InitialRan {
		ctx.InitialRan = true
	}
	for k, v := range res.NewExecutions {
		rt.state.LastTriggerExecutions[k] = v
	}

	for _, block := range res.Blocks {
		metrics.TriggerFired(block.Source)
		// During a wait only urgent and important blocks are admitted.
		if ctx.InWait(now) && !block.Urgent && !block.Important {
			continue
		}
		seq := rt.queue.PushBlock(block.Instructions, block.Important, block.Urgent)
		if seq == 0 {
			continue
		}
		if block.Urgent {
			metrics.QueueAdmitted("urgent")
		} else if block.Important {
			metrics.QueueAdmitted("important")
		} else {
			metrics.QueueAdmitted("normal")
		}
		if block.Source == "event" {
			rt.eventBlockSeq = seq
		}
	}
	if len(res.Blocks) > 0 {
		rt.forceSave()
	}

	rt.drainQueue(now)
}

func (rt *Runtime) drainQueue(now time.Time) {
	for {
		ctx := rt.state.TopContext()
		if ctx == nil {
			return
		}
		rt.clearDrainedEventVar(ctx)

		if ctx.InWait(now) {
			entry, ok := rt.queue.PopNext(true) // only an urgent entry interrupts a wait
			if !ok {
				return
			}
			ctx.ClearWait()
			rt.runEntry(ctx, entry, now)
			rt.clearDrainedEventVar(ctx)
			continue
		}

		entry, ok := rt.queue.PopNext(false)
		if !ok {
			return
		}
		switch rt.runEntry(ctx, entry, now) {
		case handlers.Continue:
		case handlers.ExitBlock:
			rt.queue.RemoveBlock(entry.BlockSeq)
		case handlers.Unload:
			if rt.unload() {
				rt.queue.RemoveBlock(entry.BlockSeq)
				return
			}
		case handlers.Terminate:
			// normal mode: drain final_actions, urgent+important so nothing
			// else can interleave, then pop exactly one frame once they do.
			rt.queue.RemoveBlock(entry.BlockSeq)
			if sched := rt.state.TopSchedule(); sched != nil && len(sched.FinalActions) > 0 {
				rt.pendingUnloadSeq = rt.queue.PushBlock(sched.FinalActions, true, true)
			} else if rt.unload() {
				return
			}
		case handlers.TerminateImmediate:
			// immediate mode: pop one frame with no final_actions drain.
			rt.queue.RemoveBlock(entry.BlockSeq)
			rt.terminateImmediate()
			return
		}

		rt.clearDrainedEventVar(ctx)
		if rt.pendingUnloadSeq != 0 && !rt.queue.HasSeq(rt.pendingUnloadSeq) {
			rt.pendingUnloadSeq = 0
			if rt.unload() {
				return
			}
		}
	}
}

// clearDrainedEventVar removes context.vars._event once every instruction
// admitted by the event trigger that set it has drained from the queue.
// Spec's event-variable lifetime rule: never mid-block, only once the
// block's entries are gone.
func (rt *Runtime) clearDrainedEventVar(ctx *model.Context) {
	if rt.eventBlockSeq == 0 {
		return
	}
	if rt.queue.HasSeq(rt.eventBlockSeq) {
		return
	}
	delete(ctx.Vars, model.EventVarKey)
	rt.eventBlockSeq = 0
}

func (rt *Runtime) runEntry(ctx *model.Context, entry queue.Entry, now time.Time) handlers.Outcome {
	env := &handlers.Env{
		Dest:     rt.dest,
		Now:      now,
		Ctx:      ctx,
		Registry: rt.deps.Registry,
		Events:   rt.deps.Events,
		GroupsOf: rt.deps.GroupsOf,
		Collabs:  rt.deps.Collabs,
	}
	outcome, err := rt.deps.Handlers.Execute(env, entry.Instruction)
	metrics.HandlerRan(entry.Instruction.Action)
	if err != nil {
		metrics.HandlerErrored(entry.Instruction.Action)
		log.Printf("scheduler: %s: %s: %s", rt.dest, entry.Instruction.Action, err)
	}
	return outcome
}

// unload pops the current schedule/context frame and reports whether it
// did so. A frame with prevent_unload set refuses the request, and the
// block that asked for it keeps running as if nothing happened. The plain
// unload instruction and normal-mode terminate (once its final_actions have
// drained) both go through this path.
func (rt *Runtime) unload() bool {
	top := rt.state.TopSchedule()
	if top != nil && top.PreventUnload {
		log.Printf("scheduler: %s: unload refused: prevent_unload is set", rt.dest)
		return false
	}
	rt.state.PopSchedule()
	if rt.state.TopSchedule() == nil {
		rt.state.RunState = model.Stopped
	}
	rt.forceSave()
	return true
}

// terminateImmediate pops the top schedule/context frame with no
// final_actions drain. A frame with prevent_unload set refuses the pop and
// stops the runtime outright instead, leaving the stack intact so a later
// start can resume it.
func (rt *Runtime) terminateImmediate() {
	top := rt.state.TopSchedule()
	if top != nil && top.PreventUnload {
		log.Printf("scheduler: %s: terminate immediate refused unload: prevent_unload is set; stopping", rt.dest)
		rt.state.RunState = model.Stopped
		rt.forceSave()
		return
	}
	rt.state.PopSchedule()
	if rt.state.TopSchedule() == nil {
		rt.state.RunState = model.Stopped
	}
	rt.forceSave()
}

func (rt *Runtime) forceSave() {
	if rt.deps.Store == nil {
		return
	}
	snapshot := rt.state.Clone()
	if rt.deps.Events != nil {
		snapshot.EventsActive = rt.deps.Events.Active(rt.dest)
		snapshot.EventsHistory = rt.deps.Events.History(rt.dest)
	}
	if err := rt.deps.Store.ForceSave(snapshot); err != nil {
		metrics.PersistenceFailed()
		log.Printf("scheduler: %s: %s", rt.dest, err)
	}
}
