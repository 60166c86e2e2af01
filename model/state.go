package model

import "time"

// RunState is the scheduler state for a destination. Exactly one holds at
// any instant.
type RunState string

const (
	Stopped RunState = "stopped"
	Running RunState = "running"
	Paused  RunState = "paused"
)

// MaxEventHistory bounds each destination's consumed/expired event ring.
const MaxEventHistory = 200

// State is a destination's complete durable snapshot: schedule stack,
// context stack, run state, trigger-execution history, and active/historic
// events. It is the unit persisted atomically to one file per destination.
type State struct {
	Destination           string           `json:"destination"`
	ScheduleStack         []Schedule       `json:"schedule_stack"`
	ContextStack          []*Context       `json:"context_stack"`
	RunState              RunState         `json:"state"`
	LastTriggerExecutions map[string]time.Time `json:"last_trigger_executions"`
	EventsActive          map[string][]Event   `json:"events_active"`
	EventsHistory         []Event          `json:"events_history"`
	LastUpdated           time.Time        `json:"last_updated"`
}

// NewState returns an empty, stopped state for a fresh destination.
func NewState(dest string) *State {
	return &State{
		Destination:           dest,
		RunState:              Stopped,
		LastTriggerExecutions: map[string]time.Time{},
		EventsActive:          map[string][]Event{},
		LastUpdated:           time.Time{},
	}
}

// Depth returns the current schedule/context stack depth. Invariant 1
// (spec.md §3/§8) requires len(ScheduleStack) == len(ContextStack); callers
// that mutate the stacks must keep them in lockstep.
func (s *State) Depth() int { return len(s.ScheduleStack) }

// TopSchedule returns the active (top) schedule, or nil if the stack is
// empty.
func (s *State) TopSchedule() *Schedule {
	if len(s.ScheduleStack) == 0 {
		return nil
	}
	return &s.ScheduleStack[len(s.ScheduleStack)-1]
}

// TopContext returns the active (top) context, or nil if the stack is
// empty.
func (s *State) TopContext() *Context {
	if len(s.ContextStack) == 0 {
		return nil
	}
	return s.ContextStack[len(s.ContextStack)-1]
}

// PushSchedule pushes a new schedule/context pair, keeping the two stacks at
// equal depth.
func (s *State) PushSchedule(sched Schedule, ctx *Context) {
	s.ScheduleStack = append(s.ScheduleStack, sched)
	s.ContextStack = append(s.ContextStack, ctx)
}

// PopSchedule pops the top schedule/context pair. Returns false if the
// stack was already empty.
func (s *State) PopSchedule() bool {
	if len(s.ScheduleStack) == 0 {
		return false
	}
	s.ScheduleStack = s.ScheduleStack[:len(s.ScheduleStack)-1]
	s.ContextStack = s.ContextStack[:len(s.ContextStack)-1]
	return true
}

// Clone deep-enough-copies a State for safe persistence snapshotting off
// the runtime goroutine.
func (s *State) Clone() *State {
	clone := &State{
		Destination:           s.Destination,
		RunState:              s.RunState,
		LastUpdated:           s.LastUpdated,
		LastTriggerExecutions: make(map[string]time.Time, len(s.LastTriggerExecutions)),
		EventsActive:          make(map[string][]Event, len(s.EventsActive)),
	}
	clone.ScheduleStack = append(clone.ScheduleStack, s.ScheduleStack...)
	for _, c := range s.ContextStack {
		clone.ContextStack = append(clone.ContextStack, c.Clone())
	}
	for k, v := range s.LastTriggerExecutions {
		clone.LastTriggerExecutions[k] = v
	}
	for k, v := range s.EventsActive {
		cp := make([]Event, len(v))
		copy(cp, v)
		clone.EventsActive[k] = cp
	}
	clone.EventsHistory = append(clone.EventsHistory, s.EventsHistory...)
	return clone
}
