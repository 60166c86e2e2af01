package model

import "time"

// Context is a per-destination record, one per stack frame in parallel with
// the schedule stack.
type Context struct {
	Vars              Vars       `json:"vars"`
	WaitUntil         *time.Time `json:"wait_until,omitempty"`
	LastWaitLog       *time.Time `json:"last_wait_log,omitempty"`
	PublishDestination string    `json:"publish_destination"`
	Stopping          bool       `json:"stopping,omitempty"`
	// InitialRan records whether this stack frame's initial_actions have
	// already fired, so a process restart (which reloads persisted state
	// rather than pushing the schedule afresh) never replays them.
	InitialRan bool `json:"initial_ran,omitempty"`
}

// EventVarKey is the context.vars key event triggers bind their payload to.
const EventVarKey = "_event"

// NewContext returns an empty context for the given destination.
func NewContext(dest string) *Context {
	return &Context{
		Vars:               Vars{},
		PublishDestination: dest,
	}
}

// Clone deep-enough-copies a context for safe handoff across goroutines
// (e.g. variable propagation writing into another destination's top
// context).
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := &Context{
		Vars:               c.Vars.Clone(),
		PublishDestination: c.PublishDestination,
		Stopping:           c.Stopping,
		InitialRan:         c.InitialRan,
	}
	if c.WaitUntil != nil {
		t := *c.WaitUntil
		clone.WaitUntil = &t
	}
	if c.LastWaitLog != nil {
		t := *c.LastWaitLog
		clone.LastWaitLog = &t
	}
	return clone
}

// InWait reports whether the context is currently in wait-state: wait_until
// is set and not yet reached.
func (c *Context) InWait(now time.Time) bool {
	return c.WaitUntil != nil && now.Before(*c.WaitUntil)
}

// ClearWait atomically clears wait_until, used on urgent interruption.
func (c *Context) ClearWait() {
	c.WaitUntil = nil
}
