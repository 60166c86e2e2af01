package scheduler

import (
	"fmt"
	"sync"

	"github.com/gjbm2/screen-machine-sub000/metrics"
	"github.com/gjbm2/screen-machine-sub000/model"
)

// Registry is the process-wide map of live destination runtimes. It
// mirrors the teacher's registry.go in spirit — a single lock-guarded map
// — but the thing being guarded against races is runtime construction
// itself: GetOrCreate installs a pending placeholder before the
// (possibly slow, disk-touching) construction work runs, so two
// concurrent start requests for the same destination can never produce
// two goroutines racing over the same state file.
type Registry struct {
	mu       sync.Mutex
	deps     Deps
	runtimes map[string]*Runtime
	pending  map[string]chan struct{}
}

// NewRegistry returns an empty runtime registry sharing deps across every
// destination it creates.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps.withDefaults(),
		runtimes: map[string]*Runtime{},
		pending:  map[string]chan struct{}{},
	}
}

// GetOrCreate returns dest's runtime, constructing and starting it from
// persisted state (or a fresh state) if this is the first reference.
func (reg *Registry) GetOrCreate(dest string) (*Runtime, error) {
	reg.mu.Lock()
	if rt, ok := reg.runtimes[dest]; ok {
		reg.mu.Unlock()
		return rt, nil
	}
	if wait, ok := reg.pending[dest]; ok {
		reg.mu.Unlock()
		<-wait
		return reg.Get(dest)
	}
	placeholder := make(chan struct{})
	reg.pending[dest] = placeholder
	reg.mu.Unlock()

	st, loadErr := reg.deps.Store.Load(dest)

	reg.mu.Lock()
	var rt *Runtime
	if loadErr == nil {
		rt = New(dest, reg.deps, st)
		reg.runtimes[dest] = rt
	}
	delete(reg.pending, dest)
	close(placeholder)
	reg.mu.Unlock()

	if loadErr != nil {
		return nil, fmt.Errorf("scheduler: loading %s: %w", dest, loadErr)
	}
	return rt, nil
}

// Get returns dest's runtime if it already exists.
func (reg *Registry) Get(dest string) (*Runtime, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rt, ok := reg.runtimes[dest]
	if !ok {
		return nil, fmt.Errorf("scheduler: %s has no live runtime", dest)
	}
	return rt, nil
}

// Recover restores runtimes on startup per the recovery policy: a
// destination persisted as running resumes running (its context's
// InitialRan flag, persisted on the context, keeps initial_actions from
// replaying); one persisted as paused is recreated but stays idle; a
// stopped or missing destination is left to be created lazily on its
// first GetOrCreate.
func (reg *Registry) Recover() error {
	dests, err := reg.deps.Store.KnownDestinations()
	if err != nil {
		return err
	}
	for _, dest := range dests {
		st, err := reg.deps.Store.Load(dest)
		if err != nil {
			return fmt.Errorf("scheduler: recovering %s: %w", dest, err)
		}
		if st.RunState == model.Stopped {
			continue
		}
		reg.mu.Lock()
		reg.runtimes[dest] = New(dest, reg.deps, st)
		reg.mu.Unlock()
	}
	return nil
}

// StatusAll returns a status snapshot for every live runtime, keyed by
// destination.
func (reg *Registry) StatusAll() []Status {
	reg.mu.Lock()
	rts := make([]*Runtime, 0, len(reg.runtimes))
	for _, rt := range reg.runtimes {
		rts = append(rts, rt)
	}
	reg.mu.Unlock()

	out := make([]Status, 0, len(rts))
	counts := map[string]int{}
	for _, rt := range rts {
		st := rt.Status()
		out = append(out, st)
		counts[string(st.RunState)]++
	}
	metrics.SetDestinationCounts(counts)
	return out
}

// SetImportedVar implements vars.ContextWriter: it looks up the importing
// destination's live runtime and writes the value into its top context.
// A destination with no live runtime (not started, or not yet recovered)
// has nothing to propagate into; that is not an error.
func (reg *Registry) SetImportedVar(importerDest, localName string, value model.Value) error {
	rt, err := reg.Get(importerDest)
	if err != nil {
		return nil
	}
	return rt.SetImportedVar(localName, value)
}

// Shutdown stops every runtime goroutine, e.g. on process exit.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	rts := make([]*Runtime, 0, len(reg.runtimes))
	for _, rt := range reg.runtimes {
		rts = append(rts, rt)
	}
	reg.mu.Unlock()

	for _, rt := range rts {
		rt.Quit()
	}
}
