// Package state implements the persistence store: one JSON file per
// destination, written atomically, plus a sibling file for the
// process-wide variable registry snapshot.
//
// Grounded on the teacher's registry.go atomic-broadcast discipline
// (mutate under the lock, then notify) translated to disk: mutate the
// in-memory State under the shared lock, marshal, write to a temp file,
// then rename over the destination file so a reader never observes a
// half-written snapshot.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gjbm2/screen-machine-sub000/corelock"
	"github.com/gjbm2/screen-machine-sub000/model"
	"github.com/gjbm2/screen-machine-sub000/vars"
)

// PersistenceFailure wraps a disk I/O error per spec.md §7: it is logged
// by the caller and does not affect in-memory authoritativeness.
type PersistenceFailure struct {
	Op  string
	Err error
}

func (e *PersistenceFailure) Error() string { return fmt.Sprintf("state: %s: %s", e.Op, e.Err) }
func (e *PersistenceFailure) Unwrap() error { return e.Err }

// Store is the file-backed persistence layer.
type Store struct {
	dir  string
	lock *corelock.Lock
}

// New constructs a store rooted at dir, creating it if necessary.
func New(dir string, lock *corelock.Lock) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceFailure{Op: "mkdir", Err: err}
	}
	return &Store{dir: dir, lock: lock}, nil
}

func (s *Store) path(dest string) string {
	return filepath.Join(s.dir, dest+".json")
}

// Load reads a destination's persisted state. A missing file is not an
// error: startup recovery (spec.md §4.1) treats it as a fresh, stopped
// destination.
func (s *Store) Load(dest string) (*model.State, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path(dest))
	if os.IsNotExist(err) {
		return model.NewState(dest), nil
	}
	if err != nil {
		return nil, &PersistenceFailure{Op: "read", Err: err}
	}
	var st model.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &PersistenceFailure{Op: "unmarshal", Err: err}
	}
	return &st, nil
}

// Save atomically writes the full state snapshot, canonicalizing
// timestamps to UTC. It always writes the full snapshot, never a partial
// diff — matching the teacher's broadcastRegistryState, which always
// fans out the complete registryState rather than a delta.
func (s *Store) Save(st *model.State) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.saveLocked(st)
}

// ForceSave is identical to Save. It exists as a distinct name because
// spec.md calls out force_save as a deliberate policy (used after
// pause/unpause and after context-variable edits, to touch LastUpdated
// even when no field changed) whose precise motivation the original
// doesn't document; callers that need that behaviour call ForceSave so
// the intent is visible at the call site even though the implementation
// is the same unconditional-write Save always performs.
func (s *Store) ForceSave(st *model.State) error {
	return s.Save(st)
}

func (s *Store) saveLocked(st *model.State) error {
	canonicalizeUTC(st)
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &PersistenceFailure{Op: "marshal", Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, st.Destination+".*.tmp")
	if err != nil {
		return &PersistenceFailure{Op: "create-temp", Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceFailure{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &PersistenceFailure{Op: "close", Err: err}
	}
	if err := os.Rename(tmpPath, s.path(st.Destination)); err != nil {
		os.Remove(tmpPath)
		return &PersistenceFailure{Op: "rename", Err: err}
	}
	return nil
}

// Update loads the current state, applies mutate, and saves the result —
// "partial arguments default to the current in-memory value" (spec.md
// §4.1) is realized here by handing the caller the live struct to mutate
// in place rather than threading a partial diff type through the API.
func (s *Store) Update(dest string, mutate func(*model.State)) (*model.State, error) {
	st, err := s.Load(dest)
	if err != nil {
		return nil, err
	}
	mutate(st)
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

func canonicalizeUTC(st *model.State) {
	for i := range st.ContextStack {
		c := st.ContextStack[i]
		if c == nil {
			continue
		}
		if c.WaitUntil != nil {
			t := c.WaitUntil.UTC()
			c.WaitUntil = &t
		}
		if c.LastWaitLog != nil {
			t := c.LastWaitLog.UTC()
			c.LastWaitLog = &t
		}
	}
	for k, v := range st.LastTriggerExecutions {
		st.LastTriggerExecutions[k] = v.UTC()
	}
	for key, evs := range st.EventsActive {
		for i := range evs {
			canonicalizeEvent(&evs[i])
		}
		st.EventsActive[key] = evs
	}
	for i := range st.EventsHistory {
		canonicalizeEvent(&st.EventsHistory[i])
	}
}

func canonicalizeEvent(ev *model.Event) {
	ev.ActiveFrom = ev.ActiveFrom.UTC()
	ev.Expires = ev.Expires.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	if ev.ConsumedAt != nil {
		t := ev.ConsumedAt.UTC()
		ev.ConsumedAt = &t
	}
}

// LoadRegistry reads the process-wide variable registry snapshot. A
// missing file yields an empty snapshot.
func (s *Store) LoadRegistry() (vars.Snapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, "_registry.json"))
	if os.IsNotExist(err) {
		return vars.Snapshot{Global: map[string]vars.ExportInfo{}, Groups: map[string]map[string]vars.ExportInfo{}, Imports: map[string]map[string]vars.ImportInfo{}}, nil
	}
	if err != nil {
		return vars.Snapshot{}, &PersistenceFailure{Op: "read-registry", Err: err}
	}
	var snap vars.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return vars.Snapshot{}, &PersistenceFailure{Op: "unmarshal-registry", Err: err}
	}
	return snap, nil
}

// SaveRegistry atomically writes the registry snapshot.
func (s *Store) SaveRegistry(snap vars.Snapshot) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &PersistenceFailure{Op: "marshal-registry", Err: err}
	}
	tmp, err := os.CreateTemp(s.dir, "_registry.*.tmp")
	if err != nil {
		return &PersistenceFailure{Op: "create-temp-registry", Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceFailure{Op: "write-registry", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &PersistenceFailure{Op: "close-registry", Err: err}
	}
	return os.Rename(tmpPath, filepath.Join(s.dir, "_registry.json"))
}

// KnownDestinations lists every destination with a persisted state file,
// used by startup recovery to iterate without needing the fleet config.
func (s *Store) KnownDestinations() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &PersistenceFailure{Op: "readdir", Err: err}
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || name == "_registry.json" {
			continue
		}
		out = append(out, name[:len(name)-len(".json")])
	}
	return out, nil
}
