package state

import (
	"testing"
	"time"

	"github.com/gjbm2/screen-machine-sub000/corelock"
	"github.com/gjbm2/screen-machine-sub000/model"
	"github.com/gjbm2/screen-machine-sub000/vars"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), corelock.New())
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return s
}

func TestLoadMissingReturnsFreshStoppedState(t *testing.T) {
	s := newStore(t)
	st, err := s.Load("kitchen-display")
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if st.RunState != model.Stopped {
		t.Fatalf("got run state %q, want stopped", st.RunState)
	}
	if st.Destination != "kitchen-display" {
		t.Fatalf("got destination %q", st.Destination)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newStore(t)
	st := model.NewState("lobby")
	st.RunState = model.Running
	st.PushSchedule(model.Schedule{}, model.NewContext("lobby"))
	st.ContextStack[0].Vars["greeting"] = "hello"

	if err := s.Save(st); err != nil {
		t.Fatalf("Save: %s", err)
	}

	loaded, err := s.Load("lobby")
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if loaded.RunState != model.Running {
		t.Fatalf("got run state %q, want running", loaded.RunState)
	}
	if loaded.Depth() != 1 {
		t.Fatalf("got depth %d, want 1", loaded.Depth())
	}
	if got := loaded.ContextStack[0].Vars["greeting"]; got != "hello" {
		t.Fatalf("got greeting %v, want hello", got)
	}
}

func TestUpdateMutatesAndPersists(t *testing.T) {
	s := newStore(t)
	if _, err := s.Update("lobby", func(st *model.State) {
		st.RunState = model.Paused
	}); err != nil {
		t.Fatalf("Update: %s", err)
	}

	loaded, err := s.Load("lobby")
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if loaded.RunState != model.Paused {
		t.Fatalf("got run state %q, want paused", loaded.RunState)
	}
}

func TestKnownDestinationsListsSavedStatesOnly(t *testing.T) {
	s := newStore(t)
	if err := s.Save(model.NewState("a")); err != nil {
		t.Fatalf("Save a: %s", err)
	}
	if err := s.Save(model.NewState("b")); err != nil {
		t.Fatalf("Save b: %s", err)
	}
	if err := s.SaveRegistry(vars.Snapshot{}); err != nil {
		t.Fatalf("SaveRegistry: %s", err)
	}

	dests, err := s.KnownDestinations()
	if err != nil {
		t.Fatalf("KnownDestinations: %s", err)
	}
	if len(dests) != 2 {
		t.Fatalf("got %d destinations, want 2 (got %v)", len(dests), dests)
	}
}

func TestRegistrySnapshotRoundTrips(t *testing.T) {
	s := newStore(t)
	snap := vars.Snapshot{
		Global: map[string]vars.ExportInfo{
			"temperature": {Owner: "sensor-1", FriendlyName: "Temperature", Timestamp: time.Now().UTC()},
		},
		Groups:  map[string]map[string]vars.ExportInfo{},
		Imports: map[string]map[string]vars.ImportInfo{},
	}
	if err := s.SaveRegistry(snap); err != nil {
		t.Fatalf("SaveRegistry: %s", err)
	}

	loaded, err := s.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry: %s", err)
	}
	if loaded.Global["temperature"].Owner != "sensor-1" {
		t.Fatalf("got owner %q, want sensor-1", loaded.Global["temperature"].Owner)
	}
}

func TestLoadRegistryMissingReturnsEmptySnapshot(t *testing.T) {
	s := newStore(t)
	snap, err := s.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry: %s", err)
	}
	if len(snap.Global) != 0 {
		t.Fatalf("got non-empty global map on missing registry file")
	}
}
