package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %s", path, err)
	}
}

func TestLoadFleetValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	writeFile(t, path, `
state_dir: /tmp/state
tick_interval: 5s
destinations:
  - id: lobby
    auto_start: true
  - id: kitchen
groups:
  displays: [lobby, kitchen]
`)

	f, err := LoadFleet(path)
	if err != nil {
		t.Fatalf("LoadFleet: %s", err)
	}
	if len(f.Destinations) != 2 {
		t.Fatalf("got %d destinations, want 2", len(f.Destinations))
	}
	if tick, err := f.TickDuration(); err != nil || tick.Seconds() != 5 {
		t.Fatalf("got tick %v, err %v", tick, err)
	}
}

func TestLoadFleetRejectsUnknownGroupMember(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	writeFile(t, path, `
state_dir: /tmp/state
destinations:
  - id: lobby
groups:
  displays: [lobby, nonexistent]
`)

	if _, err := LoadFleet(path); err == nil {
		t.Fatal("expected an error for an unknown group member, got nil")
	}
}

func TestLoadFleetRejectsDuplicateDestination(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	writeFile(t, path, `
state_dir: /tmp/state
destinations:
  - id: lobby
  - id: lobby
`)

	if _, err := LoadFleet(path); err == nil {
		t.Fatal("expected an error for a duplicate destination id, got nil")
	}
}

func TestFleetTickDurationDefaultsTo2s(t *testing.T) {
	f := Fleet{StateDir: "/tmp", Destinations: []DestinationConfig{{ID: "lobby"}}}
	d, err := f.TickDuration()
	if err != nil {
		t.Fatalf("TickDuration: %s", err)
	}
	if d.Seconds() != 2 {
		t.Fatalf("got %v, want 2s", d)
	}
}

func TestNewGroupsResolvesMembership(t *testing.T) {
	f := &Fleet{
		Destinations: []DestinationConfig{{ID: "lobby"}, {ID: "kitchen"}, {ID: "unaffiliated"}},
		Groups:       map[string][]string{"displays": {"lobby", "kitchen"}},
	}
	g := NewGroups(f)

	if !g.IsGroup("displays") {
		t.Fatal("expected displays to be recognized as a group")
	}
	if g.IsGroup("lobby") {
		t.Fatal("a destination id must not be recognized as a group")
	}
	dests := g.DestinationsOf("displays")
	if len(dests) != 2 {
		t.Fatalf("got %d members of displays, want 2", len(dests))
	}
	groups := g.GroupsOf("lobby")
	if len(groups) != 1 || groups[0] != "displays" {
		t.Fatalf("got groups %v for lobby, want [displays]", groups)
	}
	if len(g.AllDestinations()) != 3 {
		t.Fatalf("got %d known destinations, want 3", len(g.AllDestinations()))
	}
}
