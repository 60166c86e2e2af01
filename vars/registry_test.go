package vars

import (
	"testing"
	"time"

	"github.com/gjbm2/screen-machine-sub000/corelock"
	"github.com/gjbm2/screen-machine-sub000/model"
)

type fakeWriter struct {
	set map[string]model.Value // importerDest+"."+localName -> value
}

func newFakeWriter() *fakeWriter { return &fakeWriter{set: map[string]model.Value{}} }

func (w *fakeWriter) SetImportedVar(importerDest, localName string, value model.Value) error {
	w.set[importerDest+"."+localName] = value
	return nil
}

type fakeGroups map[string][]string

func (g fakeGroups) GroupsOf(dest string) []string { return g[dest] }

func TestRegistryGlobalExportPropagates(t *testing.T) {
	writer := newFakeWriter()
	r := New(corelock.New(), writer, fakeGroups{}, nil)

	now := time.Unix(0, 0)
	r.RegisterExport("d1", GlobalScope, "x", "friendly-x", now)
	r.RegisterImport("d2", "x_local", SourceScope, GlobalScope, "x", now)

	r.Propagate("d1", "x", 9)

	if got := writer.set["d2.x_local"]; got != 9 {
		t.Fatalf("d2.x_local = %v, want 9", got)
	}
}

func TestRegistryGroupExportRequiresMembership(t *testing.T) {
	writer := newFakeWriter()
	groups := fakeGroups{"d1": {"G"}}
	r := New(corelock.New(), writer, groups, nil)

	now := time.Unix(0, 0)
	r.RegisterExport("d1", "G", "x", "", now)
	r.RegisterImport("d2", "x_local", SourceGroup, "G", "x", now)

	// d1 is a member of G, so propagation fires.
	r.Propagate("d1", "x", 1)
	if got := writer.set["d2.x_local"]; got != 1 {
		t.Fatalf("d2.x_local = %v, want 1", got)
	}

	// A non-member "owner" of the same var name should not propagate,
	// since it doesn't hold the export.
	r.Propagate("d3", "x", 2)
	if got := writer.set["d2.x_local"]; got != 1 {
		t.Fatalf("d2.x_local changed to %v after non-owner propagate, want still 1", got)
	}
}

func TestRegistryNullExportRemovesImports(t *testing.T) {
	writer := newFakeWriter()
	r := New(corelock.New(), writer, fakeGroups{}, nil)

	now := time.Unix(0, 0)
	r.RegisterExport("d1", GlobalScope, "x", "", now)
	r.RegisterImport("d2", "x_local", SourceScope, GlobalScope, "x", now)

	r.PropagateNullExport("d1", "x")

	r.Propagate("d1", "x", 42)
	if _, ok := writer.set["d2.x_local"]; ok {
		t.Fatalf("import should have been removed by null export assignment")
	}
	if _, ok := r.global["x"]; ok {
		t.Fatalf("export entry should have been removed")
	}
}

func TestRegistryDestinationScopedImport(t *testing.T) {
	writer := newFakeWriter()
	r := New(corelock.New(), writer, fakeGroups{}, nil)

	now := time.Unix(0, 0)
	// A destination-scoped import needs no export registration: it reads
	// directly off the source destination's context.
	r.RegisterImport("d2", "mirrored", SourceDestination, "d1", "x", now)

	r.Propagate("d1", "x", "hello")
	if got := writer.set["d2.mirrored"]; got != "hello" {
		t.Fatalf("d2.mirrored = %v, want hello", got)
	}
}
