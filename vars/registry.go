// Package vars implements the process-wide variable registry: exported
// variables (global or per-group), their importers, and propagation of
// value changes from an owner's context into each importer's top context.
//
// Grounded on the teacher's harpoon-scheduler/registry.go: a single
// lock-guarded struct holding a handful of plain maps, mutated under the
// lock, with state-change notification fanned out to interested parties —
// here, propagation into importer contexts plays the role the teacher's
// broadcastRegistryState plays for subscribed transformers.
package vars

import (
	"time"

	"github.com/gjbm2/screen-machine-sub000/corelock"
	"github.com/gjbm2/screen-machine-sub000/model"
)

// SourceType identifies where an import reads its value from.
type SourceType string

const (
	SourceDestination SourceType = "destination"
	SourceGroup       SourceType = "group"
	SourceScope       SourceType = "scope" // global
)

// GlobalScope is the well-known scope name for process-wide exports.
const GlobalScope = "global"

// ExportInfo describes one exported variable.
type ExportInfo struct {
	Owner        string
	FriendlyName string
	Timestamp    time.Time
}

// ImportInfo describes one destination's import of a variable.
type ImportInfo struct {
	ImporterID string
	ImportedAs string
	SourceType SourceType
	Source     string // destination id, group name, or "global"
	Timestamp  time.Time
}

// ContextWriter is the narrow surface the registry needs on the scheduler
// side to propagate a changed value into an importer's running context.
// Implemented by the scheduler package; injected here to avoid an import
// cycle between vars and scheduler.
type ContextWriter interface {
	SetImportedVar(importerDest, localName string, value model.Value) error
}

// GroupMembership answers "is destination a member of group" queries,
// needed to resolve group-scoped exports/imports. Implemented by the fleet
// config loader.
type GroupMembership interface {
	GroupsOf(destination string) []string
}

// Registry is the process-wide, lock-guarded store.
type Registry struct {
	lock *corelock.Lock

	global map[string]ExportInfo            // varName -> export
	groups map[string]map[string]ExportInfo // group -> varName -> export
	imports map[string]map[string]ImportInfo // varName -> importerID -> info

	writer    ContextWriter
	groupsOf  GroupMembership
	persist   func(snapshot Snapshot)
}

// Snapshot is the serializable view of the registry, written to
// <state_dir>/_registry.json after every mutating call.
type Snapshot struct {
	Global  map[string]ExportInfo            `json:"global"`
	Groups  map[string]map[string]ExportInfo  `json:"groups"`
	Imports map[string]map[string]ImportInfo  `json:"imports"`
}

// New constructs an empty registry. persist, if non-nil, is invoked with a
// snapshot after every mutating call (force-save discipline, matching the
// scheduler state store).
func New(lock *corelock.Lock, writer ContextWriter, groupsOf GroupMembership, persist func(Snapshot)) *Registry {
	return &Registry{
		lock:     lock,
		global:   map[string]ExportInfo{},
		groups:   map[string]map[string]ExportInfo{},
		imports:  map[string]map[string]ImportInfo{},
		writer:   writer,
		groupsOf: groupsOf,
		persist:  persist,
	}
}

// RegisterExport exports varName from owner into scope ("global" or a group
// name). Re-exporting by the same owner updates the friendly name and
// timestamp; re-exporting by a different owner replaces ownership.
func (r *Registry) RegisterExport(owner, scope, varName, friendlyName string, now time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()

	info := ExportInfo{Owner: owner, FriendlyName: friendlyName, Timestamp: now}
	if scope == GlobalScope {
		r.global[varName] = info
	} else {
		m, ok := r.groups[scope]
		if !ok {
			m = map[string]ExportInfo{}
			r.groups[scope] = m
		}
		m[varName] = info
	}
	r.snapshotLocked()
}

// RemoveExport removes an export and, per spec.md §4.2, all downstream
// imports of it.
func (r *Registry) RemoveExport(scope, varName string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if scope == GlobalScope {
		delete(r.global, varName)
	} else if m, ok := r.groups[scope]; ok {
		delete(m, varName)
	}
	delete(r.imports, varName)
	r.snapshotLocked()
}

// RegisterImport records that importerID imports varName from source
// (a destination id, group name, or "global"), aliased locally as
// importedAs.
func (r *Registry) RegisterImport(importerID, importedAs string, sourceType SourceType, source, varName string, now time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()

	m, ok := r.imports[varName]
	if !ok {
		m = map[string]ImportInfo{}
		r.imports[varName] = m
	}
	m[importerID] = ImportInfo{
		ImporterID: importerID,
		ImportedAs: importedAs,
		SourceType: sourceType,
		Source:     source,
		Timestamp:  now,
	}
	r.snapshotLocked()
}

// RemoveImport drops one importer's subscription to varName.
func (r *Registry) RemoveImport(importerID, varName string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if m, ok := r.imports[varName]; ok {
		delete(m, importerID)
		if len(m) == 0 {
			delete(r.imports, varName)
		}
	}
	r.snapshotLocked()
}

// Propagate is called by the owner destination's set_var handler whenever
// varName changes value in its own context. It finds every importer whose
// source matches ownerDest for varName and writes the new value into that
// importer's top context under its local alias.
func (r *Registry) Propagate(ownerDest, varName string, value model.Value) {
	r.lock.Lock()
	importers := r.matchingImportersLocked(ownerDest, varName)
	r.lock.Unlock()

	for _, imp := range importers {
		_ = r.writer.SetImportedVar(imp.ImporterID, imp.ImportedAs, value)
	}
}

// PropagateNullExport implements "a null assignment to an exported
// variable removes the export entry and all downstream imports": the
// set_var handler calls this instead of Propagate whenever var=null clears
// a variable. Nothing is removed unless ownerDest holds an export of
// varName.
func (r *Registry) PropagateNullExport(ownerDest, varName string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	removed := false
	if exp, ok := r.global[varName]; ok && exp.Owner == ownerDest {
		delete(r.global, varName)
		removed = true
	}
	for group, m := range r.groups {
		if exp, ok := m[varName]; ok && exp.Owner == ownerDest {
			delete(m, varName)
			removed = true
			if len(m) == 0 {
				delete(r.groups, group)
			}
		}
	}
	if removed {
		delete(r.imports, varName)
	}
	r.snapshotLocked()
}

func (r *Registry) matchingImportersLocked(ownerDest, varName string) []ImportInfo {
	m, ok := r.imports[varName]
	if !ok {
		return nil
	}
	var out []ImportInfo
	for _, imp := range m {
		switch imp.SourceType {
		case SourceDestination:
			if imp.Source == ownerDest {
				out = append(out, imp)
			}
		case SourceScope:
			if exp, ok := r.global[varName]; ok && exp.Owner == ownerDest {
				out = append(out, imp)
			}
		case SourceGroup:
			if exp, ok := r.groups[imp.Source][varName]; ok && exp.Owner == ownerDest {
				if r.destinationInGroup(ownerDest, imp.Source) {
					out = append(out, imp)
				}
			}
		}
	}
	return out
}

func (r *Registry) destinationInGroup(dest, group string) bool {
	if r.groupsOf == nil {
		return true
	}
	for _, g := range r.groupsOf.GroupsOf(dest) {
		if g == group {
			return true
		}
	}
	return false
}

// Restore seeds the registry's in-memory maps from a snapshot loaded at
// startup, without re-triggering persistence (the snapshot came from disk
// in the first place).
func (r *Registry) Restore(snap Snapshot) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if snap.Global != nil {
		r.global = cloneExportMap(snap.Global)
	}
	if snap.Groups != nil {
		r.groups = map[string]map[string]ExportInfo{}
		for g, m := range snap.Groups {
			r.groups[g] = cloneExportMap(m)
		}
	}
	if snap.Imports != nil {
		r.imports = map[string]map[string]ImportInfo{}
		for v, m := range snap.Imports {
			cp := map[string]ImportInfo{}
			for k, imp := range m {
				cp[k] = imp
			}
			r.imports[v] = cp
		}
	}
}

func (r *Registry) snapshotLocked() {
	if r.persist == nil {
		return
	}
	snap := Snapshot{
		Global:  cloneExportMap(r.global),
		Groups:  map[string]map[string]ExportInfo{},
		Imports: map[string]map[string]ImportInfo{},
	}
	for g, m := range r.groups {
		snap.Groups[g] = cloneExportMap(m)
	}
	for v, m := range r.imports {
		cp := map[string]ImportInfo{}
		for k, imp := range m {
			cp[k] = imp
		}
		snap.Imports[v] = cp
	}
	r.persist(snap)
}

func cloneExportMap(m map[string]ExportInfo) map[string]ExportInfo {
	cp := make(map[string]ExportInfo, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
