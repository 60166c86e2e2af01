package config

// Groups answers the group-membership queries the variable registry,
// event store, and import_var handler all need, built once from a Fleet's
// Groups map. It implements vars.GroupMembership, events.GroupMembership,
// and the handlers package's unexported "is this name a group" check,
// without those packages importing config (avoiding a cycle back down to
// the thing that constructs the runtimes).
type Groups struct {
	destsOf   map[string][]string // group -> member destination ids
	groupsOf  map[string][]string // destination -> groups it belongs to
	all       []string
}

// NewGroups builds a Groups index from a validated Fleet.
func NewGroups(f *Fleet) *Groups {
	g := &Groups{
		destsOf:  map[string][]string{},
		groupsOf: map[string][]string{},
	}
	for _, d := range f.Destinations {
		g.all = append(g.all, d.ID)
	}
	for group, members := range f.Groups {
		g.destsOf[group] = append([]string(nil), members...)
		for _, m := range members {
			g.groupsOf[m] = append(g.groupsOf[m], group)
		}
	}
	return g
}

// GroupsOf implements vars.GroupMembership.
func (g *Groups) GroupsOf(destination string) []string { return g.groupsOf[destination] }

// DestinationsOf implements events.GroupMembership.
func (g *Groups) DestinationsOf(group string) []string { return g.destsOf[group] }

// AllDestinations implements events.GroupMembership.
func (g *Groups) AllDestinations() []string { return g.all }

// IsGroup implements events.GroupMembership.
func (g *Groups) IsGroup(name string) bool {
	_, ok := g.destsOf[name]
	return ok
}

// IsGroupName satisfies the local interface handlers.handleImportVar uses
// to tell a group-scoped import from a direct destination-to-destination
// one.
func (g *Groups) IsGroupName(name string) bool { return g.IsGroup(name) }
