package hedwig

import "github.com/cloudhedwig/hedwig/routing"

// TopicDescriptor names a publish destination, optionally in a different
// project/account than the publishing process (spec.md §3, §6).
type TopicDescriptor struct {
	Name             string
	CrossAccountOrProject string // empty for same-project/account publish
}

// Topic describes a same-project/account destination.
func Topic(name string) TopicDescriptor { return TopicDescriptor{Name: name} }

// CrossAccountTopic describes a destination in another project/account.
func CrossAccountTopic(name, accountOrProject string) TopicDescriptor {
	return TopicDescriptor{Name: name, CrossAccountOrProject: accountOrProject}
}

// IsCrossAccount reports whether this descriptor names a foreign project/account.
func (d TopicDescriptor) IsCrossAccount() bool { return d.CrossAccountOrProject != "" }

// RoutingTable maps (message type, major version) to a publish destination.
// Built once by the application and handed to Settings; Hedwig never
// mutates it after construction except through the Route method below.
type RoutingTable struct {
	table *routing.Table[TopicDescriptor]
}

// NewRoutingTable builds an empty routing table using exact (type, major)
// matching, per spec.md §3.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{table: routing.NewTable[TopicDescriptor](nil)}
}

// Route registers a destination for (msgType, major).
func (rt *RoutingTable) Route(msgType string, major int, dest TopicDescriptor) *RoutingTable {
	rt.table.Set(routing.Key{Type: msgType, Major: major}, dest)
	return rt
}

// Resolve looks up the destination for (msgType, major).
func (rt *RoutingTable) Resolve(msgType string, major int) (TopicDescriptor, bool) {
	return rt.table.Find(routing.Key{Type: msgType, Major: major})
}

// Keys returns every registered (type, major) pair, used by the validator's
// startup schema sanity check (spec.md §4.1).
func (rt *RoutingTable) Keys() []routing.Key {
	return rt.table.Keys()
}
