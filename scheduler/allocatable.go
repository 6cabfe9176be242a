package scheduler

import (
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mjcarson/thorium/models"
)

// How many workers may be placed on one node in a single pass. Spreads
// load across nodes instead of stacking a whole burst on the biggest one.
const spawnSlotsPerNode = 2

// ErrNoCapacity is returned by Allocate when no node in the cluster can
// fit the requested resources right now.
var ErrNoCapacity = errors.New("no node with enough allocatable resources")

type nodeState struct {
	name      string
	available models.Resources
	// Spawn slots left this pass, reset by ResetSpawnSlots.
	slots int
}

// Allocatable tracks what is free on every node of one cluster and
// which of our workers is holding what. Resources move from available
// into a Spawned at Allocate time and back at Free time, so at all
// times observed-available == available + sum of allocated-since-update.
type Allocatable struct {
	cluster string
	nodes   map[string]*nodeState
	// Every live allocation, by worker name.
	spawned map[string]*Spawned
}

func NewAllocatable(cluster string) *Allocatable {
	return &Allocatable{
		cluster: cluster,
		nodes:   make(map[string]*nodeState),
		spawned: make(map[string]*Spawned),
	}
}

// Update applies a backend observation of per-node availability. The
// backend reports what is free right now, already net of our running
// workers, so the reported value replaces our running tally. Workers on
// removed nodes are dropped from tracking and returned so the caller
// can clean up after them.
func (a *Allocatable) Update(update AllocatableUpdate) []*Spawned {
	for name, res := range update.Nodes {
		node, ok := a.nodes[name]
		if !ok {
			node = &nodeState{name: name}
			a.nodes[name] = node
		}
		node.available = res
	}
	var freed []*Spawned
	for _, name := range update.Removes {
		delete(a.nodes, name)
		for worker, sp := range a.spawned {
			if sp.Node == name {
				delete(a.spawned, worker)
				freed = append(freed, sp)
			}
		}
	}
	return freed
}

// ResetSpawnSlots refills every node's per-pass spawn allowance.
func (a *Allocatable) ResetSpawnSlots() {
	for _, node := range a.nodes {
		node.slots = spawnSlotsPerNode
	}
}

// Allocate places the worker on the first node that can fit it, taking
// nodes in order of most available cpu first. The node's resources are
// consumed immediately so a later failure must be handed to Free.
func (a *Allocatable) Allocate(spawn *Spawned) error {
	ordered := make([]*nodeState, 0, len(a.nodes))
	for _, node := range a.nodes {
		ordered = append(ordered, node)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].available.CPU != ordered[j].available.CPU {
			return ordered[i].available.CPU > ordered[j].available.CPU
		}
		return ordered[i].name < ordered[j].name
	})
	for _, node := range ordered {
		if node.slots <= 0 || !node.available.Enough(spawn.Resources) {
			continue
		}
		node.available.Consume(spawn.Resources)
		node.slots--
		spawn.Node = node.name
		a.spawned[spawn.Name] = spawn
		return nil
	}
	return ErrNoCapacity
}

// Free returns a worker's resources to its node. Calling it again for
// the same worker is a no-op so a deletion reported twice cannot credit
// resources twice.
func (a *Allocatable) Free(name string) {
	sp, ok := a.spawned[name]
	if !ok {
		return
	}
	delete(a.spawned, name)
	node, ok := a.nodes[sp.Node]
	if !ok {
		// Node left the cluster, nothing to credit.
		log.WithFields(log.Fields{"worker": name, "node": sp.Node}).Debug("freed worker on removed node")
		return
	}
	node.available.Release(sp.Resources)
}

// Get returns a tracked worker by name.
func (a *Allocatable) Get(name string) (*Spawned, bool) {
	sp, ok := a.spawned[name]
	return sp, ok
}

// Active returns all tracked workers keyed by name. The map is a copy,
// the workers are not.
func (a *Allocatable) Active() map[string]*Spawned {
	out := make(map[string]*Spawned, len(a.spawned))
	for name, sp := range a.spawned {
		out[name] = sp
	}
	return out
}

// ActiveCount is how many workers currently hold resources per
// requisition, used to compare demand against what is already running.
func (a *Allocatable) ActiveCount() map[models.Requisition]uint64 {
	counts := make(map[models.Requisition]uint64)
	for _, sp := range a.spawned {
		counts[sp.Req]++
	}
	return counts
}

// TotalAvailable sums availability across all nodes, for logs and stats.
func (a *Allocatable) TotalAvailable() models.Resources {
	var total models.Resources
	for _, node := range a.nodes {
		total = total.Add(node.available)
	}
	return total
}

// NodeCount is how many schedulable nodes we currently track.
func (a *Allocatable) NodeCount() int {
	return len(a.nodes)
}
