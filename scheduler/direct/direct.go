// Package direct implements the scheduler backend for bare metal
// clusters. There is no orchestrator to talk to: capacity comes from
// the platform's node registry, spawning is just registration (the
// node-resident agent picks assigned workers up itself), and deletion
// asks the worker to shut down and waits for the registry to agree it
// is gone.
package direct

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mjcarson/thorium/models"
	"github.com/mjcarson/thorium/scheduler"
)

// A node that has not heartbeated in this long is treated as dead.
const heartbeatGrace = 5 * time.Minute

// Platform is the slice of the API this backend needs beyond what the
// scheduler core already uses. client.Client implements it.
type Platform interface {
	ListNodes(ctx context.Context, params models.NodeListParams) ([]models.NodeInfo, error)
	UpdateWorkerStatus(ctx context.Context, name string, status models.WorkerStatus) error
}

// Backend schedules workers onto registered bare metal nodes.
type Backend struct {
	cluster  string
	platform Platform
	// Workers told to shut down but not yet gone from the registry.
	pendingDelete map[string]*scheduler.Spawned
}

func New(cluster string, platform Platform) *Backend {
	return &Backend{
		cluster:       cluster,
		platform:      platform,
		pendingDelete: make(map[string]*scheduler.Spawned),
	}
}

// Setup has nothing to prepare on bare metal, node agents provision
// themselves.
func (b *Backend) Setup(ctx context.Context, cache *scheduler.Cache) (map[string]string, error) {
	return nil, nil
}

func (b *Backend) SyncToNewCache(ctx context.Context, old, fresh *scheduler.Cache) (map[string]string, error) {
	return nil, nil
}

// ResourcesAvailable derives per-node availability from the registry:
// a node's declared capacity minus the workers it currently hosts.
// Unhealthy, disabled, or silent nodes come back as removes.
func (b *Backend) ResourcesAvailable(ctx context.Context) (scheduler.AllocatableUpdate, error) {
	update := scheduler.AllocatableUpdate{Nodes: make(map[string]models.Resources)}
	nodes, err := b.platform.ListNodes(ctx, models.NodeListParams{Cluster: b.cluster})
	if err != nil {
		return update, errors.Wrap(err, "listing registered nodes")
	}
	now := time.Now()
	for _, node := range nodes {
		if !node.Health.Schedulable() || now.Sub(node.Heartbeat) > heartbeatGrace {
			update.Removes = append(update.Removes, node.Name)
			continue
		}
		avail := node.Resources
		for _, worker := range node.Workers {
			avail.Consume(worker.Resources)
		}
		update.Nodes[node.Name] = avail
	}
	return update, nil
}

// Spawn is a no-op on bare metal: the controller already registered the
// workers and each node's agent launches whatever is assigned to it.
// Only sanity problems are reported.
func (b *Backend) Spawn(ctx context.Context, cache *scheduler.Cache, groups []scheduler.SpawnGroup) map[string]error {
	failed := make(map[string]error)
	for _, group := range groups {
		for _, sp := range group.Spawns {
			if _, ok := cache.GetImage(sp.Req.Group, sp.Req.Stage); !ok {
				failed[sp.Name] = errors.Errorf("unknown image %s/%s", sp.Req.Group, sp.Req.Stage)
			}
		}
	}
	return failed
}

// Delete asks each worker to shut down and only reports it deleted once
// the registry no longer lists it. Workers in between stay pending so
// the next sweep re-checks instead of double-crediting their resources.
func (b *Backend) Delete(ctx context.Context, workers []*scheduler.Spawned) []scheduler.WorkerDeletion {
	for _, sp := range workers {
		if _, ok := b.pendingDelete[sp.Name]; ok {
			continue
		}
		// An update failure usually means the worker already removed
		// itself; the registry check below settles it either way.
		if err := b.platform.UpdateWorkerStatus(ctx, sp.Name, models.WorkerShutdown); err != nil {
			log.WithFields(log.Fields{"worker": sp.Name, "error": err}).Debug("worker shutdown request failed")
		}
		b.pendingDelete[sp.Name] = sp
	}
	if len(b.pendingDelete) == 0 {
		return nil
	}

	still := make(map[string]bool)
	nodes, err := b.platform.ListNodes(ctx, models.NodeListParams{Cluster: b.cluster})
	if err != nil {
		// Cannot confirm anything is gone this sweep.
		log.WithField("error", err).Error("failed to confirm worker deletions")
		return nil
	}
	for _, node := range nodes {
		for name := range node.Workers {
			still[name] = true
		}
	}

	var out []scheduler.WorkerDeletion
	for name, sp := range b.pendingDelete {
		if still[name] {
			continue
		}
		delete(b.pendingDelete, name)
		out = append(out, scheduler.WorkerDeletion{Worker: sp})
	}
	return out
}

// ClearTerminal finds workers whose nodes stopped reporting them. The
// node agent reaps its own processes, so a worker missing from its
// node's report has exited.
func (b *Backend) ClearTerminal(ctx context.Context, active map[string]*scheduler.Spawned) (scheduler.Terminal, error) {
	terminal := scheduler.Terminal{}
	nodes, err := b.platform.ListNodes(ctx, models.NodeListParams{Cluster: b.cluster})
	if err != nil {
		return terminal, errors.Wrap(err, "listing registered nodes")
	}
	reported := make(map[string]models.WorkerStatus)
	byNode := make(map[string]bool)
	for _, node := range nodes {
		byNode[node.Name] = true
		for name, worker := range node.Workers {
			reported[name] = worker.Status
		}
	}
	for name, sp := range active {
		if _, pending := b.pendingDelete[name]; pending {
			continue
		}
		// A worker on a node the registry still knows, but absent from
		// that node's report, has exited.
		if _, ok := reported[name]; !ok && byNode[sp.Node] {
			terminal.Done = append(terminal.Done, sp)
		}
	}
	return terminal, nil
}

func (b *Backend) TaskDelay(task scheduler.Task) time.Duration {
	// Registry reads are cheap compared to an apiserver, poll faster.
	switch task {
	case scheduler.TaskResources:
		return 30 * time.Second
	default:
		return scheduler.DefaultTaskDelay(task)
	}
}
