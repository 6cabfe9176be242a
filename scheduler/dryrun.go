package scheduler

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mjcarson/thorium/models"
)

// dryRunNodes is the simulated fleet: three identical large nodes.
const dryRunNodeCount = 3

func dryRunNodeResources() models.Resources {
	return models.Resources{
		CPU:         32000,
		Memory:      65536,
		Storage:     131072,
		WorkerSlots: 100,
	}
}

// DryRun is a backend that spawns nothing. It simulates a small static
// cluster so the whole scheduling loop can be exercised end to end
// without touching k8s or real hardware.
type DryRun struct {
	cluster string
	health  map[string]models.NodeHealth
	// Workers we have "spawned", by name.
	workers map[string]*Spawned
}

func NewDryRun(cluster string) *DryRun {
	d := &DryRun{
		cluster: cluster,
		health:  make(map[string]models.NodeHealth),
		workers: make(map[string]*Spawned),
	}
	for i := 0; i < dryRunNodeCount; i++ {
		d.health[d.nodeName(i)] = models.Healthy
	}
	return d
}

func (d *DryRun) nodeName(i int) string {
	return fmt.Sprintf("%s-dry-%d", d.cluster, i)
}

// SetNodeHealth flips a simulated node's health, letting tests and
// demos watch the scheduler react to nodes going away.
func (d *DryRun) SetNodeHealth(name string, health models.NodeHealth) {
	if _, ok := d.health[name]; ok {
		d.health[name] = health
	}
}

func (d *DryRun) Setup(ctx context.Context, cache *Cache) (map[string]string, error) {
	log.WithField("images", len(cache.Images())).Info("dry run setup")
	return nil, nil
}

func (d *DryRun) SyncToNewCache(ctx context.Context, old, fresh *Cache) (map[string]string, error) {
	return d.Setup(ctx, fresh)
}

func (d *DryRun) ResourcesAvailable(ctx context.Context) (AllocatableUpdate, error) {
	update := AllocatableUpdate{Nodes: make(map[string]models.Resources)}
	for name, health := range d.health {
		if !health.Schedulable() {
			update.Removes = append(update.Removes, name)
			continue
		}
		avail := dryRunNodeResources()
		for _, sp := range d.workers {
			if sp.Node == name {
				avail.Consume(sp.Resources)
			}
		}
		update.Nodes[name] = avail
	}
	return update, nil
}

func (d *DryRun) Spawn(ctx context.Context, cache *Cache, groups []SpawnGroup) map[string]error {
	failed := make(map[string]error)
	for _, group := range groups {
		for _, sp := range group.Spawns {
			if _, ok := cache.GetImage(sp.Req.Group, sp.Req.Stage); !ok {
				failed[sp.Name] = fmt.Errorf("unknown image %s/%s", sp.Req.Group, sp.Req.Stage)
				continue
			}
			d.workers[sp.Name] = sp
			log.WithFields(log.Fields{"worker": sp.Name, "node": sp.Node}).Info("dry run spawn")
		}
	}
	return failed
}

func (d *DryRun) Delete(ctx context.Context, workers []*Spawned) []WorkerDeletion {
	out := make([]WorkerDeletion, 0, len(workers))
	for _, sp := range workers {
		// Deleting an unknown worker is still a successful delete.
		delete(d.workers, sp.Name)
		out = append(out, WorkerDeletion{Worker: sp})
	}
	return out
}

func (d *DryRun) ClearTerminal(ctx context.Context, active map[string]*Spawned) (Terminal, error) {
	// Simulated workers never crash.
	return Terminal{}, nil
}

func (d *DryRun) TaskDelay(task Task) time.Duration {
	return DefaultTaskDelay(task)
}
