package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/mjcarson/thorium/models"
)

func testCache() *Cache {
	return NewCache(
		[]string{"bob"},
		[]string{"corn"},
		[]models.Image{{
			Name:      "plots",
			Group:     "corn",
			Resources: models.Resources{CPU: 1000, Memory: 1024, WorkerSlots: 1},
		}},
	)
}

func TestDryRunReportsThreeNodes(t *testing.T) {
	d := NewDryRun("test")
	update, err := d.ResourcesAvailable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(update.Nodes) != 3 || len(update.Removes) != 0 {
		t.Fatalf("expected 3 healthy nodes, got %d nodes %d removes", len(update.Nodes), len(update.Removes))
	}
	for name, res := range update.Nodes {
		if res != dryRunNodeResources() {
			t.Fatalf("node %s reported %v", name, res)
		}
	}
}

func TestDryRunSpawnConsumesNode(t *testing.T) {
	d := NewDryRun("test")
	sp, err := NewSpawned(testReq(), models.PoolDeadline, "test", models.Resources{CPU: 2000, Memory: 2048, WorkerSlots: 1})
	if err != nil {
		t.Fatal(err)
	}
	sp.Node = d.nodeName(0)

	failed := d.Spawn(context.Background(), testCache(), []SpawnGroup{{When: time.Now(), Spawns: []*Spawned{sp}}})
	if len(failed) != 0 {
		t.Fatalf("spawn failed: %v", failed)
	}

	update, err := d.ResourcesAvailable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := update.Nodes[sp.Node]
	if got.CPU != 30000 || got.Memory != 63488 || got.WorkerSlots != 99 {
		t.Fatalf("spawn not reflected in availability: %v", got)
	}
}

func TestDryRunSpawnUnknownImage(t *testing.T) {
	d := NewDryRun("test")
	req := models.Requisition{User: "bob", Group: "corn", Pipeline: "harvest", Stage: "missing"}
	sp, err := NewSpawned(req, models.PoolDeadline, "test", models.Resources{CPU: 100})
	if err != nil {
		t.Fatal(err)
	}
	failed := d.Spawn(context.Background(), testCache(), []SpawnGroup{{Spawns: []*Spawned{sp}}})
	if _, ok := failed[sp.Name]; !ok {
		t.Fatal("expected a spawn failure for an unknown image")
	}
}

func TestDryRunDeleteIsIdempotent(t *testing.T) {
	d := NewDryRun("test")
	sp, err := NewSpawned(testReq(), models.PoolDeadline, "test", models.Resources{CPU: 100, WorkerSlots: 1})
	if err != nil {
		t.Fatal(err)
	}
	sp.Node = d.nodeName(1)
	d.Spawn(context.Background(), testCache(), []SpawnGroup{{Spawns: []*Spawned{sp}}})

	for i := 0; i < 2; i++ {
		deletions := d.Delete(context.Background(), []*Spawned{sp})
		if len(deletions) != 1 || deletions[0].Err != nil {
			t.Fatalf("delete pass %d: %v", i, deletions)
		}
	}
}

func TestDryRunUnhealthyNodeRemoved(t *testing.T) {
	d := NewDryRun("test")
	doomed := d.nodeName(2)
	d.SetNodeHealth(doomed, models.Unhealthy)

	update, err := d.ResourcesAvailable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(update.Nodes) != 2 {
		t.Fatalf("expected 2 schedulable nodes, got %d", len(update.Nodes))
	}
	if len(update.Removes) != 1 || update.Removes[0] != doomed {
		t.Fatalf("expected %s removed, got %v", doomed, update.Removes)
	}
}
