package scheduler

import (
	"testing"

	"github.com/mjcarson/thorium/models"
)

func testReq() models.Requisition {
	return models.Requisition{User: "bob", Group: "corn", Pipeline: "harvest", Stage: "plots"}
}

func testUpdate(nodes map[string]models.Resources, removes ...string) AllocatableUpdate {
	return AllocatableUpdate{Nodes: nodes, Removes: removes}
}

func mustAllocate(t *testing.T, a *Allocatable, res models.Resources) *Spawned {
	t.Helper()
	sp, err := NewSpawned(testReq(), models.PoolDeadline, "test", res)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Allocate(sp); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	return sp
}

func TestAllocatePicksBiggestNode(t *testing.T) {
	a := NewAllocatable("test")
	a.Update(testUpdate(map[string]models.Resources{
		"small": {CPU: 1000, Memory: 1024, WorkerSlots: 10},
		"big":   {CPU: 8000, Memory: 8192, WorkerSlots: 10},
	}))
	a.ResetSpawnSlots()

	sp := mustAllocate(t, a, models.Resources{CPU: 500, Memory: 512, WorkerSlots: 1})
	if sp.Node != "big" {
		t.Fatalf("expected placement on big, got %s", sp.Node)
	}
}

func TestAllocateRespectsCapacity(t *testing.T) {
	a := NewAllocatable("test")
	a.Update(testUpdate(map[string]models.Resources{
		"only": {CPU: 1000, Memory: 1024, WorkerSlots: 10},
	}))
	a.ResetSpawnSlots()

	mustAllocate(t, a, models.Resources{CPU: 800, Memory: 512, WorkerSlots: 1})
	sp, err := NewSpawned(testReq(), models.PoolDeadline, "test", models.Resources{CPU: 800, Memory: 512, WorkerSlots: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Allocate(sp); err != ErrNoCapacity {
		t.Fatalf("expected ErrNoCapacity, got %v", err)
	}
}

func TestAllocateSpawnSlotsSpreadLoad(t *testing.T) {
	a := NewAllocatable("test")
	a.Update(testUpdate(map[string]models.Resources{
		"a": {CPU: 8000, Memory: 8192, WorkerSlots: 100},
		"b": {CPU: 4000, Memory: 4096, WorkerSlots: 100},
	}))
	a.ResetSpawnSlots()

	small := models.Resources{CPU: 100, Memory: 128, WorkerSlots: 1}
	nodes := map[string]int{}
	for i := 0; i < 4; i++ {
		sp := mustAllocate(t, a, small)
		nodes[sp.Node]++
	}
	if nodes["a"] != 2 || nodes["b"] != 2 {
		t.Fatalf("expected 2 placements per node in one pass, got %v", nodes)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	a := NewAllocatable("test")
	a.Update(testUpdate(map[string]models.Resources{
		"only": {CPU: 1000, Memory: 1024, WorkerSlots: 10},
	}))
	a.ResetSpawnSlots()

	sp := mustAllocate(t, a, models.Resources{CPU: 400, Memory: 256, WorkerSlots: 1})
	a.Free(sp.Name)
	a.Free(sp.Name)
	total := a.TotalAvailable()
	if total.CPU != 1000 || total.Memory != 1024 || total.WorkerSlots != 10 {
		t.Fatalf("double free must not double credit, got %v", total)
	}
}

func TestConservationAcrossAllocateFree(t *testing.T) {
	a := NewAllocatable("test")
	start := models.Resources{CPU: 4000, Memory: 4096, Storage: 2048, WorkerSlots: 20}
	a.Update(testUpdate(map[string]models.Resources{"n1": start, "n2": start}))
	a.ResetSpawnSlots()

	var spawned []*Spawned
	res := models.Resources{CPU: 700, Memory: 512, Storage: 128, WorkerSlots: 1}
	for i := 0; i < 4; i++ {
		spawned = append(spawned, mustAllocate(t, a, res))
	}
	// available + everything held by workers must equal what we started with.
	sum := a.TotalAvailable()
	for _, sp := range spawned {
		sum = sum.Add(sp.Resources)
	}
	want := start.Add(start)
	if sum != want {
		t.Fatalf("resources leaked: have %v, want %v", sum, want)
	}

	for _, sp := range spawned {
		a.Free(sp.Name)
	}
	if a.TotalAvailable() != want {
		t.Fatalf("free did not restore the cluster, got %v", a.TotalAvailable())
	}
}

func TestUpdateRemovesFreeWorkers(t *testing.T) {
	a := NewAllocatable("test")
	a.Update(testUpdate(map[string]models.Resources{
		"doomed": {CPU: 2000, Memory: 2048, WorkerSlots: 10},
		"stable": {CPU: 2000, Memory: 2048, WorkerSlots: 10},
	}))
	a.ResetSpawnSlots()

	onDoomed := mustAllocate(t, a, models.Resources{CPU: 1500, Memory: 1024, WorkerSlots: 1})
	if onDoomed.Node != "doomed" && onDoomed.Node != "stable" {
		t.Fatalf("unexpected node %s", onDoomed.Node)
	}

	freed := a.Update(testUpdate(nil, onDoomed.Node))
	if len(freed) != 1 || freed[0].Name != onDoomed.Name {
		t.Fatalf("expected the stranded worker back, got %v", freed)
	}
	if _, ok := a.Get(onDoomed.Name); ok {
		t.Fatal("worker should no longer be tracked after its node was removed")
	}
	// Freeing it again must not credit a node that no longer exists.
	a.Free(onDoomed.Name)
	if a.NodeCount() != 1 {
		t.Fatalf("expected one node left, got %d", a.NodeCount())
	}
}
