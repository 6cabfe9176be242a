package scheduler

import (
	"testing"
	"time"

	"github.com/mjcarson/thorium/models"
)

func TestFairShareOrdering(t *testing.T) {
	fair := NewFairShare(100, 1, 1)
	fair.Increase("heavy", models.Resources{CPU: 32000, Memory: 65536})
	fair.Increase("light", models.Resources{CPU: 1000, Memory: 1024})

	order := fair.Order([]string{"heavy", "light", "idle"})
	if order[0] != "idle" || order[1] != "light" || order[2] != "heavy" {
		t.Fatalf("expected idle, light, heavy; got %v", order)
	}
}

func TestFairShareDecay(t *testing.T) {
	fair := NewFairShare(100, 1, 1)
	fair.Increase("bob", models.Resources{CPU: 1000, Memory: 1000})
	before := fair.Rank("bob")

	fair.Decay()
	if fair.Rank("bob") != before/2 {
		t.Fatalf("decay should halve ranks, got %f", fair.Rank("bob"))
	}
	// Enough decays and the user falls out of the map entirely.
	for i := 0; i < 64; i++ {
		fair.Decay()
	}
	if fair.Rank("bob") != 0 {
		t.Fatalf("negligible rank should be dropped, got %f", fair.Rank("bob"))
	}
}

func TestPlaceDemandsPrefersDeadlinePool(t *testing.T) {
	c := NewController(testScalerConfig(), "test", NewDryRun("test"), newFakePlatform(), nil)
	c.alloc.Update(testUpdate(map[string]models.Resources{
		// Room for exactly one worker.
		"tiny": {CPU: 1000, Memory: 1024, WorkerSlots: 1},
	}))
	c.alloc.ResetSpawnSlots()
	// The fair-share user is owed more, but overdue work still wins.
	c.fair.Increase("urgent-user", models.Resources{CPU: 90000, Memory: 90000})

	when := time.Now()
	res := models.Resources{CPU: 1000, Memory: 1024, WorkerSlots: 1}
	demands := []*demand{
		{
			req:      models.Requisition{User: "other", Group: "corn", Pipeline: "harvest", Stage: "plots"},
			count:    1,
			earliest: when.Add(time.Hour),
			pool:     models.PoolFairShare,
			image:    &models.Image{Resources: res},
		},
		{
			req:      models.Requisition{User: "urgent-user", Group: "corn", Pipeline: "harvest", Stage: "plots"},
			count:    1,
			earliest: when,
			pool:     models.PoolDeadline,
			image:    &models.Image{Resources: res},
		},
	}

	groups := c.placeDemands(demands)
	if len(groups) != 1 || len(groups[0].Spawns) != 1 {
		t.Fatalf("expected a single placement, got %v", groups)
	}
	sp := groups[0].Spawns[0]
	if sp.Req.User != "urgent-user" || sp.Pool != models.PoolDeadline {
		t.Fatalf("deadline pool should win the last slot, got %s from %s", sp.Req.User, sp.Pool)
	}
}
