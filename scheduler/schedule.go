package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mjcarson/thorium/models"
)

// demand is the aggregated ask for one requisition this pass.
type demand struct {
	req      models.Requisition
	count    uint64
	earliest time.Time
	pool     models.Pool
	image    *models.Image
}

// schedule is one admission pass: pull the deadline stream, figure out
// how many workers each requisition still needs, place them onto nodes,
// then register and spawn them.
func (c *Controller) schedule(ctx context.Context, now time.Time) error {
	deadlines, err := c.platform.Deadlines(ctx, c.cluster, c.cfg.DeadlineWindow)
	if err != nil {
		return errors.Wrap(err, "pulling deadlines")
	}
	c.stat.Gauge("pendingDeadlines").Update(int64(len(deadlines)))
	if len(deadlines) == 0 {
		return nil
	}

	demands := c.buildDemands(deadlines, now)
	if len(demands) == 0 {
		return nil
	}

	c.alloc.ResetSpawnSlots()
	groups := c.placeDemands(demands)
	if len(groups) == 0 {
		return nil
	}
	return c.launch(ctx, groups)
}

// buildDemands folds the deadline stream into per-requisition asks and
// filters out everything we cannot or should not spawn for.
func (c *Controller) buildDemands(deadlines []models.Deadline, now time.Time) []*demand {
	byReq := make(map[models.Requisition]*demand)
	for _, dl := range deadlines {
		req := dl.Req()
		d, ok := byReq[req]
		if !ok {
			d = &demand{req: req, earliest: dl.Deadline}
			byReq[req] = d
		}
		d.count++
		if dl.Deadline.Before(d.earliest) {
			d.earliest = dl.Deadline
		}
	}

	active := c.alloc.ActiveCount()
	out := make([]*demand, 0, len(byReq))
	for req, d := range byReq {
		if reason, banned := c.bans.ImageBanned(req.Group, req.Stage); banned {
			log.WithFields(log.Fields{"req": req.String(), "reason": reason}).Debug("skipping banned image")
			continue
		}
		img, ok := c.cache.GetImage(req.Group, req.Stage)
		if !ok {
			log.WithField("req", req.String()).Warn("deadline for unknown image")
			c.stat.Counter("unknownImageDeadlines").Inc(1)
			continue
		}
		d.image = img
		// Demand is what the queue asks for minus what already runs.
		running := active[req]
		if running >= d.count {
			continue
		}
		d.count -= running
		// A spawn limit caps total workers for this image, not this pass.
		if !img.SpawnLimit.Unlimited {
			limit := uint64(img.SpawnLimit.Limit)
			if running >= limit {
				continue
			}
			if d.count > limit-running {
				d.count = limit - running
			}
		}
		// Overdue work schedules from the deadline pool ahead of
		// everyone's fair share.
		if d.earliest.Before(now) || d.earliest.Equal(now) {
			d.pool = models.PoolDeadline
		} else {
			d.pool = models.PoolFairShare
		}
		out = append(out, d)
	}
	return out
}

// placeDemands allocates node room for as much of the demand as fits.
// Deadline-pool work places first in deadline order; the rest places in
// fair-share order. Spawns come back grouped by deadline, oldest first.
func (c *Controller) placeDemands(demands []*demand) []SpawnGroup {
	sort.Slice(demands, func(i, j int) bool {
		if demands[i].pool != demands[j].pool {
			return demands[i].pool == models.PoolDeadline
		}
		if demands[i].pool == models.PoolFairShare {
			ri, rj := c.fair.Rank(demands[i].req.User), c.fair.Rank(demands[j].req.User)
			if ri != rj {
				return ri < rj
			}
		}
		if !demands[i].earliest.Equal(demands[j].earliest) {
			return demands[i].earliest.Before(demands[j].earliest)
		}
		return demands[i].req.String() < demands[j].req.String()
	})

	byWhen := make(map[time.Time][]*Spawned)
	for _, d := range demands {
		// Every worker occupies one slot on its node even if the image
		// does not ask for any.
		res := d.image.Resources
		if res.WorkerSlots == 0 {
			res.WorkerSlots = 1
		}
		for i := uint64(0); i < d.count; i++ {
			sp, err := NewSpawned(d.req, d.pool, c.cluster, res)
			if err != nil {
				log.WithField("error", err).Error("failed to name worker")
				break
			}
			if err := c.alloc.Allocate(sp); err != nil {
				// This requisition does not fit, a smaller one after
				// it still might.
				c.stat.Counter("allocationMisses").Inc(1)
				break
			}
			byWhen[d.earliest] = append(byWhen[d.earliest], sp)
		}
	}

	groups := make([]SpawnGroup, 0, len(byWhen))
	for when, spawns := range byWhen {
		groups = append(groups, SpawnGroup{When: when, Spawns: spawns})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].When.Before(groups[j].When) })
	return groups
}

// launch registers the placed workers with the platform and hands them
// to the backend. Registration comes first so an agent that starts fast
// can claim immediately; anything that fails to spawn is rolled back on
// both sides.
func (c *Controller) launch(ctx context.Context, groups []SpawnGroup) error {
	var regs []models.WorkerRegistration
	all := make(map[string]*Spawned)
	for _, group := range groups {
		for _, sp := range group.Spawns {
			all[sp.Name] = sp
			regs = append(regs, models.WorkerRegistration{
				Name:     sp.Name,
				Cluster:  sp.Cluster,
				Node:     sp.Node,
				User:     sp.Req.User,
				Group:    sp.Req.Group,
				Pipeline: sp.Req.Pipeline,
				Stage:    sp.Req.Stage,
				// The agent flips this to running once it is up.
				Status:    models.WorkerSpawning,
				Resources: sp.Resources,
				Pool:      sp.Pool,
			})
		}
	}
	if err := c.platform.RegisterWorkers(ctx, regs); err != nil {
		// Nothing spawned yet, release every allocation.
		for name := range all {
			c.alloc.Free(name)
		}
		return errors.Wrap(err, "registering workers")
	}

	failed := c.backend.Spawn(ctx, c.cache, groups)
	var rollback []string
	for name, spawnErr := range failed {
		sp, ok := all[name]
		if !ok {
			continue
		}
		log.WithFields(log.Fields{"worker": name, "error": spawnErr}).Error("worker failed to spawn")
		c.stat.Counter("spawnFailures").Inc(1)
		c.alloc.Free(name)
		rollback = append(rollback, name)
		delete(all, sp.Name)
	}
	for _, sp := range all {
		c.fair.Increase(sp.Req.User, sp.Resources)
	}
	c.stat.Counter("workersSpawned").Inc(int64(len(all)))
	if len(rollback) == 0 {
		return nil
	}
	return c.platform.DeleteWorkers(ctx, rollback)
}
