package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mjcarson/thorium/common/retry"
	"github.com/mjcarson/thorium/common/stats"
	"github.com/mjcarson/thorium/config"
	"github.com/mjcarson/thorium/models"
)

// Controller drives one cluster: it polls deadlines, allocates workers
// onto nodes, and keeps the backend and the platform's worker registry
// in agreement. All state is owned by the goroutine running the loop.
type Controller struct {
	cfg      config.Scaler
	cluster  string
	platform Platform
	backend  Backend
	stat     stats.StatsReceiver

	cache *Cache
	bans  *Bans
	fair  *FairShare
	alloc *Allocatable

	// Next run time per periodic task.
	nextTask map[Task]time.Time
}

func NewController(cfg config.Scaler, cluster string, backend Backend, platform Platform, stat stats.StatsReceiver) *Controller {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Controller{
		cfg:      cfg,
		cluster:  cluster,
		platform: platform,
		backend:  backend,
		stat:     stat.Scope("scheduler").Scope(cluster),
		bans:     NewBans(),
		fair:     NewFairShare(float64(cfg.FairShareDivisor), float64(cfg.FairShareCPUWeight), float64(cfg.FairShareMemoryWeight)),
		alloc:    NewAllocatable(cluster),
		nextTask: make(map[Task]time.Time),
	}
}

// Init loads the cache, prepares the backend, and takes the first
// resource observation. Setup is retried because a cold platform or
// cluster often needs a moment.
func (c *Controller) Init(ctx context.Context) error {
	cache, err := LoadCache(ctx, c.platform)
	if err != nil {
		return errors.Wrap(err, "loading scheduler cache")
	}
	c.cache = cache

	err = retry.Do(ctx, c.cfg.SetupAttempts, c.cfg.SetupTimeoutDuration(), func(ctx context.Context) error {
		banned, err := c.backend.Setup(ctx, c.cache)
		if err != nil {
			return err
		}
		c.applyBans(banned)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "setting up %s backend", c.cluster)
	}

	update, err := c.backend.ResourcesAvailable(ctx)
	if err != nil {
		return errors.Wrapf(err, "observing %s resources", c.cluster)
	}
	c.alloc.Update(update)

	now := time.Now()
	for _, task := range AllTasks {
		c.nextTask[task] = now.Add(c.backend.TaskDelay(task))
	}
	log.WithFields(log.Fields{
		"cluster": c.cluster,
		"nodes":   c.alloc.NodeCount(),
		"free":    c.alloc.TotalAvailable().String(),
	}).Info("scheduler initialized")
	return nil
}

// Run ticks the controller until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(c.cfg.DwellDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx, time.Now())
		}
	}
}

// Tick is one full pass: periodic tasks first so scheduling sees fresh
// state, then a scheduling pass over the current deadlines.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	defer c.stat.Latency("tickLatency_ms").Time()()
	c.runDueTasks(ctx, now)
	if err := c.schedule(ctx, now); err != nil {
		c.stat.Counter("scheduleErrors").Inc(1)
		log.WithFields(log.Fields{"cluster": c.cluster, "error": err}).Error("scheduling pass failed")
	}
	c.stat.Gauge("activeWorkers").Update(int64(len(c.alloc.Active())))
}

func (c *Controller) runDueTasks(ctx context.Context, now time.Time) {
	for _, task := range AllTasks {
		if now.Before(c.nextTask[task]) {
			continue
		}
		c.nextTask[task] = now.Add(c.backend.TaskDelay(task))
		if err := c.runTask(ctx, task, now); err != nil {
			c.stat.Counter("taskErrors").Inc(1)
			log.WithFields(log.Fields{
				"cluster": c.cluster,
				"task":    task.String(),
				"error":   err,
			}).Error("periodic task failed")
		}
	}
}

func (c *Controller) runTask(ctx context.Context, task Task, now time.Time) error {
	switch task {
	case TaskResources:
		return c.refreshResources(ctx)
	case TaskZombieJobs:
		return c.reapZombies(ctx)
	case TaskCleanup:
		return c.cleanup(ctx)
	case TaskDirSync:
		banned, err := c.backend.Setup(ctx, c.cache)
		c.applyBans(banned)
		return err
	case TaskCacheReload:
		return c.reloadCache(ctx)
	case TaskUpdateRuntimes:
		return c.updateRuntimes(ctx)
	case TaskDecayFairShare:
		c.fair.Decay()
		return nil
	default:
		return nil
	}
}

// refreshResources reconciles our ledger with what the backend actually
// sees. Workers stranded on removed nodes are unregistered from the
// platform; the backend already lost them.
func (c *Controller) refreshResources(ctx context.Context) error {
	update, err := c.backend.ResourcesAvailable(ctx)
	if err != nil {
		return err
	}
	freed := c.alloc.Update(update)
	if len(freed) == 0 {
		return nil
	}
	names := make([]string, 0, len(freed))
	for _, sp := range freed {
		names = append(names, sp.Name)
	}
	log.WithFields(log.Fields{"cluster": c.cluster, "workers": names}).Warn("workers lost with their nodes")
	c.stat.Counter("workersLostToNodes").Inc(int64(len(names)))
	return c.platform.DeleteWorkers(ctx, names)
}

// reapZombies deletes workers the platform registry still lists but we
// no longer track, usually left behind by a scheduler restart.
func (c *Controller) reapZombies(ctx context.Context) error {
	nodes, err := c.platform.ListNodes(ctx, models.NodeListParams{Cluster: c.cluster})
	if err != nil {
		return err
	}
	active := c.alloc.Active()
	var zombies []*Spawned
	for _, node := range nodes {
		for name, info := range node.Workers {
			if _, ok := active[name]; ok {
				continue
			}
			zombies = append(zombies, &Spawned{
				Req:       info.Req(),
				Pool:      info.Pool,
				Cluster:   c.cluster,
				Node:      info.Node,
				Name:      name,
				Resources: info.Resources,
			})
		}
	}
	if len(zombies) == 0 {
		return nil
	}
	c.stat.Counter("zombiesReaped").Inc(int64(len(zombies)))
	return c.deleteWorkers(ctx, zombies)
}

// cleanup sweeps the backend for workers that exited or wedged and
// reclaims their resources.
func (c *Controller) cleanup(ctx context.Context) error {
	terminal, err := c.backend.ClearTerminal(ctx, c.alloc.Active())
	if err != nil {
		return err
	}
	for name, reason := range terminal.ErrorOut {
		c.stat.Counter("workersErroredOut").Inc(1)
		if err := c.platform.ErrorOutWorker(ctx, name, reason); err != nil {
			log.WithFields(log.Fields{"worker": name, "error": err}).Error("failed to error out worker")
		}
	}
	dead := append(append([]*Spawned(nil), terminal.Failed...), terminal.Done...)
	c.stat.Counter("workersFailed").Inc(int64(len(terminal.Failed)))
	c.stat.Counter("workersCompleted").Inc(int64(len(terminal.Done)))
	return c.deleteWorkers(ctx, dead)
}

// deleteWorkers tears workers down on the backend and, for every one
// confirmed gone, frees its resources and drops its registration.
func (c *Controller) deleteWorkers(ctx context.Context, workers []*Spawned) error {
	if len(workers) == 0 {
		return nil
	}
	var gone []string
	for _, deletion := range c.backend.Delete(ctx, workers) {
		if deletion.Err != nil {
			log.WithFields(log.Fields{
				"worker": deletion.Worker.Name,
				"error":  deletion.Err,
			}).Error("worker deletion failed, will retry next sweep")
			continue
		}
		c.alloc.Free(deletion.Worker.Name)
		gone = append(gone, deletion.Worker.Name)
	}
	if len(gone) == 0 {
		return nil
	}
	return c.platform.DeleteWorkers(ctx, gone)
}

// reloadCache pulls a fresh snapshot and converges the backend onto it.
// Bans reset with the new cache; images that fail again get re-banned.
func (c *Controller) reloadCache(ctx context.Context) error {
	fresh, err := LoadCache(ctx, c.platform)
	if err != nil {
		return err
	}
	banned, err := c.backend.SyncToNewCache(ctx, c.cache, fresh)
	if err != nil {
		return err
	}
	c.bans.Clear()
	c.applyBans(banned)
	c.cache = fresh
	return nil
}

// updateRuntimes refreshes image runtime averages without disturbing
// the rest of the cache or the backend.
func (c *Controller) updateRuntimes(ctx context.Context) error {
	images, err := c.platform.ListImages(ctx)
	if err != nil {
		return err
	}
	c.cache = NewCache(c.cache.Users, c.cache.Groups, images)
	return nil
}

func (c *Controller) applyBans(banned map[string]string) {
	for key, reason := range banned {
		log.WithFields(log.Fields{"image": key, "reason": reason}).Warn("banning image")
		c.bans.images[key] = reason
	}
	c.stat.Gauge("bannedImages").Update(int64(c.bans.Len()))
}
