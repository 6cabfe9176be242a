// Package scheduler decides where Thorium workers run. It polls the
// platform for deadline-ordered demand, tracks per-node allocatable
// resources, and drives a pluggable Backend (k8s, bare metal, dry run)
// to spawn and reap worker processes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mjcarson/thorium/models"
)

// Task names the periodic jobs the scheduler runs between scheduling
// passes. Each backend can stretch or shrink a task's cadence.
type Task int

const (
	// Refresh per-node allocatable resources from the backend.
	TaskResources Task = iota
	// Reap workers whose jobs died without reporting back.
	TaskZombieJobs
	// Delete terminal workers and reclaim their resources.
	TaskCleanup
	// Sync external directory info (users and groups) to the backend.
	TaskDirSync
	// Reload the user/group/image cache from the platform.
	TaskCacheReload
	// Recompute average image runtimes from recent history.
	TaskUpdateRuntimes
	// Decay fair-share ranks.
	TaskDecayFairShare
)

func (t Task) String() string {
	switch t {
	case TaskResources:
		return "Resources"
	case TaskZombieJobs:
		return "ZombieJobs"
	case TaskCleanup:
		return "Cleanup"
	case TaskDirSync:
		return "DirSync"
	case TaskCacheReload:
		return "CacheReload"
	case TaskUpdateRuntimes:
		return "UpdateRuntimes"
	case TaskDecayFairShare:
		return "DecayFairShare"
	default:
		return fmt.Sprintf("Task(%d)", int(t))
	}
}

// AllTasks in the order they are first scheduled.
var AllTasks = []Task{
	TaskResources,
	TaskZombieJobs,
	TaskCleanup,
	TaskDirSync,
	TaskCacheReload,
	TaskUpdateRuntimes,
	TaskDecayFairShare,
}

// DefaultTaskDelay is the cadence backends fall back on.
func DefaultTaskDelay(task Task) time.Duration {
	switch task {
	case TaskResources:
		return 120 * time.Second
	case TaskZombieJobs:
		return 30 * time.Second
	case TaskCleanup:
		return 25 * time.Second
	case TaskDirSync:
		return 600 * time.Second
	case TaskCacheReload:
		return 600 * time.Second
	case TaskUpdateRuntimes:
		return 300 * time.Second
	case TaskDecayFairShare:
		return 600 * time.Second
	default:
		return 60 * time.Second
	}
}

// AllocatableUpdate is a backend's observation of the cluster: what is
// free on each schedulable node, net of everything already running on
// it, and which nodes should no longer be scheduled to at all.
type AllocatableUpdate struct {
	Nodes   map[string]models.Resources
	Removes []string
}

// SpawnGroup is a batch of workers that became due at the same time.
// Backends receive groups ordered oldest deadline first and must spawn
// them in that order so the most urgent work starts first.
type SpawnGroup struct {
	When   time.Time
	Spawns []*Spawned
}

// Terminal classifies the workers a backend found dead or dying during
// a cleanup pass.
type Terminal struct {
	// Workers that failed and whose pods/processes were removed.
	Failed []*Spawned
	// Workers that finished normally and can be reaped.
	Done []*Spawned
	// Worker name to reason for workers stuck badly enough that their
	// current job must be failed out on the platform too.
	ErrorOut map[string]string
}

// Backend turns scheduling decisions into real workers somewhere.
// Implementations must be safe to drive from a single goroutine; they
// do not need to be safe for concurrent use.
type Backend interface {
	// Setup prepares one cluster for a new cache (namespaces, config
	// mounts, pulled secrets). It is idempotent. Images it cannot
	// prepare are returned keyed by group/name with the reason; the
	// scheduler bans them until the next cache reload.
	Setup(ctx context.Context, cache *Cache) (map[string]string, error)

	// SyncToNewCache converges backend state from an old cache to a
	// newly loaded one, tearing down what disappeared and setting up
	// what is new. Same ban semantics as Setup.
	SyncToNewCache(ctx context.Context, old, fresh *Cache) (map[string]string, error)

	// ResourcesAvailable observes what every schedulable node has free.
	ResourcesAvailable(ctx context.Context) (AllocatableUpdate, error)

	// Spawn starts the given workers, oldest group first. Workers that
	// could not be started are returned keyed by worker name; everything
	// absent from the map is running or starting.
	Spawn(ctx context.Context, cache *Cache, groups []SpawnGroup) map[string]error

	// Delete tears the given workers down. A worker appears in the
	// result with a nil error only when it is fully gone; deleting an
	// already-gone worker reports success, not an error.
	Delete(ctx context.Context, workers []*Spawned) []WorkerDeletion

	// ClearTerminal sweeps the active workers for ones that exited,
	// failed, or wedged. The caller deletes what comes back.
	ClearTerminal(ctx context.Context, active map[string]*Spawned) (Terminal, error)

	// TaskDelay is how long to wait between runs of a periodic task.
	TaskDelay(task Task) time.Duration
}

// Platform is the slice of the Thorium API the scheduler needs. It is
// implemented by client.Client and faked in tests.
type Platform interface {
	Deadlines(ctx context.Context, cluster string, window int64) ([]models.Deadline, error)
	ListNodes(ctx context.Context, params models.NodeListParams) ([]models.NodeInfo, error)
	RegisterWorkers(ctx context.Context, workers []models.WorkerRegistration) error
	DeleteWorkers(ctx context.Context, names []string) error
	ErrorOutWorker(ctx context.Context, name, reason string) error
	ListUsers(ctx context.Context) ([]string, error)
	ListGroups(ctx context.Context) ([]string, error)
	ListImages(ctx context.Context) ([]models.Image, error)
}
