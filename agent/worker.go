// Package agent is the process that lives inside a spawned worker. It
// claims jobs from the platform one at a time, runs them through a
// launcher, and shuts itself down when its lifetime runs out or a new
// platform release means it should drain and be respawned.
package agent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"

	"github.com/mjcarson/thorium/common/retry"
	"github.com/mjcarson/thorium/common/stats"
	"github.com/mjcarson/thorium/config"
	"github.com/mjcarson/thorium/launcher"
	"github.com/mjcarson/thorium/models"
)

// How often the agent compares its build against the platform release.
const versionCheckInterval = 30 * time.Second

// Platform is the slice of the Thorium API the agent needs. It is
// implemented by client.Client and faked in tests.
type Platform interface {
	Claim(ctx context.Context, scoped models.ScopedRequisition, cluster, image string, max int) ([]models.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	ReportError(ctx context.Context, jobID string, logs *models.StageLogs) error
	ReportStageLogs(ctx context.Context, group, jobID, stage string, logs *models.StageLogs) error
	GetImage(ctx context.Context, group, name string) (models.Image, error)
	GetVersion(ctx context.Context) (models.Version, error)
	UpdateWorkerStatus(ctx context.Context, name string, status models.WorkerStatus) error
	RemoveWorker(ctx context.Context, name string) error
}

// Identity is who this worker is, handed down by the scheduler that
// spawned it.
type Identity struct {
	Name string
	Req  models.Requisition
	Pool models.Pool
}

// Worker claims and runs jobs for exactly one requisition. At most one
// job is ever active at a time.
type Worker struct {
	cfg      *config.Agent
	platform Platform
	launcher launcher.Launcher
	stat     stats.StatsReceiver

	name    string
	req     models.Requisition
	version string
	image   *models.Image
	life    *lifetime

	active *task
	// Set when a platform release mismatch means this worker should
	// finish what it has and exit instead of claiming more.
	haltClaiming   bool
	versCheckEvery time.Duration
	lastVersCheck  time.Time
}

// New builds a worker and pulls its image spec from the platform.
func New(ctx context.Context, cfg *config.Agent, ident Identity, version string, platform Platform, l launcher.Launcher, stat stats.StatsReceiver) (*Worker, error) {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	img, err := platform.GetImage(ctx, ident.Req.Group, ident.Req.Stage)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching image %s/%s", ident.Req.Group, ident.Req.Stage)
	}
	return &Worker{
		cfg:            cfg,
		platform:       platform,
		launcher:       l,
		stat:           stat.Scope("agent"),
		name:           ident.Name,
		req:            ident.Req,
		version:        version,
		image:          &img,
		life:           newLifetime(&img, ident.Pool, time.Now()),
		versCheckEvery: versionCheckInterval,
	}, nil
}

// Run is the claim loop. It exits when the context dies, the worker's
// lifetime is spent, or a drain was requested and the active job ended.
// The worker always unregisters itself on the way out.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.platform.UpdateWorkerStatus(ctx, w.name, models.WorkerRunning); err != nil {
		log.WithField("error", err).Warn("failed to mark worker running")
	}
	defer w.unregister()

	for {
		select {
		case <-ctx.Done():
			w.drainActive()
			return ctx.Err()
		default:
		}
		now := time.Now()

		// Reap a finished job without ever blocking the loop on it.
		if w.active != nil && !w.active.running() {
			w.life.recordJob()
			w.active = nil
		}

		if w.active == nil {
			if w.haltClaiming {
				log.Info("drained after version mismatch, exiting")
				return nil
			}
			if w.life.exhausted(now) {
				log.Info("worker lifetime spent, exiting")
				return nil
			}
		}

		// Standing check, job active or not, so a release stops further
		// claims immediately instead of after the current job drains.
		w.checkVersion(ctx, now)
		claimed := false
		if w.active == nil && !w.haltClaiming {
			claimed = w.claim(ctx)
		}
		// Skip the dwell right after a claim so back-to-back jobs
		// start without artificial latency.
		if !claimed {
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.Poll()):
			}
		}
	}
}

// claim asks for one job and starts it. Claim failures are logged and
// retried on the next pass.
func (w *Worker) claim(ctx context.Context) bool {
	scoped := models.ScopedRequisition{Requisition: w.req, Node: w.cfg.Node}
	jobs, err := w.platform.Claim(ctx, scoped, w.cfg.Cluster, w.image.Name, 1)
	if err != nil {
		w.stat.Counter("claimErrors").Inc(1)
		log.WithField("error", err).Error("claim failed")
		return false
	}
	if len(jobs) == 0 {
		return false
	}
	t, err := w.startTask(ctx, jobs[0])
	if err != nil {
		log.WithFields(log.Fields{"job": jobs[0].ID, "error": err}).Error("failed to start job")
		w.stat.Counter("startFailures").Inc(1)
		logs := &models.StageLogs{}
		logs.Add(err.Error())
		retry.BestEffort(ctx, reportAttempts, "reporting unstartable job", func(ctx context.Context) error {
			return w.platform.ReportError(ctx, jobs[0].ID, logs)
		})
		return false
	}
	w.active = t
	w.stat.Counter("jobsClaimed").Inc(1)
	return true
}

// checkVersion drains the worker when the platform has moved to a
// different release. The scheduler respawns workers on current builds.
func (w *Worker) checkVersion(ctx context.Context, now time.Time) {
	if now.Sub(w.lastVersCheck) < w.versCheckEvery {
		return
	}
	w.lastVersCheck = now
	remote, err := w.platform.GetVersion(ctx)
	if err != nil {
		log.WithField("error", err).Debug("version check failed")
		return
	}
	if semver.Compare(canonical(remote.Thorium), canonical(w.version)) != 0 {
		log.WithFields(log.Fields{
			"ours":     w.version,
			"platform": remote.Thorium,
		}).Info("platform release changed, draining")
		w.haltClaiming = true
	}
}

// canonical normalizes a version string for semver comparison.
func canonical(v string) string {
	if v == "" {
		return v
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	return v
}

// drainActive waits for the in-flight job's supervisor to finish
// reporting. Run's context is already cancelled here, the supervisor
// kills the process and reports with what time it has left.
func (w *Worker) drainActive() {
	if w.active == nil {
		return
	}
	<-w.active.done
	w.active = nil
}

// unregister removes this worker from the platform registry so the
// scheduler does not count a dead worker against its requisition.
func (w *Worker) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.platform.UpdateWorkerStatus(ctx, w.name, models.WorkerShutdown); err != nil {
		log.WithField("error", err).Debug("failed to mark worker shutdown")
	}
	retry.BestEffort(ctx, reportAttempts, "removing worker registration", func(ctx context.Context) error {
		return w.platform.RemoveWorker(ctx, w.name)
	})
}
