package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mjcarson/thorium/config"
	"github.com/mjcarson/thorium/launcher"
	"github.com/mjcarson/thorium/models"
)

type fakeAgentPlatform struct {
	mu      sync.Mutex
	image   models.Image
	version string
	jobs    []models.Job

	completed []string
	errored   []string
	logged    []string
	removed   bool
	// Highest number of claimed-but-unfinished jobs ever seen.
	maxInFlight  int
	inFlight     int
	versionCalls int
}

func (f *fakeAgentPlatform) Claim(ctx context.Context, scoped models.ScopedRequisition, cluster, image string, max int) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if max != 1 {
		panic("agents must claim one job at a time")
	}
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	return []models.Job{job}, nil
}

func (f *fakeAgentPlatform) CompleteJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	f.inFlight--
	return nil
}

func (f *fakeAgentPlatform) ReportError(ctx context.Context, jobID string, logs *models.StageLogs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored = append(f.errored, jobID)
	f.inFlight--
	return nil
}

func (f *fakeAgentPlatform) ReportStageLogs(ctx context.Context, group, jobID, stage string, logs *models.StageLogs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged = append(f.logged, jobID)
	return nil
}

func (f *fakeAgentPlatform) GetImage(ctx context.Context, group, name string) (models.Image, error) {
	return f.image, nil
}

func (f *fakeAgentPlatform) GetVersion(ctx context.Context) (models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionCalls++
	return models.Version{Thorium: f.version}, nil
}

func (f *fakeAgentPlatform) UpdateWorkerStatus(ctx context.Context, name string, status models.WorkerStatus) error {
	return nil
}

func (f *fakeAgentPlatform) RemoveWorker(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
	return nil
}

func (f *fakeAgentPlatform) setVersion(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = v
}

func testAgentConfig(t *testing.T) *config.Agent {
	return &config.Agent{
		API:     "http://localhost:8000",
		Cluster: "test",
		Node:    "n1",
		LogDir:  t.TempDir(),
		PollMs:  1,
	}
}

func testIdentity() Identity {
	return Identity{
		Name: "worker-1",
		Req:  models.Requisition{User: "bob", Group: "corn", Pipeline: "harvest", Stage: "plots"},
		Pool: models.PoolDeadline,
	}
}

func testJob(id string) models.Job {
	return models.Job{
		ID: id, Reaction: "r1",
		User: "bob", Group: "corn", Pipeline: "harvest", Stage: "plots",
	}
}

func newTestWorker(t *testing.T, platform *fakeAgentPlatform, sim *launcher.SimLauncher) *Worker {
	t.Helper()
	w, err := New(context.Background(), testAgentConfig(t), testIdentity(), "1.2.0", platform, sim, nil)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func runWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("worker exited badly: %v", err)
	}
}

func TestWorkerRunsJobsUntilLifetimeSpent(t *testing.T) {
	platform := &fakeAgentPlatform{
		version: "1.2.0",
		image: models.Image{
			Name: "plots", Group: "corn",
			Entrypoint: []string{"complete", "0"},
			Lifetime:   &models.ImageLifetime{Counter: models.LifetimeJobs, Amount: 2},
		},
		jobs: []models.Job{testJob("j1"), testJob("j2"), testJob("j3")},
	}
	w := newTestWorker(t, platform, launcher.NewSimLauncher())
	runWorker(t, w)

	if len(platform.completed) != 2 {
		t.Fatalf("2-job lifetime should complete exactly 2 jobs, got %v", platform.completed)
	}
	if len(platform.jobs) != 1 {
		t.Fatalf("the third job should stay unclaimed, %d left", len(platform.jobs))
	}
	if !platform.removed {
		t.Fatal("worker must unregister itself on exit")
	}
	if platform.maxInFlight != 1 {
		t.Fatalf("more than one job was active at once: %d", platform.maxInFlight)
	}
}

func TestWorkerReportsFailedJobs(t *testing.T) {
	platform := &fakeAgentPlatform{
		version: "1.2.0",
		image: models.Image{
			Name: "plots", Group: "corn",
			Entrypoint: []string{"complete", "3"},
			Lifetime:   &models.ImageLifetime{Counter: models.LifetimeJobs, Amount: 1},
		},
		jobs: []models.Job{testJob("j1")},
	}
	w := newTestWorker(t, platform, launcher.NewSimLauncher())
	runWorker(t, w)

	if len(platform.errored) != 1 || platform.errored[0] != "j1" {
		t.Fatalf("nonzero exits must report errors, got %v", platform.errored)
	}
	if len(platform.completed) != 0 {
		t.Fatalf("failed job must not complete, got %v", platform.completed)
	}
	if len(platform.logged) != 1 {
		t.Fatal("job logs should ship even on failure")
	}
}

func TestFairShareWorkerRunsOneJob(t *testing.T) {
	platform := &fakeAgentPlatform{
		version: "1.2.0",
		image:   models.Image{Name: "plots", Group: "corn", Entrypoint: []string{"complete", "0"}},
		jobs:    []models.Job{testJob("j1"), testJob("j2")},
	}
	ident := testIdentity()
	ident.Pool = models.PoolFairShare
	w, err := New(context.Background(), testAgentConfig(t), ident, "1.2.0", platform, launcher.NewSimLauncher(), nil)
	if err != nil {
		t.Fatal(err)
	}
	runWorker(t, w)

	if len(platform.completed) != 1 {
		t.Fatalf("fair-share workers run a single job, got %v", platform.completed)
	}
}

func TestWorkerDrainsOnVersionChange(t *testing.T) {
	sim := launcher.NewSimLauncher()
	platform := &fakeAgentPlatform{
		version: "1.2.0",
		image:   models.Image{Name: "plots", Group: "corn", Entrypoint: []string{"pause"}},
		jobs:    []models.Job{testJob("j1"), testJob("j2")},
	}
	w := newTestWorker(t, platform, sim)
	w.versCheckEvery = 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		runWorker(t, w)
	}()

	// Wait for the first job to be claimed and left paused.
	waitFor(t, func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return len(platform.jobs) == 1
	})

	// A release lands while the job is still running. The worker must
	// finish the job it holds, then exit without claiming another.
	platform.setVersion("1.3.0")
	sim.Resume()
	<-done

	if len(platform.completed) != 1 {
		t.Fatalf("the in-flight job should finish before draining, got %v", platform.completed)
	}
	if len(platform.jobs) != 1 {
		t.Fatal("no new jobs may be claimed after a version mismatch")
	}
	if !platform.removed {
		t.Fatal("drained worker must unregister")
	}
}

func TestWorkerChecksVersionMidJob(t *testing.T) {
	sim := launcher.NewSimLauncher()
	platform := &fakeAgentPlatform{
		version: "1.2.0",
		image:   models.Image{Name: "plots", Group: "corn", Entrypoint: []string{"pause"}},
		jobs:    []models.Job{testJob("j1"), testJob("j2")},
	}
	w := newTestWorker(t, platform, sim)
	w.versCheckEvery = 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		runWorker(t, w)
	}()

	waitFor(t, func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return len(platform.jobs) == 1
	})

	// The release check must keep running while a job is held, not only
	// between jobs.
	platform.mu.Lock()
	before := platform.versionCalls
	platform.mu.Unlock()
	waitFor(t, func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return platform.versionCalls > before
	})

	// Two more checks after the release guarantee one of them saw it.
	platform.setVersion("1.3.0")
	platform.mu.Lock()
	before = platform.versionCalls
	platform.mu.Unlock()
	waitFor(t, func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return platform.versionCalls > before+1
	})

	sim.Resume()
	<-done

	if len(platform.completed) != 1 {
		t.Fatalf("the in-flight job should finish, got %v", platform.completed)
	}
	if len(platform.jobs) != 1 {
		t.Fatal("the release was seen mid-job, no further claims are allowed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
