package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mjcarson/thorium/common/retry"
	"github.com/mjcarson/thorium/launcher"
	"github.com/mjcarson/thorium/models"
)

// How often a running task checks whether its process has exited.
const taskPollInterval = 250 * time.Millisecond

// How many report attempts a flaky platform gets before the result is
// dropped on the floor.
const reportAttempts = 3

// task is one claimed job being executed. The goroutine behind it owns
// the process from launch to final report and closes done when the
// whole lifecycle, reporting included, is finished.
type task struct {
	job     models.Job
	logPath string
	// Exit outcome, valid once done is closed.
	status launcher.Status
	done   chan struct{}
}

// running reports whether the task has finished, without blocking.
func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// startTask launches the job's process and hands back a live task.
func (w *Worker) startTask(ctx context.Context, job models.Job) (*task, error) {
	argv := append(append([]string(nil), w.image.Entrypoint...), w.image.Command...)
	argv = append(argv, job.Args...)
	if len(argv) == 0 {
		return nil, fmt.Errorf("job %s has no command to run", job.ID)
	}

	t := &task{
		job:     job,
		logPath: filepath.Join(w.cfg.LogDir, fmt.Sprintf("%s-%s.log", w.name, job.ID)),
		done:    make(chan struct{}),
	}
	logFile, err := os.Create(t.logPath)
	if err != nil {
		return nil, fmt.Errorf("creating job log %s: %v", t.logPath, err)
	}

	env := map[string]string{
		"THORIUM_JOB":      job.ID,
		"THORIUM_REACTION": job.Reaction,
	}
	for k, v := range job.Env {
		env[k] = v
	}
	spec := launcher.WorkerSpec{
		Name:   t.specName(),
		Argv:   argv,
		Env:    env,
		Stdout: logFile,
		Stderr: logFile,
	}
	if err := w.launcher.Launch(spec); err != nil {
		logFile.Close()
		os.Remove(t.logPath)
		return nil, err
	}
	log.WithFields(log.Fields{"job": job.ID, "log": t.logPath}).Info("started job")
	go w.superviseTask(ctx, t, logFile)
	return t, nil
}

func (t *task) specName() string {
	return "job-" + t.job.ID
}

// superviseTask waits for the process to finish, ships the result, and
// only then marks the task done so the claim loop never overlaps jobs.
func (w *Worker) superviseTask(ctx context.Context, t *task, logFile *os.File) {
	defer close(t.done)
	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()
	for {
		status := w.launcher.Status(t.specName())
		if status.State.IsDone() {
			t.status = status
			break
		}
		select {
		case <-ctx.Done():
			w.launcher.Shutdown([]string{t.specName()})
			t.status = launcher.Status{State: launcher.FAILED, Error: "agent shutting down"}
		case <-ticker.C:
			continue
		}
		break
	}
	logFile.Close()
	w.report(ctx, t)
}

// report tells the platform how the job went. Failures also ship the
// tail of the job log so the user can see what happened. All reporting
// is best effort, a dead platform should not wedge the agent.
func (w *Worker) report(ctx context.Context, t *task) {
	succeeded := t.status.State == launcher.COMPLETE && t.status.ExitCode == 0
	logs := tailLog(t.logPath, 100)
	if t.status.Error != "" {
		logs.Add(t.status.Error)
	}

	retry.BestEffort(ctx, reportAttempts, "shipping job logs", func(ctx context.Context) error {
		return w.platform.ReportStageLogs(ctx, t.job.Group, t.job.ID, t.job.Stage, logs)
	})
	if succeeded {
		retry.BestEffort(ctx, reportAttempts, "completing job", func(ctx context.Context) error {
			return w.platform.CompleteJob(ctx, t.job.ID)
		})
		w.stat.Counter("jobsCompleted").Inc(1)
	} else {
		logs.Add(fmt.Sprintf("job exited with code %d", t.status.ExitCode))
		retry.BestEffort(ctx, reportAttempts, "reporting job error", func(ctx context.Context) error {
			return w.platform.ReportError(ctx, t.job.ID, logs)
		})
		w.stat.Counter("jobsFailed").Inc(1)
	}
	log.WithFields(log.Fields{
		"job":      t.job.ID,
		"exitCode": t.status.ExitCode,
		"success":  succeeded,
	}).Info("job finished")
}

// tailLog reads the last max lines of a job log file.
func tailLog(path string, max int) *models.StageLogs {
	logs := &models.StageLogs{}
	f, err := os.Open(path)
	if err != nil {
		return logs
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		logs.Add(scanner.Text())
		if len(logs.Logs) > max {
			logs.Logs = logs.Logs[1:]
		}
	}
	return logs
}
