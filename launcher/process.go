package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/mjcarson/thorium/common/stats"
)

// NewProcessLauncher makes a launcher that runs workers as real OS
// processes in their own process groups so a kill takes out any
// children they spawned.
func NewProcessLauncher(stat stats.StatsReceiver) Launcher {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &processLauncher{
		stat:  stat.Scope("launcher"),
		procs: make(map[string]*process),
	}
}

type processLauncher struct {
	stat  stats.StatsReceiver
	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	cmd *exec.Cmd
	pid int

	mu     sync.Mutex
	status Status
}

func (p *process) getStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State.IsDone() {
		return
	}
	p.status = s
}

func (l *processLauncher) Launch(spec WorkerSpec) error {
	if len(spec.Argv) == 0 {
		return fmt.Errorf("launch %s: empty argv", spec.Name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.procs[spec.Name]; ok && !p.getStatus().State.IsDone() {
		return fmt.Errorf("launch %s: already running (pid %d)", spec.Name, p.pid)
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	// Start from the parent environment so tools still see PATH and HOME.
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	// Own process group so Shutdown can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		l.stat.Counter("launchFailures").Inc(1)
		return fmt.Errorf("launch %s: %v", spec.Name, err)
	}
	proc := &process{cmd: cmd, pid: cmd.Process.Pid, status: Status{State: RUNNING}}
	l.procs[spec.Name] = proc
	l.stat.Counter("launches").Inc(1)
	log.WithFields(log.Fields{"worker": spec.Name, "pid": proc.pid}).Info("launched worker process")

	go l.wait(spec.Name, proc)
	return nil
}

// wait blocks on the process and records its exit status.
func (l *processLauncher) wait(name string, p *process) {
	err := p.cmd.Wait()
	switch e := err.(type) {
	case nil:
		p.setStatus(Status{State: COMPLETE, ExitCode: 0})
	case *exec.ExitError:
		p.setStatus(Status{State: COMPLETE, ExitCode: e.ExitCode(), Error: e.Error()})
	default:
		p.setStatus(Status{State: FAILED, Error: err.Error()})
	}
	st := p.getStatus()
	log.WithFields(log.Fields{
		"worker":   name,
		"pid":      p.pid,
		"state":    st.State.String(),
		"exitCode": st.ExitCode,
	}).Info("worker process exited")
}

func (l *processLauncher) Status(name string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[name]
	if !ok {
		return Status{State: UNKNOWN, Error: "unknown worker " + name}
	}
	return p.getStatus()
}

func (l *processLauncher) Check(active map[string]WorkerSpec) (map[string]WorkerSpec, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	running := make(map[string]WorkerSpec)
	var gone []string
	for name, spec := range active {
		p, ok := l.procs[name]
		if ok && p.getStatus().State == RUNNING {
			running[name] = spec
		} else {
			gone = append(gone, name)
		}
	}
	// Anything we still track that the caller dropped gets killed.
	for name, p := range l.procs {
		if _, ok := active[name]; ok {
			continue
		}
		if p.getStatus().State == RUNNING {
			log.WithField("worker", name).Warn("killing orphaned worker process")
			l.stat.Counter("orphansKilled").Inc(1)
			kill(p)
		}
		delete(l.procs, name)
	}
	return running, gone
}

func (l *processLauncher) Shutdown(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		p, ok := l.procs[name]
		if !ok {
			continue
		}
		if p.getStatus().State == RUNNING {
			kill(p)
		}
		delete(l.procs, name)
	}
}

// kill takes out the whole process group. Errors are ignored, the
// group may already be gone.
func kill(p *process) {
	syscall.Kill(-p.pid, syscall.SIGKILL)
	p.setStatus(Status{State: FAILED, Error: "killed"})
}
