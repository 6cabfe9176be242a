package launcher

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// NewSimLauncher makes a launcher that interprets argv as a tiny
// script instead of running real processes. Supported commands:
//
//	complete <exitcode>
//	sleep <ms>
//	pause
//
// pause blocks until Resume is called. Useful in tests and dry runs.
func NewSimLauncher() *SimLauncher {
	return &SimLauncher{
		procs:  make(map[string]*simProc),
		resume: make(chan struct{}),
	}
}

type SimLauncher struct {
	mu     sync.Mutex
	procs  map[string]*simProc
	resume chan struct{}
}

type simProc struct {
	mu     sync.Mutex
	status Status
}

func (p *simProc) getStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *simProc) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State.IsDone() {
		return
	}
	p.status = s
}

// Resume unblocks every sim process waiting on a pause command.
func (s *SimLauncher) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.resume)
	s.resume = make(chan struct{})
}

func (s *SimLauncher) Launch(spec WorkerSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[spec.Name]; ok && !p.getStatus().State.IsDone() {
		return fmt.Errorf("launch %s: already running", spec.Name)
	}
	p := &simProc{status: Status{State: RUNNING}}
	s.procs[spec.Name] = p
	resume := s.resume
	go s.run(p, spec.Argv, resume)
	return nil
}

func (s *SimLauncher) run(p *simProc, argv []string, resume chan struct{}) {
	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "complete":
			code := 0
			if i+1 < len(argv) {
				code, _ = strconv.Atoi(argv[i+1])
				i++
			}
			p.setStatus(Status{State: COMPLETE, ExitCode: code})
			return
		case "sleep":
			ms := 0
			if i+1 < len(argv) {
				ms, _ = strconv.Atoi(argv[i+1])
				i++
			}
			time.Sleep(time.Duration(ms) * time.Millisecond)
		case "pause":
			<-resume
		default:
			p.setStatus(Status{State: FAILED, Error: "unknown sim command " + argv[i]})
			return
		}
	}
	p.setStatus(Status{State: COMPLETE, ExitCode: 0})
}

func (s *SimLauncher) Status(name string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	if !ok {
		return Status{State: UNKNOWN, Error: "unknown worker " + name}
	}
	return p.getStatus()
}

func (s *SimLauncher) Check(active map[string]WorkerSpec) (map[string]WorkerSpec, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	running := make(map[string]WorkerSpec)
	var gone []string
	for name, spec := range active {
		p, ok := s.procs[name]
		if ok && p.getStatus().State == RUNNING {
			running[name] = spec
		} else {
			gone = append(gone, name)
		}
	}
	for name := range s.procs {
		if _, ok := active[name]; !ok {
			delete(s.procs, name)
		}
	}
	return running, gone
}

func (s *SimLauncher) Shutdown(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if p, ok := s.procs[name]; ok {
			p.setStatus(Status{State: FAILED, Error: "killed"})
			delete(s.procs, name)
		}
	}
}
