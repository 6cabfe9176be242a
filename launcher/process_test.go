package launcher

import (
	"bytes"
	"strings"
	"testing"
)

func TestProcessCompletes(t *testing.T) {
	l := NewProcessLauncher(nil)
	var out bytes.Buffer
	err := l.Launch(WorkerSpec{
		Name:   "w1",
		Argv:   []string{"sh", "-c", "echo hello"},
		Stdout: &out,
	})
	if err != nil {
		t.Fatal(err)
	}
	status := waitDone(t, l, "w1")
	if status.State != COMPLETE || status.ExitCode != 0 {
		t.Fatalf("got %+v", status)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Fatalf("stdout not captured: %q", out.String())
	}
}

func TestProcessExitCode(t *testing.T) {
	l := NewProcessLauncher(nil)
	if err := l.Launch(WorkerSpec{Name: "w1", Argv: []string{"sh", "-c", "exit 3"}}); err != nil {
		t.Fatal(err)
	}
	status := waitDone(t, l, "w1")
	if status.State != COMPLETE || status.ExitCode != 3 {
		t.Fatalf("got %+v", status)
	}
}

func TestProcessEnvPassed(t *testing.T) {
	l := NewProcessLauncher(nil)
	var out bytes.Buffer
	err := l.Launch(WorkerSpec{
		Name:   "w1",
		Argv:   []string{"sh", "-c", "echo $THORIUM_JOB"},
		Env:    map[string]string{"THORIUM_JOB": "job-42"},
		Stdout: &out,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, l, "w1")
	if !strings.Contains(out.String(), "job-42") {
		t.Fatalf("env not passed: %q", out.String())
	}
}

func TestProcessInheritsParentEnv(t *testing.T) {
	l := NewProcessLauncher(nil)
	var out bytes.Buffer
	err := l.Launch(WorkerSpec{
		Name:   "w1",
		Argv:   []string{"sh", "-c", "echo \"path=$PATH\""},
		Env:    map[string]string{"THORIUM_JOB": "job-42"},
		Stdout: &out,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, l, "w1")
	if strings.TrimSpace(out.String()) == "path=" {
		t.Fatal("PATH did not reach the child")
	}
}

func TestProcessShutdownKills(t *testing.T) {
	l := NewProcessLauncher(nil)
	if err := l.Launch(WorkerSpec{Name: "w1", Argv: []string{"sleep", "60"}}); err != nil {
		t.Fatal(err)
	}
	l.Shutdown([]string{"w1"})
	if status := l.Status("w1"); status.State == RUNNING {
		t.Fatalf("killed process still running: %+v", status)
	}
	// A second shutdown of the same name is a no-op.
	l.Shutdown([]string{"w1"})
}

func TestProcessBadCommand(t *testing.T) {
	l := NewProcessLauncher(nil)
	err := l.Launch(WorkerSpec{Name: "w1", Argv: []string{"/no/such/binary"}})
	if err == nil {
		t.Fatal("launching a missing binary should fail")
	}
	if err := l.Launch(WorkerSpec{Name: "w2"}); err == nil {
		t.Fatal("empty argv should fail")
	}
}
