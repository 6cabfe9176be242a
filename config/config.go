// Package config loads the JSON config files for the scaler and agent
// binaries. Zero values are filled with workable defaults so a minimal
// config only has to name the platform API and its clusters.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// K8sCluster describes one orchestration-platform cluster we schedule on.
type K8sCluster struct {
	Name string `json:"name"`
	// Kubeconfig context to use, empty means in-cluster credentials.
	Context string `json:"context,omitempty"`
	// Label selector restricting which nodes we schedule workers onto.
	NodeSelector string `json:"node_selector,omitempty"`
}

// Scaler is the config for the scheduling controller.
type Scaler struct {
	// Base URL and token for the platform API.
	API   string `json:"api"`
	Token string `json:"token,omitempty"`
	// Clusters per backend kind.
	K8s       []K8sCluster `json:"k8s,omitempty"`
	BareMetal []string     `json:"bare_metal,omitempty"`
	Windows   []string     `json:"windows,omitempty"`
	// DryRun swaps every backend for a simulated cluster.
	DryRun bool `json:"dry_run,omitempty"`
	// Seconds to dwell between scheduling passes.
	Dwell int64 `json:"dwell,omitempty"`
	// How far ahead to read the deadline stream, in entries.
	DeadlineWindow int64 `json:"deadline_window,omitempty"`
	// Bounded budget for backend setup before the scaler gives up.
	SetupAttempts uint64 `json:"setup_attempts,omitempty"`
	SetupTimeout  int64  `json:"setup_timeout,omitempty"`
	// Divisor applied to cluster totals when decaying fair share ranks.
	FairShareDivisor int64 `json:"fair_share_divisor,omitempty"`
	// Fair share cost weights per milli-core and per MiB.
	FairShareCPUWeight    uint64 `json:"fair_share_cpu_weight,omitempty"`
	FairShareMemoryWeight uint64 `json:"fair_share_memory_weight,omitempty"`
}

// Agent is the config for the node-resident worker agent.
type Agent struct {
	API     string `json:"api"`
	Token   string `json:"token,omitempty"`
	Cluster string `json:"cluster"`
	Node    string `json:"node,omitempty"`
	// Directory job log files are written to before shipping.
	LogDir string `json:"log_dir,omitempty"`
	// Milliseconds to sleep between claim attempts.
	PollMs int64 `json:"poll_ms,omitempty"`
}

func (c *Scaler) defaults() {
	if c.Dwell == 0 {
		c.Dwell = 5
	}
	if c.DeadlineWindow == 0 {
		c.DeadlineWindow = 1000
	}
	if c.SetupAttempts == 0 {
		c.SetupAttempts = 4
	}
	if c.SetupTimeout == 0 {
		c.SetupTimeout = 30
	}
	if c.FairShareDivisor == 0 {
		c.FairShareDivisor = 100
	}
	if c.FairShareCPUWeight == 0 {
		c.FairShareCPUWeight = 1
	}
	if c.FairShareMemoryWeight == 0 {
		c.FairShareMemoryWeight = 1
	}
}

// DwellDuration is the pause between scheduling passes.
func (c *Scaler) DwellDuration() time.Duration {
	return time.Duration(c.Dwell) * time.Second
}

// SetupTimeoutDuration is the per-attempt bound on backend setup calls.
func (c *Scaler) SetupTimeoutDuration() time.Duration {
	return time.Duration(c.SetupTimeout) * time.Second
}

func (c *Agent) defaults() {
	if c.PollMs == 0 {
		c.PollMs = 100
	}
	if c.LogDir == "" {
		c.LogDir = os.TempDir()
	}
	if c.Node == "" {
		c.Node, _ = os.Hostname()
	}
}

// Poll is the sleep between claim attempts when no job was claimed.
func (c *Agent) Poll() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// LoadScaler reads and validates a scaler config file.
func LoadScaler(path string) (*Scaler, error) {
	conf := &Scaler{}
	if err := load(path, conf); err != nil {
		return nil, err
	}
	conf.defaults()
	if conf.API == "" {
		return nil, errors.New("config: api url is required")
	}
	return conf, nil
}

// LoadAgent reads and validates an agent config file.
func LoadAgent(path string) (*Agent, error) {
	conf := &Agent{}
	if err := load(path, conf); err != nil {
		return nil, err
	}
	conf.defaults()
	if conf.API == "" {
		return nil, errors.New("config: api url is required")
	}
	if conf.Cluster == "" {
		return nil, errors.New("config: cluster is required")
	}
	return conf, nil
}

func load(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading config %s", path)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}
	return nil
}
