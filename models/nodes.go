package models

import "time"

// NodeHealth is the externally observed health of a compute node.
type NodeHealth string

const (
	// Healthy nodes report resources and active workers.
	Healthy NodeHealth = "healthy"
	// Registered nodes are known but not yet serving workers.
	Registered NodeHealth = "registered"
	// Unhealthy nodes are withdrawn from scheduling immediately.
	Unhealthy NodeHealth = "unhealthy"
	// Disabled nodes were administratively removed from rotation.
	Disabled NodeHealth = "disabled"
)

// Schedulable reports whether new work may land on a node in this state.
func (h NodeHealth) Schedulable() bool {
	return h == Healthy || h == Registered
}

// WorkerStatus is the lifecycle state a worker reports to the platform.
type WorkerStatus string

const (
	WorkerSpawning WorkerStatus = "spawning"
	WorkerRunning  WorkerStatus = "running"
	WorkerShutdown WorkerStatus = "shutdown"
)

// WorkerInfo is the platform registry's view of one worker.
type WorkerInfo struct {
	Name      string       `json:"name"`
	Cluster   string       `json:"cluster"`
	Node      string       `json:"node"`
	User      string       `json:"user"`
	Group     string       `json:"group"`
	Pipeline  string       `json:"pipeline"`
	Stage     string       `json:"stage"`
	Status    WorkerStatus `json:"status"`
	Resources Resources    `json:"resources"`
	Pool      Pool         `json:"pool"`
}

// Req builds the requisition this worker was spawned for.
func (w WorkerInfo) Req() Requisition {
	return Requisition{User: w.User, Group: w.Group, Pipeline: w.Pipeline, Stage: w.Stage}
}

// NodeInfo is the platform registry's view of one compute node and the
// workers it currently hosts.
type NodeInfo struct {
	Name      string                `json:"name"`
	Cluster   string                `json:"cluster"`
	Health    NodeHealth            `json:"health"`
	Resources Resources             `json:"resources"`
	Workers   map[string]WorkerInfo `json:"workers"`
	Heartbeat time.Time             `json:"heartbeat"`
}

// NodeListParams restricts a node registry listing.
type NodeListParams struct {
	Cluster string   `json:"cluster,omitempty"`
	Nodes   []string `json:"nodes,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// WorkerRegistration is sent to the platform before a worker is spawned so
// the agent can claim jobs under the right identity as soon as it starts.
type WorkerRegistration struct {
	Name      string       `json:"name"`
	Cluster   string       `json:"cluster"`
	Node      string       `json:"node"`
	User      string       `json:"user"`
	Group     string       `json:"group"`
	Pipeline  string       `json:"pipeline"`
	Stage     string       `json:"stage"`
	Status    WorkerStatus `json:"status"`
	Resources Resources    `json:"resources"`
	Pool      Pool         `json:"pool"`
}

// Version is the platform's published release version, used by agents to
// decide when to drain for an update.
type Version struct {
	Thorium string `json:"thorium"`
}
