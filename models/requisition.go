package models

import "fmt"

// Pool is the scheduling pool a worker was admitted under.
type Pool int

const (
	// PoolDeadline workers are spawned to meet upcoming job deadlines.
	PoolDeadline Pool = iota
	// PoolFairShare workers are spawned to give every user some throughput
	// regardless of deadline pressure.
	PoolFairShare
)

func (p Pool) String() string {
	if p == PoolFairShare {
		return "fairshare"
	}
	return "deadline"
}

// Requisition identifies one unit of demand: a single worker running a
// specific pipeline stage for a specific user and group. Requisitions carry
// no resource amounts; cost is attached when a placement is made.
type Requisition struct {
	User     string `json:"user"`
	Group    string `json:"group"`
	Pipeline string `json:"pipeline"`
	Stage    string `json:"stage"`
}

func (r Requisition) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", r.User, r.Group, r.Pipeline, r.Stage)
}

// ScopedRequisition is a requisition pinned to a target node.
type ScopedRequisition struct {
	Requisition
	Node string `json:"node"`
}
