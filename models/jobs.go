package models

import "time"

// Job is one claimed unit of execution handed out by the platform API.
type Job struct {
	ID       string            `json:"id"`
	Reaction string            `json:"reaction"`
	User     string            `json:"user"`
	Group    string            `json:"group"`
	Pipeline string            `json:"pipeline"`
	Stage    string            `json:"stage"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Deadline time.Time         `json:"deadline"`
}

// Deadline is one entry in the platform's deadline stream: a requisition
// that needs a worker by some timestamp.
type Deadline struct {
	Requisition
	JobID    string    `json:"job_id"`
	Deadline time.Time `json:"deadline"`
}

// Req builds the requisition this deadline is asking to be met.
func (d Deadline) Req() Requisition {
	return d.Requisition
}

// StageLogs is a batch of log lines to ship back to the platform for a job.
type StageLogs struct {
	Logs []string `json:"logs"`
}

// Add appends a line to this log batch.
func (s *StageLogs) Add(line string) {
	s.Logs = append(s.Logs, line)
}
