package client

import (
	"context"
	"fmt"

	"github.com/mjcarson/thorium/models"
)

// Claim asks the platform for up to max jobs matching the target. The claim
// route is the platform's serialization point: the same job is never handed
// to two callers. An empty list is the normal "nothing to do" answer.
func (c *Client) Claim(ctx context.Context, scoped models.ScopedRequisition, cluster, image string, max int) ([]models.Job, error) {
	path := fmt.Sprintf("jobs/claim/%s/%s/%s", scoped.Group, scoped.Pipeline, scoped.Stage)
	path += query(map[string]string{
		"cluster": cluster,
		"node":    scoped.Node,
		"image":   image,
		"max":     itoa(max),
	})
	jobs := []models.Job{}
	if err := c.do(ctx, "POST", path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ReportError marks a job as failed and attaches any logs we have for it.
func (c *Client) ReportError(ctx context.Context, jobID string, logs *models.StageLogs) error {
	return c.do(ctx, "POST", "jobs/error/"+jobID, logs, nil)
}

// ReportStageLogs ships a batch of stage logs for a running or finished job.
func (c *Client) ReportStageLogs(ctx context.Context, group, jobID, stage string, logs *models.StageLogs) error {
	path := fmt.Sprintf("jobs/logs/%s/%s/%s", group, jobID, stage)
	return c.do(ctx, "POST", path, logs, nil)
}

// CompleteJob reports a successful job execution.
func (c *Client) CompleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, "POST", "jobs/complete/"+jobID, nil, nil)
}

// Deadlines reads up to window entries from the platform's deadline stream,
// oldest first. These are the unsatisfied requisitions the scaler tries to
// meet each pass.
func (c *Client) Deadlines(ctx context.Context, cluster string, window int64) ([]models.Deadline, error) {
	path := "jobs/deadlines" + query(map[string]string{
		"cluster": cluster,
		"limit":   fmt.Sprintf("%d", window),
	})
	deadlines := []models.Deadline{}
	if err := c.do(ctx, "GET", path, nil, &deadlines); err != nil {
		return nil, err
	}
	return deadlines, nil
}
