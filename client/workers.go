package client

import (
	"context"
	"fmt"

	"github.com/mjcarson/thorium/models"
)

// RegisterWorkers registers placements with the platform before they are
// spawned, so agents can claim under the right identity as soon as they start.
func (c *Client) RegisterWorkers(ctx context.Context, workers []models.WorkerRegistration) error {
	if len(workers) == 0 {
		return nil
	}
	return c.do(ctx, "POST", "system/workers", workers, nil)
}

// DeleteWorkers removes workers from the platform registry by name.
func (c *Client) DeleteWorkers(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return c.do(ctx, "DELETE", "system/workers", names, nil)
}

// UpdateWorkerStatus patches one worker's lifecycle status.
func (c *Client) UpdateWorkerStatus(ctx context.Context, name string, status models.WorkerStatus) error {
	body := map[string]models.WorkerStatus{"status": status}
	return c.do(ctx, "PATCH", "system/workers/"+name, body, nil)
}

// RemoveWorker deregisters a single worker, called by agents on exit.
// A 404 means the scaler already reaped it, which is fine.
func (c *Client) RemoveWorker(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", "system/workers/"+name, nil, nil, 404)
}

// ErrorOutWorker fails out whatever job a dead worker held, with a reason,
// instead of letting the job silently reset and retry.
func (c *Client) ErrorOutWorker(ctx context.Context, name, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, "POST", "system/workers/"+name+"/error-out", body, nil, 404)
}

// ListNodes pages through the platform node registry.
func (c *Client) ListNodes(ctx context.Context, params models.NodeListParams) ([]models.NodeInfo, error) {
	path := "system/nodes" + query(map[string]string{
		"cluster": params.Cluster,
		"limit":   itoa(params.Limit),
	})
	nodes := []models.NodeInfo{}
	if err := c.do(ctx, "POST", path, params, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetVersion fetches the platform's published release version.
func (c *Client) GetVersion(ctx context.Context) (models.Version, error) {
	version := models.Version{}
	err := c.do(ctx, "GET", "system/version", nil, &version)
	return version, err
}

// ListUsers and ListGroups feed the scaler's cache.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	users := []string{}
	err := c.do(ctx, "GET", "system/users", nil, &users)
	return users, err
}

func (c *Client) ListGroups(ctx context.Context) ([]string, error) {
	groups := []string{}
	err := c.do(ctx, "GET", "system/groups", nil, &groups)
	return groups, err
}

// ListImages fetches every image the scaler may spawn workers for.
func (c *Client) ListImages(ctx context.Context) ([]models.Image, error) {
	images := []models.Image{}
	err := c.do(ctx, "GET", "system/images", nil, &images)
	return images, err
}

// GetImage fetches one image by group and name.
func (c *Client) GetImage(ctx context.Context, group, name string) (models.Image, error) {
	image := models.Image{}
	err := c.do(ctx, "GET", fmt.Sprintf("images/%s/%s", group, name), nil, &image)
	return image, err
}
