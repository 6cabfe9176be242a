package scheduler

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mjcarson/thorium/models"
)

// Cache is a point-in-time snapshot of the users, groups, and images
// the scheduler may spawn for. Backends consume it during Setup and
// get handed old and new copies on reload so they can converge on the
// new state. A Cache is immutable once built.
type Cache struct {
	Users  []string
	Groups []string
	images map[string]*models.Image
}

func NewCache(users, groups []string, images []models.Image) *Cache {
	c := &Cache{
		Users:  users,
		Groups: groups,
		images: make(map[string]*models.Image, len(images)),
	}
	for i := range images {
		img := images[i]
		c.images[banKey(img.Group, img.Name)] = &img
	}
	return c
}

// GetImage looks up an image by group and name.
func (c *Cache) GetImage(group, name string) (*models.Image, bool) {
	img, ok := c.images[banKey(group, name)]
	return img, ok
}

// Images returns every cached image.
func (c *Cache) Images() []*models.Image {
	out := make([]*models.Image, 0, len(c.images))
	for _, img := range c.images {
		out = append(out, img)
	}
	return out
}

// LoadCache pulls a fresh snapshot from the platform.
func LoadCache(ctx context.Context, platform Platform) (*Cache, error) {
	users, err := platform.ListUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing users")
	}
	groups, err := platform.ListGroups(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing groups")
	}
	images, err := platform.ListImages(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing images")
	}
	return NewCache(users, groups, images), nil
}
