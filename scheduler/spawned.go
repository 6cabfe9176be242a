package scheduler

import (
	"fmt"
	"strings"

	"github.com/nu7hatch/gouuid"

	"github.com/mjcarson/thorium/models"
)

// Spawned is one worker the scheduler has placed (or is about to place)
// on a node. It is the unit of resource accounting: a Spawned holds its
// node's resources from the moment it is allocated until Free is called
// exactly once for it.
type Spawned struct {
	// What this worker will execute jobs for.
	Req models.Requisition
	// Which deadline pool the spawn was granted from.
	Pool models.Pool
	// Where it was placed.
	Cluster string
	Node    string
	// Unique worker name, also the k8s pod name for that backend.
	Name string
	// The resources this worker consumes on its node.
	Resources models.Resources
}

func (s *Spawned) String() string {
	return fmt.Sprintf("%s on %s/%s (%s)", s.Name, s.Cluster, s.Node, s.Req)
}

// NewSpawned builds a worker for a requisition with a collision-resistant
// name derived from the pipeline and stage.
func NewSpawned(req models.Requisition, pool models.Pool, cluster string, res models.Resources) (*Spawned, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	suffix := strings.Replace(id.String(), "-", "", -1)[:8]
	return &Spawned{
		Req:       req,
		Pool:      pool,
		Cluster:   cluster,
		Name:      fmt.Sprintf("%s-%s-%s", sanitizeName(req.Pipeline), sanitizeName(req.Stage), suffix),
		Resources: res,
	}, nil
}

// sanitizeName lowercases and strips characters that are not valid in
// pod names so the same worker name works on every backend.
func sanitizeName(in string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(in) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// WorkerDeletion reports the outcome of deleting one worker. Err is nil
// when the worker is fully gone and its resources may be reclaimed.
type WorkerDeletion struct {
	Worker *Spawned
	Err    error
}
