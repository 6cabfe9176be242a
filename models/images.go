package models

// LifetimeCounter says what unit an image lifetime is counted in.
type LifetimeCounter string

const (
	LifetimeJobs LifetimeCounter = "jobs"
	LifetimeTime LifetimeCounter = "time"
)

// ImageLifetime bounds how long a worker for an image may keep claiming jobs.
type ImageLifetime struct {
	Counter LifetimeCounter `json:"counter"`
	Amount  int64           `json:"amount"`
}

// SpawnLimit caps how many workers for one image may exist at once.
// A zero Limit with Unlimited false means no workers may spawn.
type SpawnLimit struct {
	Unlimited bool  `json:"unlimited"`
	Limit     int64 `json:"limit"`
}

// Image is the platform's description of a runnable pipeline stage: what
// command to run, what it costs, and how long a worker for it may live.
// Image CRUD lives in the platform API; the scheduler only reads these.
type Image struct {
	Name  string `json:"name"`
	Group string `json:"group"`
	// ContainerImage is the docker image workers for this stage run in.
	// Backends that run bare processes ignore it.
	ContainerImage string    `json:"image,omitempty"`
	Version        string    `json:"version,omitempty"`
	Entrypoint     []string  `json:"entrypoint,omitempty"`
	Command        []string  `json:"command,omitempty"`
	Resources      Resources `json:"resources"`
	// Runtime is this image's observed average execution time in seconds.
	Runtime    float64        `json:"runtime"`
	Lifetime   *ImageLifetime `json:"lifetime,omitempty"`
	SpawnLimit SpawnLimit     `json:"spawn_limit"`
}
