package agent

import (
	"time"

	"github.com/mjcarson/thorium/models"
)

// fair-share workers run short so the pool cycles between users.
const (
	fairShareMaxJobs    = 1
	fairShareMaxRunTime = 60 * time.Second
)

// lifetime decides when a worker must stop claiming and shut down. It
// is counted in jobs, in wall time, or not at all, per the image spec.
// Workers spawned from the fair-share pool are capped regardless of
// what their image allows.
type lifetime struct {
	// Remaining job budget, <0 means unlimited.
	jobsLeft int64
	// Wall-clock cutoff, zero means none.
	deadline time.Time
}

func newLifetime(img *models.Image, pool models.Pool, start time.Time) *lifetime {
	life := &lifetime{jobsLeft: -1}
	if img != nil && img.Lifetime != nil {
		switch img.Lifetime.Counter {
		case models.LifetimeJobs:
			life.jobsLeft = img.Lifetime.Amount
		case models.LifetimeTime:
			life.deadline = start.Add(time.Duration(img.Lifetime.Amount) * time.Second)
		}
	}
	if pool == models.PoolFairShare {
		if life.jobsLeft < 0 || life.jobsLeft > fairShareMaxJobs {
			life.jobsLeft = fairShareMaxJobs
		}
		cutoff := start.Add(fairShareMaxRunTime)
		if life.deadline.IsZero() || cutoff.Before(life.deadline) {
			life.deadline = cutoff
		}
	}
	return life
}

// recordJob burns one unit of job budget.
func (l *lifetime) recordJob() {
	if l.jobsLeft > 0 {
		l.jobsLeft--
	}
}

// exhausted reports whether this worker has used up its lifetime.
func (l *lifetime) exhausted(now time.Time) bool {
	if l.jobsLeft == 0 {
		return true
	}
	return !l.deadline.IsZero() && !now.Before(l.deadline)
}
