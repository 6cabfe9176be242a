package scheduler

import (
	"sort"

	"github.com/mjcarson/thorium/models"
)

// FairShare ranks users by how much compute they have been granted
// recently. Lower rank means the user is owed more; ranks decay over
// time so a burst last week does not starve a user forever.
type FairShare struct {
	divisor   float64
	cpuWeight float64
	memWeight float64
	ranks     map[string]float64
}

func NewFairShare(divisor, cpuWeight, memWeight float64) *FairShare {
	if divisor <= 0 {
		divisor = 100
	}
	if cpuWeight <= 0 {
		cpuWeight = 1
	}
	if memWeight <= 0 {
		memWeight = 1
	}
	return &FairShare{
		divisor:   divisor,
		cpuWeight: cpuWeight,
		memWeight: memWeight,
		ranks:     make(map[string]float64),
	}
}

// Increase charges a user for resources they were just granted.
func (f *FairShare) Increase(user string, res models.Resources) {
	cost := (f.cpuWeight*float64(res.CPU) + f.memWeight*float64(res.Memory)) / f.divisor
	f.ranks[user] += cost
}

// Decay halves every rank, dropping users whose rank has become
// negligible so the map does not grow without bound.
func (f *FairShare) Decay() {
	for user, rank := range f.ranks {
		rank /= 2
		if rank < 0.001 {
			delete(f.ranks, user)
			continue
		}
		f.ranks[user] = rank
	}
}

// Rank is a user's current charge. Unknown users rank at zero.
func (f *FairShare) Rank(user string) float64 {
	return f.ranks[user]
}

// Order sorts users most-deserving first: lowest rank wins, name breaks
// ties so the order is stable.
func (f *FairShare) Order(users []string) []string {
	out := append([]string(nil), users...)
	sort.Slice(out, func(i, j int) bool {
		ri, rj := f.ranks[out[i]], f.ranks[out[j]]
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}
