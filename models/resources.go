package models

import "fmt"

// Resources describes compute capacity, either what a node has or what a
// worker needs. CPU is in milli-cores, Memory and Storage in MiB.
type Resources struct {
	CPU         int64 `json:"cpu"`
	Memory      int64 `json:"memory"`
	Storage     int64 `json:"ephemeral_storage"`
	WorkerSlots int64 `json:"worker_slots"`
	NvidiaGPU   int64 `json:"nvidia_gpu"`
	AmdGPU      int64 `json:"amd_gpu"`
}

// sub returns a-b floored at 0 so resource counts can never go negative.
func sub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Enough reports whether r covers want in every dimension.
func (r Resources) Enough(want Resources) bool {
	return r.CPU >= want.CPU &&
		r.Memory >= want.Memory &&
		r.Storage >= want.Storage &&
		r.WorkerSlots >= want.WorkerSlots &&
		r.NvidiaGPU >= want.NvidiaGPU &&
		r.AmdGPU >= want.AmdGPU
}

// Consume subtracts want from r, saturating at 0 in each dimension.
func (r *Resources) Consume(want Resources) {
	r.CPU = sub(r.CPU, want.CPU)
	r.Memory = sub(r.Memory, want.Memory)
	r.Storage = sub(r.Storage, want.Storage)
	r.WorkerSlots = sub(r.WorkerSlots, want.WorkerSlots)
	r.NvidiaGPU = sub(r.NvidiaGPU, want.NvidiaGPU)
	r.AmdGPU = sub(r.AmdGPU, want.AmdGPU)
}

// Release adds freed back to r.
func (r *Resources) Release(freed Resources) {
	r.CPU += freed.CPU
	r.Memory += freed.Memory
	r.Storage += freed.Storage
	r.WorkerSlots += freed.WorkerSlots
	r.NvidiaGPU += freed.NvidiaGPU
	r.AmdGPU += freed.AmdGPU
}

// Add returns the component-wise sum of r and other.
func (r Resources) Add(other Resources) Resources {
	r.Release(other)
	return r
}

func (r Resources) String() string {
	return fmt.Sprintf("{cpu:%d mem:%d storage:%d slots:%d nvidia:%d amd:%d}",
		r.CPU, r.Memory, r.Storage, r.WorkerSlots, r.NvidiaGPU, r.AmdGPU)
}
