// Package gpu implements the GPU/VRAM Manager (spec.md §4.2): device
// enumeration, allocation bookkeeping, lease arbitration, and LRU-with-
// priority eviction. Grounded on the teacher's slot table and
// channel-guard lock in pkg/inference/scheduling/loader.go, generalized
// from per-runner-slot allocation to named-model VRAM accounting, and on
// the Redis-backed persistence and eviction ordering in
// original_source/model_ops_coordinator/core/gpu_manager.py.
package gpu

import "time"

// Device is the data-model Device from spec.md §3.
type Device struct {
	Index          int
	Name           string
	TotalVRAMMB    int64
	UsedVRAMMB     int64
	FreeVRAMMB     int64
	UtilizationPct float64
	TemperatureC   float64
	Degraded       bool
}

// Allocation is the in-memory VRAM allocation record from spec.md §3,
// mirrored (with TTL) into the side-store.
type Allocation struct {
	ModelName    string
	VRAMMB       int64
	AllocatedAt  time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Lease is the in-memory-only lease record from spec.md §3.
type Lease struct {
	LeaseID     string
	Client      string
	ModelName   string
	VRAMMB      int64
	Priority    int
	ExpiresAt   time.Time
}

// Usage is the snapshot returned by Manager.Usage, per spec.md §4.2.
type Usage struct {
	TotalMB     int64
	AllocatedMB int64
	AvailableMB int64
	SoftLimitMB int64
	UsagePct    float64
}

// LeaseRequest is the input to Manager.AcquireLease.
type LeaseRequest struct {
	Client          string
	ModelName       string
	VRAMEstimateMB  int64
	TTLSec          int
	Priority        int
}

// LeaseGrant is the result of Manager.AcquireLease: a grant (Granted,
// LeaseID, VRAMReservedMB) or a denial (Granted false, Reason,
// RetryAfterMS).
type LeaseGrant struct {
	Granted        bool
	LeaseID        string
	VRAMReservedMB int64
	Reason         string
	RetryAfterMS   int
}

// LifecycleHook is the narrow interface the GPU Manager uses to cooperate
// with the Lifecycle Manager during eviction, avoiding the two-way
// ownership pointers spec.md §9 warns against: the GPU Manager never
// touches the loaded-model registry directly, it only asks.
type LifecycleHook interface {
	// EvictionCandidates returns the names of loaded models the Lifecycle
	// Manager does not currently protect (zero inference references) and
	// whose priority is not critical.
	EvictionCandidates() []string
	// ForceUnload asks the Lifecycle Manager to unload name as part of
	// eviction. The Lifecycle Manager calls back into Manager.Free as
	// part of performing the unload.
	ForceUnload(name string) error
}
