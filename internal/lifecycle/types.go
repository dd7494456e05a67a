// Package lifecycle implements the Lifecycle Manager (spec.md §4.3): the
// per-model state machine, circuit breakers, at-most-one-load guarantee,
// and VRAM estimation on load. Grounded on the per-key lock map and
// channel-broadcast waiter pattern in the teacher's
// pkg/inference/scheduling/loader.go (generalized from runner slots to
// named models) and on the state machine in
// original_source/model_ops_coordinator/core/lifecycle.py.
package lifecycle

import "time"

// State is the per-model state machine from spec.md §3/§4.3.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
	StateFailed    State = "failed"
)

// Priority is the eviction-exemption class from spec.md §3.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ServingMethod is the tagged-variant discriminator from spec.md §3 and
// §9's "Polymorphic serving methods" design note.
type ServingMethod string

const (
	ServingLocalDirect       ServingMethod = "local-direct"
	ServingLocalServer       ServingMethod = "local-server"
	ServingRemoteRPC         ServingMethod = "remote-rpc"
	ServingRemotePubSubHealth ServingMethod = "remote-pubsub-health"
)

// Descriptor is the configured, load-time-immutable model descriptor from
// spec.md §3.
type Descriptor struct {
	Name            string
	Source          string
	Shards          int
	ServingMethod   ServingMethod
	EstimatedVRAMMB int64
	Quantization    string
	IdleTimeoutSec  int
	Priority        Priority
	Params          map[string]string
}

// LoadedModel is the runtime record from spec.md §3.
type LoadedModel struct {
	Descriptor
	State        State
	VRAMMB       int64
	LoadedAt     time.Time
	LastAccessed time.Time
	AccessCount  int64
	Handle       string
	FailReason   string
}
