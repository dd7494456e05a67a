// Package eventbus implements the Event Bus (spec.md §4's C9, §6): a
// multi-producer/multi-consumer publish/subscribe fan-out for the
// `models.model.loaded` and `memory.pressure.warning` subjects, with an
// external-broker primary and an in-process fallback. Grounded on
// original_source/model_ops_coordinator/adapters/event_bus_adapter.py's
// NATS-primary / asyncio-queue-fallback design.
package eventbus

import "encoding/json"

// Subjects spec.md §6 names.
const (
	SubjectModelLoaded    = "models.model.loaded"
	SubjectMemoryPressure = "memory.pressure.warning"
)

// Event is the envelope delivered to subscribers. Payload is the raw JSON
// encoding of whatever value was published; subscribers unmarshal it into
// their own typed struct.
type Event struct {
	Subject string
	Payload []byte
}

// Bus is satisfied by both broker-backed and in-process implementations.
type Bus interface {
	// Publish marshals payload to JSON and fans it out to every current
	// subscriber of subject.
	Publish(subject string, payload any) error
	// Subscribe registers fn to be called for every event published to
	// subject from this point on. The returned func unsubscribes.
	Subscribe(subject string, fn func(Event)) (unsubscribe func())
	// Close releases broker connections and stops subscriber pumps.
	Close() error
}

func marshal(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

// ModelLoadedPayload is the typed body of SubjectModelLoaded events.
type ModelLoadedPayload struct {
	Name   string `json:"name"`
	VRAMMB int64  `json:"vram_mb"`
}

// MemoryPressurePayload is the typed body of SubjectMemoryPressure events.
type MemoryPressurePayload struct {
	TotalMB  int64   `json:"total_mb"`
	UsedMB   int64   `json:"used_mb"`
	UsagePct float64 `json:"usage_pct"`
}
