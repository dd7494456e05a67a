package gpu

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/eventbus"
	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

// EventPublisher is the narrow slice of eventbus.Bus the GPU Manager uses
// to announce memory pressure (spec.md §6's `memory.pressure.warning`
// subject). Defined locally for the same structural-interface reasons as
// LifecycleHook below.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// Config carries the resources.* settings from spec.md §6 that govern the
// GPU Manager.
type Config struct {
	SoftLimitMB          int64
	EvictionThresholdPct float64
	PollInterval         time.Duration
}

// Manager owns the allocation map and lease map behind a single mutex,
// exactly as spec.md §5 specifies ("the GPU Manager holds one lock around
// the allocation map"). Grounded on the slot-table bookkeeping in the
// teacher's pkg/inference/scheduling/loader.go, generalized from runner
// slots to named-model VRAM accounting.
type Manager struct {
	cfg   Config
	log   logging.Logger
	tel   *telemetry.Telemetry
	probe DeviceProbe
	store SideStore

	mu          sync.Mutex
	allocations map[string]*Allocation
	leases      map[string]*Lease
	devices     []Device
	degradedHits int

	hook   LifecycleHook
	events EventPublisher
}

// NewManager constructs a Manager. SetLifecycleHook must be called once
// the Lifecycle Manager exists, completing the dependency-ordered
// construction sequence in spec.md §9 without a circular import.
func NewManager(cfg Config, log logging.Logger, tel *telemetry.Telemetry, probe DeviceProbe, store SideStore) *Manager {
	return &Manager{
		cfg:         cfg,
		log:         log,
		tel:         tel,
		probe:       probe,
		store:       store,
		allocations: map[string]*Allocation{},
		leases:      map[string]*Lease{},
	}
}

// SetLifecycleHook wires the eviction-candidate callback. Must be called
// before any allocation that could require eviction.
func (m *Manager) SetLifecycleHook(hook LifecycleHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// SetEventPublisher wires the event bus, completing the dependency-ordered
// construction sequence in spec.md §9.
func (m *Manager) SetEventPublisher(events EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = events
}

// Start enumerates devices and reconciles the side-store against
// currently-configured models, purging orphaned records per spec.md §3.
func (m *Manager) Start(ctx context.Context, knownModels map[string]bool) error {
	devices, err := m.probe.Probe()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.devices = devices
	m.mu.Unlock()

	persisted, err := m.store.List(ctx)
	if err != nil {
		m.log.WithError(err).Warn("side-store reconciliation failed, starting with an empty allocation map")
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, alloc := range persisted {
		if !knownModels[name] {
			_ = m.store.Delete(ctx, name)
			continue
		}
		a := alloc
		m.allocations[name] = &a
	}
	return nil
}

// Allocate is idempotent for an already-allocated model (touch
// semantics), otherwise attempts eviction before failing, per spec.md
// §4.2.
func (m *Manager) Allocate(ctx context.Context, modelName string, requiredMB int64) error {
	m.mu.Lock()
	if existing, ok := m.allocations[modelName]; ok {
		existing.LastAccessed = time.Now()
		existing.AccessCount++
		snapshot := *existing
		m.mu.Unlock()
		m.persist(ctx, snapshot)
		return nil
	}
	available := m.availableLocked()
	m.mu.Unlock()

	if requiredMB > available {
		m.evict(ctx, requiredMB-available)
		m.mu.Lock()
		available = m.availableLocked()
		m.mu.Unlock()
		if requiredMB > available {
			return &errs.GPUUnavailable{RequiredMB: requiredMB, AvailableMB: available}
		}
	}

	now := time.Now()
	alloc := Allocation{
		ModelName:    modelName,
		VRAMMB:       requiredMB,
		AllocatedAt:  now,
		LastAccessed: now,
		AccessCount:  1,
	}
	m.mu.Lock()
	m.allocations[modelName] = &alloc
	m.mu.Unlock()
	m.tel.ModelVRAMMB.WithLabelValues(modelName).Set(float64(requiredMB))
	m.persist(ctx, alloc)
	return nil
}

// Free removes an allocation, returning the freed amount (0 if absent).
func (m *Manager) Free(ctx context.Context, modelName string) int64 {
	m.mu.Lock()
	alloc, ok := m.allocations[modelName]
	if !ok {
		m.mu.Unlock()
		return 0
	}
	delete(m.allocations, modelName)
	m.mu.Unlock()

	m.tel.ModelVRAMMB.DeleteLabelValues(modelName)
	if err := m.store.Delete(ctx, modelName); err != nil {
		m.log.WithError(err).WithField("model", modelName).Warn("side-store delete failed")
	}
	return alloc.VRAMMB
}

// Touch refreshes last-accessed/access-count without changing the
// allocation size.
func (m *Manager) Touch(ctx context.Context, modelName string) {
	m.mu.Lock()
	alloc, ok := m.allocations[modelName]
	if !ok {
		m.mu.Unlock()
		return
	}
	alloc.LastAccessed = time.Now()
	alloc.AccessCount++
	snapshot := *alloc
	m.mu.Unlock()
	m.persist(ctx, snapshot)
}

// Usage returns the current utilization snapshot, per spec.md §4.2.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.totalVRAMLocked()
	soft := m.softLimitLocked(total)
	allocated := m.allocatedLocked()
	pct := 0.0
	if soft > 0 {
		pct = float64(allocated) / float64(soft) * 100
	}
	return Usage{
		TotalMB:     total,
		AllocatedMB: allocated,
		AvailableMB: soft - allocated,
		SoftLimitMB: soft,
		UsagePct:    pct,
	}
}

// AcquireLease performs centralized VRAM arbitration across independent
// clients racing to load the same or different large models (spec.md
// §4.2).
func (m *Manager) AcquireLease(req LeaseRequest) LeaseGrant {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reapExpiredLeasesLocked()

	total := m.totalVRAMLocked()
	soft := m.softLimitLocked(total)
	committed := m.allocatedLocked() + m.leasedLocked()

	if committed+req.VRAMEstimateMB > soft {
		return LeaseGrant{Granted: false, Reason: "Insufficient VRAM", RetryAfterMS: 250}
	}

	id := uuid.NewString()
	m.leases[id] = &Lease{
		LeaseID:   id,
		Client:    req.Client,
		ModelName: req.ModelName,
		VRAMMB:    req.VRAMEstimateMB,
		Priority:  req.Priority,
		ExpiresAt: time.Now().Add(time.Duration(req.TTLSec) * time.Second),
	}
	return LeaseGrant{Granted: true, LeaseID: id, VRAMReservedMB: req.VRAMEstimateMB}
}

// ReleaseLease is a no-op success for a nonexistent or expired lease, per
// spec.md §8's lease-release law.
func (m *Manager) ReleaseLease(leaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, leaseID)
}

// Info returns the last-known device snapshot.
func (m *Manager) Info() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Poll refreshes device metrics and runs the pressure-triggered eviction
// check, called every gpu_poll_interval_sec by the Background Loops
// component (spec.md §4.2, §4.7).
func (m *Manager) Poll(ctx context.Context) {
	devices, err := m.probe.Probe()
	if err != nil {
		m.mu.Lock()
		m.degradedHits++
		degraded := m.degradedHits >= 5
		for i := range m.devices {
			m.devices[i].Degraded = degraded
		}
		m.mu.Unlock()
		m.tel.ErrorsTotal.WithLabelValues("gpu_probe", "gpu").Inc()
		return
	}
	m.mu.Lock()
	m.degradedHits = 0
	m.devices = devices
	m.mu.Unlock()

	for _, d := range devices {
		m.tel.DeviceGPUPercent.WithLabelValues(d.Name).Set(d.UtilizationPct)
		m.tel.DeviceVRAMUsedMB.WithLabelValues(d.Name).Set(float64(d.UsedVRAMMB))
		m.tel.DeviceVRAMTotalMB.WithLabelValues(d.Name).Set(float64(d.TotalVRAMMB))
	}

	usage := m.Usage()
	if usage.SoftLimitMB > 0 && usage.UsagePct > m.cfg.EvictionThresholdPct {
		m.mu.Lock()
		events := m.events
		m.mu.Unlock()
		if events != nil {
			payload := eventbus.MemoryPressurePayload{TotalMB: usage.TotalMB, UsedMB: usage.AllocatedMB, UsagePct: usage.UsagePct}
			if err := events.Publish(eventbus.SubjectMemoryPressure, payload); err != nil {
				m.log.WithError(err).Warn("failed to publish memory-pressure event")
			}
		}
		target := int64(m.cfg.EvictionThresholdPct * 0.8 / 100 * float64(usage.TotalMB))
		if usage.AllocatedMB > target {
			m.evict(ctx, usage.AllocatedMB-target)
		}
	}
}

// evict frees at least requiredMB by unloading non-critical, unprotected
// candidates ordered by (last_accessed asc, access_count asc), per
// spec.md §4.2.
func (m *Manager) evict(ctx context.Context, requiredMB int64) {
	m.mu.Lock()
	hook := m.hook
	if hook == nil {
		m.mu.Unlock()
		return
	}
	candidates := hook.EvictionCandidates()
	type scored struct {
		name         string
		lastAccessed time.Time
		accessCount  int64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, name := range candidates {
		if a, ok := m.allocations[name]; ok {
			ranked = append(ranked, scored{name: name, lastAccessed: a.LastAccessed, accessCount: a.AccessCount})
		}
	}
	m.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].lastAccessed.Equal(ranked[j].lastAccessed) {
			return ranked[i].lastAccessed.Before(ranked[j].lastAccessed)
		}
		return ranked[i].accessCount < ranked[j].accessCount
	})

	var freed int64
	for _, c := range ranked {
		if freed >= requiredMB {
			break
		}
		m.mu.Lock()
		alloc, ok := m.allocations[c.name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := hook.ForceUnload(c.name); err != nil {
			m.log.WithError(err).WithField("model", c.name).Warn("eviction unload failed")
			continue
		}
		freed += alloc.VRAMMB
	}
	_ = ctx
}

func (m *Manager) persist(ctx context.Context, alloc Allocation) {
	if err := m.store.Set(ctx, alloc.ModelName, alloc); err != nil {
		m.log.WithError(err).WithField("model", alloc.ModelName).Warn("side-store write failed")
		m.tel.ErrorsTotal.WithLabelValues("side_store_write", "gpu").Inc()
	}
}

func (m *Manager) reapExpiredLeasesLocked() {
	now := time.Now()
	for id, l := range m.leases {
		if now.After(l.ExpiresAt) {
			delete(m.leases, id)
		}
	}
}

func (m *Manager) totalVRAMLocked() int64 {
	var total int64
	for _, d := range m.devices {
		total += d.TotalVRAMMB
	}
	if total == 0 {
		return mockTotalVRAMMB
	}
	return total
}

func (m *Manager) softLimitLocked(total int64) int64 {
	if m.cfg.SoftLimitMB > 0 && m.cfg.SoftLimitMB < total {
		return m.cfg.SoftLimitMB
	}
	return total
}

func (m *Manager) allocatedLocked() int64 {
	var sum int64
	for _, a := range m.allocations {
		sum += a.VRAMMB
	}
	return sum
}

func (m *Manager) leasedLocked() int64 {
	m.reapExpiredLeasesLocked()
	var sum int64
	for _, l := range m.leases {
		sum += l.VRAMMB
	}
	return sum
}

func (m *Manager) availableLocked() int64 {
	total := m.totalVRAMLocked()
	soft := m.softLimitLocked(total)
	return soft - m.allocatedLocked() - m.leasedLocked()
}
