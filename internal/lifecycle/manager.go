package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/eventbus"
	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/resiliency"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

// GPUManager is the narrow slice of internal/gpu.Manager the Lifecycle
// Manager needs. Defined here (not imported as an interface from gpu) so
// neither package needs to import the other's concrete types; gpu.Manager
// satisfies this structurally, and Manager below satisfies
// gpu.LifecycleHook structurally, breaking the two-way ownership pointers
// spec.md §9 warns against.
type GPUManager interface {
	Allocate(ctx context.Context, modelName string, requiredMB int64) error
	Free(ctx context.Context, modelName string) int64
	Touch(ctx context.Context, modelName string)
}

// VRAMEstimator is satisfied by internal/gpu.Estimator.
type VRAMEstimator interface {
	Estimate(declaredMB int64, source string, fileSizeMB int64, shards int) int64
}

// EventPublisher is the narrow slice of eventbus.Bus the Lifecycle Manager
// uses to announce successful loads (spec.md §6's `models.model.loaded`
// subject). Defined locally, same structural-interface reasoning as
// GPUManager above, so neither package imports the other's concrete types.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// Config carries the per-operation timeouts and breaker tuning from
// spec.md §5/§6.
type Config struct {
	LoadTimeout      time.Duration
	UnloadTimeout    time.Duration
	FailureThreshold int
	ResetTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		LoadTimeout:      120 * time.Second,
		UnloadTimeout:    30 * time.Second,
		FailureThreshold: 4,
		ResetTimeout:     20 * time.Second,
	}
}

type loadWaiter struct {
	done chan struct{}
	err  error
}

// Manager is the Lifecycle Manager. It exclusively owns the loaded-model
// registry (spec.md §3 Ownership); all VRAM mutation goes through
// GPUManager.
type Manager struct {
	cfg            Config
	log            logging.Logger
	tel            *telemetry.Telemetry
	gpu            GPUManager
	estimator      VRAMEstimator
	backends       BackendFactory
	loadBreaker    *resiliency.CircuitBreaker
	unloadBreaker  *resiliency.CircuitBreaker

	events EventPublisher

	globalMu     sync.Mutex
	perModelLock map[string]*sync.Mutex
	registry     map[string]*LoadedModel
	refs         map[string]int64
	inflight     map[string]*loadWaiter
}

// SetEventPublisher wires the event bus, completing the dependency-ordered
// construction sequence in spec.md §9 (the Event Bus, C9, is constructed
// last and wired back into the earlier components).
func (m *Manager) SetEventPublisher(events EventPublisher) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	m.events = events
}

func NewManager(cfg Config, log logging.Logger, tel *telemetry.Telemetry, gpuMgr GPUManager, estimator VRAMEstimator, backends BackendFactory) *Manager {
	m := &Manager{
		cfg:          cfg,
		log:          log,
		tel:          tel,
		gpu:          gpuMgr,
		estimator:    estimator,
		backends:     backends,
		perModelLock: map[string]*sync.Mutex{},
		registry:     map[string]*LoadedModel{},
		refs:         map[string]int64{},
		inflight:     map[string]*loadWaiter{},
	}
	m.loadBreaker = resiliency.NewCircuitBreaker("load", cfg.FailureThreshold, cfg.ResetTimeout, m.onBreakerStateChange)
	m.unloadBreaker = resiliency.NewCircuitBreaker("unload", cfg.FailureThreshold, cfg.ResetTimeout, m.onBreakerStateChange)
	return m
}

func (m *Manager) onBreakerStateChange(op string, state resiliency.BreakerState) {
	m.tel.BreakerState.WithLabelValues(op).Set(float64(state))
	if state == resiliency.StateOpen {
		m.tel.BreakerTrips.WithLabelValues(op).Inc()
	}
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	l, ok := m.perModelLock[name]
	if !ok {
		l = &sync.Mutex{}
		m.perModelLock[name] = l
	}
	return l
}

// Load implements spec.md §4.3's load operation: fast path if already
// loaded, single-flight if a load is already in progress, otherwise a
// full allocate-then-opaque-load sequence guarded by the load breaker.
func (m *Manager) Load(ctx context.Context, d Descriptor) error {
	if err := m.loadBreaker.Allow(); err != nil {
		return err
	}

	m.globalMu.Lock()
	if rec, ok := m.registry[d.Name]; ok && rec.State == StateLoaded {
		m.globalMu.Unlock()
		m.gpu.Touch(ctx, d.Name)
		m.loadBreaker.RecordSuccess()
		return nil
	}
	if w, ok := m.inflight[d.Name]; ok {
		m.globalMu.Unlock()
		select {
		case <-w.done:
			if w.err == nil {
				m.loadBreaker.RecordSuccess()
			}
			return w.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w := &loadWaiter{done: make(chan struct{})}
	m.inflight[d.Name] = w
	m.globalMu.Unlock()

	err := m.doLoad(ctx, d)

	m.globalMu.Lock()
	delete(m.inflight, d.Name)
	m.globalMu.Unlock()
	w.err = err
	close(w.done)

	if err != nil {
		m.loadBreaker.RecordFailure()
		m.tel.ModelLoadsTotal.WithLabelValues(d.Name, "failure").Inc()
	} else {
		m.loadBreaker.RecordSuccess()
		m.tel.ModelLoadsTotal.WithLabelValues(d.Name, "success").Inc()
	}
	return err
}

func (m *Manager) doLoad(ctx context.Context, d Descriptor) error {
	lock := m.lockFor(d.Name)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.LoadTimeout)
	defer cancel()

	fileSizeMB, err := statSizeMB(d.Source)
	if err != nil {
		m.setState(d.Name, StateFailed, err.Error())
		return &errs.ModelLoadError{Name: d.Name, Reason: err.Error()}
	}

	shards := d.Shards
	if shards < 1 {
		shards = 1
	}
	vramMB := m.estimator.Estimate(d.EstimatedVRAMMB, d.Source, fileSizeMB, shards)

	m.globalMu.Lock()
	if rec, ok := m.registry[d.Name]; ok {
		rec.State = StateLoading
	} else {
		m.registry[d.Name] = &LoadedModel{Descriptor: d, State: StateLoading}
	}
	m.globalMu.Unlock()
	start := time.Now()

	if err := m.gpu.Allocate(ctx, d.Name, vramMB); err != nil {
		m.setState(d.Name, StateFailed, err.Error())
		return err
	}

	backend := m.backends(d.ServingMethod)
	handle, err := backend.Load(ctx, d, vramMB)
	if err != nil {
		m.gpu.Free(ctx, d.Name)
		m.setState(d.Name, StateFailed, err.Error())
		return &errs.ModelLoadError{Name: d.Name, Reason: err.Error()}
	}

	m.tel.ModelLoadDuration.Observe(time.Since(start).Seconds())

	now := time.Now()
	m.globalMu.Lock()
	m.registry[d.Name] = &LoadedModel{
		Descriptor:   d,
		State:        StateLoaded,
		VRAMMB:       vramMB,
		LoadedAt:     now,
		LastAccessed: now,
		AccessCount:  1,
		Handle:       handle,
	}
	m.tel.ModelsLoaded.Set(float64(len(m.registry)))
	events := m.events
	m.globalMu.Unlock()

	if events != nil {
		if err := events.Publish(eventbus.SubjectModelLoaded, eventbus.ModelLoadedPayload{Name: d.Name, VRAMMB: vramMB}); err != nil {
			m.log.WithError(err).WithField("model", d.Name).Warn("failed to publish model-loaded event")
		}
	}
	return nil
}

// Unload implements spec.md §4.3's unload operation.
func (m *Manager) Unload(ctx context.Context, name string, force bool) error {
	if err := m.unloadBreaker.Allow(); err != nil {
		return err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	m.globalMu.Lock()
	rec, ok := m.registry[name]
	if !ok {
		m.globalMu.Unlock()
		return &errs.ModelNotFound{Name: name}
	}
	refs := m.refs[name]
	m.globalMu.Unlock()

	if !force && refs > 0 {
		return &errs.ModelUnloadError{Name: name, Reason: "in-flight inference references exist"}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.UnloadTimeout)
	defer cancel()

	m.setState(name, StateUnloading, "")
	backend := m.backends(rec.ServingMethod)
	if err := backend.Unload(ctx, rec.Handle); err != nil {
		m.setState(name, StateFailed, err.Error())
		m.unloadBreaker.RecordFailure()
		m.tel.ModelUnloadsTotal.WithLabelValues(name, "failure").Inc()
		return &errs.ModelUnloadError{Name: name, Reason: err.Error()}
	}

	m.gpu.Free(ctx, name)

	m.globalMu.Lock()
	delete(m.registry, name)
	delete(m.perModelLock, name)
	m.tel.ModelsLoaded.Set(float64(len(m.registry)))
	m.globalMu.Unlock()

	m.unloadBreaker.RecordSuccess()
	m.tel.ModelUnloadsTotal.WithLabelValues(name, "success").Inc()
	return nil
}

// EnsureLoaded is idempotent load-then-return, per spec.md §4.3.
func (m *Manager) EnsureLoaded(ctx context.Context, d Descriptor) (*LoadedModel, error) {
	if err := m.Load(ctx, d); err != nil {
		return nil, err
	}
	return m.Get(d.Name)
}

func (m *Manager) Get(name string) (*LoadedModel, error) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	rec, ok := m.registry[name]
	if !ok {
		return nil, &errs.ModelNotFound{Name: name}
	}
	cp := *rec
	return &cp, nil
}

func (m *Manager) List() []LoadedModel {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	out := make([]LoadedModel, 0, len(m.registry))
	for _, rec := range m.registry {
		out = append(out, *rec)
	}
	return out
}

// LoadedNames returns the names of currently loaded models, for the
// Background Loops health-probe concern (spec.md §4.7) without that
// package needing to import LoadedModel.
func (m *Manager) LoadedNames() []string {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	out := make([]string, 0, len(m.registry))
	for name, rec := range m.registry {
		if rec.State == StateLoaded {
			out = append(out, name)
		}
	}
	return out
}

func (m *Manager) Status(name string) (State, error) {
	rec, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// Preload loads the configured preload list sequentially at startup;
// failures are logged and counted but do not abort startup (spec.md
// §4.3).
func (m *Manager) Preload(ctx context.Context, descriptors []Descriptor) {
	for _, d := range descriptors {
		if err := m.Load(ctx, d); err != nil {
			m.log.WithError(err).WithField("model", d.Name).Warn("preload failed, continuing startup")
			m.tel.ErrorsTotal.WithLabelValues("preload", "lifecycle").Inc()
		}
	}
}

// --- reference counting, consumed by the Inference Executor ---

func (m *Manager) AddRef(name string) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	m.refs[name]++
}

func (m *Manager) RemoveRef(name string) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	if m.refs[name] > 0 {
		m.refs[name]--
	}
}

// --- gpu.LifecycleHook ---

// EvictionCandidates implements gpu.LifecycleHook: loaded, unreferenced,
// non-critical models.
func (m *Manager) EvictionCandidates() []string {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	var out []string
	for name, rec := range m.registry {
		if rec.State != StateLoaded {
			continue
		}
		if rec.Priority == PriorityCritical {
			continue
		}
		if m.refs[name] > 0 {
			continue
		}
		out = append(out, name)
	}
	return out
}

// ForceUnload implements gpu.LifecycleHook.
func (m *Manager) ForceUnload(name string) error {
	return m.Unload(context.Background(), name, true)
}

// IdleUnloadCandidates returns loaded, non-critical models whose
// last-accessed time exceeds their configured idle timeout, for the
// Background Loops idle-eviction concern (spec.md §4.7).
func (m *Manager) IdleUnloadCandidates(now time.Time) []string {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	var out []string
	for name, rec := range m.registry {
		if rec.State != StateLoaded || rec.Priority == PriorityCritical {
			continue
		}
		if rec.IdleTimeoutSec <= 0 {
			continue
		}
		if now.Sub(rec.LastAccessed) > time.Duration(rec.IdleTimeoutSec)*time.Second {
			out = append(out, name)
		}
	}
	return out
}

// ProbeHealth evaluates the configured backend's health check for a
// loaded model, used by the Background Loops health-probe concern.
func (m *Manager) ProbeHealth(name string) error {
	rec, err := m.Get(name)
	if err != nil {
		return err
	}
	return m.backends(rec.ServingMethod).ProbeHealth(rec.Handle)
}

// Infer dispatches to the opaque backend for an already-validated,
// referenced model. Used by internal/inference, which owns reference
// counting, bulkhead admission, and telemetry around this call.
func (m *Manager) Infer(ctx context.Context, name string, req InferRequest) (InferResult, error) {
	rec, err := m.Get(name)
	if err != nil {
		return InferResult{}, err
	}
	m.gpu.Touch(ctx, name)
	m.touchAccess(name)
	backend := m.backends(rec.ServingMethod)
	return backend.Infer(ctx, rec.Handle, req)
}

func (m *Manager) touchAccess(name string) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	if rec, ok := m.registry[name]; ok {
		rec.LastAccessed = time.Now()
		rec.AccessCount++
	}
}

func (m *Manager) setState(name string, s State, reason string) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	rec, ok := m.registry[name]
	if !ok {
		if s == StateLoading || s == StateFailed {
			return
		}
		return
	}
	rec.State = s
	rec.FailReason = reason
}

// Shutdown force-unloads every loaded model, used during ordered teardown
// (spec.md §9).
func (m *Manager) Shutdown(ctx context.Context) {
	for _, rec := range m.List() {
		if err := m.Unload(ctx, rec.Name, true); err != nil {
			m.log.WithError(err).WithField("model", rec.Name).Warn("shutdown unload failed")
		}
	}
}

func statSizeMB(source string) (int64, error) {
	info, err := os.Stat(source)
	if err != nil {
		return 0, fmt.Errorf("source %s: %w", source, err)
	}
	return info.Size() / (1024 * 1024), nil
}
