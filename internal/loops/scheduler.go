// Package loops implements the Background Loops component (spec.md §4.7,
// C7): four cancellable concerns -- GPU poll, idle eviction, health probe,
// telemetry refresh -- each on its own ticker, all run under one
// errgroup.Group. Grounded on the teacher's Scheduler.Run in
// pkg/inference/scheduling/scheduler.go, which starts the installer and
// loader as errgroup workers and returns once both exit.
package loops

import (
	"context"
	"time"

	"github.com/elastic/go-sysinfo"
	"golang.org/x/sync/errgroup"

	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

// GPUPoller is the narrow slice of gpu.Manager the GPU-poll loop needs.
type GPUPoller interface {
	Poll(ctx context.Context)
}

// IdleEvictor is the narrow slice of lifecycle.Manager the idle-eviction
// loop needs.
type IdleEvictor interface {
	IdleUnloadCandidates(now time.Time) []string
	ForceUnload(name string) error
}

// HealthProber is the narrow slice of lifecycle.Manager the health-probe
// loop needs. LoadedNames replaces iterating lifecycle.LoadedModel so this
// package never imports internal/lifecycle's concrete types.
type HealthProber interface {
	LoadedNames() []string
	ProbeHealth(name string) error
}

// Config carries the four tick intervals, defaulted from
// resources.gpu_poll_interval_sec and sensible fallbacks for the
// non-exhaustive settings spec.md §6 doesn't name explicitly.
type Config struct {
	GPUPollInterval          time.Duration
	IdleCheckInterval        time.Duration
	HealthProbeInterval      time.Duration
	TelemetryRefreshInterval time.Duration
}

// DefaultConfig mirrors embeddedDefaults' 5s GPU poll cadence and adds
// reasonable cadences for the three concerns spec.md §6's table doesn't
// enumerate a key for.
func DefaultConfig() Config {
	return Config{
		GPUPollInterval:          5 * time.Second,
		IdleCheckInterval:        30 * time.Second,
		HealthProbeInterval:      15 * time.Second,
		TelemetryRefreshInterval: 10 * time.Second,
	}
}

// Scheduler runs the four background loops, exiting all of them within 5s
// of context cancellation (spec.md §4.7, §5).
type Scheduler struct {
	cfg    Config
	log    logging.Logger
	tel    *telemetry.Telemetry
	gpu    GPUPoller
	idle   IdleEvictor
	health HealthProber

	cpuSampler *cpuSampler
}

// NewScheduler constructs a Scheduler. Any of gpu/idle/health may be nil,
// in which case that loop's tick does nothing --
// useful for tests exercising only a subset of concerns.
func NewScheduler(cfg Config, log logging.Logger, tel *telemetry.Telemetry, gpu GPUPoller, idle IdleEvictor, health HealthProber) *Scheduler {
	return &Scheduler{cfg: cfg, log: log, tel: tel, gpu: gpu, idle: idle, health: health, cpuSampler: newCPUSampler()}
}

// Run starts all four loops and blocks until ctx is cancelled and every
// loop has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	workers, workerCtx := errgroup.WithContext(ctx)

	workers.Go(func() error {
		s.runGPUPoll(workerCtx)
		return nil
	})
	workers.Go(func() error {
		s.runIdleEviction(workerCtx)
		return nil
	})
	workers.Go(func() error {
		s.runHealthProbe(workerCtx)
		return nil
	})
	workers.Go(func() error {
		s.runTelemetryRefresh(workerCtx)
		return nil
	})

	return workers.Wait()
}

func (s *Scheduler) runGPUPoll(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.GPUPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.gpu != nil {
				s.gpu.Poll(ctx)
			}
		}
	}
}

func (s *Scheduler) runIdleEviction(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.idle == nil {
				continue
			}
			for _, name := range s.idle.IdleUnloadCandidates(time.Now()) {
				if err := s.idle.ForceUnload(name); err != nil {
					s.log.WithError(err).WithField("model", name).Warn("idle eviction failed")
				}
			}
		}
	}
}

func (s *Scheduler) runHealthProbe(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.health == nil {
				continue
			}
			for _, name := range s.health.LoadedNames() {
				if err := s.health.ProbeHealth(name); err != nil {
					s.tel.ErrorsTotal.WithLabelValues("health_probe", "loops").Inc()
					s.log.WithError(err).WithField("model", name).Debug("health probe failed")
				}
			}
		}
	}
}

func (s *Scheduler) runTelemetryRefresh(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TelemetryRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tel.RefreshUptime()
			s.refreshHostMetrics()
		}
	}
}

// refreshHostMetrics pushes CPU/RAM readings into Telemetry, grounded on
// the teacher's NewSystemMemoryInfo in pkg/inference/memory/system.go
// (sysinfo.Host().Memory()), extended here with a CPU-time delta sample
// since the teacher only reads memory.
func (s *Scheduler) refreshHostMetrics() {
	host, err := sysinfo.Host()
	if err != nil {
		s.log.WithError(err).Warn("could not read host info")
		return
	}
	if mem, err := host.Memory(); err != nil {
		s.log.WithError(err).Warn("could not read host memory")
	} else {
		s.tel.MemTotalMB.Set(float64(mem.Total) / (1024 * 1024))
		s.tel.MemUsedMB.Set(float64(mem.Used) / (1024 * 1024))
	}
	if pct, ok := s.cpuSampler.sample(host); ok {
		s.tel.CPUPercent.Set(pct)
	}
}
