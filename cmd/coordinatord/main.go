// Command coordinatord is the Model Operations Coordinator daemon: it
// constructs every component in the dependency order spec.md §9 mandates
// (GPU Manager before Lifecycle Manager before Inference Executor before
// Learning Coordinator before Goal Processor before Background Loops,
// Event Bus wired back in last) and serves all three transport surfaces
// until an interrupt signal arrives. Grounded on the construction and
// graceful-shutdown sequence in the teacher's root main.go.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docker/model-ops-coordinator/internal/config"
	"github.com/docker/model-ops-coordinator/internal/coordinator"
	"github.com/docker/model-ops-coordinator/internal/eventbus"
	"github.com/docker/model-ops-coordinator/internal/gpu"
	"github.com/docker/model-ops-coordinator/internal/inference"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"
	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/loops"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
	"github.com/docker/model-ops-coordinator/internal/transport/msgsocket"
	"github.com/docker/model-ops-coordinator/internal/transport/rest"
	"github.com/docker/model-ops-coordinator/internal/transport/rpc"

	"github.com/docker/model-ops-coordinator/internal/goals"
)

func main() {
	log := logging.New("coordinatord")

	if err := run(log); err != nil {
		log.WithError(err).Fatal("coordinatord exited with error")
	}
}

func run(log logging.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	configDir := os.Getenv("MOC_CONFIG_DIR")
	if configDir == "" {
		configDir = "/etc/model-ops-coordinator"
	}
	cfg, err := config.NewLoader(configDir).Load()
	if err != nil {
		return err
	}

	// C1: Telemetry.
	tel := telemetry.New()

	// C2: GPU Manager.
	gpuMgr := gpu.NewManager(
		gpu.Config{
			SoftLimitMB:          cfg.Resources.VRAMSoftLimitMB,
			EvictionThresholdPct: cfg.Resources.EvictionThresholdPct,
			PollInterval:         time.Duration(cfg.Resources.GPUPollIntervalSec) * time.Second,
		},
		logging.With(log, "component", "gpu-manager"),
		tel,
		gpu.NewGHWDeviceProbe(log),
		sideStoreFor(cfg, log),
	)
	if err := gpuMgr.Start(ctx, map[string]bool{}); err != nil {
		return err
	}

	// C3: Lifecycle Manager.
	lifecycleMgr := lifecycle.NewManager(
		lifecycle.DefaultConfig(),
		logging.With(log, "component", "lifecycle-manager"),
		tel,
		gpuMgr,
		gpu.NewEstimator(gpu.NewGGUFInspector(log)),
		lifecycle.NewDefaultBackendFactory(),
	)
	gpuMgr.SetLifecycleHook(lifecycleMgr)

	// C4: Inference Executor.
	executor := inference.NewExecutor(inference.DefaultConfig(), lifecycleMgr, tel)

	// C5: Learning Coordinator.
	learningStore, err := learning.OpenStore(cfg.Learning.JobStore)
	if err != nil {
		return err
	}
	learningCoord := learning.NewCoordinator(
		learningStore,
		logging.With(log, "component", "learning-coordinator"),
		tel,
		learning.NewSimulatedRunner(),
		cfg.Learning.MaxParallelJobs,
	)
	learningCoord.Start(ctx)

	// C6: Goal Processor.
	goalProc := goals.NewProcessor(
		learningCoord,
		logging.With(log, "component", "goal-processor"),
		tel,
		cfg.Goals.MaxActiveGoals,
		nil,
	)

	// C7: Background Loops.
	loopsCfg := loops.DefaultConfig()
	if cfg.Resources.GPUPollIntervalSec > 0 {
		loopsCfg.GPUPollInterval = time.Duration(cfg.Resources.GPUPollIntervalSec) * time.Second
	}
	scheduler := loops.NewScheduler(
		loopsCfg,
		logging.With(log, "component", "loops"),
		tel,
		gpuMgr,
		lifecycleMgr,
		lifecycleMgr,
	)

	// C8: Coordinator facade and transport surfaces.
	coord := coordinator.New(lifecycleMgr, gpuMgr, executor, learningCoord, goalProc)

	restSrv, err := rest.NewServer(rest.Config{
		Port:         cfg.Server.RESTPort,
		SharedSecret: cfg.Auth.SharedSecret,
		Environment:  cfg.Environment,
	}, coord, logging.With(log, "component", "rest"))
	if err != nil {
		return err
	}

	rpcSrv := rpc.NewServer(rpc.Config{
		Port:         cfg.Server.GRPCPort,
		SharedSecret: cfg.Auth.SharedSecret,
	}, coord, logging.With(log, "component", "rpc"))

	msgSrv := msgsocket.NewServer(coord, logging.With(log, "component", "msgsocket"))

	// C9: Event Bus, wired back into C2/C3 last, per spec.md §9.
	bus := eventBusFor(cfg, log)
	gpuMgr.SetEventPublisher(bus)
	lifecycleMgr.SetEventPublisher(bus)

	// Preload configured models before serving traffic.
	lifecycleMgr.Preload(ctx, descriptorsFrom(cfg))

	httpMux := http.NewServeMux()
	httpMux.Handle("/", restSrv.Handler())
	httpMux.HandleFunc("/ws", msgSrv.HandleUpgrade)
	httpServer := &http.Server{Addr: portAddr(cfg.Server.RESTPort), Handler: httpMux}

	rpcListener, err := net.Listen("tcp", portAddr(cfg.Server.GRPCPort))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error { return rpcSrv.Serve(rpcListener) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return goalProc.Run(gctx) })

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("REST server shutdown error")
	}
	rpcSrv.GracefulStop()
	lifecycleMgr.Shutdown(shutdownCtx)
	_ = bus.Close()

	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("component exited with error during shutdown")
	}
	log.Info("coordinatord stopped")
	return nil
}

func sideStoreFor(cfg *config.Config, log logging.Logger) gpu.SideStore {
	if cfg.GPU.SideStoreRedisAddr == "" {
		return gpu.NewMemorySideStore()
	}
	return gpu.NewRedisSideStore(cfg.GPU.SideStoreRedisAddr, log)
}

func eventBusFor(cfg *config.Config, log logging.Logger) eventbus.Bus {
	if cfg.EventBus.NATSURL == "" {
		return eventbus.NewLocalBus()
	}
	bus, err := eventbus.DialNATS(cfg.EventBus.NATSURL, log)
	if err != nil {
		log.WithError(err).Warn("failed to dial NATS, falling back to in-process bus")
		return eventbus.NewLocalBus()
	}
	return bus
}

func descriptorsFrom(cfg *config.Config) []lifecycle.Descriptor {
	out := make([]lifecycle.Descriptor, 0, len(cfg.Models.Preload))
	for _, name := range cfg.Models.Preload {
		out = append(out, lifecycle.Descriptor{
			Name:           name,
			Quantization:   cfg.Models.DefaultDtype,
			IdleTimeoutSec: cfg.Models.IdleTimeoutSec,
			Priority:       lifecycle.PriorityMedium,
		})
	}
	return out
}

func portAddr(port int) string {
	if port <= 0 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}
