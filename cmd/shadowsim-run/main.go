// Command shadowsim-run loads a YAML topology/engine configuration, attaches
// as many demo hosts as there are point-of-interest vertices (each on a
// uniformly sampled PoI), and runs the Simulation Engine
// to completion. It stands in for the out-of-scope "per-host application
// code" collaborator with a minimal handler that just re-schedules itself,
// enough to exercise the windowed barrier and the Topology Router under a
// real run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/okdaichi/shadowsim/internal/engine"
	"github.com/okdaichi/shadowsim/internal/event"
	"github.com/okdaichi/shadowsim/internal/graphstore"
	"github.com/okdaichi/shadowsim/internal/observability"
	"github.com/okdaichi/shadowsim/internal/pathcache"
	"github.com/okdaichi/shadowsim/internal/shadowaddr"
	"github.com/okdaichi/shadowsim/internal/simtime"
	"github.com/okdaichi/shadowsim/internal/topology"
	"github.com/okdaichi/shadowsim/internal/worker"
)

// fileConfig is the on-disk YAML shape; it is flattened into engine.Config
// plus the ambient fields the CLI itself needs (graph path, observability).
type fileConfig struct {
	Engine struct {
		WorkerThreads int   `yaml:"worker_threads"`
		MinTimeJumpNS int64 `yaml:"min_time_jump_ns"`
		EndTimeNS     int64 `yaml:"end_time_ns"`
		Seed          int64 `yaml:"seed"`
	} `yaml:"engine"`
	Topology struct {
		GraphPath string `yaml:"graph_path"`
	} `yaml:"topology"`
	Observability struct {
		Service   string `yaml:"service"`
		TraceAddr string `yaml:"trace_addr"`
		LogAddr   string `yaml:"log_addr"`
		Metrics   bool   `yaml:"metrics"`
	} `yaml:"observability"`
}

func loadConfig(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg fileConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Engine.WorkerThreads == 0 {
		cfg.Engine.WorkerThreads = 4
	}
	if cfg.Engine.MinTimeJumpNS == 0 {
		cfg.Engine.MinTimeJumpNS = int64(time.Millisecond)
	}
	return &cfg, nil
}

func main() {
	configFile := flag.String("config", "configs/shadowsim.yaml", "path to config file")
	flag.Parse()

	runID := uuid.New()
	log := slog.Default().With("run_id", runID.String())

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Error("shadowsim-run: failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obsCfg := observability.Config{
		Service:   cfg.Observability.Service,
		TraceAddr: cfg.Observability.TraceAddr,
		LogAddr:   cfg.Observability.LogAddr,
		Metrics:   cfg.Observability.Metrics,
	}
	if err := observability.Setup(ctx, obsCfg); err != nil {
		log.Error("shadowsim-run: failed to set up observability", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.Error("shadowsim-run: observability shutdown error", "err", err)
		}
	}()

	store, err := graphstore.Load(cfg.Topology.GraphPath, log)
	if err != nil {
		log.Error("shadowsim-run: failed to load graph", "err", err)
		os.Exit(1)
	}

	cache := pathcache.New(log)
	router := topology.New(store, cache, log)

	engCfg := engine.Config{
		WorkerThreads: cfg.Engine.WorkerThreads,
		MinTimeJump:   simtime.Duration(cfg.Engine.MinTimeJumpNS),
		EndTime:       simtime.Time(cfg.Engine.EndTimeNS),
		GraphPath:     cfg.Topology.GraphPath,
		Seed:          cfg.Engine.Seed,
	}

	eng := engine.New(engCfg, demoHandler(router), log)
	rng := rand.New(rand.NewSource(cfg.Engine.Seed))

	var poiIDs []string
	if err := store.WithGraph(func(h *graphstore.Handle) error {
		poiIDs = h.PoIIDs()
		return nil
	}); err != nil {
		log.Error("shadowsim-run: failed to enumerate points of interest", "err", err)
		os.Exit(1)
	}

	for i := range poiIDs {
		hostID := shadowaddr.ID(i + 1)
		addr := shadowaddr.Address{ID: hostID}

		if _, err := router.Attach(addr, rng, topology.Hints{}); err != nil {
			log.Error("shadowsim-run: attach failed", "host", hostID, "err", err)
			continue
		}

		eng.RegisterHost(hostID)
		eng.Put(engine.NamespaceSoftware, int(hostID), demoState{addr: addr})

		if err := eng.PushEvent(&event.Event{
			FireTime:          simtime.Zero,
			DestinationHostID: hostID,
		}); err != nil {
			log.Error("shadowsim-run: seed event rejected", "host", hostID, "err", err)
		}
	}

	log.Info("shadowsim-run: starting engine", "hosts", len(poiIDs), "end_time", engCfg.EndTime)
	code := eng.Run(ctx)
	log.Info("shadowsim-run: engine finished", "state", eng.State(), "exit_code", code, "runtime", eng.Runtime())

	os.Exit(code)
}

// demoState is the per-host application record registered in the software
// namespace; a real per-host application would keep far more here.
type demoState struct {
	addr shadowaddr.Address
}

// demoHandler builds a minimal HostHandler that, on every due event,
// queries the Topology Router for its own self-latency (exercising the
// cache and graph lock) and reschedules itself one minTimeJump later, up
// to a small fixed number of hops, standing in for the out-of-scope
// per-host application code.
func demoHandler(router *topology.Router) engine.HostHandler {
	const maxReschedules = 64

	return func(ctx context.Context, eng *engine.Engine, hostID shadowaddr.ID, ev *event.Event, w *worker.State) error {
		item, ok := eng.Get(engine.NamespaceSoftware, int(hostID))
		if !ok {
			return fmt.Errorf("shadowsim-run: host %d has no registered software", hostID)
		}
		state := item.(demoState)

		_ = router.IsRoutable(state.addr, state.addr)

		hop, _ := ev.Payload.(int)
		if hop >= maxReschedules {
			return nil
		}

		return eng.PushEvent(&event.Event{
			FireTime:          eng.GetExecutionBarrier(),
			DestinationHostID: hostID,
			Payload:           hop + 1,
		})
	}
}
