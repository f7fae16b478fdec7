// Command cadcore runs the CADcore geometry kernel server.
//
// It communicates over stdio using newline-delimited JSON-RPC (spec.md
// §6) and persists everything to a local embedded sqlite database; there
// is no remote graph service to talk to.
//
// Optional environment variables:
//
//	CADCORE_CONFIG             - path to a cadcore.toml config file
//	CADCORE_STORE_ROOT_DIR     - directory holding cadcore.db (default: ".")
//	CADCORE_LOG_LEVEL          - log level: debug, info, warn, error (default: info)
//	CADCORE_KERNEL_BACKEND     - geometry kernel: analytic, sdfx (default: analytic)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/agentcad/cadcore/internal/codec"
	"github.com/agentcad/cadcore/internal/codec/brep"
	"github.com/agentcad/cadcore/internal/codec/mesh"
	"github.com/agentcad/cadcore/internal/config"
	"github.com/agentcad/cadcore/internal/constraint"
	"github.com/agentcad/cadcore/internal/dispatch"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/kernel/analytic"
	"github.com/agentcad/cadcore/internal/kernel/sdfxkernel"
	"github.com/agentcad/cadcore/internal/metrics"
	"github.com/agentcad/cadcore/internal/model"
	"github.com/agentcad/cadcore/internal/modeling"
	"github.com/agentcad/cadcore/internal/session"
	"github.com/agentcad/cadcore/internal/store"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cadcore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a cadcore.toml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	logger.Info("starting cadcore", "version", Version, "store_root", cfg.Store.RootDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.Store.RootDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	entities := store.NewEntityStore(db, nil)
	workspaces := store.NewWorkspaceStore(db, entities)
	constraints := store.NewConstraintStore(db)
	oplog := store.NewOperationLog(db, entities)

	var k kernel.Kernel
	switch cfg.Kernel.Backend {
	case "sdfx":
		k = sdfxkernel.New()
	default:
		k = analytic.New()
	}
	logger.Info("geometry kernel selected", "backend", cfg.Kernel.Backend)

	solver := constraint.NewSolver(cfg.Solver.MaxIterations)
	engine := constraint.NewEngine(store.NewEntityLookup(entities), constraints, solver)
	pipeline := modeling.NewPipeline(k, entities)

	var metricsReg *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsReg = metrics.New()
	}

	deps := &dispatch.Deps{
		DB: db, Entities: entities, Workspaces: workspaces, Constraints: constraints,
		OpLog: oplog, Engine: engine, Pipeline: pipeline, Kernel: k,
		Codecs: map[codec.Format]codec.Codec{
			codec.FormatOBJ:  mesh.NewOBJCodec(),
			codec.FormatSTL:  mesh.NewSTLCodec(),
			codec.FormatBRep: brep.New(),
		},
		Metrics: metricsReg,
	}

	registry := dispatch.NewRegistry()
	for _, m := range dispatch.AllMethods(deps) {
		registry.Register(m)
	}

	sess := session.New(uuid.NewString(), "local-agent", model.RootWorkspaceID, session.RoleRuleset{Default: session.PolicyAllow})
	server := dispatch.NewServer(registry, sess, logger)
	server.Metrics = metricsReg

	return server.Run(ctx, os.Stdin, os.Stdout)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
