package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/internal/diagram"
	"github.com/rmead777/agentflow/internal/engine"
	"github.com/rmead777/agentflow/internal/expressions"
	"github.com/rmead777/agentflow/internal/logging"
	"github.com/rmead777/agentflow/internal/scheduler"
	"github.com/rmead777/agentflow/internal/secrets"
	"github.com/rmead777/agentflow/internal/trace"
	"github.com/rmead777/agentflow/internal/transport"
	"github.com/rmead777/agentflow/internal/validation"
	"github.com/rmead777/agentflow/pkg/schema"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/agentflow/
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentflow:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	graphPath := flag.String("graph", "", "path to a flow graph JSON file")
	flowMode := flag.String("mode", cfg.FlowMode, "flow mode: default or novel")
	mock := flag.Bool("mock", cfg.MockOnly, "replace every model node with the mock model (no API calls)")
	concurrency := flag.Int("concurrency", cfg.Concurrency, "max parallel nodes per level (0 = level size)")
	tracePath := flag.String("trace", cfg.TracePath, "write the execution trace to this file")
	diagramFmt := flag.String("diagram", "", "render the graph instead of running it: mermaid, ascii, or dot")
	schedule := flag.String("schedule", "", "run the flow on this cron expression until interrupted")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return nil
	}
	if *graphPath == "" {
		flag.Usage()
		return fmt.Errorf("-graph is required")
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	graph, err := readGraph(*graphPath)
	if err != nil {
		return err
	}
	if *mock {
		forceMockModels(graph)
	}

	if *diagramFmt != "" {
		return renderDiagram(*diagramFmt, *graphPath, graph)
	}

	registry := adapters.Default()
	exprs, err := expressions.NewRegistry()
	if err != nil {
		return fmt.Errorf("expression engines: %w", err)
	}
	validator, err := validation.New(registry)
	if err != nil {
		return fmt.Errorf("graph validator: %w", err)
	}

	caller := transport.NewHTTPCaller(secrets.NewEnvKeyring(), transport.Options{Logger: logger})
	log := trace.NewLog()
	executor := engine.NewExecutor(registry, caller, exprs, log, logger)
	eng := engine.New(executor, validator, engine.Options{
		Concurrency: *concurrency,
		Trace:       log,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := schema.RunSettings{FlowMode: *flowMode}
	if *schedule != "" {
		return runScheduled(ctx, eng, logger, *schedule, *graphPath, graph, settings)
	}

	result, runErr := eng.Run(ctx, graph, settings)
	if result != nil {
		if err := printOutputs(result); err != nil {
			return err
		}
	}
	if *tracePath != "" {
		if err := writeTrace(*tracePath, log); err != nil {
			return err
		}
	}
	return runErr
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func readGraph(path string) (*schema.FlowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var graph schema.FlowGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	return &graph, nil
}

// forceMockModels rewrites every model node to the mock adapter so a graph
// can be exercised end to end without provider credentials.
func forceMockModels(graph *schema.FlowGraph) {
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		if node.Type == schema.NodeTypeModel || (node.Type == "" && node.ModelID != "") {
			node.ModelID = adapters.MockModelID
		}
	}
}

// runScheduled registers the flow as a recurring job and blocks until the
// context is cancelled. Each run's outputs go to stdout as they complete.
func runScheduled(ctx context.Context, eng *engine.Engine, logger *slog.Logger, cronExpr, name string, graph *schema.FlowGraph, settings schema.RunSettings) error {
	sched := scheduler.New(scheduler.FlowRunnerFunc(func(ctx context.Context, graph *schema.FlowGraph, settings schema.RunSettings) error {
		result, err := eng.Run(ctx, graph, settings)
		if result != nil {
			if printErr := printOutputs(result); printErr != nil {
				return printErr
			}
		}
		return err
	}), logger)

	if _, err := sched.AddJob(name, cronExpr, graph, settings); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop()
}

func renderDiagram(format, title string, graph *schema.FlowGraph) error {
	model, err := diagram.Build(title, graph, nil)
	if err != nil {
		return err
	}
	switch format {
	case "mermaid":
		fmt.Print(diagram.RenderMermaid(model))
	case "ascii":
		fmt.Print(diagram.RenderASCII(model))
	case "dot":
		fmt.Print(diagram.RenderDOT(model))
	default:
		return fmt.Errorf("unknown diagram format %q (want mermaid, ascii, or dot)", format)
	}
	return nil
}

func printOutputs(result *engine.RunResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID   string              `json:"run_id"`
		Status  schema.RunStatus    `json:"status"`
		Outputs []schema.FlowOutput `json:"outputs"`
	}{
		RunID:   result.RunID,
		Status:  result.Status,
		Outputs: result.Outputs,
	})
}

func writeTrace(path string, log *trace.Log) error {
	data, err := json.MarshalIndent(log.Records(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}
