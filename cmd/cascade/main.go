package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/cascadehq/cascade/internal/credentials"
	"github.com/cascadehq/cascade/internal/diagram"
	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/logging"
	"github.com/cascadehq/cascade/internal/nodes"
	"github.com/cascadehq/cascade/internal/runtime"
	"github.com/cascadehq/cascade/internal/scheduler"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/internal/streaming"
	"github.com/cascadehq/cascade/internal/validation"
	cascademcp "github.com/cascadehq/cascade/pkg/mcp"
	"github.com/cascadehq/cascade/pkg/schema"
)

const usage = `cascade - workflow graph execution engine

Usage:
  cascade run <definition.json> [-account id] [-thread id] [-var k=v ...]
  cascade validate <definition.json>
  cascade graph <definition.json> [-format mermaid|ascii] [-execution id]
  cascade serve
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, cfg, logger, os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "graph":
		err = cmdGraph(ctx, cfg, os.Args[2:])
	case "serve":
		err = cmdServe(ctx, cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func buildLogger(level string) *slog.Logger {
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

func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func buildEngine(cfg Config, s *store.LibSQLStore, hub streaming.EventHub, logger *slog.Logger) (*engine.Engine, error) {
	deps := nodes.Dependencies{
		Runtime: &runtime.EchoRuntime{Prefix: cfg.AgentTextLabel},
		Logger:  logger,
	}
	if cfg.VaultPassword != "" {
		vault, err := credentials.NewAESVault(s, credentials.VaultConfig{
			Passphrase: cfg.VaultPassword,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			return nil, fmt.Errorf("open credential vault: %w", err)
		}
		deps.Credentials = vault
	}

	return engine.New(engine.Options{
		Registry: nodes.NewRegistry(deps),
		Store:    s,
		Events:   store.NewEventLog(s),
		Hub:      hub,
		Logger:   logger,
	})
}

func loadDefinition(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &def, nil
}

// varFlags collects repeatable -var k=v flags.
type varFlags map[string]string

func (v varFlags) String() string { return "" }

func (v varFlags) Set(raw string) error {
	k, val, ok := strings.Cut(raw, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected k=v, got %q", raw)
	}
	v[k] = val
	return nil
}

func cmdRun(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	account := fs.String("account", cfg.AccountID, "account the execution runs under")
	thread := fs.String("thread", "", "conversation thread for agent nodes")
	vars := varFlags{}
	fs.Var(vars, "var", "run-time variable as k=v (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run requires exactly one definition file")
	}

	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		return err
	}
	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}
	if err := validator.ValidateDefinition(def); err != nil {
		return fmt.Errorf("invalid definition: %w", err)
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	hub := streaming.NewMemoryHub()
	eng, err := buildEngine(cfg, s, hub, logger)
	if err != nil {
		return err
	}

	exec := &store.WorkflowExecution{
		ID:         uuid.New().String(),
		AccountID:  *account,
		ThreadID:   *thread,
		Definition: *def,
		Status:     schema.ExecutionStatusPending,
		Variables:  map[string]string(vars),
	}
	if err := s.CreateExecution(ctx, exec); err != nil {
		return err
	}

	// Stream live events to stdout as JSON lines while the run progresses.
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{ExecutionID: exec.ID})
	if err != nil {
		return err
	}
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		enc := json.NewEncoder(os.Stdout)
		for event := range events {
			_ = enc.Encode(event)
		}
	}()

	result, runErr := eng.Execute(ctx, def, engine.RunOptions{
		ExecutionID: exec.ID,
		AccountID:   *account,
		ThreadID:    *thread,
		Variables:   map[string]string(vars),
	})
	cancel()
	<-streamDone

	if result != nil {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	}
	return runErr
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("validate requires exactly one definition file")
	}

	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		return err
	}
	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}
	if err := validator.ValidateDefinition(def); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdGraph(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	format := fs.String("format", "mermaid", "output format: mermaid or ascii")
	execution := fs.String("execution", "", "overlay node states from a stored execution")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("graph requires exactly one definition file")
	}

	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		return err
	}

	var states []*store.NodeState
	if *execution != "" {
		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		states, err = s.ListNodeStates(ctx, *execution)
		if err != nil {
			return err
		}
	}

	model, err := diagram.Build(def, states)
	if err != nil {
		return err
	}
	switch *format {
	case "mermaid":
		fmt.Print(diagram.RenderMermaid(model))
	case "ascii":
		fmt.Print(diagram.RenderASCII(model))
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

func cmdServe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	hub := streaming.NewMemoryHub()
	eng, err := buildEngine(cfg, s, hub, logger)
	if err != nil {
		return err
	}
	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}

	srv := cascademcp.NewCascadeServer(cascademcp.CascadeServerDeps{
		Engine:    eng,
		Store:     s,
		Validator: validator,
		Logger:    logger,
	})

	notifier := cascademcp.NewStreamNotifier(srv.MCPServer(), srv.Sessions(), hub)
	go func() {
		if err := notifier.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("notifier stopped", slog.String("error", err.Error()))
		}
	}()

	// Definitions dropped into the workflows dir run on their schedule triggers.
	sched := scheduler.NewScheduler(&scheduledRunner{store: s, engine: eng, accountID: cfg.AccountID}, logger)
	if err := registerScheduled(cfg.WorkflowsDir, validator, sched, logger); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	logger.Info("cascade MCP server listening on stdio", slog.String("db", cfg.DBPath))
	return srv.Serve(ctx)
}

// registerScheduled loads every definition in dir and registers its schedule
// triggers. A missing dir is fine; an invalid definition is skipped with a log.
func registerScheduled(dir string, validator validation.Validator, sched *scheduler.Scheduler, logger *slog.Logger) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		def, err := loadDefinition(path)
		if err == nil {
			err = validator.ValidateDefinition(def)
		}
		if err != nil {
			logger.Warn("skipping workflow definition",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		if err := sched.Register(filepath.Base(path), def); err != nil {
			logger.Warn("skipping schedule triggers",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// scheduledRunner starts one persisted execution per trigger firing.
type scheduledRunner struct {
	store     *store.LibSQLStore
	engine    *engine.Engine
	accountID string
}

func (r *scheduledRunner) RunScheduled(ctx context.Context, def *schema.WorkflowDefinition, _ schema.TriggerDefinition) error {
	exec := &store.WorkflowExecution{
		ID:         uuid.New().String(),
		AccountID:  r.accountID,
		Definition: *def,
		Status:     schema.ExecutionStatusPending,
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return err
	}
	_, err := r.engine.Execute(ctx, def, engine.RunOptions{
		ExecutionID: exec.ID,
		AccountID:   r.accountID,
	})
	return err
}
