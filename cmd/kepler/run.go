package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keplerlab/kepler/pkg/agent"
	"github.com/keplerlab/kepler/pkg/artifacts"
	"github.com/keplerlab/kepler/pkg/articles"
	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/dashboard"
	"github.com/keplerlab/kepler/pkg/finetune"
	"github.com/keplerlab/kepler/pkg/llm"
	"github.com/keplerlab/kepler/pkg/logging"
	"github.com/keplerlab/kepler/pkg/memory"
	"github.com/keplerlab/kepler/pkg/scheduler"
	"github.com/keplerlab/kepler/pkg/search"
)

// Interval for the daily article statistics aggregation.
const articleStatsInterval = 24 * time.Hour

// Single-slot discovery declaration file inside the artifacts dir.
const discoveryFile = "findings.txt"

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
}

func runAgent(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLogs, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLogs()
	logging.SetLogger(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "starting agent %q with goal: %s", cfg.Agent.Name, cfg.Agent.Goal)

	client, err := llm.New(cfg.Model)
	if err != nil {
		return err
	}
	logger.Info(ctx, "using %s model %s", client.ProviderName(), client.ModelID())

	mem := memory.New(cfg.Memory.Path,
		memory.WithBudget(cfg.Memory.MaxChars, cfg.Memory.KeepLines),
		memory.WithRoutes(memoryRoutes(cfg.Memory)),
		memory.WithLogger(logger))

	findings := artifacts.NewRecorder(cfg.Artifacts.Dir, artifacts.Findings, artifacts.WithLogger(logger))
	connections := artifacts.NewRecorder(cfg.Artifacts.Dir, artifacts.Connections, artifacts.WithLogger(logger))
	discovery := artifacts.NewDiscovery(filepath.Join(cfg.Artifacts.Dir, discoveryFile), artifacts.WithLogger(logger))
	if err := findings.EnsureLayout(); err != nil {
		return err
	}
	if err := connections.EnsureLayout(); err != nil {
		return err
	}

	agentOpts := []agent.Option{agent.WithLogger(logger)}

	provider, err := search.New(cfg.Search)
	if err != nil {
		return err
	}
	if provider != nil {
		logger.Info(ctx, "search enabled via %s provider", provider.Name())
		agentOpts = append(agentOpts, agent.WithSearch(provider))
		if closer, ok := provider.(io.Closer); ok {
			defer closer.Close()
		}
	}

	var store *articles.Store
	if cfg.Articles.Enabled {
		store, err = articles.NewStore(cfg.Articles.Path, articles.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()
		agentOpts = append(agentOpts, agent.WithArticles(store))
	}

	var ftService *finetune.Service
	if cfg.FineTune.Enabled {
		recorder := finetune.NewExampleRecorder(cfg.FineTune.DataPath, cfg.FineTune.ExamplesToKeep,
			finetune.WithRecorderLogger(logger))
		states := finetune.NewStateStore(cfg.FineTune.StatePath)

		swapper, _ := client.(finetune.ModelSwapper)
		if swapper == nil {
			logger.Warn(ctx, "%s client cannot swap models; fine-tuned models will be recorded but not used", client.ProviderName())
		}
		if state, err := states.Load(); err != nil {
			logger.Warn(ctx, "failed to load fine-tuning state: %v", err)
		} else if state.ActiveModelID != "" && swapper != nil {
			swapper.SetModelID(state.ActiveModelID)
			logger.Info(ctx, "resuming with fine-tuned model %s", state.ActiveModelID)
		}

		ftService = finetune.NewService(cfg.FineTune, recorder, states, swapper,
			finetune.WithServiceLogger(logger))
		agentOpts = append(agentOpts, agent.WithExampleSink(recorder))
	}

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		state := dashboard.NewState()
		agentOpts = append(agentOpts, agent.WithObserver(state))

		dashOpts := []dashboard.Option{
			dashboard.WithMemory(mem),
			dashboard.WithFindings(findings),
			dashboard.WithConnections(connections),
			dashboard.WithDiscovery(discovery),
			dashboard.WithModel(client),
			dashboard.WithServerLogger(logger),
		}
		if store != nil {
			dashOpts = append(dashOpts, dashboard.WithArticles(store))
		}

		dash = dashboard.NewServer(cfg.Dashboard,
			dashboard.Info{Name: cfg.Agent.Name, Goal: cfg.Agent.Goal}, state, dashOpts...)
		if err := dash.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := dash.Shutdown(context.Background()); err != nil {
				logger.Error(nil, "dashboard shutdown failed: %v", err)
			}
		}()
	}

	coordinator := agent.NewCoordinator(cfg.Agent, mem, client, agent.Artifacts{
		Findings:    findings,
		Connections: connections,
		Discovery:   discovery,
	}, agentOpts...)

	jobs := []scheduler.Job{
		{
			Name:      "action-cycle",
			Every:     cfg.Agent.ActionInterval.Std(),
			Immediate: true,
			Run: func(ctx context.Context) error {
				coordinator.RunActionCycle(ctx)
				return nil
			},
		},
		{
			Name:  "reflection-cycle",
			Every: cfg.Agent.ReflectionInterval.Std(),
			Run: func(ctx context.Context) error {
				coordinator.RunReflectionCycle(ctx)
				return nil
			},
		},
	}
	if ftService != nil {
		jobs = append(jobs, scheduler.Job{
			Name:  "finetune-check",
			Every: cfg.FineTune.Interval.Std(),
			Run:   ftService.Check,
		})
	}
	if store != nil {
		jobs = append(jobs, scheduler.Job{
			Name:  "article-stats",
			Every: articleStatsInterval,
			Run:   store.UpdateDailyStats,
		})
	}

	sched := scheduler.New(scheduler.WithLogger(logger))
	sched.Add(jobs...)

	logger.Info(ctx, "agent is running; press Ctrl+C to stop")
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info(nil, "agent stopped")
	return nil
}

func memoryRoutes(cfg config.MemoryConfig) []memory.Route {
	var routes []memory.Route
	for _, r := range cfg.SectionRoutes() {
		routes = append(routes, memory.Route{Target: r.Target, Accept: r.Accept})
	}
	return routes
}

func setupLogging(cfg config.LoggingConfig) (*logging.Logger, func(), error) {
	outputs := []logging.Output{logging.NewConsoleOutput(true, logging.WithColor(true))}
	cleanup := func() {}

	if cfg.File != "" {
		file, err := logging.NewFileOutput(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, file)
		cleanup = func() { _ = file.Close() }
	}

	logger := logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(cfg.Level),
		Outputs:  outputs,
	})
	return logger, cleanup, nil
}
