package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agentkit/internal/adapter/conversation"
	"agentkit/internal/adapter/gateway"
	"agentkit/internal/adapter/token"
	"agentkit/internal/adapter/tool"
	"agentkit/internal/adapter/usage"
	"agentkit/internal/domain"
	"agentkit/internal/infra/config"
	"agentkit/internal/infra/logger"
	"agentkit/internal/infra/tracer"
	"agentkit/internal/usecase"
	"agentkit/internal/usecase/eventbus"
	"agentkit/internal/usecase/swarm"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	serve := flag.Bool("serve", false, "start the HTTP gateway")
	input := flag.String("input", "", "run a single task and exit")
	stream := flag.Bool("stream", false, "print steps as they happen (with -input)")
	agentName := flag.String("agent", "", "agent to run (default: config default_agent)")
	useSwarm := flag.Bool("swarm", false, "route -input through the agent swarm")
	flag.Parse()

	if err := run(*configPath, *serve, *input, *stream, *agentName, *useSwarm); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, serve bool, input string, stream bool, agentName string, useSwarm bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	tools, err := buildTools(cfg.Tools, log)
	if err != nil {
		return fmt.Errorf("init tools: %w", err)
	}

	provider, err := buildProvider(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	tracker, closeTracker, err := buildTracker(ctx, cfg.Usage, log)
	if err != nil {
		return fmt.Errorf("init usage tracker: %w", err)
	}
	defer closeTracker()

	counter := token.NewCounter(log)
	states := usecase.NewStateManager(log)

	deps := usecase.ExecutorDeps{
		Provider: provider,
		Tools:    tools,
		Tracker:  tracker,
		Counter:  counter,
		States:   states,
		Bus:      bus,
		Interceptors: usecase.Interceptors{
			LLM:    []usecase.LLMInterceptor{usecase.OTelInterceptor{}},
			Tool:   []usecase.ToolInterceptor{usecase.OTelInterceptor{}},
			Agent:  []usecase.AgentInterceptor{usecase.OTelInterceptor{}},
			Logger: log,
		},
		Logger: log,
	}

	executors, err := buildExecutors(cfg, deps)
	if err != nil {
		return err
	}

	defaultExec, err := pickExecutor(executors, agentName, cfg.DefaultAgent)
	if err != nil {
		return err
	}

	switch {
	case serve:
		return runGateway(ctx, cfg, defaultExec, log)
	case input != "" && useSwarm:
		return runSwarmTask(ctx, cfg, executors, bus, log, input)
	case input != "":
		return runTask(ctx, defaultExec, input, stream)
	default:
		return fmt.Errorf("nothing to do: pass -input or -serve")
	}
}

// buildTools registers the enabled tool set.
func buildTools(cfg config.ToolsConfig, log *slog.Logger) (*tool.Registry, error) {
	registry := tool.NewRegistry(log)
	for _, name := range cfg.Enabled {
		var t domain.Tool
		switch name {
		case "calculator":
			t = tool.NewCalculatorTool(log)
		case "clock":
			t = tool.NewClockTool(log)
		case "web_fetch":
			t = tool.NewWebTool(cfg, log)
		default:
			return nil, fmt.Errorf("unknown tool %q in config", name)
		}
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildTracker sets up usage tracking, optionally persisted to SQLite.
func buildTracker(ctx context.Context, cfg config.UsageConfig, log *slog.Logger) (*usecase.UsageTracker, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return usecase.NewUsageTracker(nil, log), noop, nil
	}

	store, err := usage.NewSQLiteStore(cfg.Path)
	if err != nil {
		return nil, noop, err
	}
	tracker := usecase.NewUsageTracker(store, log)
	if err := tracker.Load(ctx); err != nil {
		log.Warn("usage history load failed", "error", err)
	}
	return tracker, func() { store.Close() }, nil
}

// buildExecutors creates one executor per configured agent.
func buildExecutors(cfg *config.Config, deps usecase.ExecutorDeps) (map[string]*usecase.AgentExecutor, error) {
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	executors := make(map[string]*usecase.AgentExecutor, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		exec, err := usecase.NewAgentExecutor(domain.AgentConfig{
			Name:          ac.Name,
			SystemPrompt:  ac.SystemPrompt,
			Model:         ac.Model,
			Tools:         ac.Tools,
			MaxIterations: ac.MaxIterations,
			Temperature:   ac.Temperature,
			Streaming:     ac.Streaming,
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", ac.Name, err)
		}
		executors[ac.Name] = exec
	}
	return executors, nil
}

func pickExecutor(executors map[string]*usecase.AgentExecutor, flagName, defaultName string) (*usecase.AgentExecutor, error) {
	name := flagName
	if name == "" {
		name = defaultName
	}
	if name == "" && len(executors) == 1 {
		for _, exec := range executors {
			return exec, nil
		}
	}
	exec, ok := executors[name]
	if !ok {
		return nil, fmt.Errorf("agent %q not configured", name)
	}
	return exec, nil
}

// runTask executes one input against a single agent and prints the result.
func runTask(ctx context.Context, exec *usecase.AgentExecutor, input string, stream bool) error {
	if stream {
		for step := range exec.Stream(ctx, input) {
			switch step.Kind {
			case domain.StepThought:
				fmt.Printf("[thought] %s\n", step.Content)
			case domain.StepToolCall:
				fmt.Printf("[tool_call] %s\n", step.ToolCall.Name)
			case domain.StepToolResult:
				fmt.Printf("[tool_result] %s\n", step.Content)
			case domain.StepFinalAnswer:
				fmt.Println(step.Content)
			case domain.StepError:
				return fmt.Errorf("run failed: %s", step.Content)
			}
		}
		return nil
	}

	result := exec.Run(ctx, input)
	if !result.Success {
		return fmt.Errorf("run failed: %s", result.Error)
	}
	fmt.Println(result.Output)
	return nil
}

// runSwarmTask routes one input through a keyword-routed swarm of all
// configured agents.
func runSwarmTask(ctx context.Context, cfg *config.Config, executors map[string]*usecase.AgentExecutor, bus domain.EventBus, log *slog.Logger, input string) error {
	router := swarm.KeywordRouter{Default: cfg.DefaultAgent}
	for _, ac := range cfg.Agents {
		if len(ac.Keywords) > 0 {
			router.Routes = append(router.Routes, swarm.Route{Agent: ac.Name, Keywords: ac.Keywords})
		}
	}

	s := swarm.New(router, bus, log)
	for _, ac := range cfg.Agents {
		s.AddSpecialist(ac.Name, executors[ac.Name])
	}

	result := s.Delegate(ctx, input)
	if !result.Success {
		return fmt.Errorf("swarm failed: %s", result.Error)
	}
	log.Info("swarm run complete", "agents", result.AgentsInvolved, "tokens", result.TotalTokens)
	fmt.Println(result.Output)
	return nil
}

// runGateway serves the agent over HTTP until the context is cancelled.
func runGateway(ctx context.Context, cfg *config.Config, exec *usecase.AgentExecutor, log *slog.Logger) error {
	var store domain.ConversationStore
	if cfg.Conversation.Path != "" {
		s, err := conversation.NewSQLiteStore(cfg.Conversation.Path)
		if err != nil {
			return fmt.Errorf("init conversation store: %w", err)
		}
		defer s.Close()
		store = s
	}

	srv := gateway.NewServer(cfg.Gateway, exec, store, log)
	return srv.Start(ctx)
}
