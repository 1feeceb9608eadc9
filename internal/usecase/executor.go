package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agentkit/internal/domain"
)

// Recovery loop constants.
const (
	maxLLMRetries  = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// stepBufferSize is the capacity of the channel returned by Stream. A slow
// consumer backpressures the run rather than dropping events.
const stepBufferSize = 16

// ExecutorDeps holds injected dependencies for an agent executor.
type ExecutorDeps struct {
	Provider     domain.LLMProvider
	Tools        domain.ToolExecutor
	Tracker      *UsageTracker       // optional, nil = no usage recording
	Counter      domain.TokenCounter // optional, nil = provider-reported usage only
	States       *StateManager       // optional, nil = no state tracking
	Bus          domain.EventBus     // optional, nil = no events
	Interceptors Interceptors
	Classifier   *ErrorClassifier // defaulted when nil
	Logger       *slog.Logger
}

// AgentExecutor drives the think/act loop for one agent configuration.
// Safe for concurrent use; each Run or Stream call is an independent run.
type AgentExecutor struct {
	cfg     domain.AgentConfig
	deps    ExecutorDeps
	schemas []domain.ToolSchema
}

// NewAgentExecutor validates the configuration and resolves the agent's
// tool set. Unknown tool names and invalid configs fail construction.
func NewAgentExecutor(cfg domain.AgentConfig, deps ExecutorDeps) (*AgentExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil {
		return nil, domain.NewDomainError("NewAgentExecutor", domain.ErrInvalidInput, "provider is required")
	}
	if deps.Tools == nil {
		return nil, domain.NewDomainError("NewAgentExecutor", domain.ErrInvalidInput, "tool executor is required")
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = domain.DefaultMaxIterations
	}
	if deps.Classifier == nil {
		deps.Classifier = NewErrorClassifier()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	// An empty tool list exposes every registered tool; a named list is
	// resolved now so a typo surfaces at construction, not mid-run.
	var schemas []domain.ToolSchema
	if len(cfg.Tools) == 0 {
		schemas = deps.Tools.Schemas()
	} else {
		all := deps.Tools.Schemas()
		byName := make(map[string]domain.ToolSchema, len(all))
		for _, s := range all {
			byName[s.Name] = s
		}
		for _, name := range cfg.Tools {
			s, ok := byName[name]
			if !ok {
				return nil, domain.NewDomainError("NewAgentExecutor", domain.ErrToolNotFound, name)
			}
			schemas = append(schemas, s)
		}
	}

	return &AgentExecutor{cfg: cfg, deps: deps, schemas: schemas}, nil
}

// Config returns the executor's agent configuration.
func (e *AgentExecutor) Config() domain.AgentConfig {
	return e.cfg
}

// Run executes the agent loop to completion. It never returns an error
// value; failure is carried in the result's Success and Error fields.
func (e *AgentExecutor) Run(ctx context.Context, input string) *domain.AgentResult {
	return e.execute(ctx, input, nil)
}

// Stream executes the agent loop and emits Step events as execution
// proceeds. The channel closes after a final_answer or error event.
func (e *AgentExecutor) Stream(ctx context.Context, input string) <-chan domain.Step {
	ch := make(chan domain.Step, stepBufferSize)
	go func() {
		defer close(ch)
		e.execute(ctx, input, func(step domain.Step) {
			select {
			case ch <- step:
			case <-ctx.Done():
				// The consumer cancelled. Still hand over the step if a
				// buffer slot is free, so the terminal error event is not
				// lost to a reader that keeps draining.
				select {
				case ch <- step:
				default:
				}
			}
		})
	}()
	return ch
}

// execute is the shared loop behind Run and Stream. emit is nil for
// blocking runs.
func (e *AgentExecutor) execute(ctx context.Context, input string, emit func(domain.Step)) *domain.AgentResult {
	start := time.Now()
	result := &domain.AgentResult{}

	runID := e.beginRun(ctx)
	ctx = domain.WithRunID(ctx, runID)
	ctx = e.deps.Interceptors.beforeRun(ctx, input)

	e.publish(ctx, domain.EventRunStarted, runID, map[string]string{"agent": e.cfg.Name})

	messages := e.seedMessages(input)

	var totalUsage domain.Usage
	for i := 0; i < e.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			return e.fail(ctx, runID, input, result, ctx.Err(), i, start, emit)
		}

		req := domain.ChatRequest{
			Model:       e.cfg.Model,
			Messages:    messages,
			Tools:       e.schemas,
			Temperature: e.cfg.Temperature,
			Stream:      e.cfg.Streaming,
		}

		iterStart := time.Now()
		msg, usage, err := e.callProvider(ctx, runID, req, i)
		if err != nil {
			return e.fail(ctx, runID, input, result, err, i, start, emit)
		}

		if usage.TotalTokens == 0 && e.deps.Counter != nil {
			usage = e.estimateUsage(req.Messages, msg)
		}
		totalUsage.Add(usage)
		e.recordUsage(ctx, runID, usage)

		messages = append(messages, msg)
		e.setStep(runID, i+1)

		e.deps.Logger.Debug("llm response",
			"run_id", runID,
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", usage.TotalTokens,
		)

		// No tool calls = final answer.
		if len(msg.ToolCalls) == 0 {
			result.Steps = append(result.Steps, domain.StepResult{
				Name:     fmt.Sprintf("iteration_%d", i+1),
				Success:  true,
				Output:   msg.Content,
				Tokens:   usage.TotalTokens,
				Duration: time.Since(iterStart),
			})
			result.Success = true
			result.Output = msg.Content
			result.TotalTokens = totalUsage.TotalTokens
			result.TotalCost = domain.EstimateCost(e.cfg.Model, totalUsage)
			result.Duration = time.Since(start)
			totalUsage.EstimatedCost = result.TotalCost

			e.emitStep(emit, domain.Step{
				Kind:      domain.StepFinalAnswer,
				Content:   msg.Content,
				Iteration: i,
				Usage:     &totalUsage,
				Timestamp: time.Now(),
			})
			e.completeRun(ctx, runID, msg.Content)
			e.deps.Interceptors.afterRun(ctx, input, result)
			return result
		}

		if msg.Content != "" {
			e.emitStep(emit, domain.Step{
				Kind:      domain.StepThought,
				Content:   msg.Content,
				Iteration: i,
				Timestamp: time.Now(),
			})
		}

		// Resolve tool calls sequentially, in response order. A failed call
		// becomes an error result for that call; the batch continues.
		calls := messages[len(messages)-1].ToolCalls
		for c := range calls {
			call := &calls[c]

			// Steps carry snapshots, not the live struct: resolveToolCall
			// mutates the call while a Stream consumer on another goroutine
			// may still be reading the emitted step.
			pending := *call
			e.emitStep(emit, domain.Step{
				Kind:      domain.StepToolCall,
				ToolCall:  &pending,
				Iteration: i,
				Timestamp: time.Now(),
			})

			toolMsg := e.resolveToolCall(ctx, call)
			messages = append(messages, toolMsg)

			settled := *call
			e.emitStep(emit, domain.Step{
				Kind:      domain.StepToolResult,
				Content:   toolMsg.Content,
				ToolCall:  &settled,
				Iteration: i,
				Timestamp: time.Now(),
			})

			result.Steps = append(result.Steps, domain.StepResult{
				Name:     call.Name,
				Success:  call.Status == domain.ToolCallSuccess,
				Output:   toolMsg.Content,
				Duration: call.Duration,
			})
		}
	}

	return e.fail(ctx, runID, input, result, domain.ErrMaxIterations, e.cfg.MaxIterations, start, emit)
}

// estimateUsage reconstructs usage when the provider reported none,
// counting both the prompt side and the completion so cost estimates keep
// their input share.
func (e *AgentExecutor) estimateUsage(prompt []domain.Message, msg domain.Message) domain.Usage {
	var usage domain.Usage
	for _, m := range prompt {
		usage.PromptTokens += e.deps.Counter.CountString(m.Content, e.cfg.Model)
	}
	usage.CompletionTokens = e.deps.Counter.CountString(msg.Content, e.cfg.Model)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

// seedMessages builds the initial prompt from the system prompt and input.
func (e *AgentExecutor) seedMessages(input string) []domain.Message {
	var messages []domain.Message
	if e.cfg.SystemPrompt != "" {
		messages = append(messages, domain.Message{
			Role:      domain.RoleSystem,
			Content:   e.cfg.SystemPrompt,
			Timestamp: time.Now(),
		})
	}
	return append(messages, domain.Message{
		Role:      domain.RoleUser,
		Content:   input,
		Timestamp: time.Now(),
	})
}

// callProvider performs one LLM call with retry for transient failures.
// Streaming configs use ChatStream when the provider supports it, with
// deltas accumulated into a complete message and republished on the bus.
func (e *AgentExecutor) callProvider(ctx context.Context, runID string, req domain.ChatRequest, iteration int) (domain.Message, domain.Usage, error) {
	sp, canStream := e.deps.Provider.(domain.StreamingLLMProvider)
	streaming := e.cfg.Streaming && canStream

	var lastErr error
	for attempt := 0; attempt < maxLLMRetries; attempt++ {
		callCtx := e.deps.Interceptors.beforeChat(ctx, req)
		e.publish(ctx, domain.EventLLMCallStarted, runID, map[string]any{"iteration": iteration})

		callStart := time.Now()
		var msg domain.Message
		var usage domain.Usage
		var callErr error

		if streaming {
			deltaCh, err := sp.ChatStream(callCtx, req)
			if err != nil {
				callErr = err
			} else {
				acc := newStreamAccumulator()
				for delta := range deltaCh {
					acc.addDelta(delta)
					e.publish(ctx, domain.EventStreamDelta, runID, delta)
				}
				// A stream that broke mid-response is a failed call, not a
				// short answer. Route it through the classifier like any
				// other provider error.
				if acc.err != nil {
					callErr = acc.err
				} else if ctx.Err() != nil {
					callErr = ctx.Err()
				} else {
					msg, usage = acc.build()
				}
			}
		} else {
			resp, err := e.deps.Provider.Chat(callCtx, req)
			if err != nil {
				callErr = err
			} else {
				msg = resp.Message
				usage = resp.Usage
			}
		}

		if callErr == nil {
			e.deps.Interceptors.afterChat(callCtx, req, &domain.ChatResponse{
				Model:        req.Model,
				Message:      msg,
				Usage:        usage,
				FinishReason: finishReasonFor(msg),
			}, time.Since(callStart))
			e.publish(ctx, domain.EventLLMCallCompleted, runID, map[string]any{"iteration": iteration, "tokens": usage.TotalTokens})
			return msg, usage, nil
		}
		lastErr = callErr
		e.deps.Interceptors.onChatError(callCtx, req, callErr)

		classified := e.deps.Classifier.Classify(callErr)
		if classified.Category != ErrorCategoryRetryable {
			return domain.Message{}, domain.Usage{}, lastErr
		}
		// Overflow is nominally retryable but nothing shrinks the prompt
		// between attempts, so retrying cannot help.
		if errors.Is(classified.Sentinel, domain.ErrContextOverflow) {
			return domain.Message{}, domain.Usage{}, lastErr
		}

		if attempt < maxLLMRetries-1 {
			delay := retryBackoff(attempt)
			e.deps.Logger.Info("retrying LLM call after error",
				"run_id", runID, "attempt", attempt+1, "delay", delay, "error", callErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.Message{}, domain.Usage{}, ctx.Err()
			}
		}
	}
	return domain.Message{}, domain.Usage{}, lastErr
}

// resolveToolCall runs one tool call through its pending -> running ->
// terminal lifecycle and returns the tool message to feed back to the model.
// Lookup and execution failures become the call's error content.
func (e *AgentExecutor) resolveToolCall(ctx context.Context, call *domain.ToolCall) domain.Message {
	if err := call.MarkRunning(); err != nil {
		// Already resolved; nothing to do.
		return domain.Message{
			Role:       domain.RoleTool,
			Name:       call.Name,
			Content:    call.Output,
			ToolCallID: call.ID,
			Timestamp:  time.Now(),
		}
	}

	callCtx := e.deps.Interceptors.beforeExecute(ctx, *call)
	runID, _ := domain.RunIDFromContext(ctx)
	e.publish(ctx, domain.EventToolCallStarted, runID, map[string]string{"tool": call.Name})

	start := time.Now()
	var content string
	var failed bool

	tool, err := e.deps.Tools.Get(call.Name)
	if err != nil {
		content = err.Error()
		failed = true
		e.deps.Interceptors.onExecuteError(callCtx, *call, err)
	} else {
		result, execErr := tool.Execute(callCtx, call.Arguments)
		switch {
		case execErr != nil:
			content = execErr.Error()
			failed = true
			e.deps.Interceptors.onExecuteError(callCtx, *call, execErr)
		default:
			content = result.Content
			failed = result.IsError
			e.deps.Interceptors.afterExecute(callCtx, *call, result, time.Since(start))
		}
	}

	d := time.Since(start)
	if failed {
		_ = call.MarkError(content, d)
	} else {
		_ = call.MarkSuccess(content, d)
	}

	e.publish(ctx, domain.EventToolCallCompleted, runID, map[string]string{
		"tool":    call.Name,
		"success": fmt.Sprintf("%v", !failed),
	})

	return domain.Message{
		Role:       domain.RoleTool,
		Name:       call.Name,
		Content:    content,
		ToolCallID: call.ID,
		Timestamp:  time.Now(),
	}
}

// fail finalizes a run as failed, emitting the terminal error step.
func (e *AgentExecutor) fail(ctx context.Context, runID, input string, result *domain.AgentResult, err error, iteration int, start time.Time, emit func(domain.Step)) *domain.AgentResult {
	result.Success = false
	result.Error = err.Error()
	result.Duration = time.Since(start)

	e.emitStep(emit, domain.Step{
		Kind:      domain.StepError,
		Content:   err.Error(),
		Iteration: iteration,
		Timestamp: time.Now(),
	})

	if e.deps.States != nil {
		if ferr := e.deps.States.Fail(runID, err.Error()); ferr != nil {
			e.deps.Logger.Warn("state fail transition rejected", "run_id", runID, "error", ferr)
		}
	}
	e.publish(ctx, domain.EventRunFailed, runID, map[string]string{"error": err.Error()})
	e.deps.Interceptors.onRunError(ctx, input, err)
	e.deps.Logger.Error("agent run failed", "run_id", runID, "agent", e.cfg.Name, "error", err)
	return result
}

func (e *AgentExecutor) beginRun(ctx context.Context) string {
	if e.deps.States == nil {
		return newULID()
	}
	runID := e.deps.States.Create(e.cfg.Name)
	if err := e.deps.States.SetRunning(runID, e.cfg.MaxIterations); err != nil {
		e.deps.Logger.Warn("state running transition rejected", "run_id", runID, "error", err)
	}
	return runID
}

func (e *AgentExecutor) completeRun(ctx context.Context, runID, output string) {
	if e.deps.States != nil {
		if err := e.deps.States.Complete(runID, output); err != nil {
			e.deps.Logger.Warn("state complete transition rejected", "run_id", runID, "error", err)
		}
	}
	e.publish(ctx, domain.EventRunCompleted, runID, nil)
}

func (e *AgentExecutor) setStep(runID string, step int) {
	if e.deps.States == nil {
		return
	}
	if err := e.deps.States.SetStep(runID, step); err != nil {
		e.deps.Logger.Warn("state step update rejected", "run_id", runID, "error", err)
	}
}

func (e *AgentExecutor) recordUsage(ctx context.Context, runID string, usage domain.Usage) {
	if e.deps.Tracker == nil || usage.TotalTokens == 0 {
		return
	}
	user, _ := domain.UserFromContext(ctx)
	e.deps.Tracker.Record(ctx, domain.UsageRecord{
		RunID:    runID,
		User:     user,
		Model:    e.cfg.Model,
		Provider: e.deps.Provider.Name(),
		Usage:    usage,
	})
}

func (e *AgentExecutor) emitStep(emit func(domain.Step), step domain.Step) {
	if emit != nil {
		emit(step)
	}
}

// publish marshals the payload and publishes on the bus, if configured.
func (e *AgentExecutor) publish(ctx context.Context, eventType domain.EventType, runID string, payload any) {
	if e.deps.Bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	e.deps.Bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Payload:   raw,
	})
}

func finishReasonFor(msg domain.Message) domain.FinishReason {
	if len(msg.ToolCalls) > 0 {
		return domain.FinishToolCalls
	}
	return domain.FinishStop
}
