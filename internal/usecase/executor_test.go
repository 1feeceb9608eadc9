package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agentkit/internal/adapter/tool"
	"agentkit/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns canned responses in order. A nil response with a
// non-nil error simulates a provider failure for that call.
type scriptedProvider struct {
	turns []scriptedTurn
	calls atomic.Int32
	seen  []domain.ChatRequest
}

type scriptedTurn struct {
	resp *domain.ChatResponse
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	n := int(p.calls.Add(1)) - 1
	p.seen = append(p.seen, req)
	if n >= len(p.turns) {
		return nil, fmt.Errorf("unexpected call %d", n)
	}
	return p.turns[n].resp, p.turns[n].err
}

func textResponse(content string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message:      domain.Message{Role: domain.RoleAssistant, Content: content},
		FinishReason: domain.FinishStop,
		Usage:        domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse(calls ...domain.ToolCall) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message:      domain.Message{Role: domain.RoleAssistant, ToolCalls: calls},
		FinishReason: domain.FinishToolCalls,
		Usage:        domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// funcTool adapts a function into a domain.Tool for tests.
type funcTool struct {
	name string
	fn   func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
}

func (t funcTool) Name() string        { return t.name }
func (t funcTool) Description() string { return t.name }
func (t funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t funcTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return t.fn(ctx, params)
}

func testRegistry(t *testing.T, tools ...domain.Tool) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(newTestLogger())
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("Register(%s): %v", tl.Name(), err)
		}
	}
	return reg
}

func testExecutor(t *testing.T, cfg domain.AgentConfig, provider domain.LLMProvider, tools ...domain.Tool) *AgentExecutor {
	t.Helper()
	exec, err := NewAgentExecutor(cfg, ExecutorDeps{
		Provider: provider,
		Tools:    testRegistry(t, tools...),
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewAgentExecutor: %v", err)
	}
	return exec
}

func baseConfig() domain.AgentConfig {
	return domain.AgentConfig{Name: "test-agent", Model: "gpt-4o-mini", SystemPrompt: "You are helpful."}
}

func TestNewAgentExecutorValidation(t *testing.T) {
	provider := &scriptedProvider{}
	reg := testRegistry(t)

	if _, err := NewAgentExecutor(domain.AgentConfig{Model: "m"}, ExecutorDeps{Provider: provider, Tools: reg}); err == nil {
		t.Error("missing name should fail construction")
	}
	if _, err := NewAgentExecutor(domain.AgentConfig{Name: "a"}, ExecutorDeps{Provider: provider, Tools: reg}); err == nil {
		t.Error("missing model should fail construction")
	}

	cfg := baseConfig()
	cfg.Tools = []string{"no_such_tool"}
	if _, err := NewAgentExecutor(cfg, ExecutorDeps{Provider: provider, Tools: reg}); !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("unknown tool: err = %v, want ErrToolNotFound", err)
	}

	if _, err := NewAgentExecutor(baseConfig(), ExecutorDeps{Tools: reg}); err == nil {
		t.Error("missing provider should fail construction")
	}
}

func TestRunSimpleAnswer(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{{resp: textResponse("Paris")}}}
	exec := testExecutor(t, baseConfig(), provider)

	result := exec.Run(context.Background(), "Capital of France?")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if result.Output != "Paris" {
		t.Errorf("Output = %q", result.Output)
	}
	if result.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", result.TotalTokens)
	}
	if result.TotalCost <= 0 {
		t.Errorf("TotalCost = %v, want > 0", result.TotalCost)
	}
	if len(result.Steps) != 1 || !result.Steps[0].Success {
		t.Errorf("Steps = %+v", result.Steps)
	}

	// System prompt seeds the request.
	req := provider.seen[0]
	if req.Messages[0].Role != domain.RoleSystem || req.Messages[1].Content != "Capital of France?" {
		t.Errorf("seed messages = %+v", req.Messages)
	}
}

func TestRunCalculatorScenario(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(domain.ToolCall{
			ID:        "call_1",
			Name:      "calculator",
			Arguments: json.RawMessage(`{"operation":"add","a":2,"b":2}`),
		})},
		{resp: textResponse("The answer is 4.")},
	}}
	exec := testExecutor(t, baseConfig(), provider, tool.NewCalculatorTool(newTestLogger()))

	result := exec.Run(context.Background(), "What is 2+2?")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if result.Output != "The answer is 4." {
		t.Errorf("Output = %q", result.Output)
	}

	// Second request carries the tool result back to the model.
	second := provider.seen[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != domain.RoleTool || last.Content != "4" {
		t.Errorf("tool message = %+v", last)
	}
	if last.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q", last.ToolCallID)
	}
}

func TestRunToolPanicMessageContinues(t *testing.T) {
	boom := funcTool{name: "boom_tool", fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return nil, errors.New("boom")
	}}
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(domain.ToolCall{ID: "c1", Name: "boom_tool", Arguments: json.RawMessage(`{}`)})},
		{resp: textResponse("recovered")},
	}}
	exec := testExecutor(t, baseConfig(), provider, boom)

	result := exec.Run(context.Background(), "go")
	if !result.Success {
		t.Fatalf("run should continue after tool error, got %q", result.Error)
	}

	// The error became the call's result content.
	second := provider.seen[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != domain.RoleTool || !strings.Contains(last.Content, "boom") {
		t.Errorf("tool message = %+v", last)
	}
	if len(result.Steps) < 1 || result.Steps[0].Success {
		t.Errorf("failed tool step should be recorded unsuccessful: %+v", result.Steps)
	}
}

func TestRunMissingToolContinues(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(domain.ToolCall{ID: "c1", Name: "ghost", Arguments: json.RawMessage(`{}`)})},
		{resp: textResponse("done")},
	}}
	// Config leaves Tools empty; the model hallucinated a tool name.
	exec := testExecutor(t, baseConfig(), provider)

	result := exec.Run(context.Background(), "go")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	second := provider.seen[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "tool not found") {
		t.Errorf("missing tool content = %q", last.Content)
	}
}

func TestRunMaxIterationsBoundary(t *testing.T) {
	echo := funcTool{name: "echo", fn: func(_ context.Context, p json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: string(p)}, nil
	}}
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(domain.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)})},
	}}
	cfg := baseConfig()
	cfg.MaxIterations = 1
	exec := testExecutor(t, cfg, provider, echo)

	result := exec.Run(context.Background(), "loop forever")
	if result.Success {
		t.Fatal("expected failure at the iteration bound")
	}
	if !strings.Contains(result.Error, domain.ErrMaxIterations.Error()) {
		t.Errorf("Error = %q, want iteration exhaustion", result.Error)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
}

func TestRunAuthErrorAbortsWithoutRetry(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{err: fmt.Errorf("%w: API error 401: bad key", domain.ErrAuthInvalid)},
		{resp: textResponse("should never be reached")},
	}}
	exec := testExecutor(t, baseConfig(), provider)

	result := exec.Run(context.Background(), "hello")
	if result.Success {
		t.Fatal("expected failure")
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry on auth error)", got)
	}
	if !strings.Contains(result.Error, "401") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRunRetriesRateLimit(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{err: fmt.Errorf("%w: API error 429: slow down", domain.ErrRateLimit)},
		{resp: textResponse("eventually")},
	}}
	exec := testExecutor(t, baseConfig(), provider)

	result := exec.Run(context.Background(), "hello")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestRunRetryExhaustion(t *testing.T) {
	rateLimited := scriptedTurn{err: fmt.Errorf("%w: API error 429: slow down", domain.ErrRateLimit)}
	provider := &scriptedProvider{turns: []scriptedTurn{rateLimited, rateLimited, rateLimited, {resp: textResponse("nope")}}}
	exec := testExecutor(t, baseConfig(), provider)

	result := exec.Run(context.Background(), "hello")
	if result.Success {
		t.Fatal("expected failure after retry exhaustion")
	}
	if got := provider.calls.Load(); got != maxLLMRetries {
		t.Errorf("provider calls = %d, want %d", got, maxLLMRetries)
	}
}

func TestRunSequentialToolExecution(t *testing.T) {
	var order []string
	mkTool := func(name string) funcTool {
		return funcTool{name: name, fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
			order = append(order, name)
			time.Sleep(2 * time.Millisecond)
			return &domain.ToolResult{Content: name}, nil
		}}
	}
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(
			domain.ToolCall{ID: "c1", Name: "alpha", Arguments: json.RawMessage(`{}`)},
			domain.ToolCall{ID: "c2", Name: "beta", Arguments: json.RawMessage(`{}`)},
			domain.ToolCall{ID: "c3", Name: "gamma", Arguments: json.RawMessage(`{}`)},
		)},
		{resp: textResponse("done")},
	}}
	exec := testExecutor(t, baseConfig(), provider, mkTool("alpha"), mkTool("beta"), mkTool("gamma"))

	result := exec.Run(context.Background(), "go")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if strings.Join(order, ",") != "alpha,beta,gamma" {
		t.Errorf("execution order = %v, want response order", order)
	}

	// Tool messages appear in the follow-up request in call order.
	second := provider.seen[1]
	n := len(second.Messages)
	if second.Messages[n-3].Content != "alpha" || second.Messages[n-2].Content != "beta" || second.Messages[n-1].Content != "gamma" {
		t.Errorf("tool messages out of order: %+v", second.Messages[n-3:])
	}
}

func TestRunToolCallExactlyOnce(t *testing.T) {
	var executions atomic.Int32
	counted := funcTool{name: "counted", fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		executions.Add(1)
		return &domain.ToolResult{Content: "ok"}, nil
	}}
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(domain.ToolCall{ID: "c1", Name: "counted", Arguments: json.RawMessage(`{}`)})},
		{resp: textResponse("done")},
	}}
	exec := testExecutor(t, baseConfig(), provider, counted)

	result := exec.Run(context.Background(), "go")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if got := executions.Load(); got != 1 {
		t.Errorf("tool executed %d times, want exactly 1", got)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{turns: []scriptedTurn{{resp: textResponse("never")}}}
	exec := testExecutor(t, baseConfig(), provider)

	result := exec.Run(ctx, "hello")
	if result.Success {
		t.Fatal("cancelled run should fail")
	}
	if !strings.Contains(result.Error, "context canceled") {
		t.Errorf("Error = %q", result.Error)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
}

func TestRunStateLifecycle(t *testing.T) {
	states := NewStateManager(newTestLogger())
	var transitions []domain.ExecutionStatus
	states.Subscribe(func(s domain.ExecutionState) {
		transitions = append(transitions, s.Status)
	})

	provider := &scriptedProvider{turns: []scriptedTurn{{resp: textResponse("hi")}}}
	exec, err := NewAgentExecutor(baseConfig(), ExecutorDeps{
		Provider: provider,
		Tools:    testRegistry(t),
		States:   states,
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	result := exec.Run(context.Background(), "hello")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}

	all := states.List()
	if len(all) != 1 {
		t.Fatalf("got %d states, want 1", len(all))
	}
	state := all[0]
	if state.Status != domain.StatusCompleted {
		t.Errorf("Status = %q", state.Status)
	}
	if state.Result != "hi" {
		t.Errorf("Result = %q", state.Result)
	}

	// Status only ever moved forward: idle, running, step updates, completed.
	if transitions[0] != domain.StatusIdle || transitions[len(transitions)-1] != domain.StatusCompleted {
		t.Errorf("transitions = %v", transitions)
	}
	for i := 1; i < len(transitions); i++ {
		prev, cur := transitions[i-1], transitions[i]
		if prev.Terminal() && cur != prev {
			t.Errorf("state moved after terminal: %v", transitions)
		}
	}
}

func TestRunRecordsUsage(t *testing.T) {
	tracker := NewUsageTracker(nil, newTestLogger())
	provider := &scriptedProvider{turns: []scriptedTurn{{resp: textResponse("hi")}}}
	exec, err := NewAgentExecutor(baseConfig(), ExecutorDeps{
		Provider: provider,
		Tools:    testRegistry(t),
		Tracker:  tracker,
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	exec.Run(domain.WithUser(context.Background(), "alice"), "hello")

	records := tracker.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Model != "gpt-4o-mini" || rec.Provider != "scripted" || rec.User != "alice" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Usage.TotalTokens != 15 || rec.Cost <= 0 {
		t.Errorf("usage = %+v cost = %v", rec.Usage, rec.Cost)
	}
}

func TestStreamEmitsStepsAndCloses(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(domain.ToolCall{ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"operation":"add","a":2,"b":2}`)})},
		{resp: textResponse("4")},
	}}
	exec := testExecutor(t, baseConfig(), provider, tool.NewCalculatorTool(newTestLogger()))

	var kinds []domain.StepKind
	var final string
	for step := range exec.Stream(context.Background(), "2+2?") {
		kinds = append(kinds, step.Kind)
		if step.Kind == domain.StepFinalAnswer {
			final = step.Content
		}
	}

	want := []domain.StepKind{domain.StepToolCall, domain.StepToolResult, domain.StepFinalAnswer}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
	if final != "4" {
		t.Errorf("final answer = %q", final)
	}
}

func TestStreamTerminalErrorEvent(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{err: fmt.Errorf("%w: API error 401: nope", domain.ErrAuthInvalid)},
	}}
	exec := testExecutor(t, baseConfig(), provider)

	var last domain.Step
	for step := range exec.Stream(context.Background(), "hello") {
		last = step
	}
	if last.Kind != domain.StepError {
		t.Errorf("terminal step = %q, want error", last.Kind)
	}
	if !strings.Contains(last.Content, "401") {
		t.Errorf("Content = %q", last.Content)
	}
}

func TestStreamIndependentRuns(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: textResponse("one")},
		{resp: textResponse("two")},
	}}
	exec := testExecutor(t, baseConfig(), provider)

	var outputs []string
	for step := range exec.Stream(context.Background(), "first") {
		if step.Kind == domain.StepFinalAnswer {
			outputs = append(outputs, step.Content)
		}
	}
	for step := range exec.Stream(context.Background(), "second") {
		if step.Kind == domain.StepFinalAnswer {
			outputs = append(outputs, step.Content)
		}
	}
	if len(outputs) != 2 || outputs[0] != "one" || outputs[1] != "two" {
		t.Errorf("outputs = %v", outputs)
	}
}

func TestStreamToolStepsCarrySnapshots(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: toolCallResponse(domain.ToolCall{ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"operation":"add","a":1,"b":2}`)})},
		{resp: textResponse("3")},
	}}
	exec := testExecutor(t, baseConfig(), provider, tool.NewCalculatorTool(newTestLogger()))

	var callStep, resultStep *domain.Step
	for step := range exec.Stream(context.Background(), "1+2?") {
		switch step.Kind {
		case domain.StepToolCall:
			callStep = &step
		case domain.StepToolResult:
			resultStep = &step
		}
	}
	if callStep == nil || resultStep == nil {
		t.Fatal("missing tool steps")
	}

	// The tool_call step froze the call before execution; resolution must
	// not reach back into an already emitted step.
	if callStep.ToolCall.Status != domain.ToolCallPending {
		t.Errorf("tool_call status = %q, want pending", callStep.ToolCall.Status)
	}
	if resultStep.ToolCall.Status != domain.ToolCallSuccess {
		t.Errorf("tool_result status = %q, want success", resultStep.ToolCall.Status)
	}
	if callStep.ToolCall == resultStep.ToolCall {
		t.Error("both steps point at one ToolCall struct")
	}
}

// streamingScriptedProvider serves canned delta sequences over ChatStream,
// one sequence per call.
type streamingScriptedProvider struct {
	scriptedProvider
	streams     [][]domain.StreamDelta
	streamCalls atomic.Int32
}

func (p *streamingScriptedProvider) ChatStream(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	n := int(p.streamCalls.Add(1)) - 1
	ch := make(chan domain.StreamDelta, 8)
	go func() {
		defer close(ch)
		if n >= len(p.streams) {
			return
		}
		for _, d := range p.streams[n] {
			ch <- d
		}
	}()
	return ch, nil
}

func streamingConfig() domain.AgentConfig {
	cfg := baseConfig()
	cfg.Streaming = true
	return cfg
}

func TestRunTruncatedStreamFails(t *testing.T) {
	broken := []domain.StreamDelta{
		{Content: "partial "},
		{Done: true, Err: fmt.Errorf("%w: stream read: unexpected EOF", domain.ErrProviderError)},
	}
	provider := &streamingScriptedProvider{streams: [][]domain.StreamDelta{broken, broken, broken}}
	exec := testExecutor(t, streamingConfig(), provider)

	result := exec.Run(context.Background(), "hello")
	if result.Success {
		t.Fatal("truncated stream must not produce a successful run")
	}
	if !strings.Contains(result.Error, "stream read") {
		t.Errorf("Error = %q", result.Error)
	}
	// The break is a provider error, so the call is retried to exhaustion.
	if got := provider.streamCalls.Load(); got != maxLLMRetries {
		t.Errorf("stream calls = %d, want %d", got, maxLLMRetries)
	}
}

func TestRunTruncatedStreamRecoversOnRetry(t *testing.T) {
	provider := &streamingScriptedProvider{streams: [][]domain.StreamDelta{
		{
			{Content: "par"},
			{Done: true, Err: fmt.Errorf("%w: stream read: connection reset", domain.ErrProviderError)},
		},
		{
			{Content: "fine"},
			{Done: true},
		},
	}}
	exec := testExecutor(t, streamingConfig(), provider)

	result := exec.Run(context.Background(), "hello")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if result.Output != "fine" {
		t.Errorf("Output = %q, want the retried response only", result.Output)
	}
	if got := provider.streamCalls.Load(); got != 2 {
		t.Errorf("stream calls = %d, want 2", got)
	}
}

// charCounter counts one token per character, making estimates exact in tests.
type charCounter struct{}

func (charCounter) CountString(text, _ string) int { return len(text) }
func (charCounter) ExactAvailable() bool           { return false }

func TestRunEstimatedUsageIncludesPrompt(t *testing.T) {
	// Provider reports no usage, so the counter reconstructs it. Both
	// sides of the exchange must be counted or cost estimates lose the
	// entire input share.
	provider := &scriptedProvider{turns: []scriptedTurn{
		{resp: &domain.ChatResponse{
			Message:      domain.Message{Role: domain.RoleAssistant, Content: "four"},
			FinishReason: domain.FinishStop,
		}},
	}}
	cfg := baseConfig()
	exec, err := NewAgentExecutor(cfg, ExecutorDeps{
		Provider: provider,
		Tools:    testRegistry(t),
		Counter:  charCounter{},
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	result := exec.Run(context.Background(), "count me")
	if !result.Success {
		t.Fatalf("result.Error = %q", result.Error)
	}
	want := len(cfg.SystemPrompt) + len("count me") + len("four")
	if result.TotalTokens != want {
		t.Errorf("TotalTokens = %d, want %d", result.TotalTokens, want)
	}
}

func TestStreamCancelledStillDeliversErrorStep(t *testing.T) {
	// With buffer space free, the terminal error step reaches a consumer
	// that keeps draining even though the context is already cancelled.
	for i := 0; i < 25; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		provider := &scriptedProvider{turns: []scriptedTurn{{resp: textResponse("never")}}}
		exec := testExecutor(t, baseConfig(), provider)

		var last domain.Step
		for step := range exec.Stream(ctx, "hello") {
			last = step
		}
		if last.Kind != domain.StepError {
			t.Fatalf("iteration %d: terminal step = %q, want error", i, last.Kind)
		}
	}
}
