package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agentkit/internal/domain"
	"agentkit/internal/infra/tracer"
)

// LLMInterceptor observes provider calls. BeforeChat may derive a new
// context (for spans or deadlines); the other hooks are notifications.
type LLMInterceptor interface {
	BeforeChat(ctx context.Context, req domain.ChatRequest) context.Context
	AfterChat(ctx context.Context, req domain.ChatRequest, resp *domain.ChatResponse, d time.Duration)
	OnChatError(ctx context.Context, req domain.ChatRequest, err error)
}

// ToolInterceptor observes tool executions.
type ToolInterceptor interface {
	BeforeExecute(ctx context.Context, call domain.ToolCall) context.Context
	AfterExecute(ctx context.Context, call domain.ToolCall, result *domain.ToolResult, d time.Duration)
	OnExecuteError(ctx context.Context, call domain.ToolCall, err error)
}

// AgentInterceptor observes whole runs.
type AgentInterceptor interface {
	BeforeRun(ctx context.Context, input string) context.Context
	AfterRun(ctx context.Context, input string, result *domain.AgentResult)
	OnRunError(ctx context.Context, input string, err error)
}

// Interceptors bundles the hook chains handed to an executor. Hooks run in
// registration order; a panicking hook is recovered and logged, and the
// remaining hooks still run. A hook must never alter execution semantics.
type Interceptors struct {
	LLM    []LLMInterceptor
	Tool   []ToolInterceptor
	Agent  []AgentInterceptor
	Logger *slog.Logger
}

func (i Interceptors) beforeChat(ctx context.Context, req domain.ChatRequest) context.Context {
	for _, ic := range i.LLM {
		ctx = i.safeCtx(func() context.Context { return ic.BeforeChat(ctx, req) }, ctx)
	}
	return ctx
}

func (i Interceptors) afterChat(ctx context.Context, req domain.ChatRequest, resp *domain.ChatResponse, d time.Duration) {
	for _, ic := range i.LLM {
		i.safe(func() { ic.AfterChat(ctx, req, resp, d) })
	}
}

func (i Interceptors) onChatError(ctx context.Context, req domain.ChatRequest, err error) {
	for _, ic := range i.LLM {
		i.safe(func() { ic.OnChatError(ctx, req, err) })
	}
}

func (i Interceptors) beforeExecute(ctx context.Context, call domain.ToolCall) context.Context {
	for _, ic := range i.Tool {
		ctx = i.safeCtx(func() context.Context { return ic.BeforeExecute(ctx, call) }, ctx)
	}
	return ctx
}

func (i Interceptors) afterExecute(ctx context.Context, call domain.ToolCall, result *domain.ToolResult, d time.Duration) {
	for _, ic := range i.Tool {
		i.safe(func() { ic.AfterExecute(ctx, call, result, d) })
	}
}

func (i Interceptors) onExecuteError(ctx context.Context, call domain.ToolCall, err error) {
	for _, ic := range i.Tool {
		i.safe(func() { ic.OnExecuteError(ctx, call, err) })
	}
}

func (i Interceptors) beforeRun(ctx context.Context, input string) context.Context {
	for _, ic := range i.Agent {
		ctx = i.safeCtx(func() context.Context { return ic.BeforeRun(ctx, input) }, ctx)
	}
	return ctx
}

func (i Interceptors) afterRun(ctx context.Context, input string, result *domain.AgentResult) {
	for _, ic := range i.Agent {
		i.safe(func() { ic.AfterRun(ctx, input, result) })
	}
}

func (i Interceptors) onRunError(ctx context.Context, input string, err error) {
	for _, ic := range i.Agent {
		i.safe(func() { ic.OnRunError(ctx, input, err) })
	}
}

func (i Interceptors) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil && i.Logger != nil {
			i.Logger.Error("interceptor panicked", "panic", r)
		}
	}()
	fn()
}

// safeCtx runs a context-deriving hook; on panic the original context is kept.
func (i Interceptors) safeCtx(fn func() context.Context, fallback context.Context) (out context.Context) {
	out = fallback
	defer func() {
		if r := recover(); r != nil {
			out = fallback
			if i.Logger != nil {
				i.Logger.Error("interceptor panicked", "panic", r)
			}
		}
	}()
	if derived := fn(); derived != nil {
		out = derived
	}
	return out
}

// OTelInterceptor attaches span attributes for provider calls, tool
// executions, and runs. It implements all three interceptor interfaces.
type OTelInterceptor struct{}

var (
	_ LLMInterceptor   = OTelInterceptor{}
	_ ToolInterceptor  = OTelInterceptor{}
	_ AgentInterceptor = OTelInterceptor{}
)

func (OTelInterceptor) BeforeChat(ctx context.Context, req domain.ChatRequest) context.Context {
	ctx, _ = tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(tracer.StringAttr("llm.model", req.Model)),
	)
	return ctx
}

func (OTelInterceptor) AfterChat(ctx context.Context, _ domain.ChatRequest, resp *domain.ChatResponse, d time.Duration) {
	span := trace.SpanFromContext(ctx)
	if resp != nil {
		span.SetAttributes(
			tracer.IntAttr("llm.prompt_tokens", resp.Usage.PromptTokens),
			tracer.IntAttr("llm.completion_tokens", resp.Usage.CompletionTokens),
			tracer.StringAttr("llm.finish_reason", string(resp.FinishReason)),
		)
	}
	span.SetAttributes(tracer.IntAttr("llm.duration_ms", int(d.Milliseconds())))
	tracer.SetOK(span)
	span.End()
}

func (OTelInterceptor) OnChatError(ctx context.Context, _ domain.ChatRequest, err error) {
	span := trace.SpanFromContext(ctx)
	tracer.RecordError(span, err)
	span.End()
}

func (OTelInterceptor) BeforeExecute(ctx context.Context, call domain.ToolCall) context.Context {
	ctx, _ = tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	return ctx
}

func (OTelInterceptor) AfterExecute(ctx context.Context, _ domain.ToolCall, result *domain.ToolResult, d time.Duration) {
	span := trace.SpanFromContext(ctx)
	if result != nil && result.IsError {
		span.SetAttributes(tracer.StringAttr("tool.result", "error"))
	}
	span.SetAttributes(tracer.IntAttr("tool.duration_ms", int(d.Milliseconds())))
	tracer.SetOK(span)
	span.End()
}

func (OTelInterceptor) OnExecuteError(ctx context.Context, _ domain.ToolCall, err error) {
	span := trace.SpanFromContext(ctx)
	tracer.RecordError(span, err)
	span.End()
}

func (OTelInterceptor) BeforeRun(ctx context.Context, _ string) context.Context {
	ctx, _ = tracer.StartSpan(ctx, "agent.run")
	return ctx
}

func (OTelInterceptor) AfterRun(ctx context.Context, _ string, result *domain.AgentResult) {
	span := trace.SpanFromContext(ctx)
	if result != nil {
		span.SetAttributes(
			tracer.IntAttr("agent.total_tokens", result.TotalTokens),
			tracer.IntAttr("agent.steps", len(result.Steps)),
		)
	}
	tracer.SetOK(span)
	span.End()
}

func (OTelInterceptor) OnRunError(ctx context.Context, _ string, err error) {
	span := trace.SpanFromContext(ctx)
	tracer.RecordError(span, err)
	span.End()
}
