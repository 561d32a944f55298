package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/model"
	"github.com/hupe1980/agenthub/tool"
)

// plan is everything a run needs once building succeeded.
type plan struct {
	model         model.Model
	info          model.Info
	tools         map[string]*tool.Adapter
	defs          []model.ToolDefinition
	instructions  string
	input         string
	maxIterations int
}

type runStats struct {
	iterations int
	toolsUsed  []string
	toolErrors []ToolFailure
}

func (s *runStats) record(ac *AgentContext) {
	ac.Set(MetaIterations, s.iterations)
	ac.Set(MetaToolsUsed, append([]string{}, s.toolsUsed...))
	ac.Set(MetaToolErrors, append([]ToolFailure{}, s.toolErrors...))
}

type toolOutcome struct {
	call   core.FunctionCall
	result any
	err    error
}

// loop drives model turns until the model answers without tool calls. With a
// non-nil emitter it streams partial text and tool steps and honours the
// cancellation token before every turn and tool call.
func (r *Runtime) loop(ctx context.Context, ac *AgentContext, p *plan, out *emitter, stats *runStats) (string, error) {
	contents := []core.Content{core.NewTextContent(core.RoleUser, p.input)}
	limiter := core.NewIterationLimiter(p.maxIterations)

	for {
		if out != nil && ac.Token.IsCancelled() {
			return "", core.ErrCancelled
		}
		if err := limiter.Increment(); err != nil {
			return "", err
		}
		iteration := limiter.Count()
		stats.iterations = iteration

		req := model.Request{
			Instructions: p.instructions,
			Contents:     contents,
			Tools:        p.defs,
			Stream:       out != nil,
		}

		var onPartial func(model.Response)
		if out != nil {
			onPartial = func(resp model.Response) {
				if text := resp.Content.Text(); text != "" {
					out.emit(Event{Type: EventStep, Step: &Step{Kind: StepText, Iteration: iteration, Text: text}})
				}
			}
		}

		resp, err := r.generate(ctx, p, req, onPartial)
		if err != nil {
			return "", err
		}

		resp.Content.Role = core.RoleAssistant
		contents = append(contents, resp.Content)

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			return resp.Content.Text(), nil
		}
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = core.NewID()
			}
		}

		var outcomes []toolOutcome
		if out != nil {
			outcomes, err = r.callToolsStreaming(ctx, ac, p, calls, iteration, out)
		} else {
			outcomes = r.callTools(ctx, ac, p, calls)
		}

		parts := make([]core.Part, 0, len(outcomes))
		for _, o := range outcomes {
			stats.toolsUsed = append(stats.toolsUsed, o.call.Name)
			fr := core.FunctionResponse{ID: o.call.ID, Name: o.call.Name, Response: o.result}
			if o.err != nil {
				fr.Error = o.err.Error()
				stats.toolErrors = append(stats.toolErrors, ToolFailure{Tool: o.call.Name, Error: o.err.Error()})
			}
			parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
		}
		if err != nil {
			return "", err
		}
		contents = append(contents, core.Content{Role: core.RoleTool, Parts: parts})
	}
}

func (r *Runtime) generate(ctx context.Context, p *plan, req model.Request, onPartial func(model.Response)) (model.Response, error) {
	ctx, span := r.tracer.Start(ctx, "model.generate", trace.WithAttributes(
		attribute.String("model.name", p.info.Name),
		attribute.String("model.provider", p.info.Provider),
		attribute.Bool("model.stream", req.Stream),
	))
	defer span.End()

	start := time.Now()
	resp, err := model.Invoke(ctx, p.model, req, onPartial)
	logging.LogModelCall(r.logger, p.info.Name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Response{}, ctxErr
		}
		return model.Response{}, &modelError{err: err}
	}
	return resp, nil
}

// callTools runs a batch concurrently, bounded by MaxParallelTools, and
// returns outcomes in call order.
func (r *Runtime) callTools(ctx context.Context, ac *AgentContext, p *plan, calls []core.FunctionCall) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))
	if len(calls) == 1 {
		outcomes[0] = r.callTool(ctx, ac, p, calls[0])
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(r.opts.MaxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = r.callTool(ctx, ac, p, call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// callToolsStreaming runs a batch sequentially, emitting a step before and
// after each call. Outcomes gathered before a cancellation are returned with
// core.ErrCancelled.
func (r *Runtime) callToolsStreaming(ctx context.Context, ac *AgentContext, p *plan, calls []core.FunctionCall, iteration int, out *emitter) ([]toolOutcome, error) {
	outcomes := make([]toolOutcome, 0, len(calls))
	for _, call := range calls {
		if ac.Token.IsCancelled() {
			return outcomes, core.ErrCancelled
		}
		out.emit(Event{Type: EventStep, Step: &Step{
			Kind:      StepToolCall,
			Iteration: iteration,
			Tool:      call.Name,
			CallID:    call.ID,
			Arguments: call.Arguments,
		}})

		o := r.callTool(ctx, ac, p, call)
		outcomes = append(outcomes, o)

		step := &Step{Kind: StepToolResult, Iteration: iteration, Tool: call.Name, CallID: call.ID, Result: o.result}
		if o.err != nil {
			step.Error = o.err.Error()
		}
		out.emit(Event{Type: EventStep, Step: step})
	}
	return outcomes, nil
}

// callTool invokes one tool. Unknown tools and panics become ToolErrors so
// the model can see them; they never abort the run.
func (r *Runtime) callTool(ctx context.Context, ac *AgentContext, p *plan, call core.FunctionCall) (o toolOutcome) {
	o.call = call

	ctx, span := r.tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer func() {
		if o.err != nil {
			span.RecordError(o.err)
			span.SetStatus(codes.Error, o.err.Error())
		}
		span.End()
	}()

	adapter, ok := p.tools[call.Name]
	if !ok {
		o.err = tool.NewToolError(call.Name, "tool not available to this agent", tool.CodeNotFound)
		r.logger.Warn("runtime.tool.unavailable", logging.KeyTool, call.Name, logging.KeyAgentID, ac.agentID())
		return o
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.result = nil
			o.err = tool.NewToolError(call.Name, fmt.Sprintf("panic: %v", rec), tool.CodeExecution)
			r.logger.Error("runtime.tool.panic", logging.KeyTool, call.Name, "recover", rec)
		}
	}()

	tc := tool.NewCallContext(ctx, call.ID, ac.SessionID, ac.UserID, r.logger)
	o.result, o.err = adapter.Invoke(tc, json.RawMessage(call.Arguments))
	return o
}
