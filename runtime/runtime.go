package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/internal/util"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/model"
	"github.com/hupe1980/agenthub/retrieval"
	"github.com/hupe1980/agenthub/router"
	"github.com/hupe1980/agenthub/session"
	"github.com/hupe1980/agenthub/tool"
)

// Runtime defaults.
const (
	DefaultMaxConcurrentRuns = 10
	DefaultTimeout           = 300 * time.Second
	DefaultMaxIterations     = 10
	DefaultMaxParallelTools  = 4
)

// ModelSource resolves the model client for a run. *router.Router
// implements it.
type ModelSource interface {
	GetModel(ctx context.Context, req router.Request) (model.Model, error)
}

// Retriever supplies grounding context. *retrieval.Pipeline implements it.
type Retriever interface {
	Namespaces(knowledgeBaseIDs []string) []string
	Retrieve(ctx context.Context, query string, namespaces []string, k int, threshold float64) ([]retrieval.Result, error)
}

// Options configures a Runtime.
type Options struct {
	// Models is required.
	Models ModelSource

	// Tools defaults to an empty registry.
	Tools *tool.Registry

	// Retriever is optional; without it retrieval-enabled agents run ungrounded.
	Retriever Retriever

	// Sessions defaults to a fresh registry.
	Sessions *session.Registry

	MaxConcurrentRuns int
	Timeout           time.Duration
	MaxIterations     int
	MaxParallelTools  int
	SystemPrompt      string

	Logger logging.Logger
	Tracer trace.Tracer
}

// Runtime executes agents. It is safe for concurrent use.
type Runtime struct {
	models    ModelSource
	tools     *tool.Registry
	retriever Retriever
	sessions  *session.Registry
	sem       *semaphore.Weighted
	opts      Options
	logger    logging.Logger
	tracer    trace.Tracer
}

// New creates a Runtime.
func New(optFns ...func(o *Options)) (*Runtime, error) {
	opts := Options{
		MaxConcurrentRuns: DefaultMaxConcurrentRuns,
		Timeout:           DefaultTimeout,
		MaxIterations:     DefaultMaxIterations,
		MaxParallelTools:  DefaultMaxParallelTools,
		SystemPrompt:      DefaultSystemPrompt,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Models == nil {
		return nil, fmt.Errorf("runtime: %w: model source is required", core.ErrConfiguration)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewRegistry()
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxParallelTools <= 0 {
		opts.MaxParallelTools = DefaultMaxParallelTools
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agenthub/runtime")
	}

	return &Runtime{
		models:    opts.Models,
		tools:     opts.Tools,
		retriever: opts.Retriever,
		sessions:  opts.Sessions,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		opts:      opts,
		logger:    logging.OrNoOp(opts.Logger),
		tracer:    opts.Tracer,
	}, nil
}

// Tools returns the tool registry.
func (r *Runtime) Tools() *tool.Registry { return r.tools }

// Sessions returns the session registry.
func (r *Runtime) Sessions() *session.Registry { return r.sessions }

// RegisterSession returns the cancellation token for a session.
func (r *Runtime) RegisterSession(id string) *core.CancellationToken {
	return r.sessions.Register(id)
}

// CancelSession cancels a session. Unknown sessions are a no-op.
func (r *Runtime) CancelSession(id string) bool {
	ok := r.sessions.Cancel(id)
	if ok {
		r.logger.Info("runtime.session.cancelled", logging.KeySessionID, id)
	}
	return ok
}

// CleanupSession forgets a session even if runs still hold its token.
func (r *Runtime) CleanupSession(id string) {
	r.sessions.Cleanup(id)
}

// ReleaseSession drops the reference a terminal run held on tok. The session
// is forgotten once the last run sharing it releases.
func (r *Runtime) ReleaseSession(id string, tok *core.CancellationToken) {
	r.sessions.Release(id, tok)
}

// Run executes the agent to completion. The session token is checked once,
// before the plan is built. Failures are returned as a Result with
// Success=false.
func (r *Runtime) Run(ctx context.Context, ac *AgentContext, message string) Result {
	ctx, span := r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.id", ac.agentID()),
		attribute.String("agent.session_id", ac.SessionID),
	))
	defer span.End()

	start := time.Now()
	r.initMetadata(ac)

	text, err := r.runSync(ctx, ac, message)

	dur := time.Since(start)
	ac.Set(MetaLatencyMS, dur.Milliseconds())
	logging.LogRun(r.logger, ac.agentID(), ac.SessionID, dur, err, core.ErrCancelled)

	md := ac.Metadata()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return failure(err, md)
	}
	return Result{Success: true, Response: text, Metadata: md}
}

func (r *Runtime) runSync(ctx context.Context, ac *AgentContext, message string) (text string, err error) {
	defer recoverAsError(&err)

	if ac.Token.IsCancelled() {
		return "", core.ErrCancelled
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	runCtx, cancel, timeout := r.withTimeout(ctx, ac)
	defer cancel()

	p, err := r.build(runCtx, ac, message)
	if err != nil {
		return "", timeoutError(ctx, err, timeout)
	}

	stats := &runStats{}
	text, err = r.loop(runCtx, ac, p, nil, stats)
	stats.record(ac)
	if err != nil {
		return "", timeoutError(ctx, err, timeout)
	}
	return text, nil
}

// Stream executes the agent and reports progress as events. The returned
// stream must be drained or closed.
func (r *Runtime) Stream(ctx context.Context, ac *AgentContext, message string) *EventStream {
	return r.StreamWithCleanup(ctx, ac, message, nil)
}

// StreamWithCleanup is Stream with a cleanup func that runs after the
// producer finishes and before the event channel closes.
func (r *Runtime) StreamWithCleanup(ctx context.Context, ac *AgentContext, message string, cleanup func()) *EventStream {
	stream, out, sctx := newEventStream(ctx)
	go func() {
		defer out.close()
		if cleanup != nil {
			defer cleanup()
		}
		r.stream(sctx, ac, message, out)
	}()
	return stream
}

func (r *Runtime) stream(ctx context.Context, ac *AgentContext, message string, out *emitter) {
	ctx, span := r.tracer.Start(ctx, "agent.stream", trace.WithAttributes(
		attribute.String("agent.id", ac.agentID()),
		attribute.String("agent.session_id", ac.SessionID),
	))
	defer span.End()

	start := time.Now()
	r.initMetadata(ac)

	if !out.emit(Event{Type: EventStart, Metadata: map[string]any{
		MetaAgentID:   ac.agentID(),
		MetaSessionID: ac.SessionID,
	}}) {
		return
	}

	text, err := r.runStreaming(ctx, ac, message, out)

	dur := time.Since(start)
	ac.Set(MetaLatencyMS, dur.Milliseconds())
	logging.LogRun(r.logger, ac.agentID(), ac.SessionID, dur, err, core.ErrCancelled)

	md := ac.Metadata()
	switch reason := Classify(err); {
	case err == nil:
		out.emit(Event{Type: EventFinish, Response: text, Metadata: md})
	case reason == ReasonCancelled:
		out.emit(Event{Type: EventCancelled, Reason: reason, Metadata: md})
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out.emit(Event{Type: EventError, Error: err.Error(), Reason: reason, Metadata: md})
	}
}

func (r *Runtime) runStreaming(ctx context.Context, ac *AgentContext, message string, out *emitter) (text string, err error) {
	defer recoverAsError(&err)

	if ac.Token.IsCancelled() {
		return "", core.ErrCancelled
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	runCtx, cancel, timeout := r.withTimeout(ctx, ac)
	defer cancel()

	p, err := r.build(runCtx, ac, message)
	if err != nil {
		return "", timeoutError(ctx, err, timeout)
	}

	stats := &runStats{}
	text, err = r.loop(runCtx, ac, p, out, stats)
	stats.record(ac)
	if err != nil {
		return "", timeoutError(ctx, err, timeout)
	}
	return text, nil
}

// RunWithImage sends a prompt and an image to a vision-capable model in a
// single turn. Text-only models fail with core.ErrVisionUnsupported.
func (r *Runtime) RunWithImage(ctx context.Context, ac *AgentContext, prompt, imageURL string) Result {
	ctx, span := r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.id", ac.agentID()),
		attribute.Bool("agent.vision", true),
	))
	defer span.End()

	start := time.Now()
	r.initMetadata(ac)

	text, err := func() (text string, err error) {
		defer recoverAsError(&err)

		if ac.Token.IsCancelled() {
			return "", core.ErrCancelled
		}
		release, err := r.acquire(ctx)
		if err != nil {
			return "", err
		}
		defer release()

		runCtx, cancel, timeout := r.withTimeout(ctx, ac)
		defer cancel()

		m, err := r.resolveModel(runCtx, ac)
		if err != nil {
			return "", err
		}
		vm, ok := model.AsVision(m)
		if !ok {
			return "", fmt.Errorf("%w: %s", core.ErrVisionUnsupported, m.Info().Name)
		}

		ac.Set(MetaIterations, 1)
		resp, err := vm.GenerateWithImage(runCtx, prompt, imageURL)
		if err != nil {
			if runCtx.Err() != nil {
				return "", timeoutError(ctx, runCtx.Err(), timeout)
			}
			return "", &modelError{err: err}
		}
		return resp.Content.Text(), nil
	}()

	dur := time.Since(start)
	ac.Set(MetaLatencyMS, dur.Milliseconds())
	logging.LogRun(r.logger, ac.agentID(), ac.SessionID, dur, err, core.ErrCancelled)

	md := ac.Metadata()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return failure(err, md)
	}
	return Result{Success: true, Response: text, Metadata: md}
}

// PrepareInput grounds message with retrieved context when the agent has
// retrieval enabled. The raw results are always stored under
// MetaRAGResults; the context block is only prepended when there are results.
func (r *Runtime) PrepareInput(ctx context.Context, ac *AgentContext, message string) (string, error) {
	cfg := ac.Config
	if cfg == nil || !cfg.RAGEnabled || len(cfg.KnowledgeBaseIDs) == 0 {
		return message, nil
	}
	if r.retriever == nil {
		r.logger.Warn("runtime.retrieval.unconfigured", logging.KeyAgentID, cfg.ID)
		ac.Set(MetaRAGResults, []retrieval.Result{})
		return message, nil
	}

	results, err := r.retriever.Retrieve(ctx, message, r.retriever.Namespaces(cfg.KnowledgeBaseIDs), cfg.TopK, cfg.ScoreThreshold)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	ac.Set(MetaRAGResults, results)
	if len(results) == 0 {
		return message, nil
	}

	ac.Set(MetaRAGUsed, true)
	return retrieval.BuildContext(results) + "\n\nUser Question: " + message, nil
}

func (r *Runtime) initMetadata(ac *AgentContext) {
	ac.Set(MetaAgentID, ac.agentID())
	ac.Set(MetaSessionID, ac.SessionID)
	ac.Set(MetaRAGUsed, false)
}

func (r *Runtime) acquire(ctx context.Context) (func(), error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for run slot: %w", err)
	}
	return func() { r.sem.Release(1) }, nil
}

func (r *Runtime) withTimeout(ctx context.Context, ac *AgentContext) (context.Context, context.CancelFunc, time.Duration) {
	timeout := r.opts.Timeout
	if ac.Config != nil && ac.Config.Timeout > 0 {
		timeout = ac.Config.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	return runCtx, cancel, timeout
}

func (r *Runtime) resolveModel(ctx context.Context, ac *AgentContext) (model.Model, error) {
	cfg := ac.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: agent config is required", core.ErrConfiguration)
	}
	m, err := r.models.GetModel(ctx, router.Request{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Policy:      cfg.RoutingPolicy,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	info := m.Info()
	ac.Set(MetaModel, info.Name)
	ac.Set(MetaProvider, info.Provider)
	return m, nil
}

// build assembles the execution plan: model, permitted tools and input.
func (r *Runtime) build(ctx context.Context, ac *AgentContext, message string) (*plan, error) {
	m, err := r.resolveModel(ctx, ac)
	if err != nil {
		return nil, err
	}
	cfg := ac.Config

	names := make([]string, 0, len(cfg.Tools))
	for _, name := range cfg.Tools {
		if _, registered := r.tools.Get(name); registered && !r.tools.CheckPermission(name, ac.UserID) {
			r.logger.Warn("runtime.tool.denied", logging.KeyTool, name, "user.id", ac.UserID)
			continue
		}
		names = append(names, name)
	}

	adapters := r.tools.ToAgentTools(names)
	p := &plan{
		model:         m,
		info:          m.Info(),
		tools:         make(map[string]*tool.Adapter, len(adapters)),
		defs:          make([]model.ToolDefinition, 0, len(adapters)),
		instructions:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
	}
	for _, a := range adapters {
		p.tools[a.Name()] = a
		p.defs = append(p.defs, a.Definition())
	}
	if p.instructions == "" {
		p.instructions = r.opts.SystemPrompt
	}
	if p.instructions, err = util.RenderTemplate(p.instructions, promptState(ac)); err != nil {
		return nil, fmt.Errorf("%w: system prompt: %v", core.ErrConfiguration, err)
	}
	if p.maxIterations <= 0 {
		p.maxIterations = r.opts.MaxIterations
	}

	p.input, err = r.PrepareInput(ctx, ac, message)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// promptState is the data system prompt templates are rendered against.
func promptState(ac *AgentContext) map[string]any {
	state := ac.Metadata()
	state["agent_id"] = ac.agentID()
	state["agent_name"] = ac.Config.Name
	state["session_id"] = ac.SessionID
	state["user_id"] = ac.UserID
	return state
}

// timeoutError turns the expiry of the run deadline into core.ErrTimeout.
// parent is the context the deadline was derived from.
func timeoutError(parent context.Context, err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w after %s", core.ErrTimeout, timeout)
	}
	return err
}

func recoverAsError(err *error) {
	if rec := recover(); rec != nil {
		*err = fmt.Errorf("panic: %v", rec)
	}
}
