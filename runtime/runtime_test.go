package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/internal/testutil"
	"github.com/hupe1980/agenthub/model"
	"github.com/hupe1980/agenthub/retrieval"
	"github.com/hupe1980/agenthub/router"
	"github.com/hupe1980/agenthub/tool"
	"github.com/hupe1980/agenthub/tool/builtin"
	"github.com/hupe1980/agenthub/vectorstore"
)

type staticModels struct {
	m   model.Model
	err error
}

func (s staticModels) GetModel(context.Context, router.Request) (model.Model, error) {
	return s.m, s.err
}

func newRuntime(t *testing.T, m model.Model, optFns ...func(o *Options)) *Runtime {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, builtin.RegisterDefaults(reg))

	rt, err := New(append([]func(o *Options){func(o *Options) {
		o.Models = staticModels{m: m}
		o.Tools = reg
	}}, optFns...)...)
	require.NoError(t, err)
	return rt
}

// calculatorHandler asks for the calculator on the first turn and reports
// its result on the second.
func calculatorHandler(_ context.Context, req model.Request) (core.Content, error) {
	last := req.Contents[len(req.Contents)-1]
	if last.Role == core.RoleTool {
		for _, fr := range last.FunctionResponses() {
			if res, ok := fr.Response.(map[string]any); ok {
				return core.NewTextContent(core.RoleAssistant, fmt.Sprintf("123 * 456 = %v", res["result"])), nil
			}
			return core.NewTextContent(core.RoleAssistant, "tool failed: "+fr.Error), nil
		}
	}
	return testutil.NewContentBuilder().Call("call-1", "calculator", map[string]any{"expression": "123 * 456"}).Build(), nil
}

func calculatorAgent() *AgentConfig {
	return &AgentConfig{ID: "math", Tools: []string{"calculator"}}
}

func TestNew_RequiresModels(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestRun_CalculatorEndToEnd(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(calculatorHandler)
	rt := newRuntime(t, m)

	res := rt.Run(context.Background(), NewAgentContext(calculatorAgent(), "s1", "u1", nil), "What is 123 * 456?")

	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Response, "56088")
	assert.Contains(t, res.Metadata[MetaToolsUsed], "calculator")
	assert.Equal(t, 2, res.Metadata[MetaIterations])
	assert.Equal(t, "mock-model", res.Metadata[MetaModel])
	assert.Equal(t, "mock", res.Metadata[MetaProvider])
	assert.Equal(t, "math", res.Metadata[MetaAgentID])
	assert.Equal(t, "s1", res.Metadata[MetaSessionID])
	assert.Equal(t, false, res.Metadata[MetaRAGUsed])
	assert.Empty(t, res.Metadata[MetaToolErrors])
	assert.Contains(t, res.Metadata, MetaLatencyMS)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, DefaultSystemPrompt, reqs[0].Instructions)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "calculator", reqs[0].Tools[0].Function.Name)
}

func TestRun_CancelledBeforeBuild(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	rt := newRuntime(t, m)

	ac := NewAgentContext(calculatorAgent(), "s1", "u1", nil)
	ac.Token.Cancel()

	res := rt.Run(context.Background(), ac, "hi")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, core.ErrCancelled)
	assert.Zero(t, m.Calls())
}

func TestRun_MaxIterations(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(func(context.Context, model.Request) (core.Content, error) {
		return testutil.NewContentBuilder().Call("", "calculator", map[string]any{"expression": "1+1"}).Build(), nil
	})
	rt := newRuntime(t, m)

	cfg := calculatorAgent()
	cfg.MaxIterations = 3
	res := rt.Run(context.Background(), NewAgentContext(cfg, "s1", "u1", nil), "loop forever")

	assert.False(t, res.Success)
	assert.Equal(t, ReasonMaxIterations, res.Reason)
	assert.ErrorIs(t, res.Err, core.ErrMaxIterations)
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, 3, res.Metadata[MetaIterations])
	assert.Len(t, res.Metadata[MetaToolsUsed], 3)
}

func TestRun_Timeout(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(func(ctx context.Context, _ model.Request) (core.Content, error) {
		<-ctx.Done()
		return core.Content{}, ctx.Err()
	})
	rt := newRuntime(t, m)

	cfg := &AgentConfig{ID: "slow", Timeout: 20 * time.Millisecond}
	res := rt.Run(context.Background(), NewAgentContext(cfg, "s1", "u1", nil), "hi")

	assert.False(t, res.Success)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.ErrorIs(t, res.Err, core.ErrTimeout)
}

func TestRun_ModelError(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(func(context.Context, model.Request) (core.Content, error) {
		return core.Content{}, errors.New("rate limited")
	})
	rt := newRuntime(t, m)

	res := rt.Run(context.Background(), NewAgentContext(&AgentConfig{ID: "a"}, "s1", "u1", nil), "hi")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonModelError, res.Reason)
	assert.Contains(t, res.Error, "rate limited")
}

func TestRun_ModelSourceError(t *testing.T) {
	rt, err := New(func(o *Options) { o.Models = staticModels{err: core.ErrNoProviderAvailable} })
	require.NoError(t, err)

	res := rt.Run(context.Background(), NewAgentContext(&AgentConfig{ID: "a"}, "s1", "u1", nil), "hi")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonConfiguration, res.Reason)
	assert.ErrorIs(t, res.Err, core.ErrNoProviderAvailable)
}

func TestRun_ToolFailureIsReportedNotFatal(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(func(_ context.Context, req model.Request) (core.Content, error) {
		last := req.Contents[len(req.Contents)-1]
		if last.Role == core.RoleTool {
			return core.NewTextContent(core.RoleAssistant, "sorry: "+last.FunctionResponses()[0].Error), nil
		}
		return testutil.NewContentBuilder().Call("c1", "flaky", nil).Build(), nil
	})
	rt := newRuntime(t, m)
	rt.Tools().MustRegister(tool.NewFunctionTool(tool.Metadata{Name: "flaky", Description: "always fails"},
		func(*tool.CallContext, map[string]any) (any, error) { return nil, errors.New("backend down") }))

	res := rt.Run(context.Background(), NewAgentContext(&AgentConfig{ID: "a", Tools: []string{"flaky"}}, "s1", "u1", nil), "hi")

	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Response, "backend down")
	failures, ok := res.Metadata[MetaToolErrors].([]ToolFailure)
	require.True(t, ok)
	require.Len(t, failures, 1)
	assert.Equal(t, "flaky", failures[0].Tool)
}

func TestRun_ToolPanicIsContained(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(func(_ context.Context, req model.Request) (core.Content, error) {
		if req.Contents[len(req.Contents)-1].Role == core.RoleTool {
			return core.NewTextContent(core.RoleAssistant, "recovered"), nil
		}
		return testutil.NewContentBuilder().Call("c1", "boom", nil).Build(), nil
	})
	rt := newRuntime(t, m)
	rt.Tools().MustRegister(tool.NewFunctionTool(tool.Metadata{Name: "boom"},
		func(*tool.CallContext, map[string]any) (any, error) { panic("kaboom") }))

	res := rt.Run(context.Background(), NewAgentContext(&AgentConfig{ID: "a", Tools: []string{"boom"}}, "s1", "u1", nil), "hi")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "recovered", res.Response)
	assert.Len(t, res.Metadata[MetaToolErrors], 1)
}

func TestRun_UnknownAndDeniedToolsAreNotOffered(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	rt := newRuntime(t, m)
	rt.Tools().MustRegister(tool.NewFunctionTool(tool.Metadata{Name: "admin", AllowedUsers: []string{"alice"}},
		func(*tool.CallContext, map[string]any) (any, error) { return "ok", nil }))

	cfg := &AgentConfig{ID: "a", Tools: []string{"calculator", "missing", "admin"}}

	res := rt.Run(context.Background(), NewAgentContext(cfg, "s1", "bob", nil), "hi")
	require.True(t, res.Success, res.Error)
	res = rt.Run(context.Background(), NewAgentContext(cfg, "s2", "alice", nil), "hi")
	require.True(t, res.Success, res.Error)

	toolNames := func(req model.Request) []string {
		var out []string
		for _, d := range req.Tools {
			out = append(out, d.Function.Name)
		}
		return out
	}
	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"calculator"}, toolNames(reqs[0]))
	assert.Equal(t, []string{"calculator", "admin"}, toolNames(reqs[1]))
}

func TestRun_ModelCallingUnofferedToolGetsNotFound(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(func(_ context.Context, req model.Request) (core.Content, error) {
		last := req.Contents[len(req.Contents)-1]
		if last.Role == core.RoleTool {
			return core.NewTextContent(core.RoleAssistant, last.FunctionResponses()[0].Error), nil
		}
		return testutil.NewContentBuilder().Call("c1", "weather", map[string]any{"location": "Berlin"}).Build(), nil
	})
	rt := newRuntime(t, m)

	res := rt.Run(context.Background(), NewAgentContext(&AgentConfig{ID: "a"}, "s1", "u1", nil), "hi")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Response, tool.CodeNotFound)
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	m := model.NewMockModel("mock-model", "mock")
	m.SetHandler(func(ctx context.Context, _ model.Request) (core.Content, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return core.NewTextContent(core.RoleAssistant, "done"), nil
	})
	rt := newRuntime(t, m, func(o *Options) { o.MaxConcurrentRuns = 1 })

	first := make(chan Result, 1)
	go func() {
		first <- rt.Run(context.Background(), NewAgentContext(&AgentConfig{ID: "a"}, "s1", "u1", nil), "one")
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := rt.Run(ctx, NewAgentContext(&AgentConfig{ID: "a"}, "s2", "u1", nil), "two")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonTimeout, res.Reason)

	close(release)
	assert.True(t, (<-first).Success)
	assert.Equal(t, 1, m.Calls())
}

func TestRun_WithRetrieval(t *testing.T) {
	idx := testutil.NewScriptedIndex().
		WithHits("kb_docs", vectorstore.Hit{ID: "1", Content: "Go was released in 2009.", Score: 0.92, Metadata: map[string]any{"source": "history.md"}}).
		WithFailure("kb_broken", errors.New("unavailable"))
	pipeline, err := retrieval.New(func(o *retrieval.Options) { o.Index = idx })
	require.NoError(t, err)

	m := model.NewMockModel("mock-model", "mock")
	rt := newRuntime(t, m, func(o *Options) { o.Retriever = pipeline })

	cfg := &AgentConfig{ID: "a", RAGEnabled: true, KnowledgeBaseIDs: []string{"broken", "docs"}}
	res := rt.Run(context.Background(), NewAgentContext(cfg, "s1", "u1", nil), "When was Go released?")
	require.True(t, res.Success, res.Error)

	assert.Equal(t, true, res.Metadata[MetaRAGUsed])
	results, ok := res.Metadata[MetaRAGResults].([]retrieval.Result)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "history.md", results[0].Source)

	input := m.Requests()[0].Contents[0].Text()
	assert.True(t, strings.HasPrefix(input, "Here is relevant information from the knowledge base:"))
	assert.True(t, strings.HasSuffix(input, "\n\nUser Question: When was Go released?"))
	assert.Contains(t, input, "Go was released in 2009.")
}

func TestPrepareInput(t *testing.T) {
	idx := testutil.NewScriptedIndex().WithHits("kb_docs", vectorstore.Hit{ID: "1", Content: "weak", Score: 0.3})
	pipeline, err := retrieval.New(func(o *retrieval.Options) { o.Index = idx })
	require.NoError(t, err)
	rt := newRuntime(t, model.NewMockModel("m", "p"), func(o *Options) { o.Retriever = pipeline })

	t.Run("disabled", func(t *testing.T) {
		ac := NewAgentContext(&AgentConfig{ID: "a", KnowledgeBaseIDs: []string{"docs"}}, "s", "u", nil)
		got, err := rt.PrepareInput(context.Background(), ac, "question")
		require.NoError(t, err)
		assert.Equal(t, "question", got)
		_, recorded := ac.Get(MetaRAGResults)
		assert.False(t, recorded)
	})

	t.Run("no results above threshold", func(t *testing.T) {
		ac := NewAgentContext(&AgentConfig{ID: "a", RAGEnabled: true, KnowledgeBaseIDs: []string{"docs"}}, "s", "u", nil)
		got, err := rt.PrepareInput(context.Background(), ac, "question")
		require.NoError(t, err)
		assert.Equal(t, "question", got)
		v, recorded := ac.Get(MetaRAGResults)
		require.True(t, recorded)
		assert.Empty(t, v)
	})

	t.Run("agent threshold override", func(t *testing.T) {
		ac := NewAgentContext(&AgentConfig{ID: "a", RAGEnabled: true, KnowledgeBaseIDs: []string{"docs"}, ScoreThreshold: 0.2}, "s", "u", nil)
		got, err := rt.PrepareInput(context.Background(), ac, "question")
		require.NoError(t, err)
		assert.Contains(t, got, "Content: weak")
	})
}

func TestRun_RoutesThroughRouter(t *testing.T) {
	built := 0
	factory := func(_ context.Context, cfg router.ProviderConfig, spec router.ModelSpec) (model.Model, error) {
		built++
		return model.NewMockModel(spec.Name, cfg.Name), nil
	}
	r := router.New(func(o *router.Options) {
		o.Providers = []router.ProviderConfig{
			{Name: "expensive", APIKey: "k", Models: []string{"big"}},
			{Name: "cheap", APIKey: "k", Models: []string{"small"}},
		}
		o.Tables = router.Tables{Cost: map[string]float64{"big": 10, "small": 1}}
		o.Factories = map[string]router.Factory{"expensive": factory, "cheap": factory}
	})
	rt, err := New(func(o *Options) { o.Models = r })
	require.NoError(t, err)

	cfg := &AgentConfig{ID: "a", RoutingPolicy: router.PolicyCost}
	for i := 0; i < 2; i++ {
		res := rt.Run(context.Background(), NewAgentContext(cfg, "s", "u", nil), "hi")
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "cheap", res.Metadata[MetaProvider])
		assert.Equal(t, "small", res.Metadata[MetaModel])
	}
	assert.Equal(t, 1, built)
}

func TestRunWithImage(t *testing.T) {
	t.Run("vision model", func(t *testing.T) {
		rt := newRuntime(t, model.NewMockVisionModel("vision", "mock"))
		res := rt.RunWithImage(context.Background(), NewAgentContext(&AgentConfig{ID: "a"}, "s", "u", nil), "describe", "https://example.com/cat.png")
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Response, "https://example.com/cat.png")
	})

	t.Run("text model", func(t *testing.T) {
		rt := newRuntime(t, model.NewMockModel("text", "mock"))
		res := rt.RunWithImage(context.Background(), NewAgentContext(&AgentConfig{ID: "a"}, "s", "u", nil), "describe", "https://example.com/cat.png")
		assert.False(t, res.Success)
		assert.Equal(t, ReasonConfiguration, res.Reason)
		assert.ErrorIs(t, res.Err, core.ErrVisionUnsupported)
	})
}

func TestSessionHelpers(t *testing.T) {
	rt := newRuntime(t, model.NewMockModel("m", "p"))

	tok := rt.RegisterSession("s1")
	assert.True(t, rt.CancelSession("s1"))
	assert.True(t, tok.IsCancelled())

	rt.CleanupSession("s1")
	assert.False(t, rt.CancelSession("s1"))
	assert.Zero(t, rt.Sessions().Len())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureReason
	}{
		{nil, ""},
		{core.ErrCancelled, ReasonCancelled},
		{context.Canceled, ReasonCancelled},
		{fmt.Errorf("wrapped: %w", core.ErrMaxIterations), ReasonMaxIterations},
		{core.ErrTimeout, ReasonTimeout},
		{&core.ProviderConfigurationError{Provider: "openai", Reason: "missing API key"}, ReasonConfiguration},
		{&core.UnsupportedProviderError{Provider: "x"}, ReasonConfiguration},
		{&modelError{err: errors.New("500")}, ReasonModelError},
		{errors.New("other"), ReasonInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestRun_SystemPromptTemplate(t *testing.T) {
	m := model.NewMockModel("mock-model", "mock")
	rt := newRuntime(t, m)

	cfg := &AgentConfig{ID: "support", Name: "Helper", SystemPrompt: "You are {{.agent_name}} talking to {{upper .user_id}}."}
	res := rt.Run(context.Background(), NewAgentContext(cfg, "s1", "alice", nil), "hi")
	require.True(t, res.Success, res.Error)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You are Helper talking to ALICE.", reqs[0].Instructions)

	cfg.SystemPrompt = "{{.broken"
	res = rt.Run(context.Background(), NewAgentContext(cfg, "s1", "alice", nil), "hi")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonConfiguration, res.Reason)
}
