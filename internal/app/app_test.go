package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/harun/agentcore/internal/config"
	"github.com/harun/agentcore/pkg/agent"
	"github.com/harun/agentcore/pkg/tools"
	"github.com/harun/agentcore/pkg/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calculatorModel asks for the calculator on the first turn and repeats the
// tool output on the second.
type calculatorModel struct{}

func (calculatorModel) Provider() string { return "anthropic" }

func (calculatorModel) Call(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == "tool" {
		return &agent.LLMResponse{
			Content: "2+2 gives " + last.Content,
			Usage:   &agent.UsageMetrics{InputTokens: 40, OutputTokens: 8, TotalTokens: 48},
		}, nil
	}
	return &agent.LLMResponse{
		ToolCalls: []agent.ToolCall{{
			ID:         "call-1",
			Name:       tools.CalculatorName,
			Parameters: map[string]interface{}{"expression": "2+2"},
		}},
		Usage: &agent.UsageMetrics{InputTokens: 30, OutputTokens: 6, TotalTokens: 36},
	}, nil
}

type staticProviders struct{ p agent.LLMProvider }

func (s staticProviders) NewProvider(agent.AuthProfile) (agent.LLMProvider, error) { return s.p, nil }

type memorySink struct {
	mu     sync.Mutex
	bodies [][]byte
	target string
}

func (s *memorySink) Send(ctx context.Context, target string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.bodies = append(s.bodies, body)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Tenant.ID = "tenant-a"
	cfg.Tenant.ModelID = "claude-sonnet-4-5"
	cfg.Tenant.QueueTarget = "usage.tenant-a"
	cfg.Tenant.Capabilities = []string{tools.CalculatorName, tools.DatetimeName}
	cfg.AI.APIKey = "sk-ant-test"
	cfg.Agent.RetryBaseDelay = time.Millisecond
	return cfg
}

func TestNew_UnknownCapabilityFailsStartup(t *testing.T) {
	cfg := testConfig()
	cfg.Tenant.Capabilities = []string{tools.CalculatorName, "translate"}

	_, err := New(cfg, zerolog.Nop(), WithProviderFactory(staticProviders{calculatorModel{}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown capability "translate"`)
}

func TestNew_InvalidConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.Tenant.ID = "TENANT_ID_VALUE"

	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNew_UnknownSearchTechnique(t *testing.T) {
	cfg := testConfig()
	cfg.Tenant.Capabilities = []string{tools.WebSearchName}
	cfg.Capabilities.WebSearch.Technique = "carrier-pigeon"

	_, err := New(cfg, zerolog.Nop(), WithProviderFactory(staticProviders{calculatorModel{}}))
	assert.Error(t, err)
}

func TestApp_InvokeEndToEnd(t *testing.T) {
	sink := &memorySink{}
	a, err := New(testConfig(), zerolog.Nop(),
		WithProviderFactory(staticProviders{calculatorModel{}}),
		WithSink(sink),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{tools.CalculatorName, tools.DatetimeName}, a.Registry().Names())
	assert.Equal(t, "tenant-a", a.Tenant().ID())

	resp, err := a.Invoke(context.Background(), []byte(`{"message": "2+2?"}`))
	require.NoError(t, err)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "2+2 gives Result: 4", resp.Result)

	require.NoError(t, a.Close(context.Background()))

	require.Len(t, sink.bodies, 1)
	assert.Equal(t, "usage.tenant-a", sink.target)

	var record usage.Record
	require.NoError(t, json.Unmarshal(sink.bodies[0], &record))
	assert.Equal(t, "tenant-a", record.TenantID)
	assert.Equal(t, "2+2?", record.UserMessage)
	assert.Equal(t, "2+2 gives Result: 4", record.ResponseMessage)
	assert.Equal(t, uint64(70), record.InputTokens)
	assert.Equal(t, uint64(14), record.OutputTokens)
	assert.Equal(t, uint64(84), record.TotalTokens)
}

func TestApp_InvokeRejectsInvalidPayload(t *testing.T) {
	a, err := New(testConfig(), zerolog.Nop(),
		WithProviderFactory(staticProviders{calculatorModel{}}),
		WithSink(&memorySink{}),
	)
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, err = a.Invoke(context.Background(), []byte(`not json`))
	assert.ErrorContains(t, err, "invalid payload")
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	a, err := New(cfg, zerolog.Nop(),
		WithProviderFactory(staticProviders{calculatorModel{}}),
		WithSink(&memorySink{}),
	)
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestApp_LogSinkByDefault(t *testing.T) {
	a, err := New(testConfig(), zerolog.Nop(), WithProviderFactory(staticProviders{calculatorModel{}}))
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.IsType(t, &usage.LogSink{}, a.sink)
}
