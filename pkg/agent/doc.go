// Package agent runs the model-driven tool loop behind a dispatcher request.
//
// Invariants:
// - Tool calls route through the capability registry only; a tool call can
//   never fail the run, only a provider error can.
// - Usage is summed across every model turn of one Invoke.
// - Provider profiles are tried in priority order; a non-retryable error
//   stops failover immediately.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Tools:    registry,
//		Model:    "claude-sonnet-4-5",
//		Profiles: []agent.AuthProfile{{ID: "primary", Provider: "anthropic", APIKey: key}},
//	})
//	result, _ := runner.Invoke(ctx, "You are a helpful assistant.", "2+2?")
//	_ = result
package agent
