package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/agentcore/internal/observability"
	"github.com/harun/agentcore/internal/tracing"
	"github.com/harun/agentcore/pkg/agent"
	"github.com/harun/agentcore/pkg/usage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Invoker runs the model for one message. The registry of capabilities is
// attached to the invoker, which owns the tool loop.
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt, message string) (*agent.Result, error)
}

// Reporter accepts usage records without blocking.
type Reporter interface {
	Report(record usage.Record)
}

// Config wires a Dispatcher.
type Config struct {
	TenantID     string
	SystemPrompt string
	Invoker      Invoker
	Reporter     Reporter
	Logger       zerolog.Logger
}

// Dispatcher handles requests for a single tenant. It is safe for
// concurrent use.
type Dispatcher struct {
	tenantID     string
	systemPrompt string
	invoker      Invoker
	reporter     Reporter
	logger       zerolog.Logger
}

// New validates cfg and builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.TenantID == "" {
		return nil, errors.New("dispatcher: tenant id is required")
	}
	if cfg.Invoker == nil {
		return nil, errors.New("dispatcher: invoker is required")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("dispatcher: reporter is required")
	}
	observability.EnsureRegistered()

	return &Dispatcher{
		tenantID:     cfg.TenantID,
		systemPrompt: cfg.SystemPrompt,
		invoker:      cfg.Invoker,
		reporter:     cfg.Reporter,
		logger:       cfg.Logger,
	}, nil
}

// Handle processes req and always returns an envelope.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	return d.handle(ctx, req, newRun())
}

// run tracks the states one request passes through.
type run struct {
	states []State
}

func newRun() *run {
	return &run{states: []State{StateReceived}}
}

func (r *run) current() State {
	return r.states[len(r.states)-1]
}

func (r *run) enter(next State) {
	if !CanTransition(r.current(), next) {
		panic(fmt.Sprintf("dispatcher: illegal transition %s -> %s", r.current(), next))
	}
	r.states = append(r.states, next)
}

func (d *Dispatcher) handle(ctx context.Context, req Request, r *run) (resp Response) {
	start := time.Now()

	ctx = tracing.WithTenantID(ctx, d.tenantID)
	ctx, span := tracing.StartSpan(ctx, "agentcore.dispatcher", "dispatcher.handle",
		attribute.String("tenant_id", d.tenantID))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, d.logger)

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			tracing.FailSpan(span, err)
			resp = d.fail(logger, r, err)
		}
		observability.RecordDispatch(string(r.current()), time.Since(start))
	}()

	if req.Message == "" {
		req = NewRequest(req.Payload)
	}

	logger.Info().
		Str("message", req.Message).
		Interface("payload", req.Payload).
		Msg("Processing request")

	r.enter(StateModelInvoked)
	result, err := d.invoker.Invoke(ctx, d.systemPrompt, req.Message)
	if err != nil {
		tracing.FailSpan(span, err)
		return d.fail(logger, r, err)
	}
	if result == nil {
		err := errors.New("model returned no result")
		tracing.FailSpan(span, err)
		return d.fail(logger, r, err)
	}

	responseText := result.Response

	if result.Usage == nil {
		r.enter(StateMetricsAbsent)
		logger.Warn().Msg("No metrics available in result")
		r.enter(StateResponded)
		return Response{Result: responseText}
	}
	r.enter(StateMetricsExtracted)

	tokens := usage.Tokens{
		Input:  result.Usage.InputTokens,
		Output: result.Usage.OutputTokens,
		Total:  result.Usage.TotalTokens,
	}
	logger.Info().
		Uint64("input_tokens", tokens.Input).
		Uint64("output_tokens", tokens.Output).
		Uint64("total_tokens", tokens.Total).
		Msg("Token usage")

	d.report(logger, usage.NewRecord(d.tenantID, tokens, req.Message, responseText))
	r.enter(StateReported)

	r.enter(StateResponded)
	return Response{Result: responseText}
}

// report hands the record off; a misbehaving reporter cannot fail the request.
func (d *Dispatcher) report(logger zerolog.Logger, record usage.Record) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error().
				Str("record_id", record.ID).
				Interface("panic", p).
				Msg("Usage reporter panicked")
		}
	}()
	d.reporter.Report(record)
}

func (d *Dispatcher) fail(logger zerolog.Logger, r *run, err error) Response {
	if !r.current().Terminal() {
		r.states = append(r.states, StateFailed)
	}
	logger.Error().Err(err).Msg("Error processing request")
	return ErrorResponse(err)
}
