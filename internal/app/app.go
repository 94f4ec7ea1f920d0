// Package app wires configuration into a running agent process.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/agentcore/internal/config"
	"github.com/harun/agentcore/internal/observability"
	"github.com/harun/agentcore/internal/tracing"
	"github.com/harun/agentcore/pkg/agent"
	"github.com/harun/agentcore/pkg/capability"
	"github.com/harun/agentcore/pkg/dispatcher"
	"github.com/harun/agentcore/pkg/server"
	"github.com/harun/agentcore/pkg/tools"
	"github.com/harun/agentcore/pkg/usage"
	"github.com/rs/zerolog"
)

// App owns every long-lived collaborator of one tenant process.
type App struct {
	config *config.Config
	tenant *config.TenantConfig
	logger zerolog.Logger

	toolbox    *tools.Toolbox
	registry   *capability.Registry
	runner     *agent.Runner
	sink       usage.Sink
	reporter   *usage.Reporter
	dispatcher *dispatcher.Dispatcher

	tracingEnabled bool

	// overrides
	providers   agent.ProviderCreator
	sinkFactory func() (usage.Sink, error)
	toolOptions []tools.Option
}

// Option overrides a collaborator, mostly for tests.
type Option func(*App)

// WithProviderFactory replaces the LLM provider factory.
func WithProviderFactory(f agent.ProviderCreator) Option {
	return func(a *App) { a.providers = f }
}

// WithSink replaces the configured usage sink.
func WithSink(sink usage.Sink) Option {
	return func(a *App) {
		a.sinkFactory = func() (usage.Sink, error) { return sink, nil }
	}
}

// WithToolOptions passes options to the capability toolbox.
func WithToolOptions(opts ...tools.Option) Option {
	return func(a *App) { a.toolOptions = append(a.toolOptions, opts...) }
}

// New validates cfg and builds the process. Any error here is a startup
// failure; the process must not serve traffic.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	observability.EnsureRegistered()

	a := &App{
		config: cfg,
		tenant: cfg.TenantConfig(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initialize(); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) initialize() error {
	cfg := a.config

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(context.Background(), tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			TenantID:    a.tenant.ID(),
			SampleRatio: cfg.Tracing.SampleRatio,
			Exporter:    cfg.Tracing.Exporter,
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			a.tracingEnabled = true
		}
	}

	a.toolbox = tools.NewToolbox(cfg.ToolSettings(), a.component("tools"), a.toolOptions...)

	registry, err := capability.NewRegistry(
		a.tenant.Capabilities(),
		a.toolbox.Catalog(),
		capability.WithTimeout(cfg.Capabilities.Timeout),
		capability.WithLogger(a.component("capability")),
	)
	if err != nil {
		return fmt.Errorf("failed to build capability registry: %w", err)
	}
	a.registry = registry

	runner, err := agent.NewRunner(agent.Config{
		Tools:           registry,
		Profiles:        cfg.AuthProfiles(),
		ProviderFactory: a.providers,
		Logger:          a.component("agent"),
		Model:           a.tenant.ModelID(),
		Temperature:     cfg.Agent.Temperature,
		MaxTokens:       cfg.Agent.MaxTokens,
		MaxRetries:      cfg.Agent.MaxRetries,
		MaxTurns:        cfg.Agent.MaxTurns,
		RetryBaseDelay:  cfg.Agent.RetryBaseDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	a.runner = runner

	sink, err := a.newSink()
	if err != nil {
		return err
	}
	a.sink = sink
	a.reporter = usage.NewReporter(sink, a.tenant.QueueTarget(),
		usage.WithBufferSize(cfg.Usage.BufferSize),
		usage.WithSendTimeout(cfg.Usage.SendTimeout),
		usage.WithLogger(a.component("usage")),
	)

	d, err := dispatcher.New(dispatcher.Config{
		TenantID:     a.tenant.ID(),
		SystemPrompt: a.tenant.SystemPrompt(),
		Invoker:      runner,
		Reporter:     a.reporter,
		Logger:       a.component("dispatcher"),
	})
	if err != nil {
		return err
	}
	a.dispatcher = d

	a.logger.Info().
		Str("tenant_id", a.tenant.ID()).
		Str("model_id", a.tenant.ModelID()).
		Strs("capabilities", registry.Names()).
		Str("usage_sink", cfg.Usage.Sink).
		Msg("Agent runtime initialized")
	return nil
}

func (a *App) newSink() (usage.Sink, error) {
	if a.sinkFactory != nil {
		return a.sinkFactory()
	}

	switch a.config.Usage.Sink {
	case "nats":
		sink, err := usage.ConnectNATS(a.config.Usage.NATSURL, "agentcore-"+a.tenant.ID(), a.component("nats"))
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return usage.NewLogSink(a.component("usage")), nil
	}
}

func (a *App) component(name string) zerolog.Logger {
	return a.logger.With().Str("component", name).Logger()
}

// Tenant returns the tenant snapshot.
func (a *App) Tenant() *config.TenantConfig { return a.tenant }

// Registry returns the tenant's capability registry.
func (a *App) Registry() *capability.Registry { return a.registry }

// Dispatcher returns the request dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Invoke handles one JSON payload outside the HTTP server.
func (a *App) Invoke(ctx context.Context, payload []byte) (dispatcher.Response, error) {
	req, err := dispatcher.DecodeRequest(payload)
	if err != nil {
		return dispatcher.Response{}, err
	}
	ctx = tracing.NewRequestContext(ctx)
	return a.dispatcher.Handle(ctx, req), nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func (a *App) Serve(ctx context.Context) error {
	srvCfg := a.config.Server
	srv, err := server.New(server.Options{
		Host:               srvCfg.Host,
		Port:               srvCfg.Port,
		ReadTimeout:        srvCfg.ReadTimeout,
		WriteTimeout:       srvCfg.WriteTimeout,
		RateLimitPerMinute: srvCfg.RateLimitPerMinute,
	}, a.dispatcher, a.component("server"))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Close drains pending usage records and releases resources.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.reporter != nil {
		if err := a.reporter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("usage reporter: %w", err))
		}
	}
	if closer, ok := a.sink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("usage sink: %w", err))
		}
	}
	if a.toolbox != nil {
		if err := a.toolbox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("toolbox: %w", err))
		}
	}
	if a.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		a.tracingEnabled = false
	}

	return errors.Join(errs...)
}
