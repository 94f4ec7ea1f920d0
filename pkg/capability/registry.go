package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harun/agentcore/internal/observability"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownCapability is returned by NewRegistry for names missing from the catalog.
var ErrUnknownCapability = errors.New("unknown capability")

type entry struct {
	desc        Descriptor
	inputSchema map[string]interface{}
	schema      *gojsonschema.Schema
}

// Registry maps capability names to descriptors for one tenant.
type Registry struct {
	entries map[string]*entry
	names   []string
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout applies a deadline to every invocation. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry builds the registry for the enabled capability names.
func NewRegistry(enabled []string, catalog Catalog, opts ...Option) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]*entry, len(enabled)),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	observability.EnsureRegistered()

	for _, name := range enabled {
		if _, dup := r.entries[name]; dup {
			continue
		}

		factory, ok := catalog[name]
		if !ok || factory == nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownCapability, name)
		}

		desc, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to build capability %s: %w", name, err)
		}
		if desc.Name != name {
			return nil, fmt.Errorf("capability %s: factory returned descriptor named %q", name, desc.Name)
		}
		if err := validateDescriptor(desc); err != nil {
			return nil, fmt.Errorf("invalid capability %s: %w", name, err)
		}

		inputSchema := buildInputSchema(desc.Parameters)
		schema, err := compileSchema(inputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for %s: %w", name, err)
		}

		r.entries[name] = &entry{desc: desc, inputSchema: inputSchema, schema: schema}
		r.names = append(r.names, name)
	}

	sort.Strings(r.names)

	r.logger.Info().Strs("capabilities", r.names).Msg("Capability registry built")

	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Names returns the registered capability names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.names)
}

// Definitions returns tool definitions for the model, sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		e := r.entries[name]
		defs = append(defs, ToolDefinition{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			InputSchema: e.inputSchema,
		})
	}
	return defs
}

// Invoke runs the named capability and returns its output. It never panics
// and never returns an error: every failure becomes descriptive text.
func (r *Registry) Invoke(ctx context.Context, name string, input Input) string {
	start := time.Now()

	e, ok := r.entries[name]
	if !ok {
		r.logger.Warn().Str("capability", name).Msg("Unknown capability requested")
		observability.RecordCapabilityInvocation(name, time.Since(start), false)
		return fmt.Sprintf("Error: unknown capability '%s'", name)
	}

	if input == nil {
		input = Input{}
	}

	if err := validateInput(e.schema, input); err != nil {
		r.logger.Warn().Str("capability", name).Err(err).Msg("Capability input rejected")
		observability.RecordCapabilityInvocation(name, time.Since(start), false)
		return fmt.Sprintf("Error: invalid input for %s: %v", name, err)
	}

	output, err := r.run(ctx, e, withDefaults(e.desc.Parameters, input))
	duration := time.Since(start)
	observability.RecordCapabilityInvocation(name, duration, err == nil)

	if err != nil {
		r.logger.Warn().
			Str("capability", name).
			Dur("duration", duration).
			Err(err).
			Msg("Capability invocation failed")
		return render(name, err)
	}

	r.logger.Debug().
		Str("capability", name).
		Dur("duration", duration).
		Msg("Capability invocation completed")

	return output
}

func (r *Registry) run(ctx context.Context, e *entry, input Input) (string, error) {
	if r.timeout <= 0 {
		return callSafely(ctx, e.desc.Handler, input)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		out, err := callSafely(callCtx, e.desc.Handler, input)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && callCtx.Err() != nil {
			return "", r.deadlineFailure(ctx, e.desc.Name)
		}
		return o.output, o.err
	case <-callCtx.Done():
		return "", r.deadlineFailure(ctx, e.desc.Name)
	}
}

func (r *Registry) deadlineFailure(parent context.Context, name string) error {
	if parent.Err() != nil {
		return Failuref("Error: %s cancelled: %v", name, parent.Err())
	}
	return Failuref("Error: %s timed out after %v", name, r.timeout)
}

func callSafely(ctx context.Context, h Handler, input Input) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, input)
}

func render(name string, err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return fmt.Sprintf("Error executing %s: %v", name, err)
}

func withDefaults(params []Parameter, input Input) Input {
	out := make(Input, len(input)+len(params))
	for k, v := range input {
		out[k] = v
	}
	for _, p := range params {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateDescriptor(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("capability name cannot be empty")
	}
	if desc.Description == "" {
		return fmt.Errorf("capability description cannot be empty")
	}
	if desc.Handler == nil {
		return fmt.Errorf("capability handler cannot be nil")
	}

	for _, param := range desc.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// buildInputSchema produces the JSON schema object advertised to the model.
func buildInputSchema(params []Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(inputSchema map[string]interface{}) (*gojsonschema.Schema, error) {
	strict := make(map[string]interface{}, len(inputSchema)+1)
	for k, v := range inputSchema {
		strict[k] = v
	}
	strict["additionalProperties"] = false

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(strict))
}

func validateInput(schema *gojsonschema.Schema, input Input) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(input)))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}

	return nil
}
