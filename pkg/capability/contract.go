package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Input is the structured argument object produced by the model for one call.
type Input map[string]interface{}

// String returns the string value for key, or "" when absent or not a string.
func (in Input) String(key string) string {
	s, _ := in[key].(string)
	return s
}

// Bool returns the boolean value for key, or def when absent.
func (in Input) Bool(key string, def bool) bool {
	switch v := in[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Int returns the integer value for key, or def when absent or not numeric.
func (in Input) Int(key string, def int) int {
	switch v := in[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Parameter describes one argument of a capability.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler executes a capability. Errors are converted to strings at the
// registry boundary; return a *Failure to control the exact text.
type Handler func(ctx context.Context, in Input) (string, error)

// Descriptor is a named capability with its input schema and handler.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Factory builds a descriptor. A factory error aborts registry construction.
type Factory func() (Descriptor, error)

// Catalog maps capability names to factories.
type Catalog map[string]Factory

// ToolDefinition is the shape handed to the model-invocation layer.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Failure is a capability error whose message is shown to the model verbatim.
type Failure struct {
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// Failuref formats a Failure.
func Failuref(format string, args ...interface{}) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}
