package capability

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoFactory(name string) Factory {
	return func() (Descriptor, error) {
		return Descriptor{
			Name:        name,
			Description: "Echoes its input",
			Parameters: []Parameter{
				{Name: "text", Type: "string", Description: "Text to echo", Required: true},
				{Name: "suffix", Type: "string", Description: "Appended suffix", Default: "!"},
			},
			Handler: func(ctx context.Context, in Input) (string, error) {
				return in.String("text") + in.String("suffix"), nil
			},
		}, nil
	}
}

func handlerFactory(name string, h Handler) Factory {
	return func() (Descriptor, error) {
		return Descriptor{Name: name, Description: "Test capability", Handler: h}, nil
	}
}

func TestNewRegistry_UnknownCapability(t *testing.T) {
	catalog := Catalog{"echo": echoFactory("echo")}

	reg, err := NewRegistry([]string{"echo", "translate"}, catalog)
	require.Error(t, err)
	assert.Nil(t, reg)
	assert.True(t, errors.Is(err, ErrUnknownCapability))
	assert.Equal(t, `unknown capability "translate"`, err.Error())
}

func TestNewRegistry_EmptySet(t *testing.T) {
	reg, err := NewRegistry(nil, Catalog{"echo": echoFactory("echo")})
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Definitions())
}

func TestNewRegistry_DuplicatesCollapsed(t *testing.T) {
	catalog := Catalog{"echo": echoFactory("echo"), "alpha": echoFactory("alpha")}

	reg, err := NewRegistry([]string{"echo", "alpha", "echo"}, catalog)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "echo"}, reg.Names())
}

func TestNewRegistry_InvalidDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
	}{
		{
			name: "factory error",
			factory: func() (Descriptor, error) {
				return Descriptor{}, errors.New("missing dsn")
			},
		},
		{
			name: "name mismatch",
			factory: func() (Descriptor, error) {
				return Descriptor{Name: "other", Description: "x", Handler: func(context.Context, Input) (string, error) { return "", nil }}, nil
			},
		},
		{
			name: "nil handler",
			factory: func() (Descriptor, error) {
				return Descriptor{Name: "broken", Description: "x"}, nil
			},
		},
		{
			name: "bad parameter type",
			factory: func() (Descriptor, error) {
				return Descriptor{
					Name:        "broken",
					Description: "x",
					Parameters:  []Parameter{{Name: "p", Type: "decimal", Description: "p"}},
					Handler:     func(context.Context, Input) (string, error) { return "", nil },
				}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry([]string{"broken"}, Catalog{"broken": tt.factory})
			assert.Error(t, err)
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry([]string{"echo"}, Catalog{"echo": echoFactory("echo")})
	require.NoError(t, err)

	desc, ok := reg.Lookup("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", desc.Name)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_Definitions(t *testing.T) {
	reg, err := NewRegistry([]string{"echo"}, Catalog{"echo": echoFactory("echo")})
	require.NoError(t, err)

	defs := reg.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, "object", defs[0].InputSchema["type"])
	assert.Equal(t, []string{"text"}, defs[0].InputSchema["required"])

	props, ok := defs[0].InputSchema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Contains(t, props, "suffix")
}

func TestRegistry_Invoke(t *testing.T) {
	catalog := Catalog{
		"echo": echoFactory("echo"),
		"plain_error": handlerFactory("plain_error", func(context.Context, Input) (string, error) {
			return "", errors.New("connection refused")
		}),
		"failure": handlerFactory("failure", func(context.Context, Input) (string, error) {
			return "", Failuref("Invalid SQL query: %s", "near \"SELEC\"")
		}),
		"panics": handlerFactory("panics", func(context.Context, Input) (string, error) {
			panic("boom")
		}),
	}
	reg, err := NewRegistry([]string{"echo", "plain_error", "failure", "panics"}, catalog)
	require.NoError(t, err)

	tests := []struct {
		name       string
		capability string
		input      Input
		want       string
		wantPrefix string
	}{
		{name: "success with default", capability: "echo", input: Input{"text": "hi"}, want: "hi!"},
		{name: "success explicit", capability: "echo", input: Input{"text": "hi", "suffix": "?"}, want: "hi?"},
		{name: "plain error", capability: "plain_error", input: Input{}, want: "Error executing plain_error: connection refused"},
		{name: "failure verbatim", capability: "failure", input: nil, want: `Invalid SQL query: near "SELEC"`},
		{name: "panic recovered", capability: "panics", input: nil, want: "Error executing panics: panic: boom"},
		{name: "unknown at request time", capability: "translate", input: Input{}, want: "Error: unknown capability 'translate'"},
		{name: "missing required", capability: "echo", input: Input{}, wantPrefix: "Error: invalid input for echo:"},
		{name: "wrong type", capability: "echo", input: Input{"text": 42}, wantPrefix: "Error: invalid input for echo:"},
		{name: "extra property", capability: "echo", input: Input{"text": "x", "other": 1}, wantPrefix: "Error: invalid input for echo:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out string
			assert.NotPanics(t, func() {
				out = reg.Invoke(context.Background(), tt.capability, tt.input)
			})
			if tt.wantPrefix != "" {
				assert.True(t, strings.HasPrefix(out, tt.wantPrefix), out)
				return
			}
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRegistry_Invoke_Timeout(t *testing.T) {
	catalog := Catalog{
		"slow": handlerFactory("slow", func(ctx context.Context, in Input) (string, error) {
			select {
			case <-time.After(2 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}),
	}
	reg, err := NewRegistry([]string{"slow"}, catalog, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	out := reg.Invoke(context.Background(), "slow", nil)
	assert.Equal(t, "Error: slow timed out after 50ms", out)
}

func TestRegistry_Invoke_ParentCancelled(t *testing.T) {
	catalog := Catalog{
		"slow": handlerFactory("slow", func(ctx context.Context, in Input) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
	}
	reg, err := NewRegistry([]string{"slow"}, catalog, WithTimeout(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := reg.Invoke(ctx, "slow", nil)
	assert.True(t, strings.HasPrefix(out, "Error: slow cancelled"), out)
}

func TestRegistry_Invoke_Concurrent(t *testing.T) {
	reg, err := NewRegistry([]string{"echo"}, Catalog{"echo": echoFactory("echo")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "a!", reg.Invoke(context.Background(), "echo", Input{"text": "a"}))
		}()
	}
	wg.Wait()
}

func TestInput_Accessors(t *testing.T) {
	in := Input{"s": "text", "b": true, "bs": "false", "f": 3.0, "i": 7, "n": "12"}

	assert.Equal(t, "text", in.String("s"))
	assert.Equal(t, "", in.String("f"))
	assert.True(t, in.Bool("b", false))
	assert.False(t, in.Bool("bs", true))
	assert.True(t, in.Bool("missing", true))
	assert.Equal(t, 3, in.Int("f", 0))
	assert.Equal(t, 7, in.Int("i", 0))
	assert.Equal(t, 12, in.Int("n", 0))
	assert.Equal(t, 5, in.Int("missing", 5))
}
