package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_MessageResolution(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		want    string
	}{
		{"nil payload", nil, DefaultMessage},
		{"empty payload", map[string]interface{}{}, DefaultMessage},
		{"message", map[string]interface{}{"message": "hi"}, "hi"},
		{"prompt fallback", map[string]interface{}{"prompt": "from prompt"}, "from prompt"},
		{"message wins", map[string]interface{}{"message": "m", "prompt": "p"}, "m"},
		{"empty message falls back", map[string]interface{}{"message": "", "prompt": "p"}, "p"},
		{"non-string message", map[string]interface{}{"message": 42}, DefaultMessage},
		{"non-string prompt", map[string]interface{}{"prompt": []interface{}{"x"}}, DefaultMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest(tt.payload)
			assert.Equal(t, tt.want, req.Message)
			assert.NotNil(t, req.Payload)
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(` {"message": "2+2?", "session": "abc"} `))
	require.NoError(t, err)
	assert.Equal(t, "2+2?", req.Message)
	assert.Equal(t, "abc", req.Payload["session"])

	for _, body := range []string{``, `not json`, `[1,2]`, `"text"`, `null`} {
		_, err := DecodeRequest([]byte(body))
		assert.Error(t, err, "body %q", body)
		if err != nil {
			assert.Contains(t, err.Error(), "invalid payload")
		}
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateModelInvoked))
	assert.True(t, CanTransition(StateModelInvoked, StateMetricsAbsent))
	assert.True(t, CanTransition(StateMetricsAbsent, StateResponded))
	assert.True(t, CanTransition(StateReported, StateFailed))

	assert.False(t, CanTransition(StateReceived, StateResponded))
	assert.False(t, CanTransition(StateMetricsAbsent, StateReported))
	assert.False(t, CanTransition(StateResponded, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateReceived))
}
