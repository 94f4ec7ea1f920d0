package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultMessage is used when a payload carries neither message nor prompt.
const DefaultMessage = "Hello!"

// Request is one inbound invocation.
type Request struct {
	Message string
	Payload map[string]interface{}
}

// NewRequest resolves the message from payload: "message", then "prompt",
// then DefaultMessage. Only non-empty strings count.
func NewRequest(payload map[string]interface{}) Request {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Request{
		Message: resolveMessage(payload),
		Payload: payload,
	}
}

func resolveMessage(payload map[string]interface{}) string {
	for _, key := range []string{"message", "prompt"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return DefaultMessage
}

// DecodeRequest parses a JSON object body.
func DecodeRequest(body []byte) (Request, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return Request{}, fmt.Errorf("invalid payload: %w", err)
	}
	if payload == nil {
		return Request{}, fmt.Errorf("invalid payload: expected a JSON object")
	}
	return NewRequest(payload), nil
}

// Response is the envelope returned to the caller: a result or an error,
// never both.
type Response struct {
	Result string
	Error  string
}

// Failed reports whether r is an error envelope.
func (r Response) Failed() bool {
	return r.Error != ""
}

// MarshalJSON renders {"result": ...} or {"error": ...}.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(map[string]string{"error": r.Error})
	}
	return json.Marshal(map[string]string{"result": r.Result})
}

// ErrorResponse wraps err in the envelope text callers see.
func ErrorResponse(err error) Response {
	return Response{Error: "Error processing request: " + err.Error()}
}
