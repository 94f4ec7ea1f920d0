package usage

import (
	"time"

	"github.com/google/uuid"
)

// Tokens is the token usage of one invocation.
type Tokens struct {
	Input  uint64
	Output uint64
	Total  uint64
}

// Record is the message published for every invocation that reported usage.
type Record struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	TenantID        string    `json:"tenant_id"`
	InputTokens     uint64    `json:"input_tokens"`
	OutputTokens    uint64    `json:"output_tokens"`
	TotalTokens     uint64    `json:"total_tokens"`
	UserMessage     string    `json:"user_message"`
	ResponseMessage string    `json:"response_message"`
}

// NewRecord stamps a fresh id and the current UTC time.
func NewRecord(tenantID string, tokens Tokens, userMessage, responseMessage string) Record {
	return Record{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		TenantID:        tenantID,
		InputTokens:     tokens.Input,
		OutputTokens:    tokens.Output,
		TotalTokens:     tokens.Total,
		UserMessage:     userMessage,
		ResponseMessage: responseMessage,
	}
}
