package ports

import (
	"context"

	"notechart/domain/stage"
)

// UsageData represents raw usage data from LLM provider APIs
type UsageData struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// LLMResponse represents an LLM response with usage data
type LLMResponse struct {
	Content string
	Usage   *UsageData
}

// LLMClient is the chat-completion transport under the inference adapter
type LLMClient interface {
	ChatCompletion(ctx context.Context, system, prompt string) (*LLMResponse, error)
}

// InferenceClient issues one contract-bound stage request and returns the
// raw JSON content the service produced. Implementations never interpret it.
type InferenceClient interface {
	Infer(ctx context.Context, st stage.StageName, request any) ([]byte, error)
}
