package llm

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"notechart/domain/core"
	"notechart/domain/stage"
	"notechart/internal/logger"
	"notechart/ports"
)

//go:embed prompts/*.txt
var promptFS embed.FS

const systemPrompt = "system"

// RenderPrompt loads an embedded template and replaces each {PLACEHOLDER}
func RenderPrompt(name string, replacements map[string]string) (string, error) {
	data, err := promptFS.ReadFile("prompts/" + name + ".txt")
	if err != nil {
		return "", fmt.Errorf("prompt template not found: %s", name)
	}
	result := string(data)
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, "{"+placeholder+"}", value)
	}
	return result, nil
}

// Inference implements ports.InferenceClient on top of a chat-completion client
type Inference struct {
	client ports.LLMClient
	log    *logger.Logger
}

// NewInference wraps client
func NewInference(client ports.LLMClient, log *logger.Logger) *Inference {
	if log == nil {
		log = logger.Nop()
	}
	return &Inference{client: client, log: log.Component("llm")}
}

// Infer renders the stage prompt around the request and returns the JSON
// content of the reply, with any markdown fence removed
func (i *Inference) Infer(ctx context.Context, st stage.StageName, request any) ([]byte, error) {
	requestJSON, exemplarsJSON, err := splitExemplars(request)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", st, err)
	}
	system, err := RenderPrompt(systemPrompt, nil)
	if err != nil {
		return nil, err
	}
	prompt, err := RenderPrompt(string(st), map[string]string{
		"STAGE":          string(st),
		"REQUEST_JSON":   requestJSON,
		"EXEMPLARS_JSON": exemplarsJSON,
	})
	if err != nil {
		return nil, err
	}

	resp, err := i.client.ChatCompletion(ctx, strings.TrimSpace(system), prompt)
	if err != nil {
		return nil, err
	}
	if resp.Usage != nil {
		i.log.Debug("inference usage", "stage", st, "model", resp.Usage.Model,
			"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	}

	content := cleanJSONContent(resp.Content)
	if content == "" {
		return nil, core.NewSchemaViolation(string(st), "empty response content")
	}
	return []byte(content), nil
}

// splitExemplars renders the request without its exemplars and the
// exemplars on their own, so the prompt can show them apart
func splitExemplars(request any) (string, string, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return "", "", err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", "", err
	}
	exemplars := "[]"
	if ex, ok := fields["exemplars"]; ok {
		exemplars = string(ex)
		delete(fields, "exemplars")
	}
	body, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", "", err
	}
	return string(body), exemplars, nil
}

// cleanJSONContent removes markdown fences and any chatter around the
// outermost JSON object
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}
	if strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}") {
		return content
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}
