package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"notechart/domain/core"
	"notechart/domain/stage"
	"notechart/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	auth string
	body chatRequest
}

func server(t *testing.T, status int, reply string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if got != nil {
			got.auth = r.Header.Get("Authorization")
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func envelope(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"model":   "test-model",
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(raw)
}

func client(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	c, err := NewClient(Config{APIKey: "k", BaseURL: url + "/v1", Model: "test-model", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientWithoutKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.ErrorIs(t, err, core.ErrMissingCredentials)
}

func TestInferRendersPromptAndCleansFence(t *testing.T) {
	var got captured
	srv := server(t, http.StatusOK, envelope("```json\n{\"chart_type\":\"bar\"}\n```"), &got)
	inf := NewInference(client(t, srv.URL), logger.Nop())

	req := map[string]any{"stage": "recommend", "notebook_name": "Work log", "exemplars": []string{"ex-1"}}
	raw, err := inf.Infer(context.Background(), stage.StageRecommend, req)

	require.NoError(t, err)
	assert.JSONEq(t, `{"chart_type":"bar"}`, string(raw))
	assert.Equal(t, "Bearer k", got.auth)
	assert.Equal(t, "test-model", got.body.Model)
	require.Len(t, got.body.Messages, 2)
	assert.Contains(t, got.body.Messages[0].Content, "chart_config")

	user := got.body.Messages[1].Content
	assert.Contains(t, user, "Stage: recommend")
	assert.Contains(t, user, `"notebook_name": "Work log"`)
	assert.Contains(t, user, `["ex-1"]`)
	assert.NotContains(t, user, "{REQUEST_JSON}")
	assert.NotContains(t, user, `"exemplars"`)
}

func TestUnauthorizedIsMissingCredentials(t *testing.T) {
	srv := server(t, http.StatusUnauthorized, `{"error":"bad key"}`, nil)
	inf := NewInference(client(t, srv.URL), nil)

	_, err := inf.Infer(context.Background(), stage.StageRerank, map[string]any{})

	require.ErrorIs(t, err, core.ErrMissingCredentials)
}

func TestServerErrorIsUpstream(t *testing.T) {
	srv := server(t, http.StatusBadGateway, "oops", nil)

	_, err := client(t, srv.URL).ChatCompletion(context.Background(), "s", "p")

	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "502")
}

func TestMissingChoicesIsUpstream(t *testing.T) {
	srv := server(t, http.StatusOK, `{"choices":[]}`, nil)

	_, err := client(t, srv.URL).ChatCompletion(context.Background(), "s", "p")

	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestUsageIsReported(t *testing.T) {
	srv := server(t, http.StatusOK, envelope("{}"), nil)

	resp, err := client(t, srv.URL).ChatCompletion(context.Background(), "s", "p")

	require.NoError(t, err)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "test-model", resp.Usage.Model)
}

func TestContextDeadlineSurvivesWrapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client(t, srv.URL).ChatCompletion(ctx, "s", "p")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestEmptyContentIsSchemaViolation(t *testing.T) {
	srv := server(t, http.StatusOK, envelope("   "), nil)
	inf := NewInference(client(t, srv.URL), nil)

	_, err := inf.Infer(context.Background(), stage.StageDeriveFields, map[string]any{})

	require.ErrorIs(t, err, core.ErrSchemaViolation)
}

func TestCleanJSONContent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"Here is the JSON:\n{\"a\":{\"b\":2}}\nThanks", `{"a":{"b":2}}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanJSONContent(tt.in))
	}
}

func TestEveryStageHasPrompt(t *testing.T) {
	for _, st := range stage.AllStages {
		p, err := RenderPrompt(string(st), map[string]string{"STAGE": string(st)})
		require.NoError(t, err, st)
		assert.True(t, strings.HasPrefix(p, "Stage: "+string(st)))
	}
	_, err := RenderPrompt("nope", nil)
	assert.Error(t, err)
}
