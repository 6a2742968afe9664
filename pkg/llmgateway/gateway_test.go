package llmgateway

import (
	"context"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

type fakeBackend struct {
	resp openai.ChatCompletionResponse
	err  error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeBackend) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func TestGateway_ChatCompletion_ReturnsSingleCompletedResponse(t *testing.T) {
	backend := &fakeBackend{resp: openai.ChatCompletionResponse{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hello there"}},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}}
	gw := newGatewayWithBackend(backend, "gpt-4o-mini")

	result, err := gw.ChatCompletion(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	require.Equal(t, "hello there", result.Content)
	require.Equal(t, 12, result.Usage.TotalTokens)
	require.False(t, backend.lastReq.Stream)
}

func TestGateway_ChatCompletion_UsesDefaultModelWhenUnset(t *testing.T) {
	backend := &fakeBackend{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}}
	gw := newGatewayWithBackend(backend, "fallback-model")

	_, err := gw.ChatCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})

	require.NoError(t, err)
	require.Equal(t, "fallback-model", backend.lastReq.Model)
}

func TestGateway_ChatCompletion_ConvertsToolDefinitions(t *testing.T) {
	backend := &fakeBackend{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}}
	gw := newGatewayWithBackend(backend, "m")

	_, err := gw.ChatCompletion(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools: []ToolDefinition{
			{Name: "search", Description: "search the web", Parameters: map[string]interface{}{"type": "object"}},
		},
	})

	require.NoError(t, err)
	require.Len(t, backend.lastReq.Tools, 1)
	require.Equal(t, "search", backend.lastReq.Tools[0].Function.Name)
	require.Equal(t, openai.ToolTypeFunction, backend.lastReq.Tools[0].Type)
}

func TestGateway_ChatCompletion_WrapsBackendErrorAsPlatformCallFailed(t *testing.T) {
	backend := &fakeBackend{err: require.AnError}
	gw := newGatewayWithBackend(backend, "m")

	_, err := gw.ChatCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})

	require.Error(t, err)
	require.Equal(t, platformerr.PlatformCallFailed, platformerr.KindOf(err))
}

func TestGateway_ChatCompletion_NoChoicesIsPlatformCallFailed(t *testing.T) {
	backend := &fakeBackend{resp: openai.ChatCompletionResponse{}}
	gw := newGatewayWithBackend(backend, "m")

	_, err := gw.ChatCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})

	require.Error(t, err)
	require.Equal(t, platformerr.PlatformCallFailed, platformerr.KindOf(err))
}

func TestGateway_StructuredOutput_ValidatesAgainstSchema(t *testing.T) {
	backend := &fakeBackend{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: `{"name": "ada", "age": 30}`}},
		},
	}}
	gw := newGatewayWithBackend(backend, "m")
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"name", "age"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
			"age":  map[string]interface{}{"type": "integer"},
		},
	}

	result, err := gw.StructuredOutput(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}}, schema)

	require.NoError(t, err)
	require.Equal(t, "ada", result.Object.(map[string]interface{})["name"])
	require.Equal(t, `{"name": "ada", "age": 30}`, result.Completion.Content)
}

func TestGateway_StructuredOutput_FailsValidationOnMissingField(t *testing.T) {
	backend := &fakeBackend{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: `{"name": "ada"}`}},
		},
	}}
	gw := newGatewayWithBackend(backend, "m")
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"name", "age"},
	}

	_, err := gw.StructuredOutput(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}}, schema)

	require.Error(t, err)
	require.Equal(t, platformerr.PlatformCallFailed, platformerr.KindOf(err))
}

func TestGateway_StructuredOutput_FailsOnNonJSONContent(t *testing.T) {
	backend := &fakeBackend{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "not json"}}},
	}}
	gw := newGatewayWithBackend(backend, "m")

	_, err := gw.StructuredOutput(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}}, map[string]interface{}{"type": "object"})

	require.Error(t, err)
	require.Equal(t, platformerr.PlatformCallFailed, platformerr.KindOf(err))
}
