// Package llmgateway wraps an OpenAI-compatible chat completion provider
// for the Platform Bridge's chat_completion/structured_output verbs. The
// bridge never streams: every call blocks until one completed response
// (or a validated structured object) comes back.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/utils"
)

// Message is one chat turn, already flattened to the shape the provider
// expects (system/user/assistant/tool roles, optional tool call/result
// fields).
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is one function call an assistant message requested.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is one callable tool offered to the model, in
// OpenAI-function-calling shape.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// CompletionRequest is the bridge's chat_completion payload.
type CompletionRequest struct {
	Messages   []Message
	Model      string
	Tools      []ToolDefinition
	ToolChoice string
	Extra      map[string]interface{}
}

// CompletionResult is a single, non-streamed completion.
type CompletionResult struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Model     string     `json:"model"`
	Usage     Usage      `json:"usage"`
}

// Usage mirrors the provider's token accounting for the caller to log or
// bill against.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StructuredResult pairs a schema-validated object with the raw
// completion it was extracted from.
type StructuredResult struct {
	Object     interface{}      `json:"object"`
	Completion CompletionResult `json:"completion"`
}

// chatCompletionBackend is the narrow slice of openai.Client that Gateway
// depends on, so tests can substitute a fake instead of making real
// network calls.
type chatCompletionBackend interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Gateway is a thin, context-aware wrapper over an OpenAI-compatible chat
// completion API.
type Gateway struct {
	client       chatCompletionBackend
	defaultModel string
}

// Config names the provider endpoint a Gateway talks to. BaseURL is
// optional — empty means the official OpenAI API.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// New wires a Gateway over cfg, matching the Venice/OpenRouter-style
// "configure an openai.Client against a different BaseURL" pattern used
// throughout the pack's provider adapters.
func New(cfg Config) *Gateway {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Gateway{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
	}
}

func newGatewayWithBackend(client chatCompletionBackend, defaultModel string) *Gateway {
	return &Gateway{client: client, defaultModel: defaultModel}
}

// ChatCompletion proxies req to the provider and returns exactly one
// completed response — the bridge never exposes streaming to agents.
func (g *Gateway) ChatCompletion(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	if req.ToolChoice != "" {
		chatReq.ToolChoice = req.ToolChoice
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return CompletionResult{}, platformerr.Wrap(platformerr.PlatformCallFailed, "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResult{}, platformerr.New(platformerr.PlatformCallFailed, "chat completion returned no choices")
	}

	return convertCompletion(resp), nil
}

// TrimToBudget drops the oldest messages until the remainder, encoded for
// model, fits within maxTokens. Composed profiles can accumulate more
// chat history than a provider's context window allows; callers trim
// before building a CompletionRequest rather than letting the provider
// reject the call outright.
func (g *Gateway) TrimToBudget(messages []Message, model string, maxTokens int) ([]Message, error) {
	if model == "" {
		model = g.defaultModel
	}
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return nil, fmt.Errorf("trim to budget: %w", err)
	}

	converted := make([]utils.Message, len(messages))
	for i, m := range messages {
		converted[i] = utils.Message{Role: m.Role, Content: m.Content}
	}

	fitted := counter.FitWithinLimit(converted, maxTokens)
	if len(fitted) == len(messages) {
		return messages, nil
	}
	return messages[len(messages)-len(fitted):], nil
}

// StructuredOutput runs a chat completion and validates its content
// against a caller-supplied JSON schema, returning both the validated
// object and the raw completion it came from.
func (g *Gateway) StructuredOutput(ctx context.Context, req CompletionRequest, schema map[string]interface{}) (StructuredResult, error) {
	completion, err := g.ChatCompletion(ctx, req)
	if err != nil {
		return StructuredResult{}, err
	}

	var object interface{}
	if err := json.Unmarshal([]byte(completion.Content), &object); err != nil {
		return StructuredResult{}, platformerr.Wrap(platformerr.PlatformCallFailed, "structured output: response is not valid JSON", err)
	}

	if err := validateAgainstSchema(schema, object); err != nil {
		return StructuredResult{}, platformerr.Wrap(platformerr.PlatformCallFailed, "structured output: schema validation failed", err)
	}

	return StructuredResult{Object: object, Completion: completion}, nil
}

func validateAgainstSchema(schema map[string]interface{}, object interface{}) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("structured_output.json", string(raw))
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(object)
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result[i] = out
	}
	return result
}

func convertTools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

func convertCompletion(resp openai.ChatCompletionResponse) CompletionResult {
	choice := resp.Choices[0]
	result := CompletionResult{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result
}
